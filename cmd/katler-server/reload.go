package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/good-yellow-bee/katler/pkg/config"
)

// levelReloader applies log.level from the config file whenever it changes.
type levelReloader struct {
	path    string
	level   *slog.LevelVar
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

func newLevelReloader(path string, level *slog.LevelVar, logger *slog.Logger) (*levelReloader, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are noticed
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	return &levelReloader{
		path:    absPath,
		level:   level,
		logger:  logger,
		watcher: watcher,
	}, nil
}

// Run blocks until ctx is done.
func (r *levelReloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != r.path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			r.reload()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (r *levelReloader) reload() {
	cfg, err := readConfigFile(r.path)
	if err != nil {
		r.logger.Warn("config reload skipped", "error", err)
		return
	}
	if err := config.ParseEnv(cfg); err != nil {
		r.logger.Warn("config reload skipped", "error", err)
		return
	}
	cfg.setDefaults()

	level, err := parseLevel(cfg.Log.Level)
	if err != nil {
		r.logger.Warn("config reload skipped", "error", err)
		return
	}
	if level == r.level.Level() {
		return
	}
	r.level.Set(level)
	r.logger.Info("log level changed", "level", level.String())
}
