package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/katler/internal/api"
	"github.com/good-yellow-bee/katler/internal/api/health"
	"github.com/good-yellow-bee/katler/internal/metrics"
	"github.com/good-yellow-bee/katler/internal/realtime"
	"github.com/good-yellow-bee/katler/internal/session"
	"github.com/good-yellow-bee/katler/internal/storage"
	"github.com/good-yellow-bee/katler/pkg/config"
)

var (
	configFile string
	httpAddr   string
	dbPath     string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "katler-server",
	Short: "Katler Server - team sync and access control",
	Long: `Katler Server hosts project channels, memberships, invites and the
live message stream behind an authenticated HTTP API.`,
	RunE:         runServer,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.VersionString("katler-server"))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP listen address")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	var (
		cfg *Config
		err error
	)
	if configFile != "" {
		cfg, err = LoadConfig(configFile)
	} else {
		cfg, err = DefaultConfig()
		if err == nil {
			err = cfg.Validate()
		}
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// CLI flags win over file and environment
	if httpAddr != "" {
		cfg.Server.HTTPAddress = httpAddr
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	cfg.Verbose = verbose

	level := new(slog.LevelVar)
	lvl, _ := parseLevel(cfg.Log.Level)
	if verbose {
		lvl = slog.LevelDebug
	}
	level.Set(lvl)
	logger := newLogger(cfg.Log.Format, level)
	slog.SetDefault(logger)

	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker, err := openBroker(cfg, logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	store := storage.NewSQLiteStorage(cfg.Database.Path, broker, logger)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database initialized", "path", cfg.Database.Path)

	deps := session.NewDeps(store, broker, logger)
	if cfg.Database.RepairOwnerships {
		if _, err := deps.Registry.RepairOwnerships(ctx); err != nil {
			return fmt.Errorf("repair ownerships: %w", err)
		}
	}
	if err := deps.Identity.Watch(ctx, broker); err != nil {
		return fmt.Errorf("watch profiles: %w", err)
	}

	hub := session.NewHub(deps, cfg.IdleTTL())
	defer hub.Close()

	srv, err := api.New(&api.Config{
		Address:          cfg.Server.HTTPAddress,
		JWTSecret:        []byte(cfg.Auth.JWTSecret),
		JWTIssuer:        cfg.Auth.Issuer,
		HTTPTLSEnabled:   cfg.Server.TLS.Enabled,
		HTTPTLSCertFile:  cfg.Server.TLS.CertFile,
		HTTPTLSKeyFile:   cfg.Server.TLS.KeyFile,
		RateLimitPerUser: cfg.Server.RateLimitPerUser,
		RateLimitBurst:   cfg.Server.RateLimitBurst,
		SSEKeepalive:     cfg.SSEKeepalive(),
		Verbose:          cfg.Verbose,
	}, hub, logger)
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}
	srv.RegisterHealthChecker(health.NewSQLiteChecker(store.DB()))
	if pinger, ok := broker.(health.Pinger); ok {
		srv.RegisterHealthChecker(health.NewBrokerChecker(cfg.Realtime.Driver, pinger))
	}

	logger.Info("starting katler-server", "version", config.Version, "realtime", cfg.Realtime.Driver)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if cfg.Metrics.Enabled {
		metricsSrv := metrics.NewServer(cfg.Metrics.Address, logger)
		g.Go(metricsSrv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}
	if configFile != "" {
		reloader, err := newLevelReloader(configFile, level, logger)
		if err != nil {
			logger.Warn("log level reload disabled", "error", err)
		} else {
			g.Go(func() error { return reloader.Run(gctx) })
		}
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run server: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func newLogger(format string, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func openBroker(cfg *Config, logger *slog.Logger) (realtime.Broker, error) {
	if cfg.Realtime.Driver != "nats" {
		return realtime.NewMemoryBroker(), nil
	}
	broker, err := realtime.DialNATS(realtime.NATSConfig{
		URL:           cfg.Realtime.NATSURL,
		Name:          "katler-server",
		SubjectPrefix: cfg.Realtime.SubjectPrefix,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect realtime broker: %w", err)
	}
	logger.Info("realtime broker connected", "driver", "nats", "url", cfg.Realtime.NATSURL)
	return broker, nil
}
