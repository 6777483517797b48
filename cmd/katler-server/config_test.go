package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "test-jwt-secret-32-bytes-long!!!"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "katler.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	t.Setenv("KATLER_AUTH_JWT_SECRET", testSecret)
	t.Setenv("KATLER_SERVER_HTTP_ADDRESS", ":9999")

	path := writeConfig(t, `
server:
  http_address: ":7000"
  sse_keepalive: 5s
database:
  path: /tmp/katler-test.db
sessions:
  idle_ttl: 10m
log:
  level: debug
  format: json
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.HTTPAddress != ":9999" {
		t.Errorf("HTTPAddress = %q, env should win", cfg.Server.HTTPAddress)
	}
	if cfg.Database.Path != "/tmp/katler-test.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.SSEKeepalive() != 5*time.Second || cfg.IdleTTL() != 10*time.Minute {
		t.Errorf("durations = %v %v", cfg.SSEKeepalive(), cfg.IdleTTL())
	}
	if cfg.Realtime.Driver != "memory" {
		t.Errorf("Driver = %q, want memory default", cfg.Realtime.Driver)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("KATLER_AUTH_JWT_SECRET", testSecret)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "jwt_secret"},
		{"tls without cert", func(c *Config) { c.Server.TLS.Enabled = true }, "cert_file"},
		{"nats without url", func(c *Config) { c.Realtime.Driver = "nats" }, "nats_url"},
		{"unknown driver", func(c *Config) { c.Realtime.Driver = "kafka" }, "realtime.driver"},
		{"bad keepalive", func(c *Config) { c.Server.SSEKeepalive = "soon" }, "sse_keepalive"},
		{"negative ttl", func(c *Config) { c.Sessions.IdleTTL = "-1m" }, "idle_ttl"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := DefaultConfig()
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLevelReloader(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	level := new(slog.LevelVar)

	r := &levelReloader{path: path, level: level, logger: slog.Default()}

	os.WriteFile(path, []byte("log:\n  level: warn\n"), 0600)
	r.reload()
	if level.Level() != slog.LevelWarn {
		t.Errorf("level = %v, want WARN", level.Level())
	}

	// Invalid levels keep the current one
	os.WriteFile(path, []byte("log:\n  level: loud\n"), 0600)
	r.reload()
	if level.Level() != slog.LevelWarn {
		t.Errorf("level = %v, want WARN after bad reload", level.Level())
	}
}
