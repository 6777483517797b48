// Package main provides the Katler server CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/katler/pkg/config"
)

// Config represents the server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
	Auth     AuthConfig     `yaml:"auth" envPrefix:"AUTH_"`
	Realtime RealtimeConfig `yaml:"realtime" envPrefix:"REALTIME_"`
	Sessions SessionConfig  `yaml:"sessions" envPrefix:"SESSIONS_"`
	Metrics  MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
	Verbose  bool           `yaml:"-"` // set via CLI flag
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	HTTPAddress      string    `yaml:"http_address" env:"HTTP_ADDRESS"` // default: :8080
	RateLimitPerUser int       `yaml:"rate_limit_per_user" env:"RATE_LIMIT_PER_USER"`
	RateLimitBurst   int       `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	SSEKeepalive     string    `yaml:"sse_keepalive" env:"SSE_KEEPALIVE"`
	TLS              TLSConfig `yaml:"tls" envPrefix:"TLS_"`
}

// TLSConfig contains HTTPS settings for the API server.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	CertFile string `yaml:"cert_file" env:"CERT_FILE"`
	KeyFile  string `yaml:"key_file" env:"KEY_FILE"`
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path             string `yaml:"path" env:"PATH"`
	RepairOwnerships bool   `yaml:"repair_ownerships" env:"REPAIR_OWNERSHIPS"` // restore missing owner rows at startup
}

// AuthConfig describes the tokens issued by the external identity provider.
// The secret is read from the environment only.
type AuthConfig struct {
	JWTSecret string `yaml:"-" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
}

// RealtimeConfig selects the change feed transport.
type RealtimeConfig struct {
	Driver        string `yaml:"driver" env:"DRIVER"` // memory or nats
	NATSURL       string `yaml:"nats_url" env:"NATS_URL"`
	SubjectPrefix string `yaml:"subject_prefix" env:"SUBJECT_PREFIX"`
}

// SessionConfig controls per-principal session lifetime.
type SessionConfig struct {
	IdleTTL string `yaml:"idle_ttl" env:"IDLE_TTL"`
}

// MetricsConfig contains Prometheus server settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Address string `yaml:"address" env:"ADDRESS"`
}

// LogConfig contains logging settings. Level is reloaded when the config
// file changes.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // text or json
}

// LoadConfig loads configuration from a YAML file, then applies
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if err := config.ParseEnv(cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func readConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// DefaultConfig returns a configuration with default values and
// environment overrides.
func DefaultConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.ParseEnv(cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	return cfg, nil
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = ":8080"
	}
	if c.Server.SSEKeepalive == "" {
		c.Server.SSEKeepalive = "15s"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/katler.db"
	}
	if c.Realtime.Driver == "" {
		c.Realtime.Driver = "memory"
	}
	if c.Sessions.IdleTTL == "" {
		c.Sessions.IdleTTL = "30m"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes (set KATLER_AUTH_JWT_SECRET)")
	}
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
	}
	switch c.Realtime.Driver {
	case "memory":
	case "nats":
		if c.Realtime.NATSURL == "" {
			return fmt.Errorf("realtime.nats_url is required for the nats driver")
		}
	default:
		return fmt.Errorf("realtime.driver must be memory or nats, got %q", c.Realtime.Driver)
	}
	if _, err := parseDuration("server.sse_keepalive", c.Server.SSEKeepalive); err != nil {
		return err
	}
	if _, err := parseDuration("sessions.idle_ttl", c.Sessions.IdleTTL); err != nil {
		return err
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// SSEKeepalive returns the parsed keepalive interval.
func (c *Config) SSEKeepalive() time.Duration {
	d, _ := parseDuration("server.sse_keepalive", c.Server.SSEKeepalive)
	return d
}

// IdleTTL returns the parsed session idle TTL.
func (c *Config) IdleTTL() time.Duration {
	d, _ := parseDuration("sessions.idle_ttl", c.Sessions.IdleTTL)
	return d
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", field, s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("log.level: unknown level %q", s)
	}
	return level, nil
}
