// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/good-yellow-bee/katler/internal/api/health"
	"github.com/good-yellow-bee/katler/internal/api/middleware"
	"github.com/good-yellow-bee/katler/internal/session"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address          string
	JWTSecret        []byte
	JWTIssuer        string // Expected token issuer; empty accepts any
	HTTPTLSEnabled   bool
	HTTPTLSCertFile  string
	HTTPTLSKeyFile   string
	RateLimitPerUser int // Requests per minute
	RateLimitBurst   int
	SSEKeepalive     time.Duration
	ShutdownTimeout  time.Duration
	Verbose          bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.RateLimitPerUser == 0 {
		c.RateLimitPerUser = 300
	}
	if c.RateLimitBurst == 0 {
		c.RateLimitBurst = 60
	}
	if c.SSEKeepalive == 0 {
		c.SSEKeepalive = 15 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	hub           *session.Hub
	logger        *slog.Logger
	limiter       *middleware.RateLimiter
	server        *http.Server
	healthHandler *health.Handler
}

// New creates a new API server on top of the session hub.
func New(cfg *Config, hub *session.Hub, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if hub == nil {
		return nil, fmt.Errorf("session hub is required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT secret is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		hub:           hub,
		logger:        logger,
		limiter:       newLimiterFor(cfg),
		healthHandler: health.NewHandler(),
	}
	s.healthHandler.ReportSessions(hub.Len)

	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: /session/stream connections are long-lived.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.HTTPTLSEnabled {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	return s, nil
}

func newLimiterFor(cfg *Config) *middleware.RateLimiter {
	return middleware.NewRateLimiter(cfg.RateLimitPerUser, cfg.RateLimitBurst)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP API listening", "addr", s.config.Address, "tls", s.config.HTTPTLSEnabled)
		var err error
		if s.config.HTTPTLSEnabled {
			err = s.server.ListenAndServeTLS(s.config.HTTPTLSCertFile, s.config.HTTPTLSKeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP API server")
		s.limiter.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		s.limiter.Stop()
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	if s.healthHandler != nil {
		s.healthHandler.RegisterChecker(c)
	}
}
