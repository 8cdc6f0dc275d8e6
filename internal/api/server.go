// Package api provides HTTP API server implementation for the Courtside service.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/courtside-io/courtside/internal/api/middleware"
	"github.com/courtside-io/courtside/internal/identity"
	"github.com/courtside-io/courtside/internal/ingestion"
	"github.com/courtside-io/courtside/internal/readiness"
	"github.com/courtside-io/courtside/internal/schema"
	"github.com/courtside-io/courtside/internal/serve"
	"github.com/courtside-io/courtside/internal/storage"
	"github.com/courtside-io/courtside/internal/validation"
)

type (
	// HealthChecker verifies a storage backend is reachable.
	HealthChecker interface {
		HealthCheck(ctx context.Context) error
	}

	// Dependencies holds the runtime collaborators injected into the server.
	// Configuration (what) stays in ServerConfig; dependencies (how) live
	// here. Optional fields may be nil and disable the feature they back.
	Dependencies struct {
		Reader       *serve.Reader
		Orchestrator *ingestion.Orchestrator
		Commits      ingestion.CommitLog
		Identities   identity.Registry
		Schemas      schema.Registry
		Readiness    *readiness.Service

		// Rules receives lazy built-in template registration for datasets
		// first seen on the write path. Nil skips registration.
		Rules *validation.Ruleset

		// Health is consulted by the readiness probe. Nil skips the check.
		Health HealthChecker

		// APIKeyStore enables write-path authentication. Nil disables it.
		APIKeyStore storage.APIKeyStore

		// RateLimiter enables request rate limiting. Nil disables it.
		RateLimiter middleware.RateLimiter
	}

	// Server represents the HTTP API server.
	Server struct {
		httpServer *http.Server
		logger     *slog.Logger
		config     *ServerConfig
		deps       *Dependencies
		startTime  time.Time
	}
)

// NewServer creates a new HTTP server instance with structured logging and
// the full middleware stack.
func NewServer(cfg *ServerConfig, deps *Dependencies) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	if deps == nil {
		deps = &Dependencies{}
	}

	mux := http.NewServeMux()

	server := &Server{
		logger: logger,
		config: cfg,
		deps:   deps,
	}

	server.setupRoutes(mux)

	if deps.APIKeyStore != nil { // pragma: allowlist secret
		logger.Info("client authentication middleware enabled")
	} else {
		logger.Warn("APIKeyStore not configured - client authentication middleware disabled")
	}

	if deps.RateLimiter != nil {
		logger.Info("rate limiting middleware enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	// Middleware executes in the order listed (top-to-bottom):
	//   1. CorrelationID - generate correlation ID for all responses
	//   2. Recovery - catch panics in all downstream middleware
	//   3. Client Auth - identify client and set ClientContext (optional)
	//   4. RateLimit - block requests before expensive operations (optional)
	//   5. RequestLogger - log only legitimate requests (not rate-limited spam)
	//   6. CORS - lightweight header manipulation
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithAuthClient(deps.APIKeyStore, logger),
		middleware.WithRateLimit(deps.RateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting Courtside API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("Received shutdown signal",
			slog.String("signal", sig.String()),
		)

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Close API key store to release database connections
	if s.deps.APIKeyStore != nil { // pragma: allowlist secret
		if store, ok := s.deps.APIKeyStore.(io.Closer); ok {
			if err := store.Close(); err != nil {
				s.logger.Error("Failed to close API key store", slog.String("error", err.Error()))
			}
		}
	}

	// Close rate limiter to stop background cleanup goroutines
	if s.deps.RateLimiter != nil {
		if limiter, ok := s.deps.RateLimiter.(io.Closer); ok {
			if err := limiter.Close(); err != nil {
				s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
			}
		}
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}
