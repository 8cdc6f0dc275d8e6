// Package main provides the Courtside dataset commit and serve service.
//
// This is the main API service: it ingests dataset batches through the
// commit pipeline (validate, stage, promote, snapshot) and serves committed
// datasets to page renders and the CDN.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/courtside-io/courtside/internal/api"
	"github.com/courtside-io/courtside/internal/api/middleware"
	"github.com/courtside-io/courtside/internal/config"
	"github.com/courtside-io/courtside/internal/ingestion"
	"github.com/courtside-io/courtside/internal/kv"
	"github.com/courtside-io/courtside/internal/readiness"
	"github.com/courtside-io/courtside/internal/serve"
	"github.com/courtside-io/courtside/internal/snapshot"
	"github.com/courtside-io/courtside/internal/storage"
	"github.com/courtside-io/courtside/internal/validation"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "courtside"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting Courtside service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	// Load rate limiter configuration
	middlewareConfig := middleware.LoadConfig()

	// Create rate limiter instance (graceful shutdown handled by server.shutdown())
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("global_burst", middlewareConfig.GlobalBurst),
		slog.Int("client_rps", middlewareConfig.ClientRPS),
		slog.Int("client_burst", middlewareConfig.ClientBurst),
		slog.Int("unauth_rps", middlewareConfig.UnAuthRPS),
		slog.Int("unauth_burst", middlewareConfig.UnAuthBurst),
	)

	// Load storage configuration
	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	var apiKeyStore storage.APIKeyStore

	authEnabled := config.GetEnvBool("COURTSIDE_AUTH_ENABLED", false)
	if authEnabled {
		apiKeyStore = storage.NewPersistentKeyStore(dbConn, logger)

		logger.Info("Client authentication enabled",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
		)
	} else {
		logger.Warn("Client authentication disabled",
			slog.String("security", "Only use in trusted networks (localhost, VPN, internal)"),
			slog.String("note", "Set COURTSIDE_AUTH_ENABLED=true to enable API key authentication"),
		)
	}

	// Durable metadata stores over Postgres.
	commits := storage.NewCommitStore(dbConn, logger)
	identities := storage.NewIdentityStore(dbConn, logger)
	schemas := storage.NewSchemaStore(dbConn, logger)
	readinessStore := storage.NewReadinessStore(dbConn, logger)

	logger.Info("Metadata stores initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
		slog.Duration("database_conn_max_lifetime", storageConfig.ConnMaxLifetime),
		slog.Duration("database_conn_max_idle_time", storageConfig.ConnMaxIdleTime),
	)

	// KV serving surface over Redis. Fail-fast: the read path cannot serve
	// without it.
	kvConfig := kv.LoadConfig()

	kvStore, err := kv.NewRedisStore(context.Background(), kvConfig)
	if err != nil {
		logger.Error("Failed to connect to Redis", slog.String("error", err.Error()))

		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	defer func() {
		_ = kvStore.Close()
	}()

	logger.Info("KV store initialized",
		slog.String("redis_addr", kvConfig.Addr),
		slog.Duration("pending_ttl", kvConfig.PendingTTL),
		slog.Duration("committed_ttl", kvConfig.CommittedTTL),
	)

	// Object-store snapshots for audit and cold-start recovery.
	snapshotRoot := config.GetEnvStr("COURTSIDE_SNAPSHOT_DIR", "./snapshots")

	objectStore, err := snapshot.NewFilesystemStore(snapshotRoot)
	if err != nil {
		logger.Error("Failed to initialize snapshot store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	ingestConfig := ingestion.LoadConfig()
	if err := ingestConfig.Validate(); err != nil {
		logger.Error("Invalid ingestion configuration", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	snapshots := snapshot.NewManager(objectStore,
		config.GetEnvInt("COURTSIDE_SNAPSHOT_RETAIN_VERSIONS", snapshot.DefaultRetainVersions), logger)

	maxRecoveryAge := config.GetEnvDuration("COURTSIDE_SNAPSHOT_MAX_RECOVERY_AGE", snapshot.DefaultMaxRecoveryAge)
	ready := readiness.NewService(readinessStore, logger,
		readiness.WithSnapshotRecovery(snapshots, maxRecoveryAge),
	)

	// Validation rules: built-in per-type templates plus the optional YAML
	// overlay.
	rules := validation.NewRuleset()

	overlay, err := validation.LoadConfigFromEnv()
	if err != nil {
		logger.Warn("Failed to load rules overlay", slog.String("error", err.Error()))
	} else {
		rules.ApplyOverlay(overlay)
	}

	validator := validation.NewValidator(rules)

	orchestrator := ingestion.NewOrchestrator(
		commits, kvStore, validator, ready, snapshots, ingestConfig, logger,
		ingestion.WithIdentityRegistry(identities),
		ingestion.WithSchemaRegistry(schemas),
	)

	// Background reaper for pending rows abandoned mid-pipeline.
	reaper := ingestion.NewReaper(commits, ingestConfig, logger)
	reaper.Start()

	defer reaper.Stop()

	logger.Info("Ingestion pipeline initialized",
		slog.Duration("pending_sweep_age", ingestConfig.PendingSweepAge),
		slog.Duration("sweep_interval", ingestConfig.SweepInterval),
		slog.Int("retain_versions", ingestConfig.RetainVersions),
		slog.String("source", ingestConfig.Source),
	)

	reader := serve.NewReader(ready, kvStore, commits, logger,
		serve.WithSchemaRegistry(schemas),
		serve.WithSnapshotFallback(snapshots, maxRecoveryAge),
	)

	server := api.NewServer(serverConfig, &api.Dependencies{
		Reader:       reader,
		Orchestrator: orchestrator,
		Commits:      commits,
		Identities:   identities,
		Schemas:      schemas,
		Readiness:    ready,
		Rules:        rules,
		Health:       dbConn,
		APIKeyStore:  apiKeyStore,
		RateLimiter:  rateLimiter,
	})

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("Courtside service stopped")
}
