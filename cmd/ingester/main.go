// Package main provides the Courtside background ingestion service.
//
// The ingester consumes dataset refresh messages from Kafka and runs each
// one through the commit pipeline. It shares the pipeline with the API
// service but carries no HTTP surface of its own.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/segmentio/kafka-go"

	"github.com/courtside-io/courtside/internal/config"
	"github.com/courtside-io/courtside/internal/feed"
	"github.com/courtside-io/courtside/internal/ingestion"
	"github.com/courtside-io/courtside/internal/kv"
	"github.com/courtside-io/courtside/internal/readiness"
	"github.com/courtside-io/courtside/internal/snapshot"
	"github.com/courtside-io/courtside/internal/storage"
	"github.com/courtside-io/courtside/internal/validation"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "courtside-ingester"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("COURTSIDE_LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting Courtside ingester",
		slog.String("service", name),
		slog.String("version", version),
	)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	commits := storage.NewCommitStore(dbConn, logger)
	identities := storage.NewIdentityStore(dbConn, logger)
	schemas := storage.NewSchemaStore(dbConn, logger)
	readinessStore := storage.NewReadinessStore(dbConn, logger)

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

	ready := readiness.NewService(readinessStore, logger)

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

	reaper := ingestion.NewReaper(commits, ingestConfig, logger)
	reaper.Start()

	defer reaper.Stop()

	feedConfig := feed.LoadConfig()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  feedConfig.Brokers,
		Topic:    feedConfig.Topic,
		GroupID:  feedConfig.GroupID,
		MinBytes: feedConfig.MinBytes,
		MaxBytes: feedConfig.MaxBytes,
		MaxWait:  feedConfig.MaxWait,
	})

	consumer := feed.NewConsumer(reader, orchestrator, rules, feedConfig, logger)

	defer func() {
		_ = consumer.Close()
	}()

	logger.Info("Consuming dataset refreshes",
		slog.String("topic", feedConfig.Topic),
		slog.String("group_id", feedConfig.GroupID),
		slog.Any("brokers", feedConfig.Brokers),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := consumer.Run(ctx); err != nil {
		logger.Error("Consumer stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Courtside ingester stopped")
}
