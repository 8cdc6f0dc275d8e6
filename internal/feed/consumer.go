package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/courtside-io/courtside/internal/identity"
	"github.com/courtside-io/courtside/internal/ingestion"
	"github.com/courtside-io/courtside/internal/validation"
)

// MessageReader is the slice of kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Ingestor runs one dataset batch through the commit pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, datasetID string, id identity.Identity, fetcher ingestion.Fetcher) (*ingestion.CommitResult, error)
}

// Consumer pulls refresh messages off the broker and feeds the pipeline.
//
// Malformed messages are logged and committed; redelivering them cannot
// make them parse. Pipeline outcomes, including rejections and fallbacks,
// also commit the offset: the commit log already recorded the attempt.
// Only broker errors stop the loop.
type Consumer struct {
	reader        MessageReader
	ingestor      Ingestor
	rules         *validation.Ruleset
	logger        *slog.Logger
	ingestTimeout time.Duration
}

// NewConsumer creates a consumer over the given reader.
func NewConsumer(reader MessageReader, ingestor Ingestor, rules *validation.Ruleset, cfg *Config, logger *slog.Logger) *Consumer {
	timeout := cfg.IngestTimeout
	if timeout <= 0 {
		timeout = defaultIngestLimit
	}

	return &Consumer{
		reader:        reader,
		ingestor:      ingestor,
		rules:         rules,
		logger:        logger,
		ingestTimeout: timeout,
	}
}

// Run consumes until the context is cancelled or the reader fails.
// Offsets commit only after processMessage returns, so a crash mid-pipeline
// redelivers the message and the pipeline's own idempotency absorbs it.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}

		c.processMessage(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		}
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) {
	refresh, err := decodeRefreshMessage(msg.Value)
	if err != nil {
		c.logger.Error("dropping malformed refresh message",
			slog.String("topic", msg.Topic),
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)

		return
	}

	id, err := identity.Normalize(identity.Identity{
		Sport:            refresh.Sport,
		CompetitionLevel: refresh.CompetitionLevel,
		Season:           refresh.Season,
		DatasetType:      refresh.DatasetType,
		Qualifier:        refresh.Qualifier,
	})
	if err != nil {
		c.logger.Error("dropping refresh with invalid identity tuple",
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)

		return
	}

	datasetID, _, err := identity.ComputeDatasetID(id)
	if err != nil {
		c.logger.Error("dropping refresh with uncomputable dataset ID",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)

		return
	}

	if c.rules != nil {
		c.rules.RegisterDefaults(datasetID, id.DatasetType)
	}

	fetched := &ingestion.FetchResult{
		Records:           refresh.Records,
		SourceUnavailable: refresh.SourceUnavailable,
		SchemaVersion:     refresh.SchemaVersion,
	}

	fetcher := ingestion.FetcherFunc(
		func(_ context.Context, _ string, _ identity.Identity) (*ingestion.FetchResult, error) {
			return fetched, nil
		},
	)

	ingestCtx, cancel := context.WithTimeout(ctx, c.ingestTimeout)
	defer cancel()

	result, err := c.ingestor.Ingest(ingestCtx, datasetID, id, fetcher)
	if err != nil {
		c.logger.Error("refresh ingestion failed",
			slog.String("dataset_id", datasetID),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)

		return
	}

	c.logger.Info("refresh processed",
		slog.String("dataset_id", datasetID),
		slog.Int("version", result.Version),
		slog.Bool("committed", result.Committed),
		slog.String("lifecycle", string(result.Lifecycle)),
		slog.String("code", string(result.Code)),
		slog.Int64("offset", msg.Offset),
	)
}

func decodeRefreshMessage(value []byte) (*RefreshMessage, error) {
	decoder := json.NewDecoder(bytes.NewReader(value))
	decoder.DisallowUnknownFields()

	var refresh RefreshMessage
	if err := decoder.Decode(&refresh); err != nil {
		return nil, err
	}

	return &refresh, nil
}
