// Package feed consumes dataset refresh messages from Kafka and drives
// them through the ingestion pipeline.
//
// Upstream collectors publish one message per dataset refresh. A message
// carries the identity tuple and either the full record batch or an
// explicit source-unavailable marker. The consumer is the bridge between
// the broker and the orchestrator; it holds no pipeline logic of its own.
package feed

import (
	"time"

	"github.com/courtside-io/courtside/internal/config"
)

// Default consumer tuning.
const (
	defaultTopic       = "dataset-refresh"
	defaultGroupID     = "courtside-ingester"
	defaultMinBytes    = 1
	defaultMaxBytes    = 10 * 1024 * 1024
	defaultMaxWait     = 500 * time.Millisecond
	defaultIngestLimit = 30 * time.Second
)

// Config holds Kafka consumer configuration.
type Config struct {
	// Brokers is the list of Kafka bootstrap addresses.
	Brokers []string

	// Topic is the refresh topic to consume.
	Topic string

	// GroupID is the consumer group; offsets are committed per group.
	GroupID string

	// MinBytes and MaxBytes bound the fetch batch size.
	MinBytes int
	MaxBytes int

	// MaxWait bounds how long a fetch blocks waiting for MinBytes.
	MaxWait time.Duration

	// IngestTimeout bounds one message's trip through the pipeline.
	IngestTimeout time.Duration
}

// LoadConfig loads consumer configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Brokers:       config.GetEnvStrSlice("COURTSIDE_KAFKA_BROKERS", []string{"localhost:9092"}),
		Topic:         config.GetEnvStr("COURTSIDE_KAFKA_TOPIC", defaultTopic),
		GroupID:       config.GetEnvStr("COURTSIDE_KAFKA_GROUP_ID", defaultGroupID),
		MinBytes:      config.GetEnvInt("COURTSIDE_KAFKA_MIN_BYTES", defaultMinBytes),
		MaxBytes:      config.GetEnvInt("COURTSIDE_KAFKA_MAX_BYTES", defaultMaxBytes),
		MaxWait:       config.GetEnvDuration("COURTSIDE_KAFKA_MAX_WAIT", defaultMaxWait),
		IngestTimeout: config.GetEnvDuration("COURTSIDE_KAFKA_INGEST_TIMEOUT", defaultIngestLimit),
	}
}

// RefreshMessage is the wire shape of one dataset refresh.
type RefreshMessage struct {
	Sport            string `json:"sport"`
	CompetitionLevel string `json:"competitionLevel"`
	Season           string `json:"season"`
	DatasetType      string `json:"datasetType"`
	Qualifier        string `json:"qualifier,omitempty"`

	Records           []map[string]any `json:"records"`
	SourceUnavailable bool             `json:"sourceUnavailable,omitempty"`
	SchemaVersion     string           `json:"schemaVersion,omitempty"`
}
