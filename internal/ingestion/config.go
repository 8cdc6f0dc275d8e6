package ingestion

import (
	"errors"
	"fmt"
	"time"

	"github.com/courtside-io/courtside/internal/config"
)

// Defaults for the ingestion pipeline knobs.
const (
	defaultPendingTTL      = 5 * time.Minute
	defaultCommittedTTL    = 1 * time.Hour
	defaultRetainVersions  = 2
	defaultPendingSweepAge = 30 * time.Minute
	defaultSweepInterval   = 5 * time.Minute
	defaultSource          = "courtside-ingester"
)

// Sentinel errors for ingestion configuration validation.
var (
	ErrInvalidRetainVersions = errors.New("retain versions must be at least 2")
	ErrInvalidSweepAge       = errors.New("pending sweep age must be positive")
)

// Config holds the orchestrator's tunables.
type Config struct {
	// PendingTTL is the KV expiry for staged (pre-promotion) blobs.
	PendingTTL time.Duration

	// CommittedTTL is the KV expiry for committed blobs.
	CommittedTTL time.Duration

	// RetainVersions is how many versioned KV blobs stay live per dataset.
	// The current and the immediately previous version are always kept.
	RetainVersions int

	// PendingSweepAge is how old a pending commit row must be before the
	// background reaper rolls it back.
	PendingSweepAge time.Duration

	// SweepInterval is how often the reaper runs.
	SweepInterval time.Duration

	// Source tags every commit row with its ingestion origin.
	Source string
}

// LoadConfig loads orchestrator configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		PendingTTL:      config.GetEnvDuration("COURTSIDE_KV_PENDING_TTL", defaultPendingTTL),
		CommittedTTL:    config.GetEnvDuration("COURTSIDE_KV_COMMITTED_TTL", defaultCommittedTTL),
		RetainVersions:  config.GetEnvInt("COURTSIDE_RETAIN_VERSIONS", defaultRetainVersions),
		PendingSweepAge: config.GetEnvDuration("COURTSIDE_PENDING_SWEEP_AGE", defaultPendingSweepAge),
		SweepInterval:   config.GetEnvDuration("COURTSIDE_PENDING_SWEEP_INTERVAL", defaultSweepInterval),
		Source:          config.GetEnvStr("COURTSIDE_INGEST_SOURCE", defaultSource),
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.RetainVersions < 2 {
		return fmt.Errorf("%w: got %d", ErrInvalidRetainVersions, c.RetainVersions)
	}

	if c.PendingSweepAge <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidSweepAge, c.PendingSweepAge)
	}

	return nil
}
