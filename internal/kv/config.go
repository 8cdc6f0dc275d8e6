package kv

import (
	"errors"
	"fmt"
	"time"

	"github.com/courtside-io/courtside/internal/config"
)

// Default TTLs for staged and committed envelope blobs.
const (
	defaultPendingTTL   = 5 * time.Minute
	defaultCommittedTTL = 1 * time.Hour
	defaultDialTimeout  = 5 * time.Second
)

// Sentinel errors for KV configuration validation.
var (
	ErrEmptyRedisAddr      = errors.New("redis address cannot be empty")
	ErrInvalidPendingTTL   = errors.New("pending TTL must be positive")
	ErrInvalidCommittedTTL = errors.New("committed TTL must be at least the pending TTL")
)

// Config holds KV surface configuration.
type Config struct {
	// Addr is the Redis host:port.
	Addr string

	// Password is optional Redis auth.
	Password string

	// DB is the Redis logical database index.
	DB int

	// DialTimeout bounds the initial connection attempt.
	DialTimeout time.Duration

	// PendingTTL is the expiry for staged (pre-promotion) envelope blobs.
	PendingTTL time.Duration

	// CommittedTTL is the expiry for committed envelope blobs.
	CommittedTTL time.Duration
}

// LoadConfig loads KV configuration from environment variables with defaults.
func LoadConfig() *Config {
	return &Config{
		Addr:         config.GetEnvStr("COURTSIDE_REDIS_ADDR", "localhost:6379"),
		Password:     config.GetEnvStr("COURTSIDE_REDIS_PASSWORD", ""),
		DB:           config.GetEnvInt("COURTSIDE_REDIS_DB", 0),
		DialTimeout:  config.GetEnvDuration("COURTSIDE_REDIS_DIAL_TIMEOUT", defaultDialTimeout),
		PendingTTL:   config.GetEnvDuration("COURTSIDE_KV_PENDING_TTL", defaultPendingTTL),
		CommittedTTL: config.GetEnvDuration("COURTSIDE_KV_COMMITTED_TTL", defaultCommittedTTL),
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return ErrEmptyRedisAddr
	}

	if c.PendingTTL <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidPendingTTL, c.PendingTTL)
	}

	if c.CommittedTTL < c.PendingTTL {
		return fmt.Errorf("%w: committed %s < pending %s", ErrInvalidCommittedTTL, c.CommittedTTL, c.PendingTTL)
	}

	return nil
}
