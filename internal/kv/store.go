// Package kv provides the key/value surface the pipeline stages and serves
// envelopes through.
//
// The KV surface is a non-authoritative mirror of the metadata store: it
// holds versioned envelope blobs under `<prefix>:v<N>` and a small pointer
// string under `<prefix>:current`. Pointer writes are last-writer-wins
// string puts; no compare-and-set is assumed.
package kv

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Sentinel errors for KV operations.
var (
	// ErrKeyNotFound is returned when a key is absent or expired.
	ErrKeyNotFound = errors.New("kv: key not found")

	// ErrInvalidPointer is returned when a pointer value is not "v<N>".
	ErrInvalidPointer = errors.New("kv: invalid pointer value")
)

// Store is the KV surface contract. Implementations must honor the
// caller-supplied context deadline on every call.
type Store interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key with the given TTL. Zero TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}

// Key scheme for one dataset. The prefix keeps dataset keys grouped and
// scannable for operational tooling.
const keyPrefix = "dataset"

// VersionedKey returns the key for a versioned envelope blob.
func VersionedKey(datasetID string, version int) string {
	return fmt.Sprintf("%s:%s:v%d", keyPrefix, datasetID, version)
}

// PointerKey returns the key for the current-version pointer.
func PointerKey(datasetID string) string {
	return fmt.Sprintf("%s:%s:current", keyPrefix, datasetID)
}

var pointerPattern = regexp.MustCompile(`^v(\d+)$`)

// FormatPointer renders a version number as the pointer value "v<N>".
func FormatPointer(version int) string {
	return fmt.Sprintf("v%d", version)
}

// ParsePointer extracts the version number from a pointer value.
func ParsePointer(value string) (int, error) {
	match := pointerPattern.FindStringSubmatch(value)
	if match == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPointer, value)
	}

	version, err := strconv.Atoi(match[1])
	if err != nil || version < 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPointer, value)
	}

	return version, nil
}
