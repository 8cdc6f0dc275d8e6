// Package snapshot provides object-store dataset snapshots.
//
// Every promoted version is snapshotted under a stable per-version key plus
// a best-effort `latest` pointer document. Snapshots exist for cold-start
// recovery: a young, structurally valid snapshot lets readiness transition
// to ready before the first live ingestion.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrObjectNotFound is returned when no object exists under a key.
var ErrObjectNotFound = errors.New("snapshot: object not found")

// ObjectStore is the blob storage contract for snapshots. Implementations
// must honor the caller-supplied context deadline.
type ObjectStore interface {
	// Put writes data under key with optional custom metadata.
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) error

	// Get returns the data under key, or ErrObjectNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object under key. Absent keys are not an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys under a prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// VersionKey returns the per-version snapshot key.
func VersionKey(datasetID string, version int) string {
	return fmt.Sprintf("snapshots/%s/v%d.json", datasetID, version)
}

// LatestKey returns the latest-pointer snapshot key.
func LatestKey(datasetID string) string {
	return fmt.Sprintf("snapshots/%s/latest.json", datasetID)
}

// DatasetPrefix returns the key prefix holding all snapshots of a dataset.
func DatasetPrefix(datasetID string) string {
	return fmt.Sprintf("snapshots/%s/", datasetID)
}

var versionKeyPattern = regexp.MustCompile(`/v(\d+)\.json$`)

// versionFromKey extracts the version number from a per-version key.
// Returns 0 for keys that are not version keys (e.g. latest.json).
func versionFromKey(key string) int {
	match := versionKeyPattern.FindStringSubmatch(key)
	if match == nil {
		return 0
	}

	version, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}

	return version
}
