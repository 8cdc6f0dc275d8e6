package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/courtside-io/courtside/internal/validation"
)

// DefaultMaxRecoveryAge bounds how old a snapshot may be and still seed
// readiness on a cold start.
const DefaultMaxRecoveryAge = 24 * time.Hour

// DefaultRetainVersions is how many per-version snapshots are kept per
// dataset. The latest pointer is never deleted.
const DefaultRetainVersions = 5

// Sentinel errors for snapshot validation.
var (
	// ErrSnapshotInvalid is returned when a snapshot fails structural validation.
	ErrSnapshotInvalid = errors.New("snapshot structurally invalid")

	// ErrSnapshotTooOld is returned when a snapshot is past the recovery age bound.
	ErrSnapshotTooOld = errors.New("snapshot too old for recovery")
)

// ValidationSummary is the condensed validation result stored with a snapshot.
//
//nolint:tagliatelle // snake_case matches the persisted snapshot format
type ValidationSummary struct {
	Status      validation.Status `json:"status"`
	RecordCount int               `json:"record_count"`
	ExpectedMin int               `json:"expected_min"`
	Reason      string            `json:"reason,omitempty"`
}

// Document is one persisted snapshot.
//
//nolint:tagliatelle // snake_case matches the persisted snapshot format
type Document struct {
	DatasetID  string            `json:"dataset_id"`
	Version    int               `json:"version"`
	Data       []map[string]any  `json:"data"`
	Validation ValidationSummary `json:"validation"`
	SnapshotAt time.Time         `json:"snapshot_at"`
}

// ValidateForRecovery checks whether the snapshot may seed readiness on a
// cold start: structurally sound, validation passed, and younger than maxAge.
func (d *Document) ValidateForRecovery(maxAge time.Duration, now time.Time) error {
	if d.DatasetID == "" {
		return fmt.Errorf("%w: dataset_id missing", ErrSnapshotInvalid)
	}

	if d.Version < 1 {
		return fmt.Errorf("%w: version %d must be >= 1", ErrSnapshotInvalid, d.Version)
	}

	if d.Validation.Status != validation.StatusValid {
		return fmt.Errorf("%w: validation status %q", ErrSnapshotInvalid, d.Validation.Status)
	}

	if len(d.Data) != d.Validation.RecordCount {
		return fmt.Errorf("%w: data length %d does not match record_count %d",
			ErrSnapshotInvalid, len(d.Data), d.Validation.RecordCount)
	}

	if d.SnapshotAt.IsZero() {
		return fmt.Errorf("%w: snapshot_at missing", ErrSnapshotInvalid)
	}

	age := now.Sub(d.SnapshotAt)
	if age > maxAge {
		return fmt.Errorf("%w: age %s exceeds bound %s", ErrSnapshotTooOld, age, maxAge)
	}

	return nil
}

// Manager writes, reads, and prunes snapshots over an ObjectStore.
type Manager struct {
	store  ObjectStore
	retain int
	logger *slog.Logger
}

// NewManager creates a snapshot manager. retain bounds per-version keys
// kept per dataset; values below 1 fall back to DefaultRetainVersions.
func NewManager(store ObjectStore, retain int, logger *slog.Logger) *Manager {
	if retain < 1 {
		retain = DefaultRetainVersions
	}

	return &Manager{
		store:  store,
		retain: retain,
		logger: logger,
	}
}

// Write persists the snapshot under its per-version key and overwrites the
// latest pointer. The per-version write must succeed; the latest pointer is
// best-effort and only logged on failure.
func (m *Manager) Write(ctx context.Context, doc *Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	metadata := map[string]string{
		"datasetId":        doc.DatasetID,
		"version":          strconv.Itoa(doc.Version),
		"recordCount":      strconv.Itoa(doc.Validation.RecordCount),
		"validationStatus": string(doc.Validation.Status),
	}

	if err := m.store.Put(ctx, VersionKey(doc.DatasetID, doc.Version), raw, metadata); err != nil {
		return fmt.Errorf("failed to write snapshot v%d for %s: %w", doc.Version, doc.DatasetID, err)
	}

	if err := m.store.Put(ctx, LatestKey(doc.DatasetID), raw, metadata); err != nil {
		m.logger.Warn("failed to update latest snapshot pointer",
			slog.String("dataset_id", doc.DatasetID),
			slog.Int("version", doc.Version),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// ReadLatest loads the latest snapshot for a dataset.
func (m *Manager) ReadLatest(ctx context.Context, datasetID string) (*Document, error) {
	return m.read(ctx, LatestKey(datasetID))
}

// ReadVersion loads a specific snapshot version for a dataset.
func (m *Manager) ReadVersion(ctx context.Context, datasetID string, version int) (*Document, error) {
	return m.read(ctx, VersionKey(datasetID, version))
}

func (m *Manager) read(ctx context.Context, key string) (*Document, error) {
	raw, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSnapshotInvalid, key, err)
	}

	return &doc, nil
}

// Cleanup prunes per-version snapshots older than the retention window
// below currentVersion. The latest pointer is never touched. Best-effort;
// individual delete failures are logged and skipped.
func (m *Manager) Cleanup(ctx context.Context, datasetID string, currentVersion int) error {
	keys, err := m.store.List(ctx, DatasetPrefix(datasetID))
	if err != nil {
		return fmt.Errorf("failed to list snapshots for %s: %w", datasetID, err)
	}

	var versions []int

	byVersion := make(map[int]string)

	for _, key := range keys {
		if version := versionFromKey(key); version > 0 {
			versions = append(versions, version)
			byVersion[version] = key
		}
	}

	sort.Sort(sort.Reverse(sort.IntSlice(versions)))

	cutoff := currentVersion - m.retain + 1

	for _, version := range versions {
		if version >= cutoff {
			continue
		}

		if err := m.store.Delete(ctx, byVersion[version]); err != nil {
			m.logger.Warn("failed to prune snapshot version",
				slog.String("dataset_id", datasetID),
				slog.Int("version", version),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}
