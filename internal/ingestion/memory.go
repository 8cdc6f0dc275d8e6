package ingestion

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryCommitLog is an in-memory CommitLog for tests and local development.
// It mirrors the transactional guarantees of the SQL implementation under a
// single mutex.
type MemoryCommitLog struct {
	mu       sync.Mutex
	commits  map[string]map[int]*CommitRecord
	pointers map[string]*CurrentVersion
	now      func() time.Time

	failures map[string][]error
}

// NewMemoryCommitLog creates an empty in-memory commit log.
func NewMemoryCommitLog() *MemoryCommitLog {
	return &MemoryCommitLog{
		commits:  make(map[string]map[int]*CommitRecord),
		pointers: make(map[string]*CurrentVersion),
		now:      time.Now,
		failures: make(map[string][]error),
	}
}

var _ CommitLog = (*MemoryCommitLog)(nil)

// SetClock overrides the time source. Test helper.
func (m *MemoryCommitLog) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = clock
}

// FailNext queues one failure for the named operation. Test helper.
// Operation names: "promote", "pending".
func (m *MemoryCommitLog) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

func (m *MemoryCommitLog) takeFailure(op string) error {
	queued := m.failures[op]
	if len(queued) == 0 {
		return nil
	}

	m.failures[op] = queued[1:]

	return queued[0]
}

// NextVersion implements CommitLog.
func (m *MemoryCommitLog) NextVersion(_ context.Context, datasetID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	max := 0
	for version := range m.commits[datasetID] {
		if version > max {
			max = version
		}
	}

	return max + 1, nil
}

// CreatePending implements CommitLog.
func (m *MemoryCommitLog) CreatePending(_ context.Context, record *CommitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("pending"); err != nil {
		return err
	}

	rows, ok := m.commits[record.DatasetID]
	if !ok {
		rows = make(map[int]*CommitRecord)
		m.commits[record.DatasetID] = rows
	}

	if _, exists := rows[record.Version]; exists {
		return fmt.Errorf("%w: %s v%d", ErrVersionConflict, record.DatasetID, record.Version)
	}

	clone := *record
	clone.Status = CommitPending
	rows[record.Version] = &clone

	return nil
}

// PromoteCommit implements CommitLog.
func (m *MemoryCommitLog) PromoteCommit(_ context.Context, datasetID string, version int, info *SchemaInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("promote"); err != nil {
		return err
	}

	row, ok := m.commits[datasetID][version]
	if !ok {
		return fmt.Errorf("%w: %s v%d", ErrCommitNotFound, datasetID, version)
	}

	for _, other := range m.commits[datasetID] {
		if other.Status == CommitCommitted {
			other.Status = CommitSuperseded
		}
	}

	committedAt := m.now()
	row.Status = CommitCommitted
	row.CommittedAt = &committedAt

	pointer := &CurrentVersion{
		DatasetID:            datasetID,
		CurrentVersion:       version,
		LastCommittedVersion: version,
		LastCommittedAt:      &committedAt,
	}

	if info != nil {
		pointer.CurrentSchemaVersion = info.SchemaVersion
		pointer.LastCommittedSchemaHash = info.SchemaHash
	}

	m.pointers[datasetID] = pointer

	return nil
}

// RollbackCommit implements CommitLog.
func (m *MemoryCommitLog) RollbackCommit(_ context.Context, datasetID string, version int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.commits[datasetID][version]
	if !ok {
		return fmt.Errorf("%w: %s v%d", ErrCommitNotFound, datasetID, version)
	}

	row.Status = CommitRolledBack
	row.RollbackReason = reason

	return nil
}

// MarkServingLKG implements CommitLog.
func (m *MemoryCommitLog) MarkServingLKG(_ context.Context, datasetID string, lkgVersion int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pointer, ok := m.pointers[datasetID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoCurrentVersion, datasetID)
	}

	pointer.CurrentVersion = lkgVersion
	pointer.IsServingLKG = true
	pointer.LKGReason = reason

	return nil
}

// ClearLKGStatus implements CommitLog.
func (m *MemoryCommitLog) ClearLKGStatus(_ context.Context, datasetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pointer, ok := m.pointers[datasetID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoCurrentVersion, datasetID)
	}

	pointer.IsServingLKG = false
	pointer.LKGReason = ""

	return nil
}

// GetCurrentVersion implements CommitLog.
func (m *MemoryCommitLog) GetCurrentVersion(_ context.Context, datasetID string) (*CurrentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pointer, ok := m.pointers[datasetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCurrentVersion, datasetID)
	}

	clone := *pointer

	return &clone, nil
}

// GetLatestCommitted implements CommitLog.
func (m *MemoryCommitLog) GetLatestCommitted(_ context.Context, datasetID string) (*CommitRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *CommitRecord

	for _, row := range m.commits[datasetID] {
		if row.Status != CommitCommitted {
			continue
		}

		if latest == nil || row.Version > latest.Version {
			latest = row
		}
	}

	if latest == nil {
		return nil, fmt.Errorf("%w: %s", ErrCommitNotFound, datasetID)
	}

	clone := *latest

	return &clone, nil
}

// GetCommit implements CommitLog.
func (m *MemoryCommitLog) GetCommit(_ context.Context, datasetID string, version int) (*CommitRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.commits[datasetID][version]
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", ErrCommitNotFound, datasetID, version)
	}

	clone := *row

	return &clone, nil
}

// ListCommits implements CommitLog.
func (m *MemoryCommitLog) ListCommits(_ context.Context, datasetID string, limit int) ([]*CommitRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := make([]*CommitRecord, 0, len(m.commits[datasetID]))

	for _, row := range m.commits[datasetID] {
		clone := *row
		rows = append(rows, &clone)
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Version > rows[j].Version
	})

	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	return rows, nil
}

// SweepStalePending implements CommitLog.
func (m *MemoryCommitLog) SweepStalePending(_ context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-olderThan)
	swept := 0

	for _, rows := range m.commits {
		for _, row := range rows {
			if row.Status == CommitPending && row.IngestedAt.Before(cutoff) {
				row.Status = CommitRolledBack
				row.RollbackReason = "stale pending swept"
				swept++
			}
		}
	}

	return swept, nil
}
