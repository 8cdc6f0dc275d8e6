package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/courtside-io/courtside/internal/validation"
)

// CommitStatus is the lifecycle state of one commit-log row.
type CommitStatus string

const (
	// CommitPending is a staged, not-yet-promoted attempt.
	CommitPending CommitStatus = "pending"

	// CommitCommitted is the currently-served version. At most one per dataset.
	CommitCommitted CommitStatus = "committed"

	// CommitRolledBack is a failed attempt; never served.
	CommitRolledBack CommitStatus = "rolled_back"

	// CommitSuperseded is a previously committed version displaced by a newer one.
	CommitSuperseded CommitStatus = "superseded"
)

// Sentinel errors for commit-log operations.
var (
	// ErrCommitNotFound is returned when no matching commit row exists.
	ErrCommitNotFound = errors.New("commit not found")

	// ErrNoCurrentVersion is returned when a dataset has no pointer row yet.
	ErrNoCurrentVersion = errors.New("no current version for dataset")

	// ErrVersionConflict is returned when two attempts race on the same version.
	ErrVersionConflict = errors.New("version conflict")
)

// CommitRecord is one row of the commit log: a single ingestion attempt.
type CommitRecord struct {
	DatasetID           string
	Version             int
	Status              CommitStatus
	RecordCount         int
	PreviousRecordCount int
	ValidationStatus    validation.Status
	ValidationErrors    []string
	IngestedAt          time.Time
	CommittedAt         *time.Time
	KVVersionedKey      string
	Source              string
	SchemaVersion       string
	SchemaHash          string
	RollbackReason      string
}

// CurrentVersion is the authoritative pointer row for one dataset.
type CurrentVersion struct {
	DatasetID               string
	CurrentVersion          int
	LastCommittedVersion    int
	LastCommittedAt         *time.Time
	IsServingLKG            bool
	LKGReason               string
	CurrentSchemaVersion    string
	LastCommittedSchemaHash string
}

// SchemaInfo carries the schema identity persisted with a promotion.
type SchemaInfo struct {
	SchemaVersion string
	SchemaHash    string
}

// CommitLog is the durable history of ingestion attempts plus the
// current-version pointer.
//
// Implementations must guarantee: version numbers strictly increase per
// dataset under a unique (dataset, version) constraint; at most one
// committed row per dataset; PromoteCommit performs the supersede,
// commit, and pointer upsert in one transaction.
type CommitLog interface {
	// NextVersion allocates MAX(version)+1 for the dataset, or 1 if none.
	NextVersion(ctx context.Context, datasetID string) (int, error)

	// CreatePending inserts a pending row with all attempt metadata.
	// Returns ErrVersionConflict when the (dataset, version) pair exists.
	CreatePending(ctx context.Context, record *CommitRecord) error

	// PromoteCommit atomically supersedes the old committed row, commits the
	// target version, and upserts the pointer with is_serving_lkg=false.
	PromoteCommit(ctx context.Context, datasetID string, version int, info *SchemaInfo) error

	// RollbackCommit transitions a pending row to rolled_back with a reason.
	RollbackCommit(ctx context.Context, datasetID string, version int, reason string) error

	// MarkServingLKG flags the pointer as serving the last known good version.
	MarkServingLKG(ctx context.Context, datasetID string, lkgVersion int, reason string) error

	// ClearLKGStatus removes the LKG flag and reason from the pointer.
	ClearLKGStatus(ctx context.Context, datasetID string) error

	// GetCurrentVersion loads the pointer row. Returns ErrNoCurrentVersion when absent.
	GetCurrentVersion(ctx context.Context, datasetID string) (*CurrentVersion, error)

	// GetLatestCommitted loads the committed row for the dataset.
	// Returns ErrCommitNotFound when none exists.
	GetLatestCommitted(ctx context.Context, datasetID string) (*CommitRecord, error)

	// GetCommit loads one specific commit row.
	GetCommit(ctx context.Context, datasetID string, version int) (*CommitRecord, error)

	// ListCommits returns up to limit commit rows for a dataset, newest first.
	ListCommits(ctx context.Context, datasetID string, limit int) ([]*CommitRecord, error)

	// SweepStalePending rolls back pending rows older than the cutoff.
	// Returns the number of rows swept.
	SweepStalePending(ctx context.Context, olderThan time.Duration) (int, error)
}
