package identity

import (
	"context"
	"errors"
	"time"
)

// ErrIdentityNotFound is returned when no registry row exists for a dataset ID.
var ErrIdentityNotFound = errors.New("dataset identity not found")

// Record is a registered identity row: the dataset ID, the tuple it was
// derived from, and collision bookkeeping.
type Record struct {
	DatasetID         string
	Identity          Identity
	IdentityVersion   int
	CanonicalIdentity string
	CreatedAt         time.Time
	LastWriteAt       time.Time
	CollisionAttempts int
	LastCollisionAt   *time.Time
}

// Registry persists the datasetID ↔ tuple mapping.
//
// Implementations must make Register race-safe: concurrent registrations of
// the same tuple converge on one row, and a different dataset ID claiming an
// already-registered tuple increments the collision counter on the existing
// row and returns ErrIdentityViolation.
type Registry interface {
	// Register inserts the identity if absent and returns the stored record.
	// Re-registering the same (datasetID, tuple) touches last_write_at only.
	Register(ctx context.Context, datasetID, canonicalIdentity string, id Identity) (*Record, error)

	// Resolve loads the registered tuple for a dataset ID.
	// Returns ErrIdentityNotFound when no row exists.
	Resolve(ctx context.Context, datasetID string) (*Record, error)
}
