package schema

import "context"

// Registry persists dataset schemas.
//
// Schemas are created by admin operations only, never by ingestion.
// Implementations must keep at most one active schema per dataset.
type Registry interface {
	// Register stores a new schema. When markActive is true, any previously
	// active schema for the dataset is deactivated in the same transaction.
	Register(ctx context.Context, s *Schema, markActive bool) (*Schema, error)

	// GetActive returns the active schema for a dataset.
	// Returns ErrSchemaNotFound when the dataset has no active schema.
	GetActive(ctx context.Context, datasetID string) (*Schema, error)

	// GetVersion returns a specific schema version for a dataset.
	// Returns ErrSchemaNotFound when that version was never registered.
	GetVersion(ctx context.Context, datasetID, schemaVersion string) (*Schema, error)
}
