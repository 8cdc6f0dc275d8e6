package ingestion

import (
	"context"

	"github.com/courtside-io/courtside/internal/identity"
)

// FetchResult is what an upstream fetcher produced for one dataset.
type FetchResult struct {
	// Records is the proposed record batch. May be empty.
	Records []map[string]any

	// SourceUnavailable marks an upstream that explicitly reported the
	// dataset as unavailable. Forces validation to unavailable regardless
	// of data.
	SourceUnavailable bool

	// SchemaVersion is the schema version the upstream asserts for the
	// batch. Empty when the source makes no claim.
	SchemaVersion string
}

// Fetcher retrieves the candidate record batch for a dataset. Implementations
// wrap third-party APIs and must respect the context deadline.
type Fetcher interface {
	Fetch(ctx context.Context, datasetID string, id identity.Identity) (*FetchResult, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, datasetID string, id identity.Identity) (*FetchResult, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, datasetID string, id identity.Identity) (*FetchResult, error) {
	return f(ctx, datasetID, id)
}
