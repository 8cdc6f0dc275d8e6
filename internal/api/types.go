// Package api provides HTTP API server implementation for the Courtside service.
package api

import (
	"net/http"
	"time"

	"github.com/courtside-io/courtside/internal/identity"
	"github.com/courtside-io/courtside/internal/ingestion"
	"github.com/courtside-io/courtside/internal/lifecycle"
	"github.com/courtside-io/courtside/internal/schema"
	"github.com/courtside-io/courtside/internal/serve"
)

type (
	// IdentityPayload is the wire form of a dataset identity tuple.
	// This is separate from the domain model (identity.Identity) to decouple
	// the API contract from internal domain types.
	IdentityPayload struct {
		Sport            string `json:"sport"`
		CompetitionLevel string `json:"competitionLevel"`
		Season           string `json:"season"`
		DatasetType      string `json:"datasetType"`
		Qualifier        string `json:"qualifier,omitempty"`
	}

	// IngestRequest is the payload for POST /api/v1/datasets. The caller
	// pushes a candidate record batch together with the identity tuple it
	// was fetched for; the dataset ID is derived server-side.
	IngestRequest struct {
		Identity IdentityPayload  `json:"identity"`
		Records  []map[string]any `json:"records"`

		// SourceUnavailable marks a batch whose upstream explicitly
		// reported the dataset as unavailable (off-season feeds).
		SourceUnavailable bool `json:"sourceUnavailable,omitempty"`

		// SchemaVersion is the schema version the caller asserts for the
		// batch. Empty when the source makes no claim.
		SchemaVersion string `json:"schemaVersion,omitempty"`
	}

	// IngestResponse reports the outcome of one ingestion attempt.
	IngestResponse struct {
		Status           string `json:"status"` // "committed", "rejected", "fallback"
		DatasetID        string `json:"datasetId"`
		Version          int    `json:"version"`
		RecordCount      int    `json:"recordCount"`
		Committed        bool   `json:"committed"`
		Lifecycle        string `json:"lifecycle"`
		ValidationStatus string `json:"validationStatus"`
		ServingLKG       bool   `json:"servingLkg"`
		Code             string `json:"code,omitempty"`
		Reason           string `json:"reason,omitempty"`
		CorrelationID    string `json:"correlationId"`
		Timestamp        string `json:"timestamp"`
	}

	// DatasetResponse is the read-path envelope for GET /api/v1/datasets/{id}.
	// The HTTP status, cache headers, and this body are all derived from the
	// frozen write-time outcome; the body restates the machine-readable
	// metadata so clients never have to infer state from headers alone.
	DatasetResponse struct {
		Status string           `json:"status"`
		Data   []map[string]any `json:"data,omitempty"`
		Meta   DatasetMeta      `json:"meta"`
	}

	// DatasetMeta carries the per-response metadata block.
	DatasetMeta struct {
		DatasetID        string                  `json:"datasetId"`
		Version          int                     `json:"version,omitempty"`
		RecordCount      int                     `json:"recordCount"`
		Lifecycle        string                  `json:"lifecycle"`
		ValidationStatus string                  `json:"validationStatus,omitempty"`
		Renderability    lifecycle.Renderability `json:"renderability"`
		Source           string                  `json:"source"`
		ServingLKG       bool                    `json:"servingLkg,omitempty"`
		Cache            CacheMeta               `json:"cache"`
		Quota            *QuotaMeta              `json:"quota,omitempty"`
		Reason           string                  `json:"reason,omitempty"`
	}

	// CacheMeta tells clients whether the response was cache-eligible and
	// for how long. Hit is always false at the origin; CDN layers rewrite
	// it on their side.
	CacheMeta struct {
		Hit        bool `json:"hit"`
		Eligible   bool `json:"eligible"`
		TTLSeconds int  `json:"ttlSeconds"`
	}

	// QuotaMeta reports the caller's remaining request budget.
	QuotaMeta struct {
		Remaining int       `json:"remaining"`
		ResetAt   time.Time `json:"resetAt"`
	}

	// CommitListResponse is the payload for GET /api/v1/datasets/{id}/commits.
	CommitListResponse struct {
		DatasetID string              `json:"datasetId"`
		Current   *CurrentVersionView `json:"current,omitempty"`
		Commits   []CommitView        `json:"commits"`
	}

	// CurrentVersionView is the wire form of the serving pointer.
	CurrentVersionView struct {
		CurrentVersion       int        `json:"currentVersion"`
		LastCommittedVersion int        `json:"lastCommittedVersion"`
		LastCommittedAt      *time.Time `json:"lastCommittedAt,omitempty"`
		ServingLKG           bool       `json:"servingLkg"`
		LKGReason            string     `json:"lkgReason,omitempty"`
		SchemaVersion        string     `json:"schemaVersion,omitempty"`
	}

	// CommitView is the wire form of one commit log row.
	CommitView struct {
		Version          int        `json:"version"`
		Status           string     `json:"status"`
		RecordCount      int        `json:"recordCount"`
		ValidationStatus string     `json:"validationStatus"`
		ValidationErrors []string   `json:"validationErrors,omitempty"`
		IngestedAt       time.Time  `json:"ingestedAt"`
		CommittedAt      *time.Time `json:"committedAt,omitempty"`
		Source           string     `json:"source,omitempty"`
		SchemaVersion    string     `json:"schemaVersion,omitempty"`
		RollbackReason   string     `json:"rollbackReason,omitempty"`
	}

	// SchemaRegistrationRequest is the payload for POST /api/v1/admin/schemas.
	SchemaRegistrationRequest struct {
		DatasetID              string             `json:"datasetId"`
		SchemaVersion          string             `json:"schemaVersion"`
		RequiredFields         []string           `json:"requiredFields"`
		Invariants             []schema.Invariant `json:"invariants,omitempty"`
		MinimumRenderableCount int                `json:"minimumRenderableCount,omitempty"`
		SunsetAt               *time.Time         `json:"sunsetAt,omitempty"`
		Activate               bool               `json:"activate"`
	}

	// SchemaResponse is the stored schema as returned to admin callers.
	SchemaResponse struct {
		ID            string    `json:"id"`
		DatasetID     string    `json:"datasetId"`
		SchemaVersion string    `json:"schemaVersion"`
		SchemaHash    string    `json:"schemaHash"`
		Active        bool      `json:"active"`
		CreatedAt     time.Time `json:"createdAt"`
	}

	// ReadinessOverrideRequest is the payload for POST /api/v1/admin/readiness.
	ReadinessOverrideRequest struct {
		Scope  string `json:"scope"`
		Action string `json:"action"` // "reset", "degraded", "unavailable"
		Reason string `json:"reason,omitempty"`
	}

	// ReadinessOverrideResponse confirms the applied override.
	ReadinessOverrideResponse struct {
		Scope  string `json:"scope"`
		Action string `json:"action"`
		State  string `json:"state"`
	}
)

// toDomain converts the wire tuple to the domain identity.
func (p IdentityPayload) toDomain() identity.Identity {
	return identity.Identity{
		Sport:            p.Sport,
		CompetitionLevel: p.CompetitionLevel,
		Season:           p.Season,
		DatasetType:      p.DatasetType,
		Qualifier:        p.Qualifier,
	}
}

// statusLabel maps a lifecycle state to the coarse body status clients
// switch on.
func statusLabel(state lifecycle.State) string {
	switch state {
	case lifecycle.StateLive:
		return "ok"
	case lifecycle.StateInitializing:
		return "pending"
	case lifecycle.StateEmptyValid:
		return "empty"
	case lifecycle.StateStale:
		return "stale"
	default:
		return "unavailable"
	}
}

// newDatasetResponse builds the read-path body from a read result.
func newDatasetResponse(result *serve.ReadResult) *DatasetResponse {
	return &DatasetResponse{
		Status: statusLabel(result.Lifecycle),
		Data:   result.Data,
		Meta: DatasetMeta{
			DatasetID:        result.DatasetID,
			Version:          result.Version,
			RecordCount:      result.RecordCount,
			Lifecycle:        string(result.Lifecycle),
			ValidationStatus: string(result.ValidationStatus),
			Renderability:    result.Renderability,
			Source:           string(result.Source),
			ServingLKG:       result.IsLKG,
			Reason:           result.Reason,
			Cache: CacheMeta{
				Eligible:   result.CacheEligible,
				TTLSeconds: result.TTLSeconds,
			},
		},
	}
}

// newIngestResponse builds the write-path body from a commit result.
func newIngestResponse(result *ingestion.CommitResult, correlationID string, now time.Time) *IngestResponse {
	status := "fallback"

	switch {
	case result.Committed:
		status = "committed"
	case result.HTTPStatus == http.StatusUnprocessableEntity:
		status = "rejected"
	}

	return &IngestResponse{
		Status:           status,
		DatasetID:        result.DatasetID,
		Version:          result.Version,
		RecordCount:      result.RecordCount,
		Committed:        result.Committed,
		Lifecycle:        string(result.Lifecycle),
		ValidationStatus: string(result.ValidationStatus),
		ServingLKG:       result.IsServingLKG,
		Code:             string(result.Code),
		Reason:           result.Reason,
		CorrelationID:    correlationID,
		Timestamp:        now.UTC().Format(time.RFC3339),
	}
}
