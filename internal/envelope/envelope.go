// Package envelope defines the KV safety envelope.
//
// Every payload written to the KV surface is wrapped in an envelope that
// freezes the write-time truth: HTTP status, lifecycle state, validation
// status, record count, version, and the full dataset identity. Readers
// reconstruct correct HTTP semantics from the envelope alone, without a
// second metadata lookup.
//
// Payloads that predate the envelope (a bare JSON array, or a document
// without the meta block) are classified as legacy and served as stale
// until re-ingested.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/courtside-io/courtside/internal/identity"
	"github.com/courtside-io/courtside/internal/lifecycle"
	"github.com/courtside-io/courtside/internal/validation"
)

// Sentinel errors for envelope operations.
var (
	// ErrLegacyEnvelope marks a payload lacking safety metadata.
	ErrLegacyEnvelope = errors.New("legacy payload without safety envelope")

	// ErrInvalidEnvelope marks an envelope that parsed but fails validation.
	ErrInvalidEnvelope = errors.New("invalid safety envelope")
)

// IdentityDoc is the wire form of the dataset identity tuple carried inside
// every envelope.
type IdentityDoc struct {
	Sport            string `json:"sport"`
	CompetitionLevel string `json:"competition_level"` //nolint:tagliatelle
	Season           string `json:"season"`
	DatasetType      string `json:"dataset_type"` //nolint:tagliatelle
	Qualifier        string `json:"qualifier,omitempty"`
}

// ToIdentity converts the wire form back to the domain tuple.
func (d IdentityDoc) ToIdentity() identity.Identity {
	return identity.Identity{
		Sport:            d.Sport,
		CompetitionLevel: d.CompetitionLevel,
		Season:           d.Season,
		DatasetType:      d.DatasetType,
		Qualifier:        d.Qualifier,
	}
}

// FromIdentity converts a domain tuple to its wire form.
func FromIdentity(id identity.Identity) IdentityDoc {
	return IdentityDoc{
		Sport:            id.Sport,
		CompetitionLevel: id.CompetitionLevel,
		Season:           id.Season,
		DatasetType:      id.DatasetType,
		Qualifier:        id.Qualifier,
	}
}

// SafetyMeta is the write-time truth frozen into the envelope.
//
//nolint:tagliatelle // snake_case matches the persisted KV format
type SafetyMeta struct {
	HTTPStatusAtWrite int               `json:"http_status_at_write"`
	LifecycleState    lifecycle.State   `json:"lifecycle_state"`
	RecordCount       int               `json:"record_count"`
	ValidationStatus  validation.Status `json:"validation_status"`
	DatasetID         string            `json:"dataset_id"`
	CanonicalIdentity string            `json:"canonical_identity"`
	Identity          IdentityDoc       `json:"identity"`
	ExpectedMinCount  int               `json:"expected_min_count"`
	WrittenAt         time.Time         `json:"written_at"`
	Version           int               `json:"version"`
	IsLKG             bool              `json:"is_lkg"`
	LKGReason         string            `json:"lkg_reason,omitempty"`
	SchemaVersion     string            `json:"schema_version,omitempty"`
	SchemaHash        string            `json:"schema_hash,omitempty"`
	CommittedAt       *time.Time        `json:"committed_at,omitempty"`
}

// Envelope wraps a record batch with its safety metadata.
type Envelope struct {
	Data []map[string]any `json:"data"`
	Meta SafetyMeta       `json:"meta"`
}

// Validate checks internal consistency of a parsed envelope.
func (e *Envelope) Validate() error {
	switch e.Meta.HTTPStatusAtWrite {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent, http.StatusServiceUnavailable:
	default:
		return fmt.Errorf("%w: http_status_at_write %d not in {200, 202, 204, 503}",
			ErrInvalidEnvelope, e.Meta.HTTPStatusAtWrite)
	}

	if !e.Meta.LifecycleState.Valid() {
		return fmt.Errorf("%w: unknown lifecycle_state %q", ErrInvalidEnvelope, e.Meta.LifecycleState)
	}

	if e.Meta.DatasetID == "" {
		return fmt.Errorf("%w: dataset_id missing", ErrInvalidEnvelope)
	}

	if e.Meta.Version < 1 {
		return fmt.Errorf("%w: version %d must be >= 1", ErrInvalidEnvelope, e.Meta.Version)
	}

	return nil
}

// Marshal serializes the envelope to its persisted JSON form.
func (e *Envelope) Marshal() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return raw, nil
}

// Parse deserializes a KV payload.
//
// Classification:
//   - a bare JSON array is a legacy payload (ErrLegacyEnvelope)
//   - an object without a meta block, or one whose meta fails Validate, is legacy
//   - anything unparseable is legacy
//
// Legacy payloads are not an error condition for serving; callers map them
// to stale + 503 per the safety contract.
func Parse(raw []byte) (*Envelope, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrLegacyEnvelope)
	}

	// Fast path: a bare array predates the envelope format.
	var legacyRecords []map[string]any
	if err := json.Unmarshal(raw, &legacyRecords); err == nil {
		return nil, fmt.Errorf("%w: bare record array", ErrLegacyEnvelope)
	}

	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLegacyEnvelope, err)
	}

	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLegacyEnvelope, err)
	}

	return &e, nil
}

// AssertIdentity verifies the envelope against the caller's expectation:
// the dataset ID and every tuple field must match byte-for-byte. Any
// mismatch is an identity violation, which readers surface as a hard 503.
func (e *Envelope) AssertIdentity(expectedDatasetID string, expected identity.Identity) error {
	if e.Meta.DatasetID != expectedDatasetID {
		return fmt.Errorf("%w: envelope dataset_id %q does not match expected %q",
			identity.ErrIdentityViolation, e.Meta.DatasetID, expectedDatasetID)
	}

	return identity.Assert(expected, e.Meta.Identity.ToIdentity())
}
