// Package ingestion drives datasets through the commit lifecycle:
// fetch, validate, stage, promote, snapshot, cleanup.
//
// The orchestrator is the only component that writes to the commit log or
// flips the KV pointer. Failures never displace good data: the last known
// good version keeps serving, flagged as LKG.
package ingestion

import (
	"errors"

	"github.com/courtside-io/courtside/internal/envelope"
	"github.com/courtside-io/courtside/internal/identity"
	"github.com/courtside-io/courtside/internal/readiness"
	"github.com/courtside-io/courtside/internal/schema"
	"github.com/courtside-io/courtside/internal/validation"
)

// Sentinel errors for ingestion infrastructure failures.
var (
	// ErrFetchFailed is returned when the upstream fetcher errored or returned nothing.
	ErrFetchFailed = errors.New("upstream fetch failed")

	// ErrStagingWriteFailed is returned when the KV write of the versioned blob failed.
	ErrStagingWriteFailed = errors.New("staging write failed")

	// ErrPromoteFailed is returned when the commit-log transition or pointer swap failed.
	ErrPromoteFailed = errors.New("promote failed")

	// ErrSnapshotFailed is returned when the object-store snapshot write failed.
	// Non-fatal to promotion.
	ErrSnapshotFailed = errors.New("snapshot write failed")
)

// Code is a stable, client-visible error code.
type Code string

// The error taxonomy. Every failure surfaced to clients carries one of
// these codes.
const (
	CodeNoRuleDefined      Code = "NoRuleDefined"
	CodeFetchFailed        Code = "FetchFailed"
	CodeSemanticInvalid    Code = "SemanticInvalid"
	CodeSourceUnavailable  Code = "SourceUnavailable"
	CodeSchemaIncompatible Code = "SchemaIncompatible"
	CodeInvariantViolation Code = "InvariantViolation"
	CodeIdentityViolation  Code = "IdentityViolation"
	CodeStagingWriteFailed Code = "StagingWriteFailed"
	CodePromoteFailed      Code = "PromoteFailed"
	CodeSnapshotFailed     Code = "SnapshotFailed"
	CodeReadinessBlocked   Code = "ReadinessBlocked"
	CodeLegacyEnvelope     Code = "LegacyEnvelope"
	CodeInternal           Code = "Internal"
)

// CodeForError maps a pipeline error to its stable code.
func CodeForError(err error) Code {
	switch {
	case errors.Is(err, validation.ErrNoRuleDefined):
		return CodeNoRuleDefined
	case errors.Is(err, ErrFetchFailed):
		return CodeFetchFailed
	case errors.Is(err, schema.ErrSchemaIncompatible):
		return CodeSchemaIncompatible
	case errors.Is(err, schema.ErrInvariantViolation), errors.Is(err, schema.ErrSchemaSunset):
		return CodeInvariantViolation
	case errors.Is(err, identity.ErrIdentityViolation):
		return CodeIdentityViolation
	case errors.Is(err, ErrStagingWriteFailed):
		return CodeStagingWriteFailed
	case errors.Is(err, ErrPromoteFailed):
		return CodePromoteFailed
	case errors.Is(err, ErrSnapshotFailed):
		return CodeSnapshotFailed
	case errors.Is(err, readiness.ErrReadinessBlocked):
		return CodeReadinessBlocked
	case errors.Is(err, envelope.ErrLegacyEnvelope):
		return CodeLegacyEnvelope
	default:
		return CodeInternal
	}
}
