// Package readiness provides the system-level gate consulted by reads
// before touching the KV surface.
//
// Readiness is tracked per scope, usually a dataset ID. The state machine:
//
//	initializing ──(first valid commit)──► ready
//	ready ──(fetch/validate/commit fail)──► degraded
//	degraded ──(successful recommit)────► ready
//	any ──(explicit admin)──────────────► unavailable
//	any ──(admin reset)─────────────────► initializing
//
// A scope stuck in unavailable only leaves via an admin reset.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State is a readiness state.
type State string

const (
	// StateInitializing means no valid commit has been observed yet.
	StateInitializing State = "initializing"

	// StateReady means reads may hit the KV surface and be cached.
	StateReady State = "ready"

	// StateDegraded means serving continues (LKG) but must not be cached.
	StateDegraded State = "degraded"

	// StateUnavailable means the scope is administratively down.
	StateUnavailable State = "unavailable"
)

// Sentinel errors for readiness operations.
var (
	// ErrScopeNotFound is returned when no readiness row exists for a scope.
	ErrScopeNotFound = errors.New("readiness scope not found")

	// ErrInvalidTransition is returned for transitions the state machine forbids.
	ErrInvalidTransition = errors.New("invalid readiness transition")

	// ErrReadinessBlocked is returned when a read arrives while the scope is not ready.
	ErrReadinessBlocked = errors.New("readiness blocked")
)

// Record is one persisted readiness row.
type Record struct {
	Scope               string
	State               State
	LastTransitionAt    time.Time
	Reason              string
	SnapshotValidatedAt *time.Time
	LiveIngestionAt     *time.Time
}

// Store persists readiness records.
type Store interface {
	// Get loads the record for a scope. Returns ErrScopeNotFound when absent.
	Get(ctx context.Context, scope string) (*Record, error)

	// Upsert inserts or replaces the record for its scope.
	Upsert(ctx context.Context, record *Record) error
}

// ValidateTransition checks a state transition against the machine.
// Idempotent transitions are allowed; leaving unavailable requires a reset
// to initializing.
func ValidateTransition(from, to State) error {
	if from == to {
		return nil
	}

	// Reset and admin-down are reachable from anywhere.
	if to == StateInitializing || to == StateUnavailable {
		return nil
	}

	if from == StateUnavailable {
		return fmt.Errorf("%w: %s -> %s (unavailable requires admin reset)", ErrInvalidTransition, from, to)
	}

	switch to {
	case StateReady, StateDegraded:
		return nil
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
}
