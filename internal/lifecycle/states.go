// Package lifecycle derives dataset lifecycle states and maps them, together
// with validation results, onto wire-ready HTTP status codes, cache
// directives, and the renderability contract.
//
// Everything in this package is a pure function over typed inputs; no I/O.
package lifecycle

import (
	"github.com/courtside-io/courtside/internal/validation"
)

// State is the lifecycle label frozen into every stored envelope and carried
// on every response.
type State string

const (
	// StateInitializing means no commit exists yet for the dataset.
	StateInitializing State = "initializing"

	// StateLive means the current version passed validation and meets density.
	StateLive State = "live"

	// StateStale means serving is older than intended: the LKG path or a
	// legacy envelope.
	StateStale State = "stale"

	// StateEmptyValid means the dataset is legitimately empty (off-season).
	StateEmptyValid State = "empty_valid"

	// StateUnavailable means validation failed with nothing good to fall back on.
	StateUnavailable State = "unavailable"
)

// Derive computes the lifecycle state at write time from the validation
// result and commit history.
//
// Rules:
//   - serving LKG always reads as stale, whatever the new batch looked like
//   - a valid batch is live
//   - off-season with zero records is empty_valid
//   - anything else without a prior commit is unavailable (nothing to serve)
//   - no validation at all (nil result) with no prior commit is initializing
func Derive(result *validation.Result, hasPriorCommit, servingLKG bool) State {
	if servingLKG {
		return StateStale
	}

	if result == nil {
		if hasPriorCommit {
			return StateLive
		}

		return StateInitializing
	}

	switch result.Status {
	case validation.StatusValid:
		return StateLive

	case validation.StatusUnavailable:
		if result.OffSeason && result.RecordCount == 0 {
			return StateEmptyValid
		}

		return StateUnavailable

	case validation.StatusInvalid:
		if hasPriorCommit {
			return StateStale
		}

		return StateUnavailable

	default:
		return StateUnavailable
	}
}

// Valid reports whether s is one of the defined lifecycle states. Used when
// parsing persisted envelopes.
func (s State) Valid() bool {
	switch s {
	case StateInitializing, StateLive, StateStale, StateEmptyValid, StateUnavailable:
		return true
	default:
		return false
	}
}
