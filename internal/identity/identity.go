// Package identity provides canonical, content-derived dataset identifiers.
//
// A dataset is identified by the tuple (sport, competition level, season,
// dataset type, optional qualifier). The tuple is normalized, serialized to
// canonical JSON together with an identity-schema version, and hashed with
// SHA-256 to produce a deterministic 16-hex-character dataset ID.
//
// Key functions:
//   - Normalize: lowercases/trims tuple fields and rejects unknown values
//   - ComputeDatasetID: derives (datasetID, canonicalJSON) from a normalized tuple
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// Version is the identity-schema version baked into every canonical
	// JSON document. Bumping it changes every derived dataset ID, so it
	// only moves when the tuple shape itself changes.
	Version = 1

	// DatasetIDLength is the length of a derived dataset ID in hex characters.
	DatasetIDLength = 16
)

// Sentinel errors for identity operations.
var (
	// ErrUnknownSport is returned when the sport is not in the allow-list.
	ErrUnknownSport = errors.New("unknown sport")

	// ErrUnknownCompetitionLevel is returned when the competition level is not in the allow-list.
	ErrUnknownCompetitionLevel = errors.New("unknown competition level")

	// ErrUnknownDatasetType is returned when the dataset type is not in the allow-list.
	ErrUnknownDatasetType = errors.New("unknown dataset type")

	// ErrInvalidSeason is returned when the season does not match the expected format.
	ErrInvalidSeason = errors.New("invalid season format")

	// ErrIdentityViolation is returned when a stored identity disagrees with
	// the caller's expectation, or when two dataset IDs claim the same tuple.
	ErrIdentityViolation = errors.New("dataset identity violation")
)

// seasonPattern matches "2025" and "2025-26" style season labels.
var seasonPattern = regexp.MustCompile(`^\d{4}(-\d{2})?$`)

// Allowed tuple values. Process-local constants; extending them is an
// explicit code change, not configuration.
var (
	allowedSports = map[string]struct{}{
		"basketball": {},
		"football":   {},
		"baseball":   {},
		"hockey":     {},
		"soccer":     {},
	}

	allowedCompetitionLevels = map[string]struct{}{
		"professional": {},
		"college":      {},
		"high_school":  {},
	}

	allowedDatasetTypes = map[string]struct{}{
		"rankings":    {},
		"standings":   {},
		"schedule":    {},
		"results":     {},
		"stats":       {},
		"odds":        {},
		"projections": {},
	}
)

// Identity is the typed dataset identity tuple.
// Qualifier is optional and distinguishes datasets that otherwise share a
// tuple (e.g. "east" vs "west" conference standings).
type Identity struct {
	Sport            string
	CompetitionLevel string
	Season           string
	DatasetType      string
	Qualifier        string
}

// canonicalForm is the exact JSON shape that gets hashed. Field order is
// fixed by struct declaration order; changing it requires a Version bump.
type canonicalForm struct {
	IdentityVersion  int    `json:"identity_version"`
	Sport            string `json:"sport"`
	CompetitionLevel string `json:"competition_level"`
	Season           string `json:"season"`
	DatasetType      string `json:"dataset_type"`
	Qualifier        string `json:"qualifier,omitempty"`
}

// Normalize lowercases and trims every tuple field and validates the
// enumerated fields against the allow-lists.
//
// Returns the normalized identity, or an error naming the first rejected field.
func Normalize(id Identity) (Identity, error) {
	normalized := Identity{
		Sport:            strings.ToLower(strings.TrimSpace(id.Sport)),
		CompetitionLevel: strings.ToLower(strings.TrimSpace(id.CompetitionLevel)),
		Season:           strings.TrimSpace(id.Season),
		DatasetType:      strings.ToLower(strings.TrimSpace(id.DatasetType)),
		Qualifier:        strings.ToLower(strings.TrimSpace(id.Qualifier)),
	}

	if _, ok := allowedSports[normalized.Sport]; !ok {
		return Identity{}, fmt.Errorf("%w: %q", ErrUnknownSport, id.Sport)
	}

	if _, ok := allowedCompetitionLevels[normalized.CompetitionLevel]; !ok {
		return Identity{}, fmt.Errorf("%w: %q", ErrUnknownCompetitionLevel, id.CompetitionLevel)
	}

	if _, ok := allowedDatasetTypes[normalized.DatasetType]; !ok {
		return Identity{}, fmt.Errorf("%w: %q", ErrUnknownDatasetType, id.DatasetType)
	}

	if !seasonPattern.MatchString(normalized.Season) {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidSeason, id.Season)
	}

	return normalized, nil
}

// ComputeDatasetID derives the dataset ID and the canonical JSON it was
// hashed from. The input is normalized first; same tuple always produces
// the same (datasetID, canonicalJSON) pair.
//
// Returns:
//   - datasetID: SHA-256 of the canonical JSON, truncated to 16 hex characters
//   - canonicalJSON: the exact document that was hashed (persisted for audit)
func ComputeDatasetID(id Identity) (string, string, error) {
	normalized, err := Normalize(id)
	if err != nil {
		return "", "", err
	}

	canonical, err := json.Marshal(canonicalForm{
		IdentityVersion:  Version,
		Sport:            normalized.Sport,
		CompetitionLevel: normalized.CompetitionLevel,
		Season:           normalized.Season,
		DatasetType:      normalized.DatasetType,
		Qualifier:        normalized.Qualifier,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal canonical identity: %w", err)
	}

	hash := sha256.Sum256(canonical)

	return hex.EncodeToString(hash[:])[:DatasetIDLength], string(canonical), nil
}

// Equal reports whether two identities match byte-for-byte on every field.
// Both sides are expected to be normalized already.
func Equal(a, b Identity) bool {
	return a.Sport == b.Sport &&
		a.CompetitionLevel == b.CompetitionLevel &&
		a.Season == b.Season &&
		a.DatasetType == b.DatasetType &&
		a.Qualifier == b.Qualifier
}

// Assert verifies that a stored identity matches the expected identity.
// Any field mismatch is an ErrIdentityViolation naming the first offending field.
func Assert(expected, stored Identity) error {
	if !Equal(expected, stored) {
		return fmt.Errorf("%w: stored tuple %+v does not match expected %+v", ErrIdentityViolation, stored, expected)
	}

	return nil
}
