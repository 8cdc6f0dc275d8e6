// Package schema provides versioned structural contracts for datasets.
//
// A schema declares the required fields, field invariants, and minimum
// renderable record count for a dataset. Schemas are versioned with semver;
// serving tolerates a dual-read window of the current major and one major
// behind. A deterministic schema hash is persisted with every commit so
// edge readers can detect drift without re-parsing the schema.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SchemaHashLength is the length of a schema hash in hex characters.
const SchemaHashLength = 16

// Sentinel errors for schema operations.
var (
	// ErrSchemaNotFound is returned when no schema is registered for a dataset.
	ErrSchemaNotFound = errors.New("schema not found")

	// ErrInvalidSchemaVersion is returned for versions that are not plain semver.
	ErrInvalidSchemaVersion = errors.New("invalid schema version")

	// ErrSchemaSunset is returned when validating against a schema past its sunset time.
	ErrSchemaSunset = errors.New("schema sunset")

	// ErrSchemaIncompatible is returned when a data schema version falls outside
	// the dual-read window of the active schema.
	ErrSchemaIncompatible = errors.New("schema incompatible")

	// ErrInvariantViolation is returned when at least one record fails a field invariant.
	ErrInvariantViolation = errors.New("invariant violation")
)

// Schema is a registered structural contract for one dataset.
// At most one schema per dataset is active at a time.
type Schema struct {
	ID                     string
	DatasetID              string
	SchemaVersion          string
	SchemaHash             string
	RequiredFields         []string
	Invariants             []Invariant
	MinimumRenderableCount int
	SunsetAt               *time.Time
	CreatedAt              time.Time
	IsActive               bool
}

// hashForm is the canonical shape hashed into SchemaHash. Required fields
// are sorted and invariants are ordered by (field, type) before marshaling,
// so the hash is independent of registration order.
type hashForm struct {
	RequiredFields []string    `json:"required_fields"`
	Invariants     []Invariant `json:"invariants"`
}

// ComputeSchemaHash derives the deterministic hash over required fields and
// invariants. Recomputing over the persisted schema must reproduce the
// stored value bitwise.
func ComputeSchemaHash(requiredFields []string, invariants []Invariant) (string, error) {
	sortedFields := make([]string, len(requiredFields))
	copy(sortedFields, requiredFields)
	sort.Strings(sortedFields)

	sortedInvariants := make([]Invariant, len(invariants))
	copy(sortedInvariants, invariants)
	sort.Slice(sortedInvariants, func(i, j int) bool {
		if sortedInvariants[i].Field != sortedInvariants[j].Field {
			return sortedInvariants[i].Field < sortedInvariants[j].Field
		}

		return sortedInvariants[i].Type < sortedInvariants[j].Type
	})

	canonical, err := json.Marshal(hashForm{
		RequiredFields: sortedFields,
		Invariants:     sortedInvariants,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal canonical schema form: %w", err)
	}

	hash := sha256.Sum256(canonical)

	return hex.EncodeToString(hash[:])[:SchemaHashLength], nil
}

// Version is a parsed semver schema version.
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion parses a plain "major.minor.patch" semver string.
// Pre-release and build metadata are not supported.
func ParseVersion(version string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(version), ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidSchemaVersion, version)
	}

	numbers := make([]int, 3)

	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("%w: %q", ErrInvalidSchemaVersion, version)
		}

		numbers[i] = n
	}

	return Version{Major: numbers[0], Minor: numbers[1], Patch: numbers[2]}, nil
}

// Compatibility classifies a data schema version against the active one.
type Compatibility string

const (
	// CompatibilityCompatible means the data version is inside the dual-read window.
	CompatibilityCompatible Compatibility = "compatible"

	// CompatibilityIncompatible means the data version is outside the dual-read window.
	CompatibilityIncompatible Compatibility = "incompatible"

	// CompatibilityUnknown means one of the versions is absent or unparseable.
	CompatibilityUnknown Compatibility = "unknown"
)

// CheckCompatibility applies the dual-read window: a data version is
// compatible with the active version when its major equals the active major
// or is exactly one behind. Missing or malformed versions are unknown.
func CheckCompatibility(dataVersion, activeVersion string) Compatibility {
	if dataVersion == "" || activeVersion == "" {
		return CompatibilityUnknown
	}

	data, err := ParseVersion(dataVersion)
	if err != nil {
		return CompatibilityUnknown
	}

	active, err := ParseVersion(activeVersion)
	if err != nil {
		return CompatibilityUnknown
	}

	if data.Major == active.Major || data.Major == active.Major-1 {
		return CompatibilityCompatible
	}

	return CompatibilityIncompatible
}
