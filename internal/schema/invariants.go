package schema

import (
	"fmt"
	"regexp"
	"time"
)

// InvariantType enumerates the supported field invariants.
type InvariantType string

const (
	// InvariantNonNull requires the field to be present and non-null.
	InvariantNonNull InvariantType = "non_null"

	// InvariantRange requires a numeric value inside [Min, Max].
	InvariantRange InvariantType = "range"

	// InvariantEnum requires the value to be one of the listed primitives.
	InvariantEnum InvariantType = "enum"

	// InvariantRegex requires a string value matching Pattern.
	InvariantRegex InvariantType = "regex"

	// InvariantLength requires a string length inside [MinLength, MaxLength].
	InvariantLength InvariantType = "length"
)

// Invariant is one declared field constraint. Only the fields relevant to
// Type are populated; the rest stay zero and are omitted from JSON.
type Invariant struct {
	Type      InvariantType `json:"type"`
	Field     string        `json:"field"`
	Min       *float64      `json:"min,omitempty"`
	Max       *float64      `json:"max,omitempty"`
	Values    []any         `json:"values,omitempty"`
	Pattern   string        `json:"pattern,omitempty"`
	MinLength *int          `json:"min_length,omitempty"`
	MaxLength *int          `json:"max_length,omitempty"`
}

// Violation describes one failed invariant on one record.
type Violation struct {
	RecordIndex int           `json:"record_index"`
	Field       string        `json:"field"`
	Invariant   InvariantType `json:"invariant"`
	Message     string        `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("record %d: field %q: %s: %s", v.RecordIndex, v.Field, v.Invariant, v.Message)
}

// ValidateBatch validates a record batch against the schema. The batch is
// rejected on any record-level violation; all violations are collected so
// callers can report them together.
//
// Checks, in order:
//  1. Sunset: a schema past SunsetAt rejects every batch with ErrSchemaSunset.
//  2. Required fields: every record must carry every required field as a
//     non-null, non-empty value.
//  3. Invariants: every record must satisfy every declared invariant.
//
// Returns the collected violations together with ErrInvariantViolation when
// any record fails; (nil, nil) when the batch passes.
func (s *Schema) ValidateBatch(records []map[string]any, now time.Time) ([]Violation, error) {
	if s.SunsetAt != nil && s.SunsetAt.Before(now) {
		return nil, fmt.Errorf("%w: schema %s for dataset %s sunset at %s",
			ErrSchemaSunset, s.SchemaVersion, s.DatasetID, s.SunsetAt.Format(time.RFC3339))
	}

	// Regex patterns are data-driven, compile each once per batch.
	patterns := make(map[string]*regexp.Regexp)

	var violations []Violation

	for i, record := range records {
		violations = append(violations, checkRequiredFields(i, record, s.RequiredFields)...)

		for _, inv := range s.Invariants {
			if v, ok := checkInvariant(i, record, inv, patterns); !ok {
				violations = append(violations, v)
			}
		}
	}

	if len(violations) > 0 {
		return violations, fmt.Errorf("%w: %d violation(s) in batch of %d record(s)",
			ErrInvariantViolation, len(violations), len(records))
	}

	return nil, nil
}

func checkRequiredFields(index int, record map[string]any, required []string) []Violation {
	var violations []Violation

	for _, field := range required {
		value, exists := record[field]
		if !exists || value == nil {
			violations = append(violations, Violation{
				RecordIndex: index,
				Field:       field,
				Invariant:   InvariantNonNull,
				Message:     "required field missing or null",
			})

			continue
		}

		if str, ok := value.(string); ok && str == "" {
			violations = append(violations, Violation{
				RecordIndex: index,
				Field:       field,
				Invariant:   InvariantNonNull,
				Message:     "required field empty",
			})
		}
	}

	return violations
}

func checkInvariant(index int, record map[string]any, inv Invariant, patterns map[string]*regexp.Regexp) (Violation, bool) {
	value, exists := record[inv.Field]

	switch inv.Type {
	case InvariantNonNull:
		if !exists || value == nil {
			return violation(index, inv, "value missing or null"), false
		}

	case InvariantRange:
		number, ok := asFloat(value)
		if !ok {
			return violation(index, inv, fmt.Sprintf("value %v is not numeric", value)), false
		}

		if inv.Min != nil && number < *inv.Min {
			return violation(index, inv, fmt.Sprintf("value %v below minimum %v", number, *inv.Min)), false
		}

		if inv.Max != nil && number > *inv.Max {
			return violation(index, inv, fmt.Sprintf("value %v above maximum %v", number, *inv.Max)), false
		}

	case InvariantEnum:
		if !enumContains(inv.Values, value) {
			return violation(index, inv, fmt.Sprintf("value %v not in enum", value)), false
		}

	case InvariantRegex:
		str, ok := value.(string)
		if !ok {
			return violation(index, inv, fmt.Sprintf("value %v is not a string", value)), false
		}

		pattern, ok := patterns[inv.Pattern]
		if !ok {
			compiled, err := regexp.Compile(inv.Pattern)
			if err != nil {
				return violation(index, inv, fmt.Sprintf("invalid pattern %q: %v", inv.Pattern, err)), false
			}

			patterns[inv.Pattern] = compiled
			pattern = compiled
		}

		if !pattern.MatchString(str) {
			return violation(index, inv, fmt.Sprintf("value %q does not match %q", str, inv.Pattern)), false
		}

	case InvariantLength:
		str, ok := value.(string)
		if !ok {
			return violation(index, inv, fmt.Sprintf("value %v is not a string", value)), false
		}

		if inv.MinLength != nil && len(str) < *inv.MinLength {
			return violation(index, inv, fmt.Sprintf("length %d below minimum %d", len(str), *inv.MinLength)), false
		}

		if inv.MaxLength != nil && len(str) > *inv.MaxLength {
			return violation(index, inv, fmt.Sprintf("length %d above maximum %d", len(str), *inv.MaxLength)), false
		}

	default:
		return violation(index, inv, fmt.Sprintf("unknown invariant type %q", inv.Type)), false
	}

	return Violation{}, true
}

func violation(index int, inv Invariant, message string) Violation {
	return Violation{
		RecordIndex: index,
		Field:       inv.Field,
		Invariant:   inv.Type,
		Message:     message,
	}
}

// asFloat coerces JSON numeric representations to float64.
func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// enumContains compares the value against the allowed primitives. Numeric
// values are compared numerically so 5 matches 5.0 after a JSON round-trip.
func enumContains(values []any, value any) bool {
	for _, allowed := range values {
		if allowed == value {
			return true
		}

		allowedNum, okA := asFloat(allowed)
		valueNum, okV := asFloat(value)

		if okA && okV && allowedNum == valueNum {
			return true
		}
	}

	return false
}
