package validation

import (
	"fmt"
	"time"
)

// structuralSampleSize is the number of leading records checked by the
// structural gate. Batches smaller than this are checked in full.
const structuralSampleSize = 5

// Status classifies a validated record batch.
type Status string

const (
	// StatusValid means the batch passed every gate and may be promoted.
	StatusValid Status = "valid"

	// StatusInvalid means the batch failed density or structure; it must not displace good data.
	StatusInvalid Status = "invalid"

	// StatusUnavailable means the dataset is legitimately absent (off-season
	// or source-reported); it is not a data failure.
	StatusUnavailable Status = "unavailable"
)

// Result carries the full classification of one validation run.
type Result struct {
	Status        Status
	DatasetID     string
	RecordCount   int
	ExpectedMin   int
	PassedSchema  bool
	PassedDensity bool
	Reason        string
	OffSeason     bool
	ValidatedAt   time.Time
	SchemaErrors  []string
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock overrides the validator's time source. Used by tests and by
// callers replaying historical batches.
func WithClock(clock func() time.Time) Option {
	return func(v *Validator) {
		if clock != nil {
			v.now = clock
		}
	}
}

// Validator runs the semantic gates for a dataset: season, density, and
// structure. It is CPU-bound and holds no external resources.
type Validator struct {
	rules *Ruleset
	now   func() time.Time
}

// NewValidator creates a validator over the given ruleset.
func NewValidator(rules *Ruleset, opts ...Option) *Validator {
	v := &Validator{
		rules: rules,
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Validate classifies a record batch for a dataset.
//
// Gates, in order:
//  1. Explicit-unavailable override: the caller observed the source
//     reporting unavailable; forces unavailable regardless of data.
//  2. Season gate: outside the rule's month window the dataset is
//     unavailable, not invalid.
//  3. Density gate: record count below the rule minimum is invalid.
//  4. Structural gate: each of the first five records (or all when fewer)
//     must carry every required field as a non-null, non-empty value.
//
// Returns ErrNoRuleDefined when the dataset has no semantic rule.
func (v *Validator) Validate(datasetID string, records []map[string]any, sourceUnavailable bool) (*Result, error) {
	rule, ok := v.rules.Resolve(datasetID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRuleDefined, datasetID)
	}

	result := &Result{
		DatasetID:   datasetID,
		RecordCount: len(records),
		ExpectedMin: rule.MinRecordCount,
		ValidatedAt: v.now(),
	}

	if sourceUnavailable {
		result.Status = StatusUnavailable
		result.Reason = "source reported unavailable"

		return result, nil
	}

	if rule.Season != nil && !rule.Season.Contains(result.ValidatedAt) {
		result.Status = StatusUnavailable
		result.OffSeason = true
		result.Reason = fmt.Sprintf("off-season: current month %s outside window %s-%s",
			result.ValidatedAt.Month(), rule.Season.StartMonth, rule.Season.EndMonth)

		return result, nil
	}

	if len(records) < rule.MinRecordCount {
		result.Status = StatusInvalid
		result.Reason = fmt.Sprintf("insufficient density: %d record(s), expected at least %d",
			len(records), rule.MinRecordCount)

		return result, nil
	}

	result.PassedDensity = true

	if errors := v.checkStructure(records, rule.RequiredFields); len(errors) > 0 {
		result.Status = StatusInvalid
		result.Reason = "structural check failed"
		result.SchemaErrors = errors

		return result, nil
	}

	result.PassedSchema = true
	result.Status = StatusValid

	return result, nil
}

// checkStructure verifies required fields on the leading sample of records.
func (v *Validator) checkStructure(records []map[string]any, requiredFields []string) []string {
	sample := structuralSampleSize
	if len(records) < sample {
		sample = len(records)
	}

	var errors []string

	for i := 0; i < sample; i++ {
		for _, field := range requiredFields {
			value, exists := records[i][field]
			if !exists || value == nil {
				errors = append(errors, fmt.Sprintf("record %d: required field %q missing or null", i, field))

				continue
			}

			if str, ok := value.(string); ok && str == "" {
				errors = append(errors, fmt.Sprintf("record %d: required field %q empty", i, field))
			}
		}
	}

	return errors
}
