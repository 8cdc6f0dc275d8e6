package schema

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func intPtr(i int) *int { return &i }

func TestComputeSchemaHash(t *testing.T) {
	fields := []string{"team", "rank", "wins"}
	invariants := []Invariant{
		{Type: InvariantRange, Field: "rank", Min: floatPtr(1), Max: floatPtr(25)},
		{Type: InvariantNonNull, Field: "team"},
	}

	t.Run("produces 16 lowercase hex characters", func(t *testing.T) {
		hash, err := ComputeSchemaHash(fields, invariants)
		require.NoError(t, err)
		assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{16}$`), hash)
	})

	t.Run("independent of declaration order", func(t *testing.T) {
		hash1, err := ComputeSchemaHash(fields, invariants)
		require.NoError(t, err)

		reorderedFields := []string{"wins", "team", "rank"}
		reorderedInvariants := []Invariant{
			{Type: InvariantNonNull, Field: "team"},
			{Type: InvariantRange, Field: "rank", Min: floatPtr(1), Max: floatPtr(25)},
		}

		hash2, err := ComputeSchemaHash(reorderedFields, reorderedInvariants)
		require.NoError(t, err)

		assert.Equal(t, hash1, hash2)
	})

	t.Run("sensitive to invariant bounds", func(t *testing.T) {
		hash1, err := ComputeSchemaHash(fields, invariants)
		require.NoError(t, err)

		widened := []Invariant{
			{Type: InvariantRange, Field: "rank", Min: floatPtr(1), Max: floatPtr(50)},
			{Type: InvariantNonNull, Field: "team"},
		}

		hash2, err := ComputeSchemaHash(fields, widened)
		require.NoError(t, err)

		assert.NotEqual(t, hash1, hash2)
	})
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Version
		wantErr bool
	}{
		{name: "plain semver", input: "2.1.0", want: Version{Major: 2, Minor: 1, Patch: 0}},
		{name: "whitespace tolerated", input: " 1.0.3 ", want: Version{Major: 1, Minor: 0, Patch: 3}},
		{name: "missing patch rejected", input: "2.1", wantErr: true},
		{name: "non-numeric rejected", input: "2.x.0", wantErr: true},
		{name: "negative rejected", input: "-1.0.0", wantErr: true},
		{name: "empty rejected", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVersion(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidSchemaVersion)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckCompatibility(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		active  string
		want    Compatibility
	}{
		{name: "same major", data: "2.3.1", active: "2.0.0", want: CompatibilityCompatible},
		{name: "one major behind", data: "1.9.0", active: "2.0.0", want: CompatibilityCompatible},
		{name: "two majors behind", data: "1.0.0", active: "3.0.0", want: CompatibilityIncompatible},
		{name: "ahead of active", data: "4.0.0", active: "2.0.0", want: CompatibilityIncompatible},
		{name: "missing data version", data: "", active: "2.0.0", want: CompatibilityUnknown},
		{name: "missing active version", data: "2.0.0", active: "", want: CompatibilityUnknown},
		{name: "malformed data version", data: "two", active: "2.0.0", want: CompatibilityUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckCompatibility(tt.data, tt.active))
		})
	}
}

func TestValidateBatch(t *testing.T) {
	now := time.Date(2026, time.January, 15, 12, 0, 0, 0, time.UTC)

	baseSchema := func() *Schema {
		return &Schema{
			DatasetID:      "ab12cd34ef56ab12",
			SchemaVersion:  "2.0.0",
			RequiredFields: []string{"team", "rank"},
			Invariants: []Invariant{
				{Type: InvariantRange, Field: "rank", Min: floatPtr(1), Max: floatPtr(25)},
				{Type: InvariantEnum, Field: "conference", Values: []any{"east", "west"}},
				{Type: InvariantRegex, Field: "team", Pattern: `^[A-Za-z .]+$`},
				{Type: InvariantLength, Field: "team", MinLength: intPtr(2), MaxLength: intPtr(40)},
			},
		}
	}

	validRecord := func() map[string]any {
		return map[string]any{
			"team":       "Duke",
			"rank":       float64(1),
			"conference": "east",
		}
	}

	t.Run("valid batch passes", func(t *testing.T) {
		violations, err := baseSchema().ValidateBatch([]map[string]any{validRecord(), {
			"team":       "Kansas",
			"rank":       float64(2),
			"conference": "west",
		}}, now)
		require.NoError(t, err)
		assert.Empty(t, violations)
	})

	t.Run("missing required field rejects the batch", func(t *testing.T) {
		record := validRecord()
		delete(record, "rank")

		violations, err := baseSchema().ValidateBatch([]map[string]any{record}, now)
		require.ErrorIs(t, err, ErrInvariantViolation)
		require.NotEmpty(t, violations)
		assert.Equal(t, "rank", violations[0].Field)
	})

	t.Run("empty string required field rejected", func(t *testing.T) {
		record := validRecord()
		record["team"] = ""

		_, err := baseSchema().ValidateBatch([]map[string]any{record}, now)
		require.ErrorIs(t, err, ErrInvariantViolation)
	})

	t.Run("range violation reported with record index", func(t *testing.T) {
		bad := validRecord()
		bad["rank"] = float64(99)

		violations, err := baseSchema().ValidateBatch([]map[string]any{validRecord(), bad}, now)
		require.ErrorIs(t, err, ErrInvariantViolation)
		require.Len(t, violations, 1)
		assert.Equal(t, 1, violations[0].RecordIndex)
		assert.Equal(t, InvariantRange, violations[0].Invariant)
	})

	t.Run("enum numeric equality tolerates JSON round-trip", func(t *testing.T) {
		s := &Schema{
			RequiredFields: []string{},
			Invariants: []Invariant{
				{Type: InvariantEnum, Field: "period", Values: []any{1, 2, 3, 4}},
			},
		}

		violations, err := s.ValidateBatch([]map[string]any{{"period": float64(3)}}, now)
		require.NoError(t, err)
		assert.Empty(t, violations)
	})

	t.Run("enum violation rejected", func(t *testing.T) {
		bad := validRecord()
		bad["conference"] = "north"

		_, err := baseSchema().ValidateBatch([]map[string]any{bad}, now)
		require.ErrorIs(t, err, ErrInvariantViolation)
	})

	t.Run("regex violation rejected", func(t *testing.T) {
		bad := validRecord()
		bad["team"] = "Duke!!"

		_, err := baseSchema().ValidateBatch([]map[string]any{bad}, now)
		require.ErrorIs(t, err, ErrInvariantViolation)
	})

	t.Run("length violation rejected", func(t *testing.T) {
		bad := validRecord()
		bad["team"] = "D"

		_, err := baseSchema().ValidateBatch([]map[string]any{bad}, now)
		require.ErrorIs(t, err, ErrInvariantViolation)
	})

	t.Run("sunset schema rejects every batch", func(t *testing.T) {
		s := baseSchema()
		past := now.Add(-24 * time.Hour)
		s.SunsetAt = &past

		violations, err := s.ValidateBatch([]map[string]any{validRecord()}, now)
		require.ErrorIs(t, err, ErrSchemaSunset)
		assert.Empty(t, violations)
	})

	t.Run("all violations collected", func(t *testing.T) {
		bad := map[string]any{
			"team":       "D!",
			"rank":       float64(50),
			"conference": "north",
		}

		violations, err := baseSchema().ValidateBatch([]map[string]any{bad}, now)
		require.ErrorIs(t, err, ErrInvariantViolation)
		assert.GreaterOrEqual(t, len(violations), 3)
	})
}
