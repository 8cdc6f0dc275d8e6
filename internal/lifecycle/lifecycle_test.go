package lifecycle

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtside-io/courtside/internal/schema"
	"github.com/courtside-io/courtside/internal/validation"
)

func TestDerive(t *testing.T) {
	tests := []struct {
		name           string
		result         *validation.Result
		hasPriorCommit bool
		servingLKG     bool
		want           State
	}{
		{
			name:   "valid batch is live",
			result: &validation.Result{Status: validation.StatusValid, RecordCount: 25},
			want:   StateLive,
		},
		{
			name:           "LKG path is stale regardless of new batch",
			result:         &validation.Result{Status: validation.StatusValid},
			hasPriorCommit: true,
			servingLKG:     true,
			want:           StateStale,
		},
		{
			name:   "off-season zero records is empty_valid",
			result: &validation.Result{Status: validation.StatusUnavailable, OffSeason: true, RecordCount: 0},
			want:   StateEmptyValid,
		},
		{
			name:   "source unavailable is unavailable",
			result: &validation.Result{Status: validation.StatusUnavailable, RecordCount: 0},
			want:   StateUnavailable,
		},
		{
			name:           "invalid with prior commit is stale",
			result:         &validation.Result{Status: validation.StatusInvalid},
			hasPriorCommit: true,
			want:           StateStale,
		},
		{
			name:   "invalid without prior commit is unavailable",
			result: &validation.Result{Status: validation.StatusInvalid},
			want:   StateUnavailable,
		},
		{
			name: "no validation and no history is initializing",
			want: StateInitializing,
		},
		{
			name:           "no validation with history is live",
			hasPriorCommit: true,
			want:           StateLive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Derive(tt.result, tt.hasPriorCommit, tt.servingLKG))
		})
	}
}

func TestMapResponse(t *testing.T) {
	t.Run("live valid is 200 and cacheable", func(t *testing.T) {
		m := MapResponse(StateLive, validation.StatusValid)

		assert.Equal(t, http.StatusOK, m.HTTPStatus)
		assert.Equal(t, CacheControlPublic, m.CacheControl)
		assert.True(t, m.CacheEligible)
		assert.Equal(t, CacheTTLSeconds, m.TTLSeconds)
		assert.Zero(t, m.RetryAfter)
	})

	t.Run("initializing is 202 no-store with retry hint", func(t *testing.T) {
		m := MapResponse(StateInitializing, "")

		assert.Equal(t, http.StatusAccepted, m.HTTPStatus)
		assert.Equal(t, CacheControlNoStore, m.CacheControl)
		assert.Equal(t, RetryAfterInitializing, m.RetryAfter)
		assert.False(t, m.CacheEligible)
	})

	t.Run("empty_valid is 204 no-store", func(t *testing.T) {
		m := MapResponse(StateEmptyValid, validation.StatusUnavailable)

		assert.Equal(t, http.StatusNoContent, m.HTTPStatus)
		assert.Equal(t, CacheControlNoStore, m.CacheControl)
		assert.False(t, m.CacheEligible)
	})

	t.Run("stale is 503 no-store with retry hint", func(t *testing.T) {
		m := MapResponse(StateStale, validation.StatusValid)

		assert.Equal(t, http.StatusServiceUnavailable, m.HTTPStatus)
		assert.Equal(t, CacheControlNoStore, m.CacheControl)
		assert.Equal(t, RetryAfterUnavailable, m.RetryAfter)
		assert.False(t, m.CacheEligible)
	})

	t.Run("live but not valid is never cacheable", func(t *testing.T) {
		m := MapResponse(StateLive, validation.StatusInvalid)

		assert.Equal(t, http.StatusServiceUnavailable, m.HTTPStatus)
		assert.Equal(t, CacheControlNoStore, m.CacheControl)
		assert.False(t, m.CacheEligible)
	})

	t.Run("unavailable is 503", func(t *testing.T) {
		m := MapResponse(StateUnavailable, validation.StatusInvalid)
		assert.Equal(t, http.StatusServiceUnavailable, m.HTTPStatus)
	})
}

func TestDeriveRenderability(t *testing.T) {
	t.Run("no declared schema renders with unknown compatibility", func(t *testing.T) {
		r := DeriveRenderability("", "")

		assert.True(t, r.Renderable)
		assert.Nil(t, r.SchemaVersion)
		assert.Equal(t, schema.CompatibilityUnknown, r.ConsumerCompatibility)
	})

	t.Run("same major is compatible", func(t *testing.T) {
		r := DeriveRenderability("2.1.0", "2.3.0")

		assert.True(t, r.Renderable)
		require.NotNil(t, r.SchemaVersion)
		assert.Equal(t, "2.1.0", *r.SchemaVersion)
		assert.Equal(t, schema.CompatibilityCompatible, r.ConsumerCompatibility)
	})

	t.Run("one major behind is compatible", func(t *testing.T) {
		r := DeriveRenderability("1.0.0", "2.0.0")
		assert.True(t, r.Renderable)
	})

	t.Run("outside the dual-read window is not renderable", func(t *testing.T) {
		r := DeriveRenderability("1.0.0", "4.0.0")

		assert.False(t, r.Renderable)
		assert.Equal(t, schema.CompatibilityIncompatible, r.ConsumerCompatibility)
		assert.NotEmpty(t, r.Reason)
	})

	t.Run("missing data version with active schema is unknown but renderable", func(t *testing.T) {
		r := DeriveRenderability("", "2.0.0")

		assert.True(t, r.Renderable)
		assert.Equal(t, schema.CompatibilityUnknown, r.ConsumerCompatibility)
	})
}
