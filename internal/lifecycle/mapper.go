package lifecycle

import (
	"net/http"

	"github.com/courtside-io/courtside/internal/schema"
	"github.com/courtside-io/courtside/internal/validation"
)

// Cache-Control values. Only live+valid responses are ever cacheable.
const (
	CacheControlPublic  = "public, max-age=300, s-maxage=900"
	CacheControlNoStore = "no-store"

	// CacheTTLSeconds is the client-facing TTL advertised on cache-eligible
	// responses; matches the max-age directive.
	CacheTTLSeconds = 300

	// RetryAfterInitializing is the Retry-After hint (seconds) for 202 responses.
	RetryAfterInitializing = 30

	// RetryAfterUnavailable is the Retry-After hint (seconds) for 503 responses.
	RetryAfterUnavailable = 60
)

// Mapping is the wire-ready triple for one response: status code, cache
// directive, and cache eligibility.
type Mapping struct {
	HTTPStatus    int
	CacheControl  string
	RetryAfter    int
	CacheEligible bool
	TTLSeconds    int
}

// MapResponse produces the HTTP status and cache directive for a lifecycle
// state and validation status.
//
// Only live + valid is cache-eligible; every other combination is no-store.
// 202 and 503 carry Retry-After hints. 422 is never produced here: schema
// incompatibilities are rejected on the write path and never reach a stored
// envelope.
func MapResponse(state State, status validation.Status) Mapping {
	if state == StateLive && status == validation.StatusValid {
		return Mapping{
			HTTPStatus:    http.StatusOK,
			CacheControl:  CacheControlPublic,
			CacheEligible: true,
			TTLSeconds:    CacheTTLSeconds,
		}
	}

	switch state {
	case StateInitializing:
		return Mapping{
			HTTPStatus:   http.StatusAccepted,
			CacheControl: CacheControlNoStore,
			RetryAfter:   RetryAfterInitializing,
		}

	case StateEmptyValid:
		return Mapping{
			HTTPStatus:   http.StatusNoContent,
			CacheControl: CacheControlNoStore,
		}

	case StateLive, StateStale, StateUnavailable:
		return Mapping{
			HTTPStatus:   http.StatusServiceUnavailable,
			CacheControl: CacheControlNoStore,
			RetryAfter:   RetryAfterUnavailable,
		}

	default:
		return Mapping{
			HTTPStatus:   http.StatusServiceUnavailable,
			CacheControl: CacheControlNoStore,
			RetryAfter:   RetryAfterUnavailable,
		}
	}
}

// Renderability is the machine-readable statement whether a client may
// safely render the payload given schema compatibility.
type Renderability struct {
	Renderable            bool                 `json:"renderable"`
	SchemaVersion         *string              `json:"schemaVersion"`
	ConsumerCompatibility schema.Compatibility `json:"consumerCompatibility"`
	Reason                string               `json:"reason,omitempty"`
}

// DeriveRenderability applies the dual-read window to the schema version
// persisted with the data against the currently-active schema version.
//
// No declared schema means render freely with unknown compatibility. An
// incompatible persisted version forces renderable=false even when the data
// bytes are intact.
func DeriveRenderability(dataSchemaVersion, activeSchemaVersion string) Renderability {
	if activeSchemaVersion == "" {
		return Renderability{
			Renderable:            true,
			ConsumerCompatibility: schema.CompatibilityUnknown,
		}
	}

	var versionPtr *string
	if dataSchemaVersion != "" {
		versionPtr = &dataSchemaVersion
	}

	compat := schema.CheckCompatibility(dataSchemaVersion, activeSchemaVersion)

	switch compat {
	case schema.CompatibilityCompatible:
		return Renderability{
			Renderable:            true,
			SchemaVersion:         versionPtr,
			ConsumerCompatibility: compat,
		}

	case schema.CompatibilityIncompatible:
		return Renderability{
			Renderable:            false,
			SchemaVersion:         versionPtr,
			ConsumerCompatibility: compat,
			Reason:                "persisted schema version outside the dual-read window",
		}

	default:
		return Renderability{
			Renderable:            true,
			SchemaVersion:         versionPtr,
			ConsumerCompatibility: schema.CompatibilityUnknown,
			Reason:                "schema version missing or unparseable",
		}
	}
}
