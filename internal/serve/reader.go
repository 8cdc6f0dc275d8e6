// Package serve implements the validated read path.
//
// Every read runs the same sequence regardless of transport: readiness
// gate, pointer resolution, blob fetch, envelope parse, identity
// assertion, and response mapping. The KV surface is authoritative for
// payload bytes; when it cannot serve, the object-store snapshot is the
// fallback of last resort.
package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/courtside-io/courtside/internal/envelope"
	"github.com/courtside-io/courtside/internal/identity"
	"github.com/courtside-io/courtside/internal/ingestion"
	"github.com/courtside-io/courtside/internal/kv"
	"github.com/courtside-io/courtside/internal/lifecycle"
	"github.com/courtside-io/courtside/internal/readiness"
	"github.com/courtside-io/courtside/internal/schema"
	"github.com/courtside-io/courtside/internal/snapshot"
	"github.com/courtside-io/courtside/internal/validation"
)

// Source labels where the served bytes came from.
type Source string

const (
	// SourceKV means the payload came from the KV surface.
	SourceKV Source = "kv"

	// SourceObjectStore means the payload came from the snapshot fallback.
	SourceObjectStore Source = "object-store"

	// SourceNone means no payload was served.
	SourceNone Source = "none"
)

// ReadResult is the full outcome of one validated read. It carries
// everything a transport needs to render a response: status, cache
// directive, payload, and the per-response metadata block.
type ReadResult struct {
	HTTPStatus    int
	CacheControl  string
	RetryAfter    int
	CacheEligible bool
	TTLSeconds    int

	Data        []map[string]any
	DatasetID   string
	Version     int
	RecordCount int

	Lifecycle        lifecycle.State
	ValidationStatus validation.Status
	Renderability    lifecycle.Renderability
	IsLKG            bool
	Source           Source

	Code   ingestion.Code
	Reason string
}

// Option configures a Reader.
type Option func(*Reader)

// WithSchemaRegistry enables renderability derivation against the active
// schema. Without it every response is renderable with unknown
// compatibility.
func WithSchemaRegistry(registry schema.Registry) Option {
	return func(r *Reader) {
		r.schemas = registry
	}
}

// WithClock overrides the reader's time source.
func WithClock(clock func() time.Time) Option {
	return func(r *Reader) {
		if clock != nil {
			r.now = clock
		}
	}
}

// WithSnapshotFallback enables the object-store fallback for KV misses.
// maxAge bounds how old a snapshot may be and still serve as live.
func WithSnapshotFallback(snapshots *snapshot.Manager, maxAge time.Duration) Option {
	return func(r *Reader) {
		r.snapshots = snapshots
		r.snapshotMaxAge = maxAge
	}
}

// Reader executes validated reads. Safe for concurrent use.
type Reader struct {
	ready     *readiness.Service
	kvStore   kv.Store
	commits   ingestion.CommitLog
	schemas   schema.Registry
	snapshots *snapshot.Manager
	logger    *slog.Logger

	snapshotMaxAge time.Duration
	now            func() time.Time
}

// NewReader creates a validated reader.
func NewReader(
	ready *readiness.Service,
	kvStore kv.Store,
	commits ingestion.CommitLog,
	logger *slog.Logger,
	opts ...Option,
) *Reader {
	r := &Reader{
		ready:          ready,
		kvStore:        kvStore,
		commits:        commits,
		logger:         logger,
		snapshotMaxAge: snapshot.DefaultMaxRecoveryAge,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Read serves one dataset through the full validated sequence.
//
// The readiness gate runs first and can short-circuit everything: when KV
// reads are blocked the result carries the gate's status and no payload.
// A degraded gate still reads KV but forces no-store on the response.
//
// Identity is asserted on every served envelope; any drift between the
// stored identity and the caller's expectation is a hard 503, payload
// withheld.
func (r *Reader) Read(ctx context.Context, datasetID string, id identity.Identity) *ReadResult {
	check := r.ready.Check(ctx, datasetID)

	if !check.AllowKVRead {
		result := &ReadResult{
			DatasetID:    datasetID,
			HTTPStatus:   check.HTTPStatus,
			CacheControl: lifecycle.CacheControlNoStore,
			Lifecycle:    lifecycle.StateInitializing,
			Source:       SourceNone,
			Code:         ingestion.CodeReadinessBlocked,
			Reason:       check.Reason,
		}

		if check.State == readiness.StateUnavailable {
			result.Lifecycle = lifecycle.StateUnavailable
			result.RetryAfter = lifecycle.RetryAfterUnavailable
		} else {
			result.RetryAfter = lifecycle.RetryAfterInitializing
		}

		return result
	}

	env, err := r.loadEnvelope(ctx, datasetID)
	if err != nil {
		if errors.Is(err, envelope.ErrLegacyEnvelope) {
			return r.legacyResult(datasetID, err)
		}

		return r.fallbackToSnapshot(ctx, datasetID, err)
	}

	if err := env.AssertIdentity(datasetID, id); err != nil {
		r.logger.Error("identity violation on read",
			slog.String("dataset_id", datasetID),
			slog.String("error", err.Error()),
		)

		return &ReadResult{
			DatasetID:    datasetID,
			HTTPStatus:   http.StatusServiceUnavailable,
			CacheControl: lifecycle.CacheControlNoStore,
			RetryAfter:   lifecycle.RetryAfterUnavailable,
			Lifecycle:    lifecycle.StateUnavailable,
			Source:       SourceNone,
			Code:         ingestion.CodeIdentityViolation,
			Reason:       err.Error(),
		}
	}

	return r.respond(ctx, env, check, SourceKV)
}

// loadEnvelope resolves the current version and fetches its blob.
//
// Pointer resolution prefers the KV pointer key; a missing or malformed
// pointer falls back to the metadata store's pointer row.
func (r *Reader) loadEnvelope(ctx context.Context, datasetID string) (*envelope.Envelope, error) {
	key, err := r.resolveVersionedKey(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	raw, err := r.kvStore.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("blob read failed for %s: %w", key, err)
	}

	return envelope.Parse(raw)
}

func (r *Reader) resolveVersionedKey(ctx context.Context, datasetID string) (string, error) {
	raw, err := r.kvStore.Get(ctx, kv.PointerKey(datasetID))
	if err == nil {
		if version, parseErr := kv.ParsePointer(string(raw)); parseErr == nil {
			return kv.VersionedKey(datasetID, version), nil
		}

		r.logger.Warn("malformed KV pointer, consulting metadata store",
			slog.String("dataset_id", datasetID),
			slog.String("pointer", string(raw)),
		)
	}

	pointer, err := r.commits.GetCurrentVersion(ctx, datasetID)
	if err != nil {
		return "", fmt.Errorf("pointer resolution failed for %s: %w", datasetID, err)
	}

	return kv.VersionedKey(datasetID, pointer.CurrentVersion), nil
}

// respond maps a parsed envelope onto the wire-ready result. The frozen
// write-time status is authoritative for the payload, but LKG displacement
// happens after the blob is written and lives only on the pointer row, so
// the pointer is consulted on every served envelope. The readiness gate can
// only tighten caching, never loosen it.
func (r *Reader) respond(ctx context.Context, env *envelope.Envelope, check *readiness.CheckResult, source Source) *ReadResult {
	meta := env.Meta

	state := meta.LifecycleState
	isLKG := meta.IsLKG
	lkgReason := meta.LKGReason

	pointer, err := r.commits.GetCurrentVersion(ctx, meta.DatasetID)

	switch {
	case err == nil && pointer.IsServingLKG:
		state = lifecycle.StateStale
		isLKG = true
		lkgReason = pointer.LKGReason

	case err != nil && !errors.Is(err, ingestion.ErrNoCurrentVersion):
		r.logger.Warn("pointer row lookup failed on read",
			slog.String("dataset_id", meta.DatasetID),
			slog.String("error", err.Error()),
		)
	}

	mapping := lifecycle.MapResponse(state, meta.ValidationStatus)

	result := &ReadResult{
		HTTPStatus:       meta.HTTPStatusAtWrite,
		CacheControl:     mapping.CacheControl,
		RetryAfter:       mapping.RetryAfter,
		CacheEligible:    mapping.CacheEligible,
		TTLSeconds:       mapping.TTLSeconds,
		Data:             env.Data,
		DatasetID:        meta.DatasetID,
		Version:          meta.Version,
		RecordCount:      meta.RecordCount,
		Lifecycle:        state,
		ValidationStatus: meta.ValidationStatus,
		IsLKG:            isLKG,
		Source:           source,
		Renderability:    r.deriveRenderability(ctx, meta.DatasetID, meta.SchemaVersion),
	}

	if isLKG {
		// Serving displaced to the last known good version is a
		// degradation: 503 with the displacement reason, never cached.
		result.HTTPStatus = mapping.HTTPStatus
		result.Reason = lkgReason
	}

	if !check.AllowCache && result.CacheEligible {
		result.CacheEligible = false
		result.CacheControl = lifecycle.CacheControlNoStore
		result.TTLSeconds = 0
	}

	if check.State == readiness.StateDegraded {
		result.HTTPStatus = check.HTTPStatus
		result.RetryAfter = lifecycle.RetryAfterUnavailable

		if result.Reason == "" {
			result.Reason = check.Reason
		}
	}

	return result
}

func (r *Reader) deriveRenderability(ctx context.Context, datasetID, dataSchemaVersion string) lifecycle.Renderability {
	if r.schemas == nil {
		return lifecycle.DeriveRenderability(dataSchemaVersion, "")
	}

	active, err := r.schemas.GetActive(ctx, datasetID)
	if err != nil {
		if !errors.Is(err, schema.ErrSchemaNotFound) {
			r.logger.Warn("schema lookup failed on read",
				slog.String("dataset_id", datasetID),
				slog.String("error", err.Error()),
			)
		}

		return lifecycle.DeriveRenderability(dataSchemaVersion, "")
	}

	return lifecycle.DeriveRenderability(dataSchemaVersion, active.SchemaVersion)
}

// legacyResult serves a payload that predates the safety envelope: stale,
// 503, never cached, payload withheld until re-ingestion.
func (r *Reader) legacyResult(datasetID string, err error) *ReadResult {
	r.logger.Warn("legacy payload on KV surface",
		slog.String("dataset_id", datasetID),
		slog.String("error", err.Error()),
	)

	return &ReadResult{
		DatasetID:    datasetID,
		HTTPStatus:   http.StatusServiceUnavailable,
		CacheControl: lifecycle.CacheControlNoStore,
		RetryAfter:   lifecycle.RetryAfterUnavailable,
		Lifecycle:    lifecycle.StateStale,
		Source:       SourceNone,
		Code:         ingestion.CodeLegacyEnvelope,
		Reason:       "payload predates the safety envelope, awaiting re-ingestion",
	}
}

// fallbackToSnapshot serves the latest object-store snapshot when the KV
// surface cannot. A young valid snapshot serves as live; an old one as
// stale with no-store.
func (r *Reader) fallbackToSnapshot(ctx context.Context, datasetID string, cause error) *ReadResult {
	unavailable := &ReadResult{
		DatasetID:    datasetID,
		HTTPStatus:   http.StatusServiceUnavailable,
		CacheControl: lifecycle.CacheControlNoStore,
		RetryAfter:   lifecycle.RetryAfterUnavailable,
		Lifecycle:    lifecycle.StateUnavailable,
		Source:       SourceNone,
		Code:         ingestion.CodeInternal,
		Reason:       cause.Error(),
	}

	if r.snapshots == nil {
		return unavailable
	}

	doc, err := r.snapshots.ReadLatest(ctx, datasetID)
	if err != nil {
		if !errors.Is(err, snapshot.ErrObjectNotFound) {
			r.logger.Warn("snapshot fallback read failed",
				slog.String("dataset_id", datasetID),
				slog.String("error", err.Error()),
			)
		}

		return unavailable
	}

	if doc.DatasetID != datasetID || doc.Validation.Status != validation.StatusValid {
		return unavailable
	}

	r.logger.Info("serving from snapshot fallback",
		slog.String("dataset_id", datasetID),
		slog.Int("version", doc.Version),
		slog.String("cause", cause.Error()),
	)

	result := &ReadResult{
		HTTPStatus:       http.StatusOK,
		CacheControl:     lifecycle.CacheControlNoStore,
		Data:             doc.Data,
		DatasetID:        datasetID,
		Version:          doc.Version,
		RecordCount:      doc.Validation.RecordCount,
		Lifecycle:        lifecycle.StateLive,
		ValidationStatus: doc.Validation.Status,
		Source:           SourceObjectStore,
		Renderability:    r.deriveRenderability(ctx, datasetID, ""),
	}

	if r.now().Sub(doc.SnapshotAt) > r.snapshotMaxAge {
		result.Lifecycle = lifecycle.StateStale
		result.HTTPStatus = http.StatusServiceUnavailable
		result.RetryAfter = lifecycle.RetryAfterUnavailable
		result.Reason = "snapshot older than the recovery bound"
	}

	return result
}
