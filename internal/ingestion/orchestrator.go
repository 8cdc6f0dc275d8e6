package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/courtside-io/courtside/internal/envelope"
	"github.com/courtside-io/courtside/internal/identity"
	"github.com/courtside-io/courtside/internal/kv"
	"github.com/courtside-io/courtside/internal/lifecycle"
	"github.com/courtside-io/courtside/internal/readiness"
	"github.com/courtside-io/courtside/internal/schema"
	"github.com/courtside-io/courtside/internal/snapshot"
	"github.com/courtside-io/courtside/internal/validation"
)

// Retry backoff bounds for transient infrastructure calls. Each such call is
// retried at most once.
const (
	retryBackoffBase   = 150 * time.Millisecond
	retryBackoffJitter = 250 * time.Millisecond
)

// CommitResult is the outcome of one ingestion attempt. Domain failures
// (validation, schema, identity) are encoded here with a nil error from
// Ingest; only caller misuse returns an error.
type CommitResult struct {
	// Success means the attempt produced a servable outcome without falling
	// back to the last known good version.
	Success bool

	// Committed means a new version was promoted and the pointer moved.
	Committed bool

	DatasetID        string
	Version          int
	RecordCount      int
	HTTPStatus       int
	Lifecycle        lifecycle.State
	ValidationStatus validation.Status
	IsServingLKG     bool
	Reason           string
	Code             Code
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSchemaRegistry enables the schema gate. Without it, batches skip
// compatibility and invariant checks.
func WithSchemaRegistry(registry schema.Registry) Option {
	return func(o *Orchestrator) {
		o.schemas = registry
	}
}

// WithIdentityRegistry enables durable identity registration with collision
// detection on every ingest.
func WithIdentityRegistry(registry identity.Registry) Option {
	return func(o *Orchestrator) {
		o.identities = registry
	}
}

// WithClock overrides the orchestrator's time source.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.now = clock
		}
	}
}

// WithRetryBackoff overrides the base backoff before the single retry of a
// transient infrastructure call. Zero disables the sleep.
func WithRetryBackoff(base time.Duration) Option {
	return func(o *Orchestrator) {
		o.backoffBase = base
		if base == 0 {
			o.backoffJitter = 0
		}
	}
}

// Orchestrator drives one dataset through fetch, validate, stage, promote,
// snapshot, and cleanup. It is the only writer of the commit log and the KV
// pointer. Safe for concurrent use across distinct datasets; callers must
// not run concurrent ingests for the same dataset.
type Orchestrator struct {
	commits    CommitLog
	kvStore    kv.Store
	validator  *validation.Validator
	ready      *readiness.Service
	snapshots  *snapshot.Manager
	schemas    schema.Registry
	identities identity.Registry
	cfg        *Config
	logger     *slog.Logger

	now           func() time.Time
	backoffBase   time.Duration
	backoffJitter time.Duration
}

// NewOrchestrator creates an ingestion orchestrator.
func NewOrchestrator(
	commits CommitLog,
	kvStore kv.Store,
	validator *validation.Validator,
	ready *readiness.Service,
	snapshots *snapshot.Manager,
	cfg *Config,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		commits:       commits,
		kvStore:       kvStore,
		validator:     validator,
		ready:         ready,
		snapshots:     snapshots,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
		backoffBase:   retryBackoffBase,
		backoffJitter: retryBackoffJitter,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Ingest runs the full pipeline for one dataset.
//
// The returned error is non-nil only for caller misuse (identity that fails
// normalization). Every pipeline outcome, including failures, is described
// by the CommitResult: a failed attempt that fell back to the last known
// good version reports Success=false, IsServingLKG=true, and a 503.
//
// Invariants held throughout:
//   - a failed attempt never displaces committed data
//   - every attempt, failed or not, leaves a commit-log row
//   - the pointer only moves inside PromoteCommit
func (o *Orchestrator) Ingest(ctx context.Context, datasetID string, id identity.Identity, fetcher Fetcher) (*CommitResult, error) {
	computedID, canonicalIdentity, err := identity.ComputeDatasetID(id)
	if err != nil {
		return nil, fmt.Errorf("invalid dataset identity: %w", err)
	}

	result := &CommitResult{DatasetID: datasetID}

	if computedID != datasetID {
		result.HTTPStatus = lifecycle.MapResponse(lifecycle.StateUnavailable, validation.StatusInvalid).HTTPStatus
		result.Lifecycle = lifecycle.StateUnavailable
		result.Code = CodeIdentityViolation
		result.Reason = fmt.Sprintf("identity computes to %s, not %s", computedID, datasetID)

		o.logger.Error("identity violation on ingest",
			slog.String("dataset_id", datasetID),
			slog.String("computed_id", computedID),
		)

		return result, nil
	}

	if o.identities != nil {
		if _, err := o.identities.Register(ctx, datasetID, canonicalIdentity, id); err != nil {
			if errors.Is(err, identity.ErrIdentityViolation) {
				result.HTTPStatus = lifecycle.MapResponse(lifecycle.StateUnavailable, validation.StatusInvalid).HTTPStatus
				result.Lifecycle = lifecycle.StateUnavailable
				result.Code = CodeIdentityViolation
				result.Reason = err.Error()

				return result, nil
			}

			// Registry outage is not fatal to the ingest; the commit log
			// still records the attempt.
			o.logger.Warn("identity registration failed",
				slog.String("dataset_id", datasetID),
				slog.String("error", err.Error()),
			)
		}
	}

	latest, hasPrior, err := o.loadLatestCommitted(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	version, err := o.commits.NextVersion(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate version for %s: %w", datasetID, err)
	}

	result.Version = version

	attempt := &CommitRecord{
		DatasetID:      datasetID,
		Version:        version,
		Status:         CommitPending,
		IngestedAt:     o.now(),
		Source:         o.cfg.Source,
		KVVersionedKey: kv.VersionedKey(datasetID, version),
	}
	if hasPrior {
		attempt.PreviousRecordCount = latest.RecordCount
	}

	// Fetch, with one retry.
	var fetched *FetchResult

	err = o.withRetry(ctx, "fetch", func() error {
		var fetchErr error
		fetched, fetchErr = fetcher.Fetch(ctx, datasetID, id)

		return fetchErr
	})
	if err != nil || fetched == nil {
		reason := "upstream returned no result"
		if err != nil {
			reason = err.Error()
		}

		o.recordFailedAttempt(ctx, attempt, fmt.Sprintf("fetch failed: %s", reason))

		return o.fallbackToLKG(ctx, result, latest, CodeFetchFailed, "fetch failed: "+reason), nil
	}

	result.RecordCount = len(fetched.Records)
	attempt.RecordCount = len(fetched.Records)

	valResult, err := o.validator.Validate(datasetID, fetched.Records, fetched.SourceUnavailable)
	if err != nil {
		// No semantic rule. The attempt is not staged; nothing can classify it.
		result.HTTPStatus = lifecycle.MapResponse(lifecycle.StateUnavailable, validation.StatusInvalid).HTTPStatus
		result.Lifecycle = lifecycle.StateUnavailable
		result.Code = CodeNoRuleDefined
		result.Reason = err.Error()

		o.recordFailedAttempt(ctx, attempt, err.Error())

		return result, nil
	}

	result.ValidationStatus = valResult.Status

	attempt.ValidationStatus = valResult.Status
	attempt.SchemaVersion = fetched.SchemaVersion

	// Schema gate: compatibility on the source's claim, then invariants.
	// Rejections here are 422s and never reach the KV surface.
	if rejected := o.applySchemaGate(ctx, attempt, fetched, valResult); rejected != nil {
		o.recordFailedAttempt(ctx, attempt, rejected.reason)

		fallback := o.fallbackToLKG(ctx, result, latest, rejected.code, rejected.reason)
		fallback.HTTPStatus = rejected.httpStatus

		return fallback, nil
	}

	state := lifecycle.Derive(valResult, hasPrior, false)
	mapping := lifecycle.MapResponse(state, valResult.Status)

	result.Lifecycle = state
	result.HTTPStatus = mapping.HTTPStatus

	promotable := state == lifecycle.StateLive || state == lifecycle.StateEmptyValid
	if !promotable {
		o.recordFailedAttempt(ctx, attempt, valResult.Reason)

		// A season-gate or source-reported outage is not a data failure;
		// keep the distinction on the surfaced code.
		code := CodeSemanticInvalid
		if valResult.Status == validation.StatusUnavailable {
			code = CodeSourceUnavailable
		}

		return o.fallbackToLKG(ctx, result, latest, code, valResult.Reason), nil
	}

	// Stage the envelope under the versioned key with the pending TTL.
	env := o.buildEnvelope(fetched.Records, id, canonicalIdentity, valResult, state, mapping.HTTPStatus, version, attempt)

	if err := o.stageEnvelope(ctx, attempt.KVVersionedKey, env, o.cfg.PendingTTL); err != nil {
		o.recordFailedAttempt(ctx, attempt, err.Error())

		return o.fallbackToLKG(ctx, result, latest, CodeStagingWriteFailed, err.Error()), nil
	}

	if err := o.commits.CreatePending(ctx, attempt); err != nil {
		reason := fmt.Sprintf("failed to create pending commit: %s", err)

		return o.fallbackToLKG(ctx, result, latest, CodePromoteFailed, reason), nil
	}

	info := &SchemaInfo{SchemaVersion: attempt.SchemaVersion, SchemaHash: attempt.SchemaHash}

	err = o.withRetry(ctx, "promote", func() error {
		return o.commits.PromoteCommit(ctx, datasetID, version, info)
	})
	if err != nil {
		reason := fmt.Sprintf("%s: %s", ErrPromoteFailed, err)

		if rbErr := o.commits.RollbackCommit(ctx, datasetID, version, reason); rbErr != nil {
			o.logger.Error("failed to roll back after promote failure",
				slog.String("dataset_id", datasetID),
				slog.Int("version", version),
				slog.String("error", rbErr.Error()),
			)
		}

		return o.fallbackToLKG(ctx, result, latest, CodePromoteFailed, reason), nil
	}

	result.Success = true
	result.Committed = true
	result.Reason = valResult.Reason

	o.finalizeCommit(ctx, datasetID, version, env, valResult)

	o.logger.Info("dataset committed",
		slog.String("dataset_id", datasetID),
		slog.Int("version", version),
		slog.Int("record_count", len(fetched.Records)),
		slog.String("lifecycle", string(state)),
		slog.String("validation_status", string(valResult.Status)),
	)

	return result, nil
}

// loadLatestCommitted returns the LKG candidate, or (nil, false) for a
// first-time dataset.
func (o *Orchestrator) loadLatestCommitted(ctx context.Context, datasetID string) (*CommitRecord, bool, error) {
	latest, err := o.commits.GetLatestCommitted(ctx, datasetID)
	if err != nil {
		if errors.Is(err, ErrCommitNotFound) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("failed to load latest committed for %s: %w", datasetID, err)
	}

	return latest, true, nil
}

// schemaRejection describes a write-path 422.
type schemaRejection struct {
	code       Code
	reason     string
	httpStatus int
}

// applySchemaGate runs compatibility and invariant checks against the active
// schema. Returns nil when the batch passes or no schema gate applies. The
// registry failing open (outage, no active schema) is logged, never fatal.
func (o *Orchestrator) applySchemaGate(ctx context.Context, attempt *CommitRecord, fetched *FetchResult, valResult *validation.Result) *schemaRejection {
	if o.schemas == nil || valResult.Status != validation.StatusValid {
		return nil
	}

	active, err := o.schemas.GetActive(ctx, attempt.DatasetID)
	if err != nil {
		if !errors.Is(err, schema.ErrSchemaNotFound) {
			o.logger.Warn("schema lookup failed, skipping schema gate",
				slog.String("dataset_id", attempt.DatasetID),
				slog.String("error", err.Error()),
			)
		}

		return nil
	}

	attempt.SchemaHash = active.SchemaHash
	if attempt.SchemaVersion == "" {
		attempt.SchemaVersion = active.SchemaVersion
	}

	if fetched.SchemaVersion != "" {
		compat := schema.CheckCompatibility(fetched.SchemaVersion, active.SchemaVersion)
		if compat == schema.CompatibilityIncompatible {
			return &schemaRejection{
				code: CodeSchemaIncompatible,
				reason: fmt.Sprintf("source schema %s outside the dual-read window of active %s",
					fetched.SchemaVersion, active.SchemaVersion),
				httpStatus: http.StatusUnprocessableEntity,
			}
		}
	}

	violations, err := active.ValidateBatch(fetched.Records, o.now())
	if err != nil {
		for _, v := range violations {
			attempt.ValidationErrors = append(attempt.ValidationErrors, v.String())
		}

		code := CodeInvariantViolation
		if errors.Is(err, schema.ErrSchemaSunset) {
			code = CodeSchemaIncompatible
		}

		return &schemaRejection{
			code:       code,
			reason:     err.Error(),
			httpStatus: http.StatusUnprocessableEntity,
		}
	}

	return nil
}

// buildEnvelope assembles the safety envelope frozen into the KV surface.
func (o *Orchestrator) buildEnvelope(
	records []map[string]any,
	id identity.Identity,
	canonicalIdentity string,
	valResult *validation.Result,
	state lifecycle.State,
	httpStatus int,
	version int,
	attempt *CommitRecord,
) *envelope.Envelope {
	return &envelope.Envelope{
		Data: records,
		Meta: envelope.SafetyMeta{
			HTTPStatusAtWrite: httpStatus,
			LifecycleState:    state,
			RecordCount:       len(records),
			ValidationStatus:  valResult.Status,
			DatasetID:         attempt.DatasetID,
			CanonicalIdentity: canonicalIdentity,
			Identity:          envelope.FromIdentity(id),
			ExpectedMinCount:  valResult.ExpectedMin,
			WrittenAt:         o.now(),
			Version:           version,
			SchemaVersion:     attempt.SchemaVersion,
			SchemaHash:        attempt.SchemaHash,
		},
	}
}

// stageEnvelope writes the versioned blob, with one retry.
func (o *Orchestrator) stageEnvelope(ctx context.Context, key string, env *envelope.Envelope, ttl time.Duration) error {
	raw, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStagingWriteFailed, err)
	}

	err = o.withRetry(ctx, "stage", func() error {
		return o.kvStore.Set(ctx, key, raw, ttl)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStagingWriteFailed, err)
	}

	return nil
}

// finalizeCommit runs the post-promotion steps: rewrite the blob with the
// committed TTL, move the pointer, mark readiness, snapshot, and prune. All
// best-effort; the commit already stands in the metadata store.
func (o *Orchestrator) finalizeCommit(ctx context.Context, datasetID string, version int, env *envelope.Envelope, valResult *validation.Result) {
	committedAt := o.now()
	env.Meta.CommittedAt = &committedAt

	if raw, err := env.Marshal(); err == nil {
		err = o.withRetry(ctx, "commit-blob", func() error {
			return o.kvStore.Set(ctx, kv.VersionedKey(datasetID, version), raw, o.cfg.CommittedTTL)
		})
		if err != nil {
			o.logger.Warn("failed to refresh committed blob TTL",
				slog.String("dataset_id", datasetID),
				slog.Int("version", version),
				slog.String("error", err.Error()),
			)
		}
	}

	err := o.withRetry(ctx, "pointer", func() error {
		return o.kvStore.Set(ctx, kv.PointerKey(datasetID), []byte(kv.FormatPointer(version)), 0)
	})
	if err != nil {
		o.logger.Warn("failed to move KV pointer, readers will fall back to the metadata store",
			slog.String("dataset_id", datasetID),
			slog.Int("version", version),
			slog.String("error", err.Error()),
		)
	}

	if err := o.ready.MarkLiveIngestion(ctx, datasetID); err != nil {
		o.logger.Warn("failed to mark live ingestion",
			slog.String("dataset_id", datasetID),
			slog.String("error", err.Error()),
		)
	}

	if valResult.Status == validation.StatusValid {
		doc := &snapshot.Document{
			DatasetID: datasetID,
			Version:   version,
			Data:      env.Data,
			Validation: snapshot.ValidationSummary{
				Status:      valResult.Status,
				RecordCount: valResult.RecordCount,
				ExpectedMin: valResult.ExpectedMin,
			},
			SnapshotAt: o.now(),
		}

		if err := o.snapshots.Write(ctx, doc); err != nil {
			o.logger.Error("snapshot write failed",
				slog.String("dataset_id", datasetID),
				slog.Int("version", version),
				slog.String("code", string(CodeSnapshotFailed)),
				slog.String("error", err.Error()),
			)
		}

		if err := o.snapshots.Cleanup(ctx, datasetID, version); err != nil {
			o.logger.Warn("snapshot cleanup failed",
				slog.String("dataset_id", datasetID),
				slog.String("error", err.Error()),
			)
		}
	}

	// Prune the versioned blob that fell out of the retention window. The
	// current and previous versions always survive.
	if expired := version - o.cfg.RetainVersions; expired >= 1 {
		if err := o.kvStore.Delete(ctx, kv.VersionedKey(datasetID, expired)); err != nil {
			o.logger.Warn("failed to prune expired KV blob",
				slog.String("dataset_id", datasetID),
				slog.Int("version", expired),
				slog.String("error", err.Error()),
			)
		}
	}
}

// recordFailedAttempt leaves a rolled-back commit row for a failed attempt.
// Best-effort; failures here are logged, the caller's fallback proceeds.
func (o *Orchestrator) recordFailedAttempt(ctx context.Context, attempt *CommitRecord, reason string) {
	if err := o.commits.CreatePending(ctx, attempt); err != nil {
		o.logger.Error("failed to record ingestion attempt",
			slog.String("dataset_id", attempt.DatasetID),
			slog.Int("version", attempt.Version),
			slog.String("error", err.Error()),
		)

		return
	}

	if err := o.commits.RollbackCommit(ctx, attempt.DatasetID, attempt.Version, reason); err != nil {
		o.logger.Error("failed to roll back attempt",
			slog.String("dataset_id", attempt.DatasetID),
			slog.Int("version", attempt.Version),
			slog.String("error", err.Error()),
		)
	}
}

// fallbackToLKG preserves the last known good version after a failed
// attempt. With a prior commit the pointer stays put, the pointer row is
// flagged LKG, and readiness degrades. Without one there is nothing to
// serve and readiness degrades with nothing behind it.
func (o *Orchestrator) fallbackToLKG(ctx context.Context, result *CommitResult, latest *CommitRecord, code Code, reason string) *CommitResult {
	result.Success = false
	result.Code = code
	result.Reason = reason
	result.HTTPStatus = lifecycle.MapResponse(lifecycle.StateUnavailable, validation.StatusInvalid).HTTPStatus
	result.Lifecycle = lifecycle.StateUnavailable

	if latest != nil {
		result.Lifecycle = lifecycle.StateStale
		result.IsServingLKG = true

		if err := o.commits.MarkServingLKG(ctx, result.DatasetID, latest.Version, reason); err != nil {
			o.logger.Error("failed to flag LKG on pointer",
				slog.String("dataset_id", result.DatasetID),
				slog.Int("lkg_version", latest.Version),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := o.ready.MarkDegraded(ctx, result.DatasetID, reason); err != nil {
		o.logger.Warn("failed to degrade readiness",
			slog.String("dataset_id", result.DatasetID),
			slog.String("error", err.Error()),
		)
	}

	o.logger.Warn("ingestion attempt failed, last known good preserved",
		slog.String("dataset_id", result.DatasetID),
		slog.Int("version", result.Version),
		slog.String("code", string(code)),
		slog.String("reason", reason),
		slog.Bool("serving_lkg", result.IsServingLKG),
	)

	return result
}

// withRetry runs fn, retrying once after a jittered backoff. Transient
// infrastructure calls get exactly one retry; domain decisions never pass
// through here.
func (o *Orchestrator) withRetry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}

	backoff := o.backoffBase
	if o.backoffJitter > 0 {
		backoff += rand.N(o.backoffJitter)
	}

	o.logger.Warn("transient failure, retrying once",
		slog.String("op", op),
		slog.Duration("backoff", backoff),
		slog.String("error", err.Error()),
	)

	if backoff > 0 {
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
	}

	return fn()
}
