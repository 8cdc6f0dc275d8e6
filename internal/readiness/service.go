package readiness

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/courtside-io/courtside/internal/snapshot"
)

// CheckResult is the gate decision for one read.
type CheckResult struct {
	State       State
	IsReady     bool
	AllowKVRead bool
	AllowCache  bool
	HTTPStatus  int
	Reason      string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service time source. Test helper.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSnapshotRecovery enables cold-start recovery from object-store
// snapshots younger than maxAge.
func WithSnapshotRecovery(snapshots *snapshot.Manager, maxAge time.Duration) Option {
	return func(s *Service) {
		s.snapshots = snapshots

		if maxAge > 0 {
			s.maxSnapshotAge = maxAge
		}
	}
}

// Service evaluates and transitions readiness state per scope.
type Service struct {
	store          Store
	snapshots      *snapshot.Manager
	maxSnapshotAge time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// NewService creates a readiness service over the given store.
func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:          store,
		maxSnapshotAge: snapshot.DefaultMaxRecoveryAge,
		logger:         logger,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Check produces the gate decision for a scope.
//
// Semantics per state:
//
//	ready:        allowKVRead=true  allowCache=true  200
//	initializing: allowKVRead=false allowCache=false 202
//	degraded:     allowKVRead=true  allowCache=false 503
//	unavailable:  allowKVRead=false allowCache=false 503
//
// Cold start (no row) behaves as initializing, after an attempt to recover
// from a young, valid object-store snapshot. A metadata store failure
// degrades the gate but keeps allowKVRead=true so reads can still serve
// LKG without being cached downstream.
func (s *Service) Check(ctx context.Context, scope string) *CheckResult {
	record, err := s.store.Get(ctx, scope)

	switch {
	case err == nil:

	case errors.Is(err, ErrScopeNotFound):
		if recovered := s.trySnapshotRecovery(ctx, scope); recovered != nil {
			record = recovered

			break
		}

		return &CheckResult{
			State:      StateInitializing,
			AllowCache: false,
			HTTPStatus: http.StatusAccepted,
			Reason:     "no readiness record for scope",
		}

	default:
		s.logger.Warn("readiness store unavailable, degrading gate",
			slog.String("scope", scope),
			slog.String("error", err.Error()),
		)

		return &CheckResult{
			State:       StateDegraded,
			AllowKVRead: true,
			HTTPStatus:  http.StatusServiceUnavailable,
			Reason:      "readiness store unavailable",
		}
	}

	return resultForState(record.State, record.Reason)
}

func resultForState(state State, reason string) *CheckResult {
	switch state {
	case StateReady:
		return &CheckResult{
			State:       StateReady,
			IsReady:     true,
			AllowKVRead: true,
			AllowCache:  true,
			HTTPStatus:  http.StatusOK,
			Reason:      reason,
		}

	case StateDegraded:
		return &CheckResult{
			State:       StateDegraded,
			AllowKVRead: true,
			HTTPStatus:  http.StatusServiceUnavailable,
			Reason:      reason,
		}

	case StateUnavailable:
		return &CheckResult{
			State:      StateUnavailable,
			HTTPStatus: http.StatusServiceUnavailable,
			Reason:     reason,
		}

	default:
		return &CheckResult{
			State:      StateInitializing,
			HTTPStatus: http.StatusAccepted,
			Reason:     reason,
		}
	}
}

// trySnapshotRecovery promotes a cold scope straight to ready when a young,
// structurally valid snapshot exists. Returns nil when recovery is not
// possible; recovery failures are logged, never fatal.
func (s *Service) trySnapshotRecovery(ctx context.Context, scope string) *Record {
	if s.snapshots == nil {
		return nil
	}

	doc, err := s.snapshots.ReadLatest(ctx, scope)
	if err != nil {
		if !errors.Is(err, snapshot.ErrObjectNotFound) {
			s.logger.Warn("snapshot recovery read failed",
				slog.String("scope", scope),
				slog.String("error", err.Error()),
			)
		}

		return nil
	}

	now := s.now()

	if err := doc.ValidateForRecovery(s.maxSnapshotAge, now); err != nil {
		s.logger.Info("snapshot unfit for recovery",
			slog.String("scope", scope),
			slog.String("reason", err.Error()),
		)

		return nil
	}

	validatedAt := now
	record := &Record{
		Scope:               scope,
		State:               StateReady,
		LastTransitionAt:    now,
		Reason:              "recovered from object-store snapshot",
		SnapshotValidatedAt: &validatedAt,
	}

	if err := s.store.Upsert(ctx, record); err != nil {
		s.logger.Warn("failed to persist snapshot recovery",
			slog.String("scope", scope),
			slog.String("error", err.Error()),
		)

		return nil
	}

	s.logger.Info("readiness recovered from snapshot",
		slog.String("scope", scope),
		slog.Int("snapshot_version", doc.Version),
	)

	return record
}

// MarkLiveIngestion records a successful commit: the scope becomes ready
// and live_ingestion_at is stamped.
func (s *Service) MarkLiveIngestion(ctx context.Context, scope string) error {
	return s.transition(ctx, scope, StateReady, "live ingestion committed", func(r *Record) {
		at := s.now()
		r.LiveIngestionAt = &at
	})
}

// MarkDegraded records an ingestion failure while LKG keeps serving.
func (s *Service) MarkDegraded(ctx context.Context, scope, reason string) error {
	return s.transition(ctx, scope, StateDegraded, reason, nil)
}

// MarkUnavailable takes the scope down. Admin operation; the scope stays
// down until an admin reset.
func (s *Service) MarkUnavailable(ctx context.Context, scope, reason string) error {
	return s.transition(ctx, scope, StateUnavailable, reason, nil)
}

// Reset returns the scope to initializing. Admin operation.
func (s *Service) Reset(ctx context.Context, scope string) error {
	return s.transition(ctx, scope, StateInitializing, "admin reset", nil)
}

func (s *Service) transition(ctx context.Context, scope string, to State, reason string, mutate func(*Record)) error {
	record, err := s.store.Get(ctx, scope)
	if err != nil {
		if !errors.Is(err, ErrScopeNotFound) {
			return err
		}

		record = &Record{Scope: scope, State: StateInitializing}
	}

	if err := ValidateTransition(record.State, to); err != nil {
		return err
	}

	from := record.State

	record.State = to
	record.Reason = reason
	record.LastTransitionAt = s.now()

	if mutate != nil {
		mutate(record)
	}

	if err := s.store.Upsert(ctx, record); err != nil {
		return err
	}

	if from != to {
		s.logger.Info("readiness transition",
			slog.String("scope", scope),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
			slog.String("reason", reason),
		)
	}

	return nil
}
