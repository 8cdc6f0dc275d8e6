package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/courtside-io/courtside/internal/readiness"
)

// ReadinessStore implements readiness.Store with a PostgreSQL backend.
// One row per scope in system_readiness; Upsert is last-writer-wins.
type ReadinessStore struct {
	conn   *Connection
	logger *slog.Logger
}

var _ readiness.Store = (*ReadinessStore)(nil)

// NewReadinessStore creates a readiness store over an existing connection.
func NewReadinessStore(conn *Connection, logger *slog.Logger) *ReadinessStore {
	return &ReadinessStore{
		conn:   conn,
		logger: logger,
	}
}

// Get loads the readiness record for a scope.
func (s *ReadinessStore) Get(ctx context.Context, scope string) (*readiness.Record, error) {
	var (
		record              readiness.Record
		reason              sql.NullString
		snapshotValidatedAt sql.NullTime
		liveIngestionAt     sql.NullTime
	)

	err := s.conn.QueryRowContext(ctx, `
		SELECT scope, state, last_transition_at, reason, snapshot_validated_at, live_ingestion_at
		FROM system_readiness
		WHERE scope = $1
	`, scope).Scan(
		&record.Scope,
		&record.State,
		&record.LastTransitionAt,
		&reason,
		&snapshotValidatedAt,
		&liveIngestionAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", readiness.ErrScopeNotFound, scope)
		}

		return nil, fmt.Errorf("failed to load readiness for %s: %w", scope, err)
	}

	record.Reason = reason.String

	if snapshotValidatedAt.Valid {
		at := snapshotValidatedAt.Time.UTC()
		record.SnapshotValidatedAt = &at
	}

	if liveIngestionAt.Valid {
		at := liveIngestionAt.Time.UTC()
		record.LiveIngestionAt = &at
	}

	return &record, nil
}

// Upsert writes the readiness record for a scope.
func (s *ReadinessStore) Upsert(ctx context.Context, record *readiness.Record) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO system_readiness (
			scope, state, last_transition_at, reason, snapshot_validated_at, live_ingestion_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (scope) DO UPDATE SET
			state = EXCLUDED.state,
			last_transition_at = EXCLUDED.last_transition_at,
			reason = EXCLUDED.reason,
			snapshot_validated_at = EXCLUDED.snapshot_validated_at,
			live_ingestion_at = EXCLUDED.live_ingestion_at
	`,
		record.Scope,
		record.State,
		record.LastTransitionAt,
		nullString(record.Reason),
		record.SnapshotValidatedAt,
		record.LiveIngestionAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert readiness for %s: %w", record.Scope, err)
	}

	return nil
}
