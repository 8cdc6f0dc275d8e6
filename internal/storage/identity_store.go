package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/courtside-io/courtside/internal/identity"
)

// IdentityStore implements identity.Registry with a PostgreSQL backend.
// The dataset_identity table is the collision guard: once a dataset ID is
// bound to a canonical tuple, any write under the same ID with a different
// tuple is rejected and counted.
type IdentityStore struct {
	conn   *Connection
	logger *slog.Logger
}

var _ identity.Registry = (*IdentityStore)(nil)

// NewIdentityStore creates an identity store over an existing connection.
func NewIdentityStore(conn *Connection, logger *slog.Logger) *IdentityStore {
	return &IdentityStore{
		conn:   conn,
		logger: logger,
	}
}

// Register binds datasetID to its canonical tuple, or refreshes
// last_write_at when the binding already exists unchanged.
//
// Conflicts in either direction increment collision_attempts on the
// existing row, stamp last_collision_at, and return
// identity.ErrIdentityViolation: same ID with a different canonical
// tuple, and same tuple already claimed by a different ID. The
// conflicting write never lands.
func (s *IdentityStore) Register(ctx context.Context, datasetID, canonicalIdentity string, id identity.Identity) (*identity.Record, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	// Insert-if-absent, then lock the row either way. The bare
	// ON CONFLICT clause also swallows the unique tuple index, so a
	// tuple claimed by a different ID surfaces as a missing row below
	// instead of aborting the transaction.
	insert := `
		INSERT INTO dataset_identity (
			dataset_id, sport, competition_level, season, dataset_type, qualifier,
			identity_version, canonical_identity, created_at, last_write_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT DO NOTHING
	`

	_, err = tx.ExecContext(ctx, insert,
		datasetID, id.Sport, id.CompetitionLevel, id.Season, id.DatasetType, id.Qualifier,
		identity.Version, canonicalIdentity,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register identity for %s: %w", datasetID, err)
	}

	record, err := scanIdentityRow(tx.QueryRowContext(ctx, `
		SELECT dataset_id, sport, competition_level, season, dataset_type, qualifier,
		       identity_version, canonical_identity, created_at, last_write_at,
		       collision_attempts, last_collision_at
		FROM dataset_identity
		WHERE dataset_id = $1
		FOR UPDATE
	`, datasetID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.recordTupleCollision(ctx, tx, datasetID, id)
		}

		return nil, fmt.Errorf("failed to load identity for %s: %w", datasetID, err)
	}

	if record.CanonicalIdentity != canonicalIdentity {
		_, collisionErr := tx.ExecContext(ctx, `
			UPDATE dataset_identity
			SET collision_attempts = collision_attempts + 1, last_collision_at = NOW()
			WHERE dataset_id = $1
		`, datasetID)
		if collisionErr != nil {
			return nil, fmt.Errorf("failed to record identity collision for %s: %w", datasetID, collisionErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return nil, fmt.Errorf("failed to commit collision record: %w", commitErr)
		}

		s.logger.Error("identity collision detected",
			slog.String("dataset_id", datasetID),
			slog.Int("collision_attempts", record.CollisionAttempts+1),
		)

		return nil, fmt.Errorf("%w: dataset %s already bound to a different canonical identity",
			identity.ErrIdentityViolation, datasetID)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE dataset_identity SET last_write_at = NOW() WHERE dataset_id = $1
	`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to update last_write_at for %s: %w", datasetID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit identity registration: %w", err)
	}

	return record, nil
}

// recordTupleCollision counts a write whose tuple is already bound to a
// different dataset ID, then rejects it. The existing binding is untouched.
func (s *IdentityStore) recordTupleCollision(ctx context.Context, tx *sql.Tx, datasetID string, id identity.Identity) error {
	var owner string

	err := tx.QueryRowContext(ctx, `
		UPDATE dataset_identity
		SET collision_attempts = collision_attempts + 1, last_collision_at = NOW()
		WHERE sport = $1 AND competition_level = $2 AND season = $3
		  AND dataset_type = $4 AND COALESCE(qualifier, '') = $5
		RETURNING dataset_id
	`, id.Sport, id.CompetitionLevel, id.Season, id.DatasetType, id.Qualifier).Scan(&owner)
	if err != nil {
		return fmt.Errorf("failed to record tuple collision for %s: %w", datasetID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit collision record: %w", err)
	}

	s.logger.Error("identity tuple collision detected",
		slog.String("dataset_id", datasetID),
		slog.String("bound_dataset_id", owner),
	)

	return fmt.Errorf("%w: tuple already bound to dataset %s, write under %s rejected",
		identity.ErrIdentityViolation, owner, datasetID)
}

// Resolve loads the identity binding for a dataset.
func (s *IdentityStore) Resolve(ctx context.Context, datasetID string) (*identity.Record, error) {
	record, err := scanIdentityRow(s.conn.QueryRowContext(ctx, `
		SELECT dataset_id, sport, competition_level, season, dataset_type, qualifier,
		       identity_version, canonical_identity, created_at, last_write_at,
		       collision_attempts, last_collision_at
		FROM dataset_identity
		WHERE dataset_id = $1
	`, datasetID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", identity.ErrIdentityNotFound, datasetID)
		}

		return nil, fmt.Errorf("failed to resolve identity for %s: %w", datasetID, err)
	}

	return record, nil
}

func scanIdentityRow(row *sql.Row) (*identity.Record, error) {
	var (
		record          identity.Record
		qualifier       sql.NullString
		lastCollisionAt sql.NullTime
	)

	err := row.Scan(
		&record.DatasetID,
		&record.Identity.Sport,
		&record.Identity.CompetitionLevel,
		&record.Identity.Season,
		&record.Identity.DatasetType,
		&qualifier,
		&record.IdentityVersion,
		&record.CanonicalIdentity,
		&record.CreatedAt,
		&record.LastWriteAt,
		&record.CollisionAttempts,
		&lastCollisionAt,
	)
	if err != nil {
		return nil, err
	}

	record.Identity.Qualifier = qualifier.String

	if lastCollisionAt.Valid {
		at := lastCollisionAt.Time.UTC()
		record.LastCollisionAt = &at
	}

	return &record, nil
}
