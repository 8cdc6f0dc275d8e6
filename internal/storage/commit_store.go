package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/courtside-io/courtside/internal/ingestion"
	"github.com/courtside-io/courtside/internal/validation"
)

// ErrCommitNotPending is returned when promoting or rolling back a commit
// row that is not in the pending state.
var ErrCommitNotPending = errors.New("commit is not pending")

// CommitStore implements ingestion.CommitLog with a PostgreSQL backend.
//
// The dataset_commits table is append-only history; the
// dataset_current_version table is the authoritative pointer. PromoteCommit
// moves both inside one transaction so a reader never observes a committed
// row without its pointer or vice versa.
type CommitStore struct {
	conn   *Connection
	logger *slog.Logger
}

var _ ingestion.CommitLog = (*CommitStore)(nil)

// NewCommitStore creates a commit store over an existing connection.
func NewCommitStore(conn *Connection, logger *slog.Logger) *CommitStore {
	return &CommitStore{
		conn:   conn,
		logger: logger,
	}
}

// NextVersion allocates MAX(version)+1 for the dataset. The unique
// (dataset_id, version) constraint catches the losing side of any race at
// CreatePending time.
func (s *CommitStore) NextVersion(ctx context.Context, datasetID string) (int, error) {
	var next int

	err := s.conn.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1
		FROM dataset_commits
		WHERE dataset_id = $1
	`, datasetID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate next version for %s: %w", datasetID, err)
	}

	return next, nil
}

// CreatePending inserts a pending commit row.
func (s *CommitStore) CreatePending(ctx context.Context, record *ingestion.CommitRecord) error {
	validationErrors, err := json.Marshal(record.ValidationErrors)
	if err != nil {
		return fmt.Errorf("failed to serialize validation errors: %w", err)
	}

	ingestedAt := record.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = time.Now().UTC()
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO dataset_commits (
			dataset_id, version, status, record_count, previous_record_count,
			validation_status, validation_errors, ingested_at, kv_versioned_key,
			source, schema_version, schema_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		record.DatasetID,
		record.Version,
		ingestion.CommitPending,
		record.RecordCount,
		record.PreviousRecordCount,
		nullString(string(record.ValidationStatus)),
		validationErrors,
		ingestedAt,
		record.KVVersionedKey,
		record.Source,
		nullString(record.SchemaVersion),
		nullString(record.SchemaHash),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s v%d", ingestion.ErrVersionConflict, record.DatasetID, record.Version)
		}

		return fmt.Errorf("failed to create pending commit %s v%d: %w", record.DatasetID, record.Version, err)
	}

	return nil
}

// PromoteCommit atomically supersedes the previously committed row,
// commits the target version, and upserts the pointer with
// is_serving_lkg=FALSE.
func (s *CommitStore) PromoteCommit(ctx context.Context, datasetID string, version int, info *ingestion.SchemaInfo) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	// Lock the target row and verify it is promotable.
	var status ingestion.CommitStatus

	err = tx.QueryRowContext(ctx, `
		SELECT status FROM dataset_commits
		WHERE dataset_id = $1 AND version = $2
		FOR UPDATE
	`, datasetID, version).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s v%d", ingestion.ErrCommitNotFound, datasetID, version)
		}

		return fmt.Errorf("failed to lock commit %s v%d: %w", datasetID, version, err)
	}

	if status != ingestion.CommitPending {
		return fmt.Errorf("%w: %s v%d is %s", ErrCommitNotPending, datasetID, version, status)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE dataset_commits
		SET status = $1
		WHERE dataset_id = $2 AND status = $3
	`, ingestion.CommitSuperseded, datasetID, ingestion.CommitCommitted)
	if err != nil {
		return fmt.Errorf("failed to supersede previous commit for %s: %w", datasetID, err)
	}

	committedAt := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE dataset_commits
		SET status = $1, committed_at = $2
		WHERE dataset_id = $3 AND version = $4
	`, ingestion.CommitCommitted, committedAt, datasetID, version)
	if err != nil {
		return fmt.Errorf("failed to commit %s v%d: %w", datasetID, version, err)
	}

	var (
		schemaVersion string
		schemaHash    string
	)

	if info != nil {
		schemaVersion = info.SchemaVersion
		schemaHash = info.SchemaHash
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dataset_current_version (
			dataset_id, current_version, last_committed_version, last_committed_at,
			is_serving_lkg, lkg_reason, current_schema_version, last_committed_schema_hash, updated_at
		)
		VALUES ($1, $2, $2, $3, FALSE, '', $4, $5, NOW())
		ON CONFLICT (dataset_id) DO UPDATE SET
			current_version = EXCLUDED.current_version,
			last_committed_version = EXCLUDED.last_committed_version,
			last_committed_at = EXCLUDED.last_committed_at,
			is_serving_lkg = FALSE,
			lkg_reason = '',
			current_schema_version = EXCLUDED.current_schema_version,
			last_committed_schema_hash = EXCLUDED.last_committed_schema_hash,
			updated_at = NOW()
	`, datasetID, version, committedAt, nullString(schemaVersion), nullString(schemaHash))
	if err != nil {
		return fmt.Errorf("failed to upsert pointer for %s: %w", datasetID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit promotion of %s v%d: %w", datasetID, version, err)
	}

	return nil
}

// RollbackCommit transitions a pending row to rolled_back with a reason.
func (s *CommitStore) RollbackCommit(ctx context.Context, datasetID string, version int, reason string) error {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE dataset_commits
		SET status = $1, rollback_reason = $2
		WHERE dataset_id = $3 AND version = $4 AND status = $5
	`, ingestion.CommitRolledBack, reason, datasetID, version, ingestion.CommitPending)
	if err != nil {
		return fmt.Errorf("failed to roll back %s v%d: %w", datasetID, version, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s v%d", ingestion.ErrCommitNotFound, datasetID, version)
	}

	return nil
}

// MarkServingLKG flags the pointer as serving the last known good version.
func (s *CommitStore) MarkServingLKG(ctx context.Context, datasetID string, lkgVersion int, reason string) error {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE dataset_current_version
		SET current_version = $1, is_serving_lkg = TRUE, lkg_reason = $2, updated_at = NOW()
		WHERE dataset_id = $3
	`, lkgVersion, reason, datasetID)
	if err != nil {
		return fmt.Errorf("failed to mark LKG for %s: %w", datasetID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ingestion.ErrNoCurrentVersion, datasetID)
	}

	return nil
}

// ClearLKGStatus removes the LKG flag and reason from the pointer.
func (s *CommitStore) ClearLKGStatus(ctx context.Context, datasetID string) error {
	result, err := s.conn.ExecContext(ctx, `
		UPDATE dataset_current_version
		SET is_serving_lkg = FALSE, lkg_reason = '', updated_at = NOW()
		WHERE dataset_id = $1
	`, datasetID)
	if err != nil {
		return fmt.Errorf("failed to clear LKG for %s: %w", datasetID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ingestion.ErrNoCurrentVersion, datasetID)
	}

	return nil
}

// GetCurrentVersion loads the pointer row.
func (s *CommitStore) GetCurrentVersion(ctx context.Context, datasetID string) (*ingestion.CurrentVersion, error) {
	var (
		pointer         ingestion.CurrentVersion
		lastCommittedAt sql.NullTime
		schemaVersion   sql.NullString
		schemaHash      sql.NullString
	)

	err := s.conn.QueryRowContext(ctx, `
		SELECT dataset_id, current_version, last_committed_version, last_committed_at,
		       is_serving_lkg, lkg_reason, current_schema_version, last_committed_schema_hash
		FROM dataset_current_version
		WHERE dataset_id = $1
	`, datasetID).Scan(
		&pointer.DatasetID,
		&pointer.CurrentVersion,
		&pointer.LastCommittedVersion,
		&lastCommittedAt,
		&pointer.IsServingLKG,
		&pointer.LKGReason,
		&schemaVersion,
		&schemaHash,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ingestion.ErrNoCurrentVersion, datasetID)
		}

		return nil, fmt.Errorf("failed to load pointer for %s: %w", datasetID, err)
	}

	if lastCommittedAt.Valid {
		at := lastCommittedAt.Time.UTC()
		pointer.LastCommittedAt = &at
	}

	pointer.CurrentSchemaVersion = schemaVersion.String
	pointer.LastCommittedSchemaHash = schemaHash.String

	return &pointer, nil
}

// GetLatestCommitted loads the committed row for a dataset. At most one
// exists by construction.
func (s *CommitStore) GetLatestCommitted(ctx context.Context, datasetID string) (*ingestion.CommitRecord, error) {
	records, err := s.queryCommits(ctx, `
		`+commitColumns+`
		WHERE dataset_id = $1 AND status = $2
		ORDER BY version DESC
		LIMIT 1
	`, datasetID, ingestion.CommitCommitted)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ingestion.ErrCommitNotFound, datasetID)
	}

	return records[0], nil
}

// GetCommit loads one specific commit row.
func (s *CommitStore) GetCommit(ctx context.Context, datasetID string, version int) (*ingestion.CommitRecord, error) {
	records, err := s.queryCommits(ctx, `
		`+commitColumns+`
		WHERE dataset_id = $1 AND version = $2
	`, datasetID, version)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s v%d", ingestion.ErrCommitNotFound, datasetID, version)
	}

	return records[0], nil
}

// ListCommits returns up to limit commit rows for a dataset, newest first.
func (s *CommitStore) ListCommits(ctx context.Context, datasetID string, limit int) ([]*ingestion.CommitRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	return s.queryCommits(ctx, `
		`+commitColumns+`
		WHERE dataset_id = $1
		ORDER BY version DESC
		LIMIT $2
	`, datasetID, limit)
}

// SweepStalePending rolls back pending rows older than the cutoff.
func (s *CommitStore) SweepStalePending(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	result, err := s.conn.ExecContext(ctx, `
		UPDATE dataset_commits
		SET status = $1, rollback_reason = 'stale pending swept'
		WHERE status = $2 AND ingested_at < $3
	`, ingestion.CommitRolledBack, ingestion.CommitPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale pending commits: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

const commitColumns = `
	SELECT dataset_id, version, status, record_count, previous_record_count,
	       validation_status, validation_errors, ingested_at, committed_at,
	       kv_versioned_key, source, schema_version, schema_hash, rollback_reason
	FROM dataset_commits
`

func (s *CommitStore) queryCommits(ctx context.Context, query string, args ...any) ([]*ingestion.CommitRecord, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commits: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var records []*ingestion.CommitRecord

	for rows.Next() {
		var (
			record           ingestion.CommitRecord
			validationStatus sql.NullString
			validationErrors []byte
			committedAt      sql.NullTime
			schemaVersion    sql.NullString
			schemaHash       sql.NullString
			rollbackReason   sql.NullString
		)

		err := rows.Scan(
			&record.DatasetID,
			&record.Version,
			&record.Status,
			&record.RecordCount,
			&record.PreviousRecordCount,
			&validationStatus,
			&validationErrors,
			&record.IngestedAt,
			&committedAt,
			&record.KVVersionedKey,
			&record.Source,
			&schemaVersion,
			&schemaHash,
			&rollbackReason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commit row: %w", err)
		}

		record.ValidationStatus = validation.Status(validationStatus.String)
		record.SchemaVersion = schemaVersion.String
		record.SchemaHash = schemaHash.String
		record.RollbackReason = rollbackReason.String

		if committedAt.Valid {
			at := committedAt.Time.UTC()
			record.CommittedAt = &at
		}

		if len(validationErrors) > 0 {
			if err := json.Unmarshal(validationErrors, &record.ValidationErrors); err != nil {
				return nil, fmt.Errorf("failed to parse validation errors: %w", err)
			}
		}

		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commit rows: %w", err)
	}

	return records, nil
}

// nullString maps "" to SQL NULL so optional columns stay NULL instead of
// empty strings.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
