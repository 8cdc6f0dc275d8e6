package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/courtside-io/courtside/internal/schema"
)

// ErrSchemaVersionExists is returned when registering a (dataset, version)
// pair that already exists.
var ErrSchemaVersionExists = errors.New("schema version already registered")

// SchemaStore implements schema.Registry with a PostgreSQL backend.
// At most one schema per dataset is active, enforced by a partial unique
// index and the deactivate-then-insert transaction in Register.
type SchemaStore struct {
	conn   *Connection
	logger *slog.Logger
}

var _ schema.Registry = (*SchemaStore)(nil)

// NewSchemaStore creates a schema store over an existing connection.
func NewSchemaStore(conn *Connection, logger *slog.Logger) *SchemaStore {
	return &SchemaStore{
		conn:   conn,
		logger: logger,
	}
}

// Register stores a new schema version. When markActive is true, any
// previously active schema for the dataset is deactivated in the same
// transaction, keeping the one-active invariant airtight.
func (s *SchemaStore) Register(ctx context.Context, sc *schema.Schema, markActive bool) (*schema.Schema, error) {
	if _, err := schema.ParseVersion(sc.SchemaVersion); err != nil {
		return nil, err
	}

	stored := *sc

	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	if stored.SchemaHash == "" {
		hash, err := schema.ComputeSchemaHash(stored.RequiredFields, stored.Invariants)
		if err != nil {
			return nil, err
		}

		stored.SchemaHash = hash
	}

	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	stored.IsActive = markActive

	requiredJSON, err := json.Marshal(stored.RequiredFields)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize required fields: %w", err)
	}

	invariantsJSON, err := json.Marshal(stored.Invariants)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize invariants: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	if markActive {
		_, err = tx.ExecContext(ctx, `
			UPDATE dataset_schema
			SET is_active = FALSE
			WHERE dataset_id = $1 AND is_active = TRUE
		`, stored.DatasetID)
		if err != nil {
			return nil, fmt.Errorf("failed to deactivate previous schema: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dataset_schema (
			id, dataset_id, schema_version, schema_hash, required_fields,
			invariants, minimum_renderable_count, sunset_at, created_at, is_active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		stored.ID,
		stored.DatasetID,
		stored.SchemaVersion,
		stored.SchemaHash,
		requiredJSON,
		invariantsJSON,
		stored.MinimumRenderableCount,
		stored.SunsetAt,
		stored.CreatedAt,
		stored.IsActive,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s %s", ErrSchemaVersionExists, stored.DatasetID, stored.SchemaVersion)
		}

		return nil, fmt.Errorf("failed to insert schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit schema registration: %w", err)
	}

	s.logger.Info("schema registered",
		slog.String("dataset_id", stored.DatasetID),
		slog.String("schema_version", stored.SchemaVersion),
		slog.String("schema_hash", stored.SchemaHash),
		slog.Bool("active", stored.IsActive),
	)

	return &stored, nil
}

// GetActive returns the active schema for a dataset.
func (s *SchemaStore) GetActive(ctx context.Context, datasetID string) (*schema.Schema, error) {
	return s.getOne(ctx, `
		SELECT id, dataset_id, schema_version, schema_hash, required_fields,
		       invariants, minimum_renderable_count, sunset_at, created_at, is_active
		FROM dataset_schema
		WHERE dataset_id = $1 AND is_active = TRUE
	`, datasetID)
}

// GetVersion returns one specific schema version for a dataset.
func (s *SchemaStore) GetVersion(ctx context.Context, datasetID, schemaVersion string) (*schema.Schema, error) {
	return s.getOne(ctx, `
		SELECT id, dataset_id, schema_version, schema_hash, required_fields,
		       invariants, minimum_renderable_count, sunset_at, created_at, is_active
		FROM dataset_schema
		WHERE dataset_id = $1 AND schema_version = $2
	`, datasetID, schemaVersion)
}

func (s *SchemaStore) getOne(ctx context.Context, query string, args ...any) (*schema.Schema, error) {
	var (
		sc             schema.Schema
		requiredJSON   []byte
		invariantsJSON []byte
		sunsetAt       sql.NullTime
	)

	err := s.conn.QueryRowContext(ctx, query, args...).Scan(
		&sc.ID,
		&sc.DatasetID,
		&sc.SchemaVersion,
		&sc.SchemaHash,
		&requiredJSON,
		&invariantsJSON,
		&sc.MinimumRenderableCount,
		&sunsetAt,
		&sc.CreatedAt,
		&sc.IsActive,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, schema.ErrSchemaNotFound
		}

		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	if err := json.Unmarshal(requiredJSON, &sc.RequiredFields); err != nil {
		return nil, fmt.Errorf("failed to parse required fields: %w", err)
	}

	if err := json.Unmarshal(invariantsJSON, &sc.Invariants); err != nil {
		return nil, fmt.Errorf("failed to parse invariants: %w", err)
	}

	if sunsetAt.Valid {
		at := sunsetAt.Time.UTC()
		sc.SunsetAt = &at
	}

	return &sc, nil
}
