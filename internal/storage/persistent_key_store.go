package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

const (
	keyCreated = "created"
	keyUpdated = "updated"
	keyDeleted = "deleted"
)

// PersistentKeyStore implements APIKeyStore with a PostgreSQL backend.
// Keys are stored as bcrypt hashes; lookups compare hashes in memory,
// which holds up fine at the admin-key scale this service runs at.
type PersistentKeyStore struct {
	conn   *Connection
	logger *slog.Logger
}

var _ APIKeyStore = (*PersistentKeyStore)(nil)

// NewPersistentKeyStore creates a PostgreSQL-backed key store over an
// existing connection pool.
func NewPersistentKeyStore(conn *Connection, logger *slog.Logger) *PersistentKeyStore {
	return &PersistentKeyStore{
		conn:   conn,
		logger: logger,
	}
}

// FindByKey retrieves an API key by its key value using bcrypt hash
// comparison across all active keys. Returns (nil, false) when not found.
func (s *PersistentKeyStore) FindByKey(ctx context.Context, key string) (*APIKey, bool) {
	if key == "" {
		return nil, false
	}

	query := `
		SELECT id, key_hash, client_id, name, permissions, created_at, expires_at, active
		FROM api_keys
		WHERE active = TRUE
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, false
	}

	defer func() {
		_ = rows.Close()
	}()

	var keyFound *APIKey

	for rows.Next() {
		var (
			apiKey          APIKey
			permissionsJSON []byte
		)

		err := rows.Scan(
			&apiKey.ID,
			&apiKey.Key, // the stored hash, used for comparison only
			&apiKey.ClientID,
			&apiKey.Name,
			&permissionsJSON,
			&apiKey.CreatedAt,
			&apiKey.ExpiresAt,
			&apiKey.Active,
		)
		if err != nil {
			continue
		}

		if err := json.Unmarshal(permissionsJSON, &apiKey.Permissions); err != nil {
			continue
		}

		if CompareAPIKeyHash(apiKey.Key, key) {
			apiKey.Key = MaskKey(apiKey.Key)
			keyFound = &apiKey

			break
		}
	}

	if err := rows.Err(); err != nil {
		s.logger.Error("failed to find key", slog.String("error", err.Error()))

		return nil, false
	}

	return keyFound, keyFound != nil
}

// Add stores a new API key. The plaintext key is hashed with bcrypt
// before storage; an audit row is written synchronously.
func (s *PersistentKeyStore) Add(ctx context.Context, apiKey *APIKey) error {
	if apiKey == nil { // pragma: allowlist secret
		return ErrKeyNil
	}

	// bcrypt salts, so duplicate detection needs a comparison pass.
	if existing, found := s.FindByKey(ctx, apiKey.Key); found && existing != nil {
		return ErrKeyAlreadyExists
	}

	if apiKey.ID == "" {
		apiKey.ID = uuid.NewString()
	}

	keyHash, err := HashAPIKey(apiKey.Key)
	if err != nil {
		return fmt.Errorf("failed to hash API key: %w", err)
	}

	permissionsJSON, err := permissionsToJSON(apiKey.Permissions)
	if err != nil {
		return fmt.Errorf("failed to serialize permissions: %w", err)
	}

	query := `
		INSERT INTO api_keys (id, key_hash, client_id, name, permissions, created_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.conn.ExecContext(
		ctx,
		query,
		apiKey.ID,
		keyHash,
		apiKey.ClientID,
		apiKey.Name,
		permissionsJSON,
		apiKey.CreatedAt,
		apiKey.ExpiresAt,
		apiKey.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to insert API key: %w", err)
	}

	s.audit(ctx, keyCreated, apiKey)

	return nil
}

// Update modifies name, permissions, active status, and expiration of an
// existing key. The hash itself cannot change.
func (s *PersistentKeyStore) Update(ctx context.Context, apiKey *APIKey) error {
	if apiKey == nil { // pragma: allowlist secret
		return ErrKeyNil
	}

	if apiKey.ID == "" {
		return ErrKeyNotFound
	}

	permissionsJSON, err := permissionsToJSON(apiKey.Permissions)
	if err != nil {
		return fmt.Errorf("failed to serialize permissions: %w", err)
	}

	query := `
		UPDATE api_keys
		SET name = $1, permissions = $2, active = $3, expires_at = $4
		WHERE id = $5
	`

	result, err := s.conn.ExecContext(
		ctx,
		query,
		apiKey.Name,
		permissionsJSON,
		apiKey.Active,
		apiKey.ExpiresAt,
		apiKey.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update API key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrKeyNotFound
	}

	s.audit(ctx, keyUpdated, apiKey)

	return nil
}

// Delete soft-deletes an API key by setting active=FALSE. The row stays
// for the audit trail.
func (s *PersistentKeyStore) Delete(ctx context.Context, keyID string) error {
	if keyID == "" {
		return ErrKeyNotFound
	}

	query := `
		UPDATE api_keys
		SET active = FALSE
		WHERE id = $1
	`

	result, err := s.conn.ExecContext(ctx, query, keyID)
	if err != nil {
		return fmt.Errorf("failed to delete API key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrKeyNotFound
	}

	s.audit(ctx, keyDeleted, &APIKey{ID: keyID})

	return nil
}

// ListByClient returns all active API keys for a client, newest first.
func (s *PersistentKeyStore) ListByClient(ctx context.Context, clientID string) ([]*APIKey, error) {
	if clientID == "" {
		return nil, ErrClientIDEmpty
	}

	query := `
		SELECT id, key_hash, client_id, name, permissions, created_at, expires_at, active
		FROM api_keys
		WHERE client_id = $1 AND active = TRUE
		ORDER BY created_at DESC
	`

	rows, err := s.conn.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query API keys: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var keys []*APIKey

	for rows.Next() {
		var (
			apiKey          APIKey
			permissionsJSON []byte
		)

		err := rows.Scan(
			&apiKey.ID,
			&apiKey.Key,
			&apiKey.ClientID,
			&apiKey.Name,
			&permissionsJSON,
			&apiKey.CreatedAt,
			&apiKey.ExpiresAt,
			&apiKey.Active,
		)
		if err != nil {
			continue
		}

		if err := json.Unmarshal(permissionsJSON, &apiKey.Permissions); err != nil {
			continue
		}

		apiKey.Key = MaskKey(apiKey.Key)

		keys = append(keys, &apiKey)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	if keys == nil {
		keys = []*APIKey{}
	}

	return keys, nil
}

func permissionsToJSON(permissions []string) ([]byte, error) {
	if permissions == nil {
		permissions = []string{}
	}

	return json.Marshal(permissions)
}

// audit writes an audit row for a key operation. Best-effort; failures
// are logged and never fail the operation.
func (s *PersistentKeyStore) audit(ctx context.Context, operation string, apiKey *APIKey) {
	query := `
		INSERT INTO api_key_audit_log (api_key_id, operation, masked_key, client_id)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.conn.ExecContext(ctx, query, apiKey.ID, operation, MaskKey(apiKey.Key), apiKey.ClientID)
	if err != nil {
		s.logger.Error("failed to write audit log entry",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
	}
}
