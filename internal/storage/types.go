// Package storage provides the PostgreSQL metadata store: dataset
// identities, schemas, the commit log, readiness records, and admin API
// keys.
package storage

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// API key format constants. Keys are "courtside_ak_" + 64 hex chars.
	randomBytesSize = 32
	apiKeyPrefix    = "courtside_ak_"
	apiKeyLength    = len(apiKeyPrefix) + 2*randomBytesSize
	maskPrefixLen   = len(apiKeyPrefix) + 4
	maskSuffixLen   = 4
)

var (
	// ErrKeyAlreadyExists is returned when attempting to add a key that already exists.
	ErrKeyAlreadyExists = errors.New("API key already exists")
	// ErrKeyNotFound is returned when attempting to operate on a non-existent key.
	ErrKeyNotFound = errors.New("API key not found")
	// ErrKeyNil is returned when a nil API key is provided.
	ErrKeyNil = errors.New("API key cannot be nil")
	// ErrClientIDEmpty is returned when the client ID is empty during key generation.
	ErrClientIDEmpty = errors.New("client ID cannot be empty")
	// ErrKeyStringEmpty is returned when the key string is empty during parsing.
	ErrKeyStringEmpty = errors.New("key string cannot be empty")
	// ErrInvalidKeyFormat is returned when an API key doesn't match the expected format.
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	// ErrInvalidKeyLength is returned when an API key length is incorrect.
	ErrInvalidKeyLength = errors.New("invalid API key length")
)

// APIKey identifies one admin client and its permissions. Write-path
// operations (ingest triggers, schema registration, readiness overrides)
// require a key; the public read path does not.
type APIKey struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	ClientID    string     `json:"clientId"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Active      bool       `json:"active"`
}

// APIKeyStore defines API key storage and retrieval.
type APIKeyStore interface {
	// FindByKey retrieves an API key by its key value.
	FindByKey(ctx context.Context, key string) (*APIKey, bool)
	// Add stores a new API key.
	Add(ctx context.Context, apiKey *APIKey) error
	// Update modifies an existing API key.
	Update(ctx context.Context, apiKey *APIKey) error
	// Delete removes an API key.
	Delete(ctx context.Context, keyID string) error
	// ListByClient returns all API keys for a specific client.
	ListByClient(ctx context.Context, clientID string) ([]*APIKey, error)
}

// ValidateKey performs constant-time comparison of the provided key
// against this API key, honoring active status and expiry.
func (ak *APIKey) ValidateKey(providedKey string) bool {
	if providedKey == "" || ak.Key == "" {
		return false
	}

	if !ak.Active {
		return false
	}

	if ak.ExpiresAt != nil && time.Now().After(*ak.ExpiresAt) {
		return false
	}

	return SecureCompare(ak.Key, providedKey)
}

// HasPermission checks if the API key carries a specific permission.
func (ak *APIKey) HasPermission(permission string) bool {
	for _, p := range ak.Permissions {
		if p == permission {
			return true
		}
	}

	return false
}

// SecureCompare performs constant-time comparison of two strings.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		// Compare against a dummy of the same length to keep timing flat.
		dummy := make([]byte, len(a))
		subtle.ConstantTimeCompare([]byte(a), dummy)

		return false
	}

	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MaskKey masks an API key for logging: prefix and last four characters
// survive, everything else is starred. Off-format keys mask completely.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}

	keyLen := len(key)

	if keyLen == apiKeyLength {
		maskedLen := keyLen - maskPrefixLen - maskSuffixLen

		return key[:maskPrefixLen] + strings.Repeat("*", maskedLen) + key[keyLen-maskSuffixLen:]
	}

	return strings.Repeat("*", keyLen)
}

// GenerateAPIKey creates a new secure API key for a client.
func GenerateAPIKey(clientID string) (string, error) {
	if clientID == "" {
		return "", ErrClientIDEmpty
	}

	randomBytes := make([]byte, randomBytesSize)

	_, err := rand.Read(randomBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return apiKeyPrefix + hex.EncodeToString(randomBytes), nil
}

// ParseAPIKey extracts and validates the API key from a header value.
func ParseAPIKey(keyString string) (string, error) {
	if keyString == "" {
		return "", ErrKeyStringEmpty
	}

	keyString = strings.TrimPrefix(keyString, "Bearer ")

	if !strings.HasPrefix(keyString, apiKeyPrefix) {
		return "", ErrInvalidKeyFormat
	}

	if len(keyString) != apiKeyLength {
		return "", ErrInvalidKeyLength
	}

	return keyString, nil
}
