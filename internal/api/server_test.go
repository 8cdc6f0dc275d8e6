package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtside-io/courtside/internal/identity"
	"github.com/courtside-io/courtside/internal/ingestion"
	"github.com/courtside-io/courtside/internal/kv"
	"github.com/courtside-io/courtside/internal/readiness"
	"github.com/courtside-io/courtside/internal/schema"
	"github.com/courtside-io/courtside/internal/serve"
	"github.com/courtside-io/courtside/internal/snapshot"
	"github.com/courtside-io/courtside/internal/storage"
	"github.com/courtside-io/courtside/internal/validation"
)

// testReadAt falls inside the November-April standings window.
var testReadAt = time.Date(2026, time.January, 20, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// memoryIdentityRegistry is a mutex-guarded identity.Registry for tests.
type memoryIdentityRegistry struct {
	mu      sync.Mutex
	records map[string]*identity.Record
}

func newMemoryIdentityRegistry() *memoryIdentityRegistry {
	return &memoryIdentityRegistry{records: make(map[string]*identity.Record)}
}

func (r *memoryIdentityRegistry) Register(
	_ context.Context, datasetID, canonicalIdentity string, id identity.Identity,
) (*identity.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[datasetID]
	if !ok {
		record = &identity.Record{
			DatasetID:         datasetID,
			Identity:          id,
			IdentityVersion:   identity.Version,
			CanonicalIdentity: canonicalIdentity,
			CreatedAt:         time.Now().UTC(),
		}
		r.records[datasetID] = record
	}

	if record.CanonicalIdentity != canonicalIdentity {
		return nil, identity.ErrIdentityViolation
	}

	record.LastWriteAt = time.Now().UTC()

	return record, nil
}

func (r *memoryIdentityRegistry) Resolve(_ context.Context, datasetID string) (*identity.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[datasetID]
	if !ok {
		return nil, identity.ErrIdentityNotFound
	}

	return record, nil
}

// memorySchemaRegistry is a minimal schema.Registry for handler tests.
type memorySchemaRegistry struct {
	mu      sync.Mutex
	schemas map[string]*schema.Schema // datasetID+version
	active  map[string]*schema.Schema
}

func newMemorySchemaRegistry() *memorySchemaRegistry {
	return &memorySchemaRegistry{
		schemas: make(map[string]*schema.Schema),
		active:  make(map[string]*schema.Schema),
	}
}

func (r *memorySchemaRegistry) Register(_ context.Context, s *schema.Schema, markActive bool) (*schema.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := s.DatasetID + "/" + s.SchemaVersion
	if _, exists := r.schemas[key]; exists {
		return nil, storage.ErrSchemaVersionExists
	}

	stored := *s
	stored.ID = key

	if stored.SchemaHash == "" {
		hash, err := schema.ComputeSchemaHash(stored.RequiredFields, stored.Invariants)
		if err != nil {
			return nil, err
		}

		stored.SchemaHash = hash
	}

	stored.CreatedAt = time.Now().UTC()
	stored.IsActive = markActive
	r.schemas[key] = &stored

	if markActive {
		r.active[s.DatasetID] = &stored
	}

	return &stored, nil
}

func (r *memorySchemaRegistry) GetActive(_ context.Context, datasetID string) (*schema.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.active[datasetID]; ok {
		return s, nil
	}

	return nil, schema.ErrSchemaNotFound
}

func (r *memorySchemaRegistry) GetVersion(_ context.Context, datasetID, version string) (*schema.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.schemas[datasetID+"/"+version]; ok {
		return s, nil
	}

	return nil, schema.ErrSchemaNotFound
}

type serverEnv struct {
	server     *Server
	commits    *ingestion.MemoryCommitLog
	identities *memoryIdentityRegistry
	schemas    *memorySchemaRegistry
	ready      *readiness.Service
}

func newServerEnv(t *testing.T, apiKeyStore storage.APIKeyStore) *serverEnv {
	t.Helper()

	clock := func() time.Time { return testReadAt }
	logger := testLogger()

	commits := ingestion.NewMemoryCommitLog()
	kvStore := kv.NewMemoryStore()
	readyStore := readiness.NewMemoryStore()
	objects := snapshot.NewMemoryObjectStore()
	identities := newMemoryIdentityRegistry()
	schemas := newMemorySchemaRegistry()

	rules := validation.NewRuleset()
	validator := validation.NewValidator(rules, validation.WithClock(clock))
	ready := readiness.NewService(readyStore, logger, readiness.WithClock(clock))
	snapshots := snapshot.NewManager(objects, snapshot.DefaultRetainVersions, logger)

	cfg := &ingestion.Config{
		PendingTTL:      5 * time.Minute,
		CommittedTTL:    time.Hour,
		RetainVersions:  2,
		PendingSweepAge: 30 * time.Minute,
		SweepInterval:   5 * time.Minute,
		Source:          "api-test",
	}

	orchestrator := ingestion.NewOrchestrator(
		commits, kvStore, validator, ready, snapshots, cfg, logger,
		ingestion.WithClock(clock),
		ingestion.WithRetryBackoff(0),
		ingestion.WithIdentityRegistry(identities),
		ingestion.WithSchemaRegistry(schemas),
	)

	reader := serve.NewReader(ready, kvStore, commits, logger,
		serve.WithClock(clock),
		serve.WithSchemaRegistry(schemas),
	)

	env := &serverEnv{
		commits:    commits,
		identities: identities,
		schemas:    schemas,
		ready:      ready,
	}

	// Register default validation rules for the standings identity used
	// throughout these tests.
	datasetID, id := testTupleID(t)
	require.True(t, rules.RegisterDefaults(datasetID, id.DatasetType))

	serverCfg := LoadServerConfig()
	env.server = NewServer(serverCfg, &Dependencies{
		Reader:       reader,
		Orchestrator: orchestrator,
		Commits:      commits,
		Identities:   identities,
		Schemas:      schemas,
		Readiness:    ready,
		Rules:        rules,
		APIKeyStore:  apiKeyStore,
	})

	return env
}

func testTupleID(t *testing.T) (string, identity.Identity) {
	t.Helper()

	id := identity.Identity{
		Sport:            "basketball",
		CompetitionLevel: "college",
		Season:           "2025-26",
		DatasetType:      "standings",
	}

	datasetID, _, err := identity.ComputeDatasetID(id)
	require.NoError(t, err)

	return datasetID, id
}

func standingsBatch(n int) []map[string]any {
	records := make([]map[string]any, n)
	for i := range records {
		records[i] = map[string]any{"team": fmt.Sprintf("Team %d", i), "wins": 20, "losses": 8}
	}

	return records
}

func (e *serverEnv) do(req *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	e.server.httpServer.Handler.ServeHTTP(recorder, req)

	return recorder
}

func ingestJSON(t *testing.T, records []map[string]any) *bytes.Reader {
	t.Helper()

	body, err := json.Marshal(IngestRequest{
		Identity: IdentityPayload{
			Sport:            "basketball",
			CompetitionLevel: "college",
			Season:           "2025-26",
			DatasetType:      "standings",
		},
		Records: records,
	})
	require.NoError(t, err)

	return bytes.NewReader(body)
}

func TestIngestThenRead(t *testing.T) {
	env := newServerEnv(t, nil)
	datasetID, _ := testTupleID(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets", ingestJSON(t, standingsBatch(12)))
	req.Header.Set("Content-Type", "application/json")

	resp := env.do(req)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var ingestResp IngestResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &ingestResp))
	assert.Equal(t, "committed", ingestResp.Status)
	assert.Equal(t, datasetID, ingestResp.DatasetID)
	assert.Equal(t, 1, ingestResp.Version)
	assert.Equal(t, 12, ingestResp.RecordCount)
	assert.True(t, ingestResp.Committed)
	assert.NotEmpty(t, ingestResp.CorrelationID)

	readResp := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/datasets/"+datasetID, nil))
	require.Equal(t, http.StatusOK, readResp.Code, readResp.Body.String())
	assert.Equal(t, "public, max-age=300, s-maxage=900", readResp.Header().Get("Cache-Control"))

	var body DatasetResponse
	require.NoError(t, json.Unmarshal(readResp.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Len(t, body.Data, 12)
	assert.Equal(t, "live", body.Meta.Lifecycle)
	assert.True(t, body.Meta.Cache.Eligible)
	assert.Equal(t, 300, body.Meta.Cache.TTLSeconds)
}

func TestGetDatasetValidation(t *testing.T) {
	env := newServerEnv(t, nil)

	t.Run("malformed dataset ID", func(t *testing.T) {
		resp := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/datasets/not-an-id", nil))
		assert.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Equal(t, "application/problem+json", resp.Header().Get("Content-Type"))
	})

	t.Run("unknown dataset ID", func(t *testing.T) {
		resp := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/datasets/00000000deadbeef", nil))
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

func TestIngestRejectsMalformedPayloads(t *testing.T) {
	env := newServerEnv(t, nil)

	t.Run("missing content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets", bytes.NewReader([]byte("{}")))

		resp := env.do(req)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets", bytes.NewReader([]byte("{not json")))
		req.Header.Set("Content-Type", "application/json")

		resp := env.do(req)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		req := httptest.NewRequest(
			http.MethodPost, "/api/v1/datasets",
			bytes.NewReader([]byte(`{"identity":{"sport":"basketball"},"bogus":true}`)),
		)
		req.Header.Set("Content-Type", "application/json")

		resp := env.do(req)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("incomplete identity tuple", func(t *testing.T) {
		req := httptest.NewRequest(
			http.MethodPost, "/api/v1/datasets",
			bytes.NewReader([]byte(`{"identity":{"sport":"basketball"},"records":[]}`)),
		)
		req.Header.Set("Content-Type", "application/json")

		resp := env.do(req)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})
}

func TestIngestSchemaRejectionReturns422(t *testing.T) {
	env := newServerEnv(t, nil)
	datasetID, _ := testTupleID(t)

	// First commit succeeds and becomes the LKG.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets", ingestJSON(t, standingsBatch(12)))
	req.Header.Set("Content-Type", "application/json")
	require.Equal(t, http.StatusOK, env.do(req).Code)

	// Activate a schema, then push a batch claiming an incompatible major.
	schemaBody, err := json.Marshal(SchemaRegistrationRequest{
		DatasetID:      datasetID,
		SchemaVersion:  "2.0.0",
		RequiredFields: []string{"team", "wins", "losses"},
		Activate:       true,
	})
	require.NoError(t, err)

	schemaReq := httptest.NewRequest(http.MethodPost, "/api/v1/admin/schemas", bytes.NewReader(schemaBody))
	schemaReq.Header.Set("Content-Type", "application/json")
	require.Equal(t, http.StatusCreated, env.do(schemaReq).Code)

	body, err := json.Marshal(IngestRequest{
		Identity: IdentityPayload{
			Sport:            "basketball",
			CompetitionLevel: "college",
			Season:           "2025-26",
			DatasetType:      "standings",
		},
		Records:       standingsBatch(12),
		SchemaVersion: "4.0.0",
	})
	require.NoError(t, err)

	rejectReq := httptest.NewRequest(http.MethodPost, "/api/v1/datasets", bytes.NewReader(body))
	rejectReq.Header.Set("Content-Type", "application/json")

	resp := env.do(rejectReq)
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code, resp.Body.String())

	var ingestResp IngestResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &ingestResp))
	assert.Equal(t, "rejected", ingestResp.Status)
	assert.False(t, ingestResp.Committed)
	assert.True(t, ingestResp.ServingLKG)

	// Readers keep getting version 1, flagged stale and uncacheable.
	readResp := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/datasets/"+datasetID, nil))
	require.Equal(t, http.StatusServiceUnavailable, readResp.Code, readResp.Body.String())
	assert.Equal(t, "no-store", readResp.Header().Get("Cache-Control"))

	var bodyResp DatasetResponse
	require.NoError(t, json.Unmarshal(readResp.Body.Bytes(), &bodyResp))
	assert.Equal(t, 1, bodyResp.Meta.Version)
	assert.Equal(t, "stale", bodyResp.Meta.Lifecycle)
	assert.True(t, bodyResp.Meta.ServingLKG)
	assert.Len(t, bodyResp.Data, 12)
}

func TestListCommits(t *testing.T) {
	env := newServerEnv(t, nil)
	datasetID, _ := testTupleID(t)

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets", ingestJSON(t, standingsBatch(12)))
		req.Header.Set("Content-Type", "application/json")
		require.Equal(t, http.StatusOK, env.do(req).Code)
	}

	resp := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/datasets/"+datasetID+"/commits", nil))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var list CommitListResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	require.Len(t, list.Commits, 2)
	assert.Equal(t, 2, list.Commits[0].Version)
	assert.Equal(t, "committed", list.Commits[0].Status)
	assert.Equal(t, "superseded", list.Commits[1].Status)

	require.NotNil(t, list.Current)
	assert.Equal(t, 2, list.Current.CurrentVersion)
	assert.False(t, list.Current.ServingLKG)

	t.Run("rejects non-positive limit", func(t *testing.T) {
		resp := env.do(httptest.NewRequest(
			http.MethodGet, "/api/v1/datasets/"+datasetID+"/commits?limit=0", nil,
		))
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})
}

func TestRegisterSchemaEndpoint(t *testing.T) {
	env := newServerEnv(t, nil)
	datasetID, _ := testTupleID(t)

	body, err := json.Marshal(SchemaRegistrationRequest{
		DatasetID:      datasetID,
		SchemaVersion:  "1.0.0",
		RequiredFields: []string{"team", "wins"},
		Activate:       true,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/schemas", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp := env.do(req)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var stored SchemaResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stored))
	assert.Equal(t, "1.0.0", stored.SchemaVersion)
	assert.True(t, stored.Active)
	assert.NotEmpty(t, stored.SchemaHash)

	t.Run("duplicate version conflicts", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/schemas", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp := env.do(req)
		assert.Equal(t, http.StatusConflict, resp.Code)
	})

	t.Run("rejects bad semver", func(t *testing.T) {
		bad, err := json.Marshal(SchemaRegistrationRequest{
			DatasetID:     datasetID,
			SchemaVersion: "not-semver",
		})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/schemas", bytes.NewReader(bad))
		req.Header.Set("Content-Type", "application/json")

		resp := env.do(req)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})
}

func TestReadinessOverrideEndpoint(t *testing.T) {
	env := newServerEnv(t, nil)
	datasetID, _ := testTupleID(t)

	override := func(action string) *httptest.ResponseRecorder {
		body, err := json.Marshal(ReadinessOverrideRequest{
			Scope:  datasetID,
			Action: action,
			Reason: "maintenance window",
		})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/readiness", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		return env.do(req)
	}

	resp := override("unavailable")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var applied ReadinessOverrideResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &applied))
	assert.Equal(t, "unavailable", applied.State)

	// Unavailable scopes refuse KV reads until reset.
	readResp := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/datasets/"+datasetID, nil))
	assert.Equal(t, http.StatusNotFound, readResp.Code) // unknown ID: never ingested

	resp = override("reset")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	t.Run("rejects unknown action", func(t *testing.T) {
		resp := override("explode")
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})
}

func TestHealthEndpoints(t *testing.T) {
	env := newServerEnv(t, nil)

	t.Run("ping", func(t *testing.T) {
		resp := env.do(httptest.NewRequest(http.MethodGet, "/ping", nil))
		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "pong", resp.Body.String())
	})

	t.Run("ready without health checker", func(t *testing.T) {
		resp := env.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("health", func(t *testing.T) {
		resp := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, resp.Code)

		var health HealthStatus
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &health))
		assert.Equal(t, "courtside", health.ServiceName)
		assert.Equal(t, "healthy", health.Status)
	})

	t.Run("unknown route", func(t *testing.T) {
		resp := env.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

func TestAuthGatesWritePathOnly(t *testing.T) {
	keyStore := storage.NewInMemoryKeyStore()

	plaintext, err := storage.GenerateAPIKey("ops-console")
	require.NoError(t, err)

	require.NoError(t, keyStore.Add(context.Background(), &storage.APIKey{
		ID:          "key-1",
		Key:         plaintext,
		ClientID:    "ops-console",
		Name:        "Ops Console",
		Permissions: []string{"datasets:write"},
		CreatedAt:   time.Now(),
		Active:      true,
	}))

	env := newServerEnv(t, keyStore)
	datasetID, _ := testTupleID(t)

	t.Run("write path requires a key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets", ingestJSON(t, standingsBatch(12)))
		req.Header.Set("Content-Type", "application/json")

		resp := env.do(req)
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("write path accepts a valid key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets", ingestJSON(t, standingsBatch(12)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Api-Key", plaintext)

		resp := env.do(req)
		assert.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	})

	t.Run("read path stays public", func(t *testing.T) {
		resp := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/datasets/"+datasetID, nil))
		assert.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	})
}
