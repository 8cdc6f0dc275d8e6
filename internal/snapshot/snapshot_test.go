package snapshot

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtside-io/courtside/internal/validation"
)

const testDatasetID = "ab12cd34ef56ab12"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testDocument(version int, at time.Time) *Document {
	return &Document{
		DatasetID: testDatasetID,
		Version:   version,
		Data: []map[string]any{
			{"team": "Duke", "rank": float64(1)},
			{"team": "Kansas", "rank": float64(2)},
		},
		Validation: ValidationSummary{
			Status:      validation.StatusValid,
			RecordCount: 2,
			ExpectedMin: 2,
		},
		SnapshotAt: at,
	}
}

func TestValidateForRecovery(t *testing.T) {
	now := time.Date(2026, time.January, 15, 12, 0, 0, 0, time.UTC)

	t.Run("young valid snapshot passes", func(t *testing.T) {
		doc := testDocument(1, now.Add(-6*time.Hour))
		require.NoError(t, doc.ValidateForRecovery(DefaultMaxRecoveryAge, now))
	})

	t.Run("stale snapshot rejected", func(t *testing.T) {
		doc := testDocument(1, now.Add(-25*time.Hour))
		require.ErrorIs(t, doc.ValidateForRecovery(DefaultMaxRecoveryAge, now), ErrSnapshotTooOld)
	})

	t.Run("invalid validation status rejected", func(t *testing.T) {
		doc := testDocument(1, now.Add(-time.Hour))
		doc.Validation.Status = validation.StatusInvalid
		require.ErrorIs(t, doc.ValidateForRecovery(DefaultMaxRecoveryAge, now), ErrSnapshotInvalid)
	})

	t.Run("record count mismatch rejected", func(t *testing.T) {
		doc := testDocument(1, now.Add(-time.Hour))
		doc.Validation.RecordCount = 99
		require.ErrorIs(t, doc.ValidateForRecovery(DefaultMaxRecoveryAge, now), ErrSnapshotInvalid)
	})

	t.Run("missing dataset id rejected", func(t *testing.T) {
		doc := testDocument(1, now.Add(-time.Hour))
		doc.DatasetID = ""
		require.ErrorIs(t, doc.ValidateForRecovery(DefaultMaxRecoveryAge, now), ErrSnapshotInvalid)
	})

	t.Run("zero version rejected", func(t *testing.T) {
		doc := testDocument(0, now.Add(-time.Hour))
		require.ErrorIs(t, doc.ValidateForRecovery(DefaultMaxRecoveryAge, now), ErrSnapshotInvalid)
	})
}

func TestManagerWriteAndRead(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.January, 15, 12, 0, 0, 0, time.UTC)

	t.Run("write publishes version key and latest", func(t *testing.T) {
		store := NewMemoryObjectStore()
		manager := NewManager(store, 5, discardLogger())

		require.NoError(t, manager.Write(ctx, testDocument(3, now)))

		fromVersion, err := manager.ReadVersion(ctx, testDatasetID, 3)
		require.NoError(t, err)
		assert.Equal(t, 3, fromVersion.Version)

		fromLatest, err := manager.ReadLatest(ctx, testDatasetID)
		require.NoError(t, err)
		assert.Equal(t, 3, fromLatest.Version)
		assert.Len(t, fromLatest.Data, 2)
	})

	t.Run("write stamps custom metadata", func(t *testing.T) {
		store := NewMemoryObjectStore()
		manager := NewManager(store, 5, discardLogger())

		require.NoError(t, manager.Write(ctx, testDocument(1, now)))

		meta := store.Metadata(VersionKey(testDatasetID, 1))
		assert.Equal(t, testDatasetID, meta["datasetId"])
		assert.Equal(t, "1", meta["version"])
		assert.Equal(t, "2", meta["recordCount"])
		assert.Equal(t, "valid", meta["validationStatus"])
	})

	t.Run("missing snapshot", func(t *testing.T) {
		manager := NewManager(NewMemoryObjectStore(), 5, discardLogger())

		_, err := manager.ReadLatest(ctx, testDatasetID)
		require.ErrorIs(t, err, ErrObjectNotFound)
	})
}

func TestManagerCleanup(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.January, 15, 12, 0, 0, 0, time.UTC)

	store := NewMemoryObjectStore()
	manager := NewManager(store, 2, discardLogger())

	for version := 1; version <= 5; version++ {
		require.NoError(t, manager.Write(ctx, testDocument(version, now)))
	}

	require.NoError(t, manager.Cleanup(ctx, testDatasetID, 5))

	// Retention 2 at current version 5 keeps v4 and v5.
	_, err := manager.ReadVersion(ctx, testDatasetID, 5)
	require.NoError(t, err)

	_, err = manager.ReadVersion(ctx, testDatasetID, 4)
	require.NoError(t, err)

	for version := 1; version <= 3; version++ {
		_, err = manager.ReadVersion(ctx, testDatasetID, version)
		require.ErrorIs(t, err, ErrObjectNotFound, "version %d should be pruned", version)
	}

	// latest survives cleanup untouched.
	latest, err := manager.ReadLatest(ctx, testDatasetID)
	require.NoError(t, err)
	assert.Equal(t, 5, latest.Version)
}

func TestFilesystemStore(t *testing.T) {
	ctx := context.Background()

	t.Run("put get round-trip", func(t *testing.T) {
		store, err := NewFilesystemStore(t.TempDir())
		require.NoError(t, err)

		key := VersionKey(testDatasetID, 1)
		require.NoError(t, store.Put(ctx, key, []byte(`{"version":1}`), map[string]string{"version": "1"}))

		data, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.JSONEq(t, `{"version":1}`, string(data))
	})

	t.Run("missing object", func(t *testing.T) {
		store, err := NewFilesystemStore(t.TempDir())
		require.NoError(t, err)

		_, err = store.Get(ctx, VersionKey(testDatasetID, 9))
		require.ErrorIs(t, err, ErrObjectNotFound)
	})

	t.Run("list excludes metadata sidecars", func(t *testing.T) {
		store, err := NewFilesystemStore(t.TempDir())
		require.NoError(t, err)

		require.NoError(t, store.Put(ctx, VersionKey(testDatasetID, 1), []byte("{}"), map[string]string{"a": "b"}))
		require.NoError(t, store.Put(ctx, VersionKey(testDatasetID, 2), []byte("{}"), nil))
		require.NoError(t, store.Put(ctx, LatestKey(testDatasetID), []byte("{}"), nil))

		keys, err := store.List(ctx, DatasetPrefix(testDatasetID))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			VersionKey(testDatasetID, 1),
			VersionKey(testDatasetID, 2),
			LatestKey(testDatasetID),
		}, keys)
	})

	t.Run("list of absent prefix is empty", func(t *testing.T) {
		store, err := NewFilesystemStore(t.TempDir())
		require.NoError(t, err)

		keys, err := store.List(ctx, DatasetPrefix("deadbeefdeadbeef"))
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("delete removes object and sidecar", func(t *testing.T) {
		store, err := NewFilesystemStore(t.TempDir())
		require.NoError(t, err)

		key := VersionKey(testDatasetID, 1)
		require.NoError(t, store.Put(ctx, key, []byte("{}"), map[string]string{"a": "b"}))
		require.NoError(t, store.Delete(ctx, key))
		require.NoError(t, store.Delete(ctx, key))

		_, err = store.Get(ctx, key)
		require.ErrorIs(t, err, ErrObjectNotFound)
	})

	t.Run("traversal keys rejected", func(t *testing.T) {
		store, err := NewFilesystemStore(t.TempDir())
		require.NoError(t, err)

		require.Error(t, store.Put(ctx, "../escape.json", []byte("{}"), nil))
	})
}
