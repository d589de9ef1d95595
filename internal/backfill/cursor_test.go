package backfill

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCursorManager(t *testing.T) (*CursorManager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cursor.json")
	return NewCursorManager(path), path
}

func TestCursorManager_LoadMissingFileReturnsFreshCursor(t *testing.T) {
	manager, _ := newTestCursorManager(t)

	cur, err := manager.Load()
	require.NoError(t, err)
	assert.True(t, cur.IsEmpty())
	assert.Equal(t, CursorVersion, cur.Version)
}

func TestCursorManager_SaveLoadRoundTrip(t *testing.T) {
	manager, _ := newTestCursorManager(t)

	createdAt := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)
	require.NoError(t, manager.Save(Cursor{
		LastCreatedAt:  createdAt,
		LastID:         "article-123",
		CurrentDate:    "2025-01-15",
		ProcessedCount: 240,
	}))

	loaded, err := manager.Load()
	require.NoError(t, err)
	assert.Equal(t, CursorVersion, loaded.Version)
	assert.Equal(t, createdAt, loaded.LastCreatedAt.UTC())
	assert.Equal(t, "article-123", loaded.LastID)
	assert.Equal(t, "2025-01-15", loaded.CurrentDate)
	assert.Equal(t, 240, loaded.ProcessedCount)
	assert.False(t, loaded.UpdatedAt.IsZero(), "Save must stamp UpdatedAt")
}

func TestCursorManager_SaveWritesStableJSONKeys(t *testing.T) {
	// The file format is a compatibility surface: a cursor written by one
	// build must resume under the next.
	manager, path := newTestCursorManager(t)

	require.NoError(t, manager.Save(Cursor{
		LastCreatedAt:  time.Now(),
		LastID:         "article-1",
		CurrentDate:    "2025-01-15",
		ProcessedCount: 1,
	}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var keys map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &keys))
	for _, k := range []string{"version", "last_created_at", "last_id", "current_date", "processed_count", "updated_at"} {
		assert.Contains(t, keys, k)
	}
}

func TestCursorManager_SaveLeavesNoTempFile(t *testing.T) {
	manager, path := newTestCursorManager(t)

	require.NoError(t, manager.Save(Cursor{
		LastCreatedAt:  time.Now(),
		LastID:         "article-1",
		ProcessedCount: 40,
	}))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestCursorManager_LoadEmptyFileReturnsFreshCursor(t *testing.T) {
	manager, path := newTestCursorManager(t)
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	cur, err := manager.Load()
	require.NoError(t, err)
	assert.True(t, cur.IsEmpty())
	assert.Equal(t, CursorVersion, cur.Version)
}

func TestCursorManager_LoadMigratesUnversionedFile(t *testing.T) {
	manager, path := newTestCursorManager(t)
	legacy := `{"last_created_at":"2024-06-01T00:00:00Z","last_id":"article-9","processed_count":9}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	cur, err := manager.Load()
	require.NoError(t, err)
	assert.Equal(t, CursorVersion, cur.Version)
	assert.Equal(t, "article-9", cur.LastID)
	assert.Equal(t, 9, cur.ProcessedCount)
}

func TestCursorManager_ResetRemovesFile(t *testing.T) {
	manager, path := newTestCursorManager(t)

	require.NoError(t, manager.Save(Cursor{
		LastCreatedAt: time.Now(),
		LastID:        "article-1",
	}))
	require.NoError(t, manager.Reset())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	cur, err := manager.Load()
	require.NoError(t, err)
	assert.True(t, cur.IsEmpty())

	// Resetting an already-missing cursor is not an error.
	assert.NoError(t, manager.Reset())
}

func TestCursorManager_LockExcludesSecondProcess(t *testing.T) {
	_, path := newTestCursorManager(t)
	first := NewCursorManager(path)
	second := NewCursorManager(path)

	require.NoError(t, first.Lock())

	err := second.Lock()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by another backfill process")

	require.NoError(t, first.Unlock())
	require.NoError(t, second.Lock())
	require.NoError(t, second.Unlock())
}

func TestCursorManager_UnlockWithoutLockIsNoop(t *testing.T) {
	manager, _ := newTestCursorManager(t)
	assert.NoError(t, manager.Unlock())
}

func TestCursor_IsEmpty(t *testing.T) {
	assert.True(t, Cursor{}.IsEmpty())
	assert.True(t, Cursor{Version: CursorVersion, ProcessedCount: 3}.IsEmpty())
	assert.False(t, Cursor{LastID: "article-1"}.IsEmpty())
	assert.False(t, Cursor{LastCreatedAt: time.Now()}.IsEmpty())
	assert.False(t, Cursor{LastCreatedAt: time.Now(), LastID: "article-1"}.IsEmpty())
}
