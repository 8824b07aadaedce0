package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshwarden/sshwarden/internal/domain"
)

func testSnapshot() domain.RegistrySnapshot {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.RegistrySnapshot{
		SavedAt: now,
		Blocked: []domain.BlockEntry{
			{
				Address:      "203.0.113.7",
				CreatedAt:    now.Add(-time.Hour),
				ExpiresAt:    now.Add(23 * time.Hour),
				TriggerCount: 4,
				Reason:       domain.ReasonThresholdExceeded,
			},
		},
	}
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "state.json")
	store := NewFileStore(path)

	snap := testSnapshot()
	require.NoError(t, store.Save(snap))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Blocked, 1)
	assert.Equal(t, "203.0.113.7", loaded.Blocked[0].Address)
	assert.Equal(t, 4, loaded.Blocked[0].TriggerCount)
	assert.True(t, snap.Blocked[0].ExpiresAt.Equal(loaded.Blocked[0].ExpiresAt))
}

func TestFileStore_LoadMissingFileIsCleanFirstRun(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope.json"))

	snap, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Blocked)
}

func TestFileStore_LoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewFileStore(path).Load()
	assert.Error(t, err)
}

func TestFileStore_SaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store := NewFileStore(path)

	require.NoError(t, store.Save(testSnapshot()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestFileStore_SaveOverwritesPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path)

	require.NoError(t, store.Save(testSnapshot()))
	require.NoError(t, store.Save(domain.RegistrySnapshot{SavedAt: time.Now()}))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded.Blocked)
}
