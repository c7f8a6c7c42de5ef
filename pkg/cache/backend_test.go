package cache_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/illmade-knight/guildlink/pkg/cache"
	"github.com/illmade-knight/guildlink/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(id string) *types.Snapshot {
	return &types.Snapshot{
		ID:          id,
		SourceGuild: "Kancho",
		TargetGuild: "Bingsoo",
		LinkedCharacters: []types.GroupedResult{
			{Main: "HeroA", Alts: []string{"AltX", "AltY"}},
			{Main: "HeroB", Alts: []string{"AltZ"}},
		},
		CreatedAt: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
	}
}

// exerciseBackend runs the Save/Load/Delete lifecycle every backend must honour.
func exerciseBackend(t *testing.T, backend cache.SnapshotBackend) {
	t.Helper()
	ctx := context.Background()

	// Empty slot
	_, err := backend.Load(ctx)
	require.ErrorIs(t, err, cache.ErrSnapshotNotFound)

	// Save then Load
	first := testSnapshot("snap-1")
	require.NoError(t, backend.Save(ctx, first))
	loaded, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, loaded.ID)
	assert.Equal(t, first.LinkedCharacters, loaded.LinkedCharacters)
	assert.True(t, first.CreatedAt.Equal(loaded.CreatedAt))

	// Save replaces wholesale
	second := testSnapshot("snap-2")
	second.LinkedCharacters = second.LinkedCharacters[:1]
	require.NoError(t, backend.Save(ctx, second))
	loaded, err = backend.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "snap-2", loaded.ID)
	assert.Len(t, loaded.LinkedCharacters, 1)

	// Delete, twice
	require.NoError(t, backend.Delete(ctx))
	require.NoError(t, backend.Delete(ctx))
	_, err = backend.Load(ctx)
	require.ErrorIs(t, err, cache.ErrSnapshotNotFound)

	require.NoError(t, backend.Close())
}

func TestInMemorySnapshotBackend(t *testing.T) {
	exerciseBackend(t, cache.NewInMemorySnapshotBackend())
}

func TestFileSnapshotBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "snapshot.json")
	backend, err := cache.NewFileSnapshotBackend(&cache.FileConfig{Path: path}, zerolog.Nop())
	require.NoError(t, err)

	exerciseBackend(t, backend)

	t.Run("Writes the documented JSON shape", func(t *testing.T) {
		require.NoError(t, backend.Save(context.Background(), testSnapshot("snap-3")))
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"linked_characters"`)
		assert.Contains(t, string(raw), `"main": "HeroA"`)
		assert.Contains(t, string(raw), `"created_at"`)
	})

	t.Run("Corrupt file is an error, not a miss", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
		_, err := backend.Load(context.Background())
		require.Error(t, err)
		assert.NotErrorIs(t, err, cache.ErrSnapshotNotFound)
	})

	t.Run("Empty path is rejected", func(t *testing.T) {
		_, err := cache.NewFileSnapshotBackend(&cache.FileConfig{}, zerolog.Nop())
		require.Error(t, err)
	})
}
