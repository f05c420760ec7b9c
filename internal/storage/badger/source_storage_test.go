package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/models"
)

func TestSourceStorage_CreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	storage := NewSourceStorage(newTestDB(t), arbor.NewLogger())

	first, err := models.NewSourceFromURL("src_1", "https://Example.org/pantry", "test")
	require.NoError(t, err)
	created, isNew, err := storage.CreateIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, "src_1", created.ID)

	// same host under a different id resolves to the stored source
	second, err := models.NewSourceFromURL("src_2", "https://example.org/food", "test")
	require.NoError(t, err)
	existing, isNew, err := storage.CreateIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "src_1", existing.ID)

	_, err = storage.GetSource(ctx, "src_2")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSourceStorage_ListSources(t *testing.T) {
	ctx := context.Background()
	storage := NewSourceStorage(newTestDB(t), arbor.NewLogger())

	active, err := models.NewSourceFromURL("src_a", "https://a.example.org", "test")
	require.NoError(t, err)
	inactive, err := models.NewSourceFromURL("src_b", "https://b.example.org", "test")
	require.NoError(t, err)
	inactive.Active = false

	require.NoError(t, storage.SaveSource(ctx, active))
	require.NoError(t, storage.SaveSource(ctx, inactive))

	all, err := storage.ListSources(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyActive, err := storage.ListSources(ctx, true)
	require.NoError(t, err)
	require.Len(t, onlyActive, 1)
	assert.Equal(t, "src_a", onlyActive[0].ID)
}

func TestSourceStorage_DeleteSource(t *testing.T) {
	ctx := context.Background()
	storage := NewSourceStorage(newTestDB(t), arbor.NewLogger())

	source, err := models.NewSourceFromURL("src_1", "https://example.org/", "test")
	require.NoError(t, err)
	_, _, err = storage.CreateIfAbsent(ctx, source)
	require.NoError(t, err)

	require.NoError(t, storage.DeleteSource(ctx, "src_1"))
	_, err = storage.GetSource(ctx, "src_1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	require.NoError(t, storage.DeleteSource(ctx, "src_1"), "deleting a missing source is a no-op")

	// the unique key is free again
	again, err := models.NewSourceFromURL("src_2", "https://example.org/", "test")
	require.NoError(t, err)
	_, created, err := storage.CreateIfAbsent(ctx, again)
	require.NoError(t, err)
	assert.True(t, created)
}
