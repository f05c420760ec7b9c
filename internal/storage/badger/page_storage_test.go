package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/models"
)

func TestPageStorage_FindByContentHash(t *testing.T) {
	db := newTestDB(t)
	storage := NewPageStorage(db, arbor.NewLogger())
	ctx := context.Background()

	pages := []models.CachedPage{
		{URL: "https://example.org/a", SourceID: "s1", ContentHash: "h1", LastFetchedAt: time.Now()},
		{URL: "https://example.org/b", SourceID: "s1", ContentHash: "h2", LastFetchedAt: time.Now()},
		{URL: "https://example.org/c", SourceID: "s1", ContentHash: "h2", LastFetchedAt: time.Now()},
	}
	for i := range pages {
		require.NoError(t, storage.SavePage(ctx, &pages[i]))
	}

	found, err := storage.FindByContentHash(ctx, "h2")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	bySource, err := storage.ListBySource(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, bySource, 3)

	got, err := storage.GetPages(ctx, []string{"https://example.org/a", "https://example.org/missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "h1", got[0].ContentHash)

	_, err = storage.GetPage(ctx, "https://example.org/missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
