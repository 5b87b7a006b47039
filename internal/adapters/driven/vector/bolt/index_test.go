package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

func TestIndex_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")

	x, err := Open(path, 2)
	require.NoError(t, err)
	require.NoError(t, x.Index(ctx, driven.VectorEntry{ChunkID: "first", DocumentID: "d1", Category: domain.CategoryProducts, Vector: []float32{0.6, 0.8}}))
	require.NoError(t, x.Index(ctx, driven.VectorEntry{ChunkID: "second", DocumentID: "d2", Category: domain.CategoryPrinciples, Vector: []float32{0.6, 0.8}}))
	require.NoError(t, x.Index(ctx, driven.VectorEntry{ChunkID: "first", DocumentID: "d1", Category: domain.CategoryProducts, Vector: []float32{0.6, 0.8}}))
	require.NoError(t, x.Close())

	x, err = Open(path, 2)
	require.NoError(t, err)
	defer x.Close()

	assert.Equal(t, 2, x.Len())
	hits, err := x.Search(ctx, []float32{0.6, 0.8}, driven.VectorQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	// Insertion order survives the reopen; the replace did not move "first".
	assert.Equal(t, "first", hits[0].ChunkID)
	assert.Equal(t, "second", hits[1].ChunkID)

	hits, err = x.Search(ctx, []float32{0.6, 0.8}, driven.VectorQuery{Limit: 10, Filters: domain.SearchFilters{Category: domain.CategoryPrinciples}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d2", hits[0].DocumentID)
}

func TestIndex_TieOrderIgnoresKeyOrder(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")

	x, err := Open(path, 2)
	require.NoError(t, err)
	for _, id := range []string{"zulu", "mike", "alpha"} {
		require.NoError(t, x.Index(ctx, driven.VectorEntry{ChunkID: id, DocumentID: "d-" + id, Vector: []float32{1, 0}}))
	}
	require.NoError(t, x.Close())

	x, err = Open(path, 2)
	require.NoError(t, err)
	defer x.Close()

	hits, err := x.Search(ctx, []float32{1, 0}, driven.VectorQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"zulu", "mike", "alpha"}, []string{hits[0].ChunkID, hits[1].ChunkID, hits[2].ChunkID})
}

func TestIndex_RemovePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")

	x, err := Open(path, 2)
	require.NoError(t, err)
	require.NoError(t, x.Index(ctx, driven.VectorEntry{ChunkID: "a", DocumentID: "d1", Vector: []float32{1, 0}}))
	require.NoError(t, x.Index(ctx, driven.VectorEntry{ChunkID: "b", DocumentID: "d1", Vector: []float32{0, 1}}))
	require.NoError(t, x.Index(ctx, driven.VectorEntry{ChunkID: "c", DocumentID: "d2", Vector: []float32{1, 1}}))

	n, err := x.Remove(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, x.Close())

	x, err = Open(path, 2)
	require.NoError(t, err)
	defer x.Close()
	assert.Equal(t, 1, x.Len())
}

func TestIndex_DimensionMismatch(t *testing.T) {
	x, err := Open(filepath.Join(t.TempDir(), "vectors.db"), 3)
	require.NoError(t, err)
	defer x.Close()

	err = x.Index(context.Background(), driven.VectorEntry{ChunkID: "a", DocumentID: "d", Vector: []float32{1, 2}})
	assert.ErrorIs(t, err, domain.ErrRetrieval)
	assert.Zero(t, x.Len())
}
