package badgervec

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondera-systems/pondera/core"
	"github.com/pondera-systems/pondera/storage"
)

func setupIndex(t *testing.T, dim int) storage.VectorIndex {
	t.Helper()

	idx, err := NewMemoryIndex()
	require.NoError(t, err)
	require.NoError(t, idx.EnsureReady(context.Background(), dim))

	t.Cleanup(func() {
		assert.NoError(t, idx.Close())
	})
	return idx
}

func chunkWithVector(itemID string, ordinal int, vector []float32) *core.Chunk {
	return &core.Chunk{
		ItemID:   itemID,
		SourceID: "src-1",
		Ordinal:  ordinal,
		Text:     fmt.Sprintf("chunk %d of %s", ordinal, itemID),
		Vector:   vector,
	}
}

func TestEnsureReadyDimensionConflict(t *testing.T) {
	idx := setupIndex(t, 3)

	assert.NoError(t, idx.EnsureReady(context.Background(), 3))
	assert.ErrorIs(t, idx.EnsureReady(context.Background(), 4), storage.ErrDimensionMismatch)
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	idx := setupIndex(t, 3)

	err := idx.Upsert(context.Background(), []*core.Chunk{
		chunkWithVector("item-1", 0, []float32{1, 0}),
	})
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestSearchOrderingAndThreshold(t *testing.T) {
	idx := setupIndex(t, 3)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []*core.Chunk{
		chunkWithVector("item-1", 0, []float32{1, 0, 0}),       // cos = 1.0
		chunkWithVector("item-1", 1, []float32{1, 1, 0}),       // cos ~ 0.707
		chunkWithVector("item-2", 0, []float32{0, 1, 0}),       // cos = 0
		chunkWithVector("item-2", 1, []float32{-1, 0, 0}),      // cos = -1
		chunkWithVector("item-3", 0, []float32{0.9, 0.1, 0.0}), // cos ~ 0.994
	}))

	query := []float32{1, 0, 0}

	hits, err := idx.Search(ctx, query, 10, 0.5, storage.SearchFilter{})
	require.NoError(t, err)
	require.Len(t, hits, 3)

	// Descending by score
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	assert.True(t, hits[0].Score >= hits[1].Score)
	assert.True(t, hits[1].Score >= hits[2].Score)
}

func TestSearchThresholdInclusive(t *testing.T) {
	idx := setupIndex(t, 2)
	ctx := context.Background()

	// 45 degrees from the query: cos = sqrt(2)/2
	require.NoError(t, idx.Upsert(ctx, []*core.Chunk{
		chunkWithVector("item-1", 0, []float32{1, 1}),
	}))

	query := []float32{1, 0}
	exact := cosineSimilarity(query, []float32{1, 1})

	hits, err := idx.Search(ctx, query, 10, exact, storage.SearchFilter{})
	require.NoError(t, err)
	assert.Len(t, hits, 1, "a hit scoring exactly the threshold must be returned")

	hits, err = idx.Search(ctx, query, 10, exact+1e-4, storage.SearchFilter{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchLimit(t *testing.T) {
	idx := setupIndex(t, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, idx.Upsert(ctx, []*core.Chunk{
			chunkWithVector("item-1", i, []float32{1, 0}),
		}))
	}

	hits, err := idx.Search(ctx, []float32{1, 0}, 2, 0, storage.SearchFilter{})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestSearchFilters(t *testing.T) {
	idx := setupIndex(t, 2)
	ctx := context.Background()

	podcast := chunkWithVector("item-1", 0, []float32{1, 0})
	doc := chunkWithVector("item-2", 0, []float32{1, 0})
	doc.SourceID = "src-2"
	doc.DocType = "cv"
	require.NoError(t, idx.Upsert(ctx, []*core.Chunk{podcast, doc}))

	t.Run("by source", func(t *testing.T) {
		hits, err := idx.Search(ctx, []float32{1, 0}, 10, 0, storage.SearchFilter{SourceIDs: []string{"src-2"}})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "item-2", hits[0].ItemID)
	})

	t.Run("by doc type", func(t *testing.T) {
		hits, err := idx.Search(ctx, []float32{1, 0}, 10, 0, storage.SearchFilter{DocTypes: []string{"cv"}})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "item-2", hits[0].ItemID)
	})

	t.Run("by item", func(t *testing.T) {
		hits, err := idx.Search(ctx, []float32{1, 0}, 10, 0, storage.SearchFilter{ItemIDs: []string{"item-1"}})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "item-1", hits[0].ItemID)
	})
}

func TestUpsertIsIdempotent(t *testing.T) {
	idx := setupIndex(t, 2)
	ctx := context.Background()

	chunk := chunkWithVector("item-1", 0, []float32{1, 0})
	require.NoError(t, idx.Upsert(ctx, []*core.Chunk{chunk}))

	// Same (item, ordinal) re-upserted with new text overwrites in place
	chunk.Text = "revised text"
	require.NoError(t, idx.Upsert(ctx, []*core.Chunk{chunk}))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	hits, err := idx.Search(ctx, []float32{1, 0}, 10, 0, storage.SearchFilter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "revised text", hits[0].Text)
	assert.Equal(t, chunk.PointID(), hits[0].ChunkID)
}

func TestDeleteByItem(t *testing.T) {
	idx := setupIndex(t, 2)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []*core.Chunk{
		chunkWithVector("item-1", 0, []float32{1, 0}),
		chunkWithVector("item-1", 1, []float32{0, 1}),
		chunkWithVector("item-2", 0, []float32{1, 0}),
	}))

	require.NoError(t, idx.DeleteByItem(ctx, "item-1"))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	hits, err := idx.Search(ctx, []float32{1, 0}, 10, 0, storage.SearchFilter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "item-2", hits[0].ItemID)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	idx, err := NewIndex(dir)
	require.NoError(t, err)
	require.NoError(t, idx.EnsureReady(ctx, 2))
	require.NoError(t, idx.Upsert(ctx, []*core.Chunk{
		chunkWithVector("item-1", 0, []float32{1, 0}),
	}))
	require.NoError(t, idx.Close())

	idx, err = NewIndex(dir)
	require.NoError(t, err)
	defer idx.Close()

	// Dimension survives the reopen
	assert.ErrorIs(t, idx.EnsureReady(ctx, 5), storage.ErrDimensionMismatch)

	hits, err := idx.Search(ctx, []float32{1, 0}, 10, 0.5, storage.SearchFilter{})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0.0},
		{"scaling invariant", []float32{2, 0}, []float32{5, 0}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cosineSimilarity(tt.a, tt.b), 1e-5)
		})
	}
}
