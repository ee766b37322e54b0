package qdrant

import (
	"testing"

	qpb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondera-systems/pondera/core"
	"github.com/pondera-systems/pondera/storage"
)

func TestChunkPayloadRoundTrip(t *testing.T) {
	chunk := &core.Chunk{
		ItemID:   "item-1",
		SourceID: "src-1",
		DocType:  "cv",
		Ordinal:  2,
		Text:     "some chunk text",
		Section:  "experience",
		Metadata: map[string]string{"filename": "cv.pdf"},
		Vector:   []float32{1, 0},
	}

	payload := chunkPayload(chunk)
	point := &qpb.ScoredPoint{
		Id:      &qpb.PointId{PointIdOptions: &qpb.PointId_Uuid{Uuid: chunk.PointID()}},
		Score:   0.92,
		Payload: payload,
	}

	hit := hitFromScoredPoint(point)

	assert.Equal(t, chunk.PointID(), hit.ChunkID)
	assert.Equal(t, "item-1", hit.ItemID)
	assert.Equal(t, "src-1", hit.SourceID)
	assert.Equal(t, "some chunk text", hit.Text)
	assert.Equal(t, "experience", hit.Section)
	assert.Equal(t, float32(0.92), hit.Score)
	assert.Equal(t, map[string]string{"filename": "cv.pdf"}, hit.Metadata)
}

func TestChunkPayloadOmitsEmptyFields(t *testing.T) {
	chunk := &core.Chunk{ItemID: "item-1", SourceID: "src-1", Text: "t"}

	payload := chunkPayload(chunk)

	assert.NotContains(t, payload, payloadDocType)
	assert.NotContains(t, payload, payloadSection)
}

func TestBuildFilter(t *testing.T) {
	t.Run("empty filter is nil", func(t *testing.T) {
		assert.Nil(t, buildFilter(storage.SearchFilter{}))
	})

	t.Run("single value uses keyword match", func(t *testing.T) {
		f := buildFilter(storage.SearchFilter{SourceIDs: []string{"src-1"}})
		require.NotNil(t, f)
		require.Len(t, f.Must, 1)

		field := f.Must[0].GetField()
		require.NotNil(t, field)
		assert.Equal(t, payloadSourceID, field.Key)
		assert.Equal(t, "src-1", field.GetMatch().GetKeyword())
	})

	t.Run("multiple values become should clauses", func(t *testing.T) {
		f := buildFilter(storage.SearchFilter{DocTypes: []string{"cv", "report"}})
		require.Len(t, f.Must, 1)

		nested := f.Must[0].GetFilter()
		require.NotNil(t, nested)
		assert.Len(t, nested.Should, 2)
	})

	t.Run("fields combine with and", func(t *testing.T) {
		f := buildFilter(storage.SearchFilter{
			SourceIDs: []string{"src-1"},
			ItemIDs:   []string{"item-1"},
			DocTypes:  []string{"cv"},
		})
		assert.Len(t, f.Must, 3)
	})
}
