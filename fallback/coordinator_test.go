package fallback

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondera-systems/pondera/core"
	"github.com/pondera-systems/pondera/retrieval"
)

func answeredContext() *retrieval.QueryContext {
	return &retrieval.QueryContext{
		Query:   "answered",
		Outcome: retrieval.OutcomeAnswered,
		Passages: []retrieval.Passage{
			{Text: "good kb passage", Score: 0.9, Attribution: retrieval.AttributionKnowledgeBase},
		},
	}
}

func insufficientContext(query string) *retrieval.QueryContext {
	return &retrieval.QueryContext{
		Query:   query,
		Outcome: retrieval.OutcomeInsufficientKB,
		Hits: []*core.SearchHit{
			{ChunkID: "c1", ItemID: "item-1", Text: "weak kb chunk", Score: 0.55},
		},
	}
}

func TestAugmentMergesWebAndWeakKB(t *testing.T) {
	searcher := NewMockWebSearcher()
	searcher.SearchFunc = func(ctx context.Context, query string) ([]WebResult, error) {
		return []WebResult{
			{Title: "Web One", URL: "https://a.example.com/1", Snippet: "web snippet one", Score: 0.8},
			{Title: "Web Two", URL: "https://b.example.com/2", Snippet: "web snippet two", Score: 0.6},
		}, nil
	}
	coordinator, err := NewCoordinator(searcher)
	require.NoError(t, err)

	qc := coordinator.Augment(context.Background(), insufficientContext("who is maria"))

	require.Len(t, qc.Passages, 3)
	assert.Equal(t, retrieval.AttributionKnowledgeBase, qc.Passages[0].Attribution,
		"below-threshold kb material stays visible")
	assert.Equal(t, "weak kb chunk", qc.Passages[0].Text)

	web := qc.Passages[1:]
	for _, p := range web {
		assert.Equal(t, retrieval.AttributionWeb, p.Attribution)
		assert.NotEmpty(t, p.URL)
		assert.Greater(t, p.Tokens, 0)
	}
	assert.Empty(t, qc.Note)
	assert.Equal(t, 1, searcher.CallCount(), "at most one web search per query")
}

func TestAugmentDegradesWhenProviderDown(t *testing.T) {
	searcher := NewMockWebSearcher()
	searcher.SearchFunc = func(ctx context.Context, query string) ([]WebResult, error) {
		return nil, fmt.Errorf("web search: %w", core.ErrProviderUnavailable)
	}
	coordinator, err := NewCoordinator(searcher)
	require.NoError(t, err)

	qc := coordinator.Augment(context.Background(), insufficientContext("who is maria"))

	require.Len(t, qc.Passages, 1, "only the weak kb passage remains")
	assert.Equal(t, retrieval.AttributionKnowledgeBase, qc.Passages[0].Attribution)
	assert.NotEmpty(t, qc.Note, "degradation is surfaced as a note, never an error")
}

func TestAugmentSkipsEmptySnippets(t *testing.T) {
	searcher := NewMockWebSearcher()
	searcher.SearchFunc = func(ctx context.Context, query string) ([]WebResult, error) {
		return []WebResult{
			{Title: "Empty", URL: "https://a.example.com"},
			{Title: "Content only", URL: "https://b.example.com", Content: "full page text"},
		}, nil
	}
	coordinator, err := NewCoordinator(searcher)
	require.NoError(t, err)

	qc := coordinator.Augment(context.Background(), &retrieval.QueryContext{
		Query:   "sparse",
		Outcome: retrieval.OutcomeInsufficientKB,
	})

	require.Len(t, qc.Passages, 1)
	assert.Equal(t, "full page text", qc.Passages[0].Text, "content backs up a missing snippet")
}

func TestNewCoordinatorRequiresSearcher(t *testing.T) {
	_, err := NewCoordinator(nil)
	assert.ErrorIs(t, err, ErrSearcherRequired)
}
