package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondera-systems/pondera/ai/mock"
	"github.com/pondera-systems/pondera/core"
	"github.com/pondera-systems/pondera/storage"
	"github.com/pondera-systems/pondera/storage/sqlite"
)

// stubIndex returns canned hits, letting tests pin exact scores without
// depending on embedding geometry.
type stubIndex struct {
	hits []*core.SearchHit
	err  error
}

func (s *stubIndex) EnsureReady(ctx context.Context, dimension int) error { return nil }
func (s *stubIndex) Upsert(ctx context.Context, chunks []*core.Chunk) error {
	return nil
}
func (s *stubIndex) Search(ctx context.Context, vector []float32, limit int, threshold float32, filter storage.SearchFilter) ([]*core.SearchHit, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*core.SearchHit, 0, len(s.hits))
	for _, h := range s.hits {
		if h.Score >= threshold {
			out = append(out, h)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
func (s *stubIndex) DeleteByItem(ctx context.Context, itemID string) error { return nil }
func (s *stubIndex) Count(ctx context.Context) (uint64, error)             { return uint64(len(s.hits)), nil }
func (s *stubIndex) Close() error                                          { return nil }

func setupEngine(t *testing.T, idx *stubIndex, opts ...Option) (*Engine, storage.MetadataStore) {
	t.Helper()

	store, err := sqlite.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine, err := NewEngine(store, idx, mock.NewMockEmbedder(), opts...)
	require.NoError(t, err)
	return engine, store
}

// seedItems creates one source with n completed items and returns their IDs.
func seedItems(t *testing.T, store storage.MetadataStore, n int) []string {
	t.Helper()
	ctx := context.Background()

	source := &core.Source{ID: core.NewID(), Kind: core.SourceKindFeed, Key: "https://example.com/feed.xml"}
	require.NoError(t, store.CreateSource(ctx, source))

	ids := make([]string, n)
	for i := 0; i < n; i++ {
		item := &core.ContentItem{
			ID:          core.NewID(),
			SourceID:    source.ID,
			IdentityKey: fmt.Sprintf("guid-%d", i),
			Title:       fmt.Sprintf("Episode %d", i),
			Status:      core.ItemStatusCompleted,
		}
		require.NoError(t, store.CreateItem(ctx, item))
		ids[i] = item.ID
	}
	return ids
}

func mkHit(itemID string, ordinal int, score float32, text string) *core.SearchHit {
	return &core.SearchHit{
		ChunkID: core.ChunkPointID(itemID, ordinal),
		ItemID:  itemID,
		Text:    text,
		Score:   score,
	}
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	store, err := sqlite.NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	_, err = NewEngine(nil, &stubIndex{}, mock.NewMockEmbedder())
	assert.ErrorIs(t, err, ErrStoreRequired)

	_, err = NewEngine(store, nil, mock.NewMockEmbedder())
	assert.ErrorIs(t, err, ErrIndexRequired)

	_, err = NewEngine(store, &stubIndex{}, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
}

func TestQueryRejectsEmptyQuery(t *testing.T) {
	engine, _ := setupEngine(t, &stubIndex{})

	_, err := engine.Query(context.Background(), "   ", storage.SearchFilter{})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestQueryAnsweredFromKB(t *testing.T) {
	idx := &stubIndex{}
	engine, store := setupEngine(t, idx)
	ids := seedItems(t, store, 1)

	idx.hits = []*core.SearchHit{
		mkHit(ids[0], 0, 0.92, "first relevant chunk"),
		mkHit(ids[0], 1, 0.81, "second relevant chunk"),
	}

	qc, err := engine.Query(context.Background(), "what was discussed", storage.SearchFilter{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeAnswered, qc.Outcome)
	assert.False(t, qc.Truncated)
	require.Len(t, qc.Passages, 2)
	assert.Equal(t, "first relevant chunk", qc.Passages[0].Text)
	assert.Equal(t, AttributionKnowledgeBase, qc.Passages[0].Attribution)
	assert.Equal(t, "Episode 0", qc.Passages[0].ItemTitle)
	assert.Greater(t, qc.Passages[0].Tokens, 0)
}

func TestThresholdBoundary(t *testing.T) {
	idx := &stubIndex{}
	engine, store := setupEngine(t, idx)
	ids := seedItems(t, store, 1)

	t.Run("hit at exactly the threshold is relevant", func(t *testing.T) {
		idx.hits = []*core.SearchHit{mkHit(ids[0], 0, DefaultThreshold, "borderline chunk")}

		qc, err := engine.Query(context.Background(), "borderline", storage.SearchFilter{})
		require.NoError(t, err)
		assert.Equal(t, OutcomeAnswered, qc.Outcome)
		require.Len(t, qc.Passages, 1)
	})

	t.Run("hit just below the threshold is not", func(t *testing.T) {
		idx.hits = []*core.SearchHit{mkHit(ids[0], 0, 0.55, "weak chunk")}

		qc, err := engine.Query(context.Background(), "weak", storage.SearchFilter{})
		require.NoError(t, err)
		assert.Equal(t, OutcomeInsufficientKB, qc.Outcome)
		assert.Empty(t, qc.Passages)
		// Sub-threshold hits remain visible for the fallback path
		require.Len(t, qc.Hits, 1)
		assert.InDelta(t, 0.55, qc.Hits[0].Score, 1e-6)
	})

	t.Run("no hits at all", func(t *testing.T) {
		idx.hits = nil

		qc, err := engine.Query(context.Background(), "nothing", storage.SearchFilter{})
		require.NoError(t, err)
		assert.Equal(t, OutcomeInsufficientKB, qc.Outcome)
		assert.Empty(t, qc.Hits)
	})
}

func TestDisambiguationOnTooManyItems(t *testing.T) {
	idx := &stubIndex{}
	engine, store := setupEngine(t, idx, WithMaxEntities(2))
	ids := seedItems(t, store, 3)

	idx.hits = []*core.SearchHit{
		mkHit(ids[0], 0, 0.95, "chunk from episode 0"),
		mkHit(ids[1], 0, 0.90, "chunk from episode 1"),
		mkHit(ids[2], 0, 0.85, "chunk from episode 2"),
		mkHit(ids[0], 1, 0.80, "another chunk from episode 0"),
	}

	qc, err := engine.Query(context.Background(), "ambiguous name", storage.SearchFilter{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeNeedsDisambiguation, qc.Outcome)
	assert.Empty(t, qc.Passages, "no context is assembled until the ambiguity is resolved")
	require.Len(t, qc.Candidates, 3)

	// Ranked by each item's best score
	assert.Equal(t, ids[0], qc.Candidates[0].ItemID)
	assert.Equal(t, "Episode 0", qc.Candidates[0].Title)
	assert.InDelta(t, 0.95, qc.Candidates[0].TopScore, 1e-6)
	assert.Equal(t, 2, qc.Candidates[0].Hits)
	assert.Equal(t, ids[2], qc.Candidates[2].ItemID)
}

func TestDisambiguationIncludesTiedCandidates(t *testing.T) {
	idx := &stubIndex{}
	engine, store := setupEngine(t, idx, WithMaxEntities(1))
	ids := seedItems(t, store, 2)

	idx.hits = []*core.SearchHit{
		mkHit(ids[0], 0, 0.88, "tied chunk a"),
		mkHit(ids[1], 0, 0.88, "tied chunk b"),
	}

	qc, err := engine.Query(context.Background(), "tied", storage.SearchFilter{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeNeedsDisambiguation, qc.Outcome)
	require.Len(t, qc.Candidates, 2, "equal top scores keep every tied item")
	assert.InDelta(t, qc.Candidates[0].TopScore, qc.Candidates[1].TopScore, 1e-6)
}

func TestDisambiguationResolvedByVerbatimTitle(t *testing.T) {
	idx := &stubIndex{}
	engine, store := setupEngine(t, idx, WithMaxEntities(2))
	ids := seedItems(t, store, 3)

	idx.hits = []*core.SearchHit{
		mkHit(ids[0], 0, 0.95, "chunk from episode 0"),
		mkHit(ids[1], 0, 0.90, "chunk from episode 1"),
		mkHit(ids[2], 0, 0.85, "chunk from episode 2"),
	}

	// The query names one candidate's full title, so the engine narrows
	// to it instead of asking for disambiguation
	qc, err := engine.Query(context.Background(), "what did Episode 1 say", storage.SearchFilter{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeAnswered, qc.Outcome)
	require.Len(t, qc.Passages, 1)
	assert.Equal(t, ids[1], qc.Passages[0].ItemID)
	assert.Equal(t, "Episode 1", qc.Passages[0].ItemTitle)
}

func TestDisambiguationResolvedByItemFilter(t *testing.T) {
	idx := &stubIndex{}
	engine, store := setupEngine(t, idx, WithMaxEntities(1))
	ids := seedItems(t, store, 2)

	// The stub ignores filters; simulate the narrowed follow-up query by
	// swapping the hit set the way a filtered index search would
	idx.hits = []*core.SearchHit{
		mkHit(ids[0], 0, 0.88, "chunk about the chosen entity"),
	}

	qc, err := engine.Query(context.Background(), "tied", storage.SearchFilter{ItemIDs: []string{ids[0]}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAnswered, qc.Outcome)
	require.Len(t, qc.Passages, 1)
}

func TestTokenBudgetStopsAssembly(t *testing.T) {
	idx := &stubIndex{}
	// Heuristic counter: len/4, so 400 chars is ~100 tokens
	engine, store := setupEngine(t, idx, WithTokenBudget(150))
	ids := seedItems(t, store, 1)

	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	idx.hits = []*core.SearchHit{
		mkHit(ids[0], 0, 0.95, string(long)),
		mkHit(ids[0], 1, 0.90, string(long)),
		mkHit(ids[0], 2, 0.85, string(long)),
	}

	qc, err := engine.Query(context.Background(), "budget", storage.SearchFilter{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeAnswered, qc.Outcome)
	require.Len(t, qc.Passages, 1, "second chunk would blow the budget")
	assert.LessOrEqual(t, qc.TotalTokens(), 150)
}

func TestTokenBudgetAlwaysIncludesBestHit(t *testing.T) {
	idx := &stubIndex{}
	engine, store := setupEngine(t, idx, WithTokenBudget(10))
	ids := seedItems(t, store, 1)

	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	idx.hits = []*core.SearchHit{mkHit(ids[0], 0, 0.95, string(long))}

	qc, err := engine.Query(context.Background(), "oversized", storage.SearchFilter{})
	require.NoError(t, err)
	require.Len(t, qc.Passages, 1, "the best hit is included even when it alone exceeds the budget")
}

func TestDeadlineReturnsTruncatedContext(t *testing.T) {
	idx := &stubIndex{}
	engine, _ := setupEngine(t, idx)

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, core.Transient(context.DeadlineExceeded)
	}
	engine.embedder = embedder

	qc, err := engine.Query(context.Background(), "slow query", storage.SearchFilter{})
	require.NoError(t, err, "deadline expiry is reported through Truncated, not an error")
	assert.True(t, qc.Truncated)
	assert.Empty(t, qc.Passages)
}

func TestSearchErrorPropagates(t *testing.T) {
	// A plain error is a caller or programming problem, not an outage
	idx := &stubIndex{err: errors.New("index offline")}
	engine, _ := setupEngine(t, idx)

	_, err := engine.Query(context.Background(), "broken", storage.SearchFilter{})
	assert.Error(t, err)
}

func TestIndexOutageDegradesToInsufficientKB(t *testing.T) {
	idx := &stubIndex{err: fmt.Errorf("searching: %w", core.ErrProviderUnavailable)}
	engine, _ := setupEngine(t, idx)

	qc, err := engine.Query(context.Background(), "anything", storage.SearchFilter{})
	require.NoError(t, err, "an unreachable index is a degraded response, not a query failure")
	assert.Equal(t, OutcomeInsufficientKB, qc.Outcome)
	assert.NotEmpty(t, qc.Note)
	assert.Empty(t, qc.Hits)
}

func TestEmbedderOutageDegradesToInsufficientKB(t *testing.T) {
	idx := &stubIndex{}
	engine, _ := setupEngine(t, idx)

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, core.Transient(errors.New("connection refused"))
	}
	engine.embedder = embedder

	qc, err := engine.Query(context.Background(), "anything", storage.SearchFilter{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeInsufficientKB, qc.Outcome)
	assert.NotEmpty(t, qc.Note)
}

type recordingMonitor struct {
	started     bool
	searched    int
	included    int
	dropped     int
	finished    bool
	disambigged bool
}

func (m *recordingMonitor) Start(_ string)                        { m.started = true }
func (m *recordingMonitor) AfterEmbedding(_ int)                  {}
func (m *recordingMonitor) AfterVectorSearch(h []*core.SearchHit) { m.searched = len(h) }
func (m *recordingMonitor) AfterGrouping(_ []Candidate)           {}
func (m *recordingMonitor) Disambiguation(_ []Candidate)          { m.disambigged = true }
func (m *recordingMonitor) PassageIncluded(_ Passage)             { m.included++ }
func (m *recordingMonitor) PassageDropped(_ string, _ string)     { m.dropped++ }
func (m *recordingMonitor) Finish(_ *QueryContext)                { m.finished = true }

func TestQueryMonitorCallbacks(t *testing.T) {
	idx := &stubIndex{}
	engine, store := setupEngine(t, idx)
	ids := seedItems(t, store, 1)

	idx.hits = []*core.SearchHit{
		mkHit(ids[0], 0, 0.9, "chunk one"),
		mkHit(ids[0], 1, 0.8, "chunk two"),
	}

	monitor := &recordingMonitor{}
	qc, err := engine.QueryWithMonitor(context.Background(), "observed", storage.SearchFilter{}, monitor)
	require.NoError(t, err)

	assert.True(t, monitor.started)
	assert.Equal(t, 2, monitor.searched)
	assert.Equal(t, len(qc.Passages), monitor.included)
	assert.False(t, monitor.disambigged)
	assert.True(t, monitor.finished)
}
