package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondera-systems/pondera/ai/mock"
	"github.com/pondera-systems/pondera/core"
	"github.com/pondera-systems/pondera/extract"
	"github.com/pondera-systems/pondera/storage"
	"github.com/pondera-systems/pondera/storage/badgervec"
	"github.com/pondera-systems/pondera/storage/sqlite"
)

// stubFetcher serves a canned feed without touching the network.
type stubFetcher struct {
	mu    sync.Mutex
	feed  *ParsedFeed
	calls int
}

func (s *stubFetcher) Fetch(ctx context.Context, feedURL string) (*ParsedFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.feed, nil
}

type testEnv struct {
	pipeline  *Pipeline
	store     storage.MetadataStore
	index     storage.VectorIndex
	extractor *extract.MockExtractor
	fetcher   *stubFetcher
}

func setupPipeline(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	store, err := sqlite.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	index, err := badgervec.NewMemoryIndex()
	require.NoError(t, err)
	require.NoError(t, index.EnsureReady(context.Background(), 384))
	t.Cleanup(func() { index.Close() })

	extractor := extract.NewMockExtractor()
	fetcher := &stubFetcher{feed: &ParsedFeed{
		Title:       "Example Podcast",
		Description: "A show about examples",
		Entries: []FeedEntry{
			{GUID: "g1", Title: "Episode 1", MediaURL: "https://cdn.example.com/1.mp3", PublishedAt: time.Now().UTC()},
			{GUID: "g2", Title: "Episode 2", MediaURL: "https://cdn.example.com/2.mp3", PublishedAt: time.Now().UTC()},
		},
	}}

	base := []Option{
		WithFeedFetcher(fetcher),
		WithUploadDir(t.TempDir()),
		WithRetryPolicy(3, time.Millisecond),
		WithCallTimeout(5 * time.Second),
	}
	pipeline, err := NewPipeline(store, index, mock.NewMockEmbedder(), extractor, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(pipeline.Release)

	return &testEnv{pipeline: pipeline, store: store, index: index, extractor: extractor, fetcher: fetcher}
}

func TestRegisterFeedIdempotent(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	first, err := env.pipeline.RegisterFeed(ctx, "https://example.com/feed.xml")
	require.NoError(t, err)

	second, err := env.pipeline.RegisterFeed(ctx, "https://example.com/feed.xml")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "re-registering a feed returns the existing source")
}

func TestRegisterFeedRejectsBadURL(t *testing.T) {
	env := setupPipeline(t)

	_, err := env.pipeline.RegisterFeed(context.Background(), "not-a-url")
	assert.ErrorIs(t, err, core.ErrInvalidFeedURL)
}

func TestSyncFeedProcessesNewItems(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	source, err := env.pipeline.RegisterFeed(ctx, "https://example.com/feed.xml")
	require.NoError(t, err)

	result, err := env.pipeline.SyncFeed(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NewItems)
	assert.Equal(t, 0, result.Known)
	assert.Len(t, result.Scheduled, 2)

	env.pipeline.Wait()

	items, err := env.store.ListItemsBySource(ctx, source.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, core.ItemStatusCompleted, item.Status)
		assert.NotEmpty(t, item.ChunkIDs)
		assert.False(t, item.ProcessedAt.IsZero())
	}

	count, err := env.index.Count(ctx)
	require.NoError(t, err)
	assert.Greater(t, count, uint64(0))

	// Feed metadata refreshed during sync
	source, err = env.store.GetSource(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, "Example Podcast", source.Title)
	assert.Equal(t, 2, source.ItemCount)
	assert.False(t, source.LastFetchedAt.IsZero())
}

func TestSyncFeedIncrementalNoOp(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	source, err := env.pipeline.RegisterFeed(ctx, "https://example.com/feed.xml")
	require.NoError(t, err)

	_, err = env.pipeline.SyncFeed(ctx, source.ID)
	require.NoError(t, err)
	env.pipeline.Wait()

	countBefore, err := env.index.Count(ctx)
	require.NoError(t, err)
	extractorCallsBefore := env.extractor.CallCount()

	result, err := env.pipeline.SyncFeed(ctx, source.ID)
	require.NoError(t, err)
	env.pipeline.Wait()

	assert.Equal(t, 0, result.NewItems, "unchanged feed must add nothing")
	assert.Equal(t, 2, result.Known)
	assert.Empty(t, result.Scheduled)
	assert.Equal(t, extractorCallsBefore, env.extractor.CallCount(), "known items are never re-extracted")

	countAfter, err := env.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, countBefore, countAfter)
}

func TestSyncFeedOnDocumentSourceFails(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	item, err := env.pipeline.UploadDocument(ctx, "cv.pdf", []byte("my resume text"), "cv")
	require.NoError(t, err)
	env.pipeline.Wait()

	_, err = env.pipeline.SyncFeed(ctx, item.SourceID)
	assert.ErrorIs(t, err, ErrNotAFeed)
}

func TestUploadDocumentDedup(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	content := []byte("the same document bytes")

	first, err := env.pipeline.UploadDocument(ctx, "doc.txt", content, "article")
	require.NoError(t, err)
	env.pipeline.Wait()

	callsAfterFirst := env.extractor.CallCount()

	second, err := env.pipeline.UploadDocument(ctx, "renamed.txt", content, "article")
	require.NoError(t, err)
	env.pipeline.Wait()

	assert.Equal(t, first.ID, second.ID, "same bytes resolve to the same item")
	assert.Equal(t, callsAfterFirst, env.extractor.CallCount(), "duplicate upload must not reprocess")
}

func TestUploadDocumentEmpty(t *testing.T) {
	env := setupPipeline(t)

	_, err := env.pipeline.UploadDocument(context.Background(), "empty.txt", nil, "article")
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestMalformedItemFailsAloneBatchContinues(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	env.extractor.ExtractAudioFunc = func(ctx context.Context, mediaURL string) ([]core.Segment, error) {
		if mediaURL == "https://cdn.example.com/1.mp3" {
			return nil, core.Malformed("corrupt audio container")
		}
		return []core.Segment{{Text: "fine transcript"}}, nil
	}

	source, err := env.pipeline.RegisterFeed(ctx, "https://example.com/feed.xml")
	require.NoError(t, err)
	_, err = env.pipeline.SyncFeed(ctx, source.ID)
	require.NoError(t, err)
	env.pipeline.Wait()

	items, err := env.store.ListItemsBySource(ctx, source.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	byGUID := map[string]*core.ContentItem{}
	for _, item := range items {
		byGUID[item.IdentityKey] = item
	}

	failed := byGUID["g1"]
	assert.Equal(t, core.ItemStatusFailed, failed.Status)
	assert.Contains(t, failed.LastError, "corrupt audio container")

	ok := byGUID["g2"]
	assert.Equal(t, core.ItemStatusCompleted, ok.Status)

	// The failed item's job settled terminally, not parked for retry
	_, err = env.store.GetActiveJobForItem(ctx, failed.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestTransientFailureRetriesWithinJob(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	var mu sync.Mutex
	calls := 0
	env.extractor.ExtractAudioFunc = func(ctx context.Context, mediaURL string) ([]core.Segment, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return nil, core.Transient(errors.New("provider hiccup"))
		}
		return []core.Segment{{Text: "recovered transcript"}}, nil
	}

	env.fetcher.feed.Entries = env.fetcher.feed.Entries[:1]

	source, err := env.pipeline.RegisterFeed(ctx, "https://example.com/feed.xml")
	require.NoError(t, err)
	_, err = env.pipeline.SyncFeed(ctx, source.ID)
	require.NoError(t, err)
	env.pipeline.Wait()

	items, err := env.store.ListItemsBySource(ctx, source.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, core.ItemStatusCompleted, items[0].Status,
		"item completes once the provider recovers within the attempt budget")
	assert.Equal(t, 3, items[0].Attempts,
		"every transient attempt counts against the recorded total")

	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
}

func TestExhaustedAttemptBudgetFailsTerminally(t *testing.T) {
	env := setupPipeline(t, WithRetryPolicy(2, time.Millisecond))
	ctx := context.Background()

	env.extractor.ExtractAudioFunc = func(ctx context.Context, mediaURL string) ([]core.Segment, error) {
		return nil, core.Transient(errors.New("provider down"))
	}
	env.fetcher.feed.Entries = env.fetcher.feed.Entries[:1]

	source, err := env.pipeline.RegisterFeed(ctx, "https://example.com/feed.xml")
	require.NoError(t, err)
	result, err := env.pipeline.SyncFeed(ctx, source.ID)
	require.NoError(t, err)
	require.Len(t, result.Scheduled, 1)
	env.pipeline.Wait()

	items, err := env.store.ListItemsBySource(ctx, source.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, core.ItemStatusFailed, items[0].Status)
	assert.Equal(t, 2, items[0].Attempts, "the cap bounds the recorded attempts")

	// Once the budget is spent the job is terminal, not parked
	_, err = env.store.GetActiveJobForItem(ctx, items[0].ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	job, err := env.store.GetJob(ctx, result.Scheduled[0])
	require.NoError(t, err)
	assert.Equal(t, core.JobStateFailedTerminal, job.State)
	assert.Contains(t, job.LastError, "attempt budget exhausted")
	assert.Contains(t, job.LastError, "provider down")
}

func TestScheduleItemRejectsInFlight(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	env.extractor.ExtractAudioFunc = func(ctx context.Context, mediaURL string) ([]core.Segment, error) {
		once.Do(func() { close(started) })
		<-release
		return []core.Segment{{Text: "t"}}, nil
	}
	env.fetcher.feed.Entries = env.fetcher.feed.Entries[:1]

	source, err := env.pipeline.RegisterFeed(ctx, "https://example.com/feed.xml")
	require.NoError(t, err)
	_, err = env.pipeline.SyncFeed(ctx, source.ID)
	require.NoError(t, err)

	<-started
	items, err := env.store.ListItemsBySource(ctx, source.ID)
	require.NoError(t, err)

	_, err = env.pipeline.ScheduleItem(ctx, items[0].ID)
	assert.ErrorIs(t, err, core.ErrItemInFlight)

	close(release)
	env.pipeline.Wait()
}

func TestReprocessingDoesNotDuplicateVectors(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	env.fetcher.feed.Entries = env.fetcher.feed.Entries[:1]
	source, err := env.pipeline.RegisterFeed(ctx, "https://example.com/feed.xml")
	require.NoError(t, err)
	_, err = env.pipeline.SyncFeed(ctx, source.ID)
	require.NoError(t, err)
	env.pipeline.Wait()

	countBefore, err := env.index.Count(ctx)
	require.NoError(t, err)

	// A crash after the vector upsert leaves the item mid-flight; recovery
	// simply re-runs the whole job
	items, err := env.store.ListItemsBySource(ctx, source.ID)
	require.NoError(t, err)
	_, err = env.pipeline.ScheduleItem(ctx, items[0].ID)
	require.NoError(t, err)
	env.pipeline.Wait()

	countAfter, err := env.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, countBefore, countAfter, "deterministic point IDs overwrite instead of duplicating")
}

func TestRecoverJobsResumesInterruptedWork(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	// Simulate a crash: items and jobs persisted by a previous process,
	// some already marked running
	source := &core.Source{ID: core.NewID(), Kind: core.SourceKindFeed, Key: "https://example.com/feed.xml"}
	require.NoError(t, env.store.CreateSource(ctx, source))

	var jobs []*core.IngestionJob
	for i := 0; i < 2; i++ {
		item := &core.ContentItem{
			ID:          core.NewID(),
			SourceID:    source.ID,
			IdentityKey: fmt.Sprintf("g%d", i),
			MediaURL:    "https://cdn.example.com/ep.mp3",
			Status:      core.ItemStatusProcessing,
		}
		require.NoError(t, env.store.CreateItem(ctx, item))
		job := &core.IngestionJob{ID: core.NewID(), ItemID: item.ID, State: core.JobStateQueued}
		require.NoError(t, env.store.CreateJob(ctx, job))
		jobs = append(jobs, job)
	}
	jobs[0].State = core.JobStateRunning
	require.NoError(t, env.store.UpdateJob(ctx, jobs[0]))

	recovered, err := env.pipeline.RecoverJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, recovered)

	env.pipeline.Wait()

	items, err := env.store.ListItemsBySource(ctx, source.ID)
	require.NoError(t, err)
	for _, item := range items {
		assert.Equal(t, core.ItemStatusCompleted, item.Status)
	}
}

func TestRecoverJobsSchedulesOrphanedItems(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	// Simulate a crash between item creation and job creation: the items
	// exist but no job row does
	source := &core.Source{ID: core.NewID(), Kind: core.SourceKindFeed, Key: "https://example.com/feed.xml"}
	require.NoError(t, env.store.CreateSource(ctx, source))

	statuses := []core.ItemStatus{core.ItemStatusPending, core.ItemStatusProcessing}
	for i, status := range statuses {
		item := &core.ContentItem{
			ID:          core.NewID(),
			SourceID:    source.ID,
			IdentityKey: fmt.Sprintf("orphan-%d", i),
			MediaURL:    "https://cdn.example.com/ep.mp3",
			Status:      status,
		}
		require.NoError(t, env.store.CreateItem(ctx, item))
	}

	recovered, err := env.pipeline.RecoverJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, recovered)

	env.pipeline.Wait()

	items, err := env.store.ListItemsBySource(ctx, source.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, core.ItemStatusCompleted, item.Status)
	}
}
