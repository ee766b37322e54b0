package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/pondera-systems/pondera/ai"
	"github.com/pondera-systems/pondera/core"
	"github.com/pondera-systems/pondera/extract"
	"github.com/pondera-systems/pondera/ingest/chunker"
	"github.com/pondera-systems/pondera/storage"
)

// Pipeline orchestrates content ingestion: feed synchronization, document
// uploads, and the asynchronous processing jobs that extract, chunk, embed,
// and index each content item.
type Pipeline struct {
	store     storage.MetadataStore
	index     storage.VectorIndex
	embedder  ai.Embedder
	extractor extract.Extractor
	fetcher   FeedFetcher
	chunker   *chunker.Chunker
	pool      *ants.Pool

	uploadDir   string
	maxAttempts int
	baseDelay   time.Duration
	callTimeout time.Duration

	wg     sync.WaitGroup
	logger *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent item processing.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithFeedFetcher replaces the feed fetcher. Useful in tests.
func WithFeedFetcher(fetcher FeedFetcher) Option {
	return func(p *Pipeline) error {
		p.fetcher = fetcher
		return nil
	}
}

// WithChunker replaces the default chunker.
func WithChunker(c *chunker.Chunker) Option {
	return func(p *Pipeline) error {
		p.chunker = c
		return nil
	}
}

// WithRetryPolicy sets the per-job attempt budget and the base backoff
// delay. Defaults: 5 attempts, 1s base delay.
func WithRetryPolicy(maxAttempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		p.maxAttempts = maxAttempts
		p.baseDelay = baseDelay
		return nil
	}
}

// WithCallTimeout bounds each external provider call (extraction,
// embedding, index writes). Default 90s.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Pipeline) error {
		p.callTimeout = d
		return nil
	}
}

// WithUploadDir sets where uploaded document content is spooled until its
// processing job runs. Default is the OS temp dir.
func WithUploadDir(dir string) Option {
	return func(p *Pipeline) error {
		p.uploadDir = dir
		return nil
	}
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(
	store storage.MetadataStore,
	index storage.VectorIndex,
	embedder ai.Embedder,
	extractor extract.Extractor,
	opts ...Option,
) (*Pipeline, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if extractor == nil {
		return nil, ErrExtractorRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		store:       store,
		index:       index,
		embedder:    embedder,
		extractor:   extractor,
		fetcher:     NewFeedFetcher(),
		chunker:     chunker.New(),
		pool:        pool,
		uploadDir:   os.TempDir(),
		maxAttempts: 5,
		baseDelay:   time.Second,
		callTimeout: 90 * time.Second,
		logger:      slog.Default().With("component", "ingest"),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	return p, nil
}

// Release releases the worker pool after draining in-flight jobs.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	p.wg.Wait()
	if p.pool != nil {
		p.pool.Release()
	}
}

// Wait blocks until all submitted jobs have settled. Used in tests and
// one-shot CLI runs.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// RegisterFeed registers a podcast feed as a content source. Registering
// the same URL twice returns the existing source.
func (p *Pipeline) RegisterFeed(ctx context.Context, feedURL string) (*core.Source, error) {
	source := &core.Source{
		ID:   core.NewID(),
		Kind: core.SourceKindFeed,
		Key:  feedURL,
	}
	if err := core.ValidateSource(source); err != nil {
		return nil, err
	}

	err := p.store.CreateSource(ctx, source)
	if core.IsDuplicate(err) {
		return p.store.GetSourceByKey(ctx, core.SourceKindFeed, feedURL)
	}
	if err != nil {
		return nil, err
	}

	p.logger.Info("registered feed", "source_id", source.ID, "url", feedURL)
	return source, nil
}

// SyncResult summarizes one feed synchronization pass.
type SyncResult struct {
	SourceID  string
	NewItems  int
	Known     int
	Scheduled []string // job IDs
}

// SyncFeed fetches a feed source, refreshes its metadata, records any new
// entries in the dedup ledger, and schedules a processing job per new item.
// Entries whose identity key was seen before are counted and skipped; a
// second sync against an unchanged feed is a no-op.
func (p *Pipeline) SyncFeed(ctx context.Context, sourceID string) (*SyncResult, error) {
	source, err := p.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if source.Kind != core.SourceKindFeed {
		return nil, fmt.Errorf("source %s: %w", sourceID, ErrNotAFeed)
	}

	feed, err := p.fetcher.Fetch(ctx, source.Key)
	if err != nil {
		return nil, err
	}

	// Refresh feed metadata on every pass; titles and descriptions drift
	if feed.Title != "" {
		source.Title = feed.Title
	}
	if feed.Description != "" {
		source.Description = feed.Description
	}
	source.LastFetchedAt = time.Now().UTC()

	result := &SyncResult{SourceID: sourceID}
	for _, entry := range feed.Entries {
		item := &core.ContentItem{
			ID:          core.NewID(),
			SourceID:    sourceID,
			IdentityKey: entry.GUID,
			Title:       entry.Title,
			MediaURL:    entry.MediaURL,
			PublishedAt: entry.PublishedAt,
			Status:      core.ItemStatusPending,
		}

		err := p.store.CreateItem(ctx, item)
		if core.IsDuplicate(err) {
			result.Known++
			continue
		}
		if err != nil {
			return nil, err
		}
		result.NewItems++
		source.ItemCount++

		job, err := p.ScheduleItem(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		result.Scheduled = append(result.Scheduled, job.ID)
	}

	if err := p.store.UpdateSource(ctx, source); err != nil {
		return nil, err
	}

	p.logger.Info("synced feed", "source_id", sourceID,
		"new", result.NewItems, "known", result.Known)
	return result, nil
}

// UploadDocument registers an uploaded document and schedules its
// processing job. The document's identity is a hash of its content, so
// uploading the same bytes twice returns the already-known item.
func (p *Pipeline) UploadDocument(ctx context.Context, filename string, content []byte, docType string) (*core.ContentItem, error) {
	if len(content) == 0 {
		return nil, ErrEmptyDocument
	}

	contentHash := core.HashContent(content)

	source, err := p.ensureDocumentSource(ctx, contentHash, filename)
	if err != nil {
		return nil, err
	}

	// Spool the bytes so the async job can read them
	spoolPath := filepath.Join(p.uploadDir, contentHash)
	if err := os.WriteFile(spoolPath, content, 0o600); err != nil {
		return nil, fmt.Errorf("spooling upload: %w", err)
	}

	item := &core.ContentItem{
		ID:          core.NewID(),
		SourceID:    source.ID,
		IdentityKey: contentHash,
		Title:       filename,
		MediaURL:    spoolPath,
		DocType:     docType,
		PublishedAt: time.Now().UTC(),
		Status:      core.ItemStatusPending,
	}

	err = p.store.CreateItem(ctx, item)
	if core.IsDuplicate(err) {
		existing, lookupErr := p.store.GetItemByIdentity(ctx, source.ID, contentHash)
		if lookupErr != nil {
			return nil, lookupErr
		}
		p.logger.Info("document already known", "item_id", existing.ID, "filename", filename)
		return existing, nil
	}
	if err != nil {
		return nil, err
	}

	source.ItemCount++
	if err := p.store.UpdateSource(ctx, source); err != nil {
		return nil, err
	}

	if _, err := p.ScheduleItem(ctx, item.ID); err != nil {
		return nil, err
	}
	return item, nil
}

func (p *Pipeline) ensureDocumentSource(ctx context.Context, contentHash, filename string) (*core.Source, error) {
	source := &core.Source{
		ID:    core.NewID(),
		Kind:  core.SourceKindDocument,
		Key:   contentHash,
		Title: filename,
	}
	err := p.store.CreateSource(ctx, source)
	if core.IsDuplicate(err) {
		return p.store.GetSourceByKey(ctx, core.SourceKindDocument, contentHash)
	}
	if err != nil {
		return nil, err
	}
	return source, nil
}

// ScheduleItem creates a processing job for the item and submits it to the
// worker pool. Returns core.ErrItemInFlight if the item already has an
// unsettled job.
func (p *Pipeline) ScheduleItem(ctx context.Context, itemID string) (*core.IngestionJob, error) {
	if _, err := p.store.GetItem(ctx, itemID); err != nil {
		return nil, err
	}

	job := &core.IngestionJob{
		ID:     core.NewID(),
		ItemID: itemID,
		State:  core.JobStateQueued,
	}
	if err := p.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	p.submit(job)
	return job, nil
}

// RecoverJobs re-enqueues jobs left in queued or running state by a
// previous process, then schedules any pending or processing item left
// without a job at all (a crash between item creation and job creation
// leaves that gap). Items whose vectors were already upserted but whose
// status flip never landed simply re-run: chunk point IDs are
// deterministic, so the re-upsert overwrites rather than duplicates.
func (p *Pipeline) RecoverJobs(ctx context.Context) (int, error) {
	recovered := 0
	for _, state := range []core.JobState{core.JobStateRunning, core.JobStateQueued, core.JobStateFailedRetry} {
		jobs, err := p.store.ListJobsByState(ctx, state)
		if err != nil {
			return recovered, err
		}
		for _, job := range jobs {
			if state != core.JobStateQueued {
				job.State = core.JobStateQueued
				if err := p.store.UpdateJob(ctx, job); err != nil {
					return recovered, err
				}
			}
			p.submit(job)
			recovered++
		}
	}

	for _, status := range []core.ItemStatus{core.ItemStatusPending, core.ItemStatusProcessing} {
		items, err := p.store.ListItemsByStatus(ctx, status)
		if err != nil {
			return recovered, err
		}
		for _, item := range items {
			_, err := p.ScheduleItem(ctx, item.ID)
			if core.IsInFlight(err) {
				// Covered by a job requeued above
				continue
			}
			if err != nil {
				return recovered, err
			}
			recovered++
		}
	}

	if recovered > 0 {
		p.logger.Info("recovered interrupted jobs", "count", recovered)
	}
	return recovered, nil
}

// submit hands the job to the worker pool. Processing errors are recorded
// on the job and item; they do not propagate.
func (p *Pipeline) submit(job *core.IngestionJob) {
	p.wg.Add(1)
	err := p.pool.Submit(func() {
		defer p.wg.Done()
		p.runJob(context.Background(), job.ID)
	})
	if err != nil {
		p.wg.Done()
		p.logger.Error("failed to submit job", "job_id", job.ID, "err", err)
	}
}
