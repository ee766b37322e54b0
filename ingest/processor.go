package ingest

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pondera-systems/pondera/core"
)

// runJob drives one ingestion job through its state machine. The retry
// loop runs through the job itself: every transient attempt increments the
// persisted job and item counters, and once the configured attempt budget
// is spent the job settles failed-terminal. A malformed item fails
// terminally on the first attempt without poisoning the rest of the batch.
func (p *Pipeline) runJob(ctx context.Context, jobID string) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		p.logger.Error("job vanished before start", "job_id", jobID, "err", err)
		return
	}

	item, err := p.store.GetItem(ctx, job.ItemID)
	if err != nil {
		p.logger.Error("job item missing", "job_id", jobID, "item_id", job.ItemID, "err", err)
		p.settleJob(ctx, job, core.JobStateFailedTerminal, err)
		return
	}

	// A recovered job may arrive with its budget already spent
	if job.Attempts >= p.maxAttempts {
		p.failItem(ctx, item)
		p.settleJob(ctx, job, core.JobStateFailedTerminal,
			fmt.Errorf("attempt budget exhausted"))
		return
	}

	job.State = core.JobStateRunning
	if err := p.store.UpdateJob(ctx, job); err != nil {
		p.logger.Error("failed to mark job running", "job_id", jobID, "err", err)
		return
	}

	procErr := RetryWithBackoff(ctx, func() error {
		job.Attempts++
		item.Attempts = job.Attempts
		item.Status = core.ItemStatusProcessing
		if err := p.store.UpdateJob(ctx, job); err != nil {
			return err
		}
		if err := p.store.UpdateItem(ctx, item); err != nil {
			return err
		}

		p.logger.Info("processing item", "job_id", jobID, "item_id", item.ID,
			"attempt", job.Attempts, "title", item.Title)
		return p.processItem(ctx, item)
	}, p.maxAttempts-job.Attempts, p.baseDelay)

	if procErr == nil {
		p.settleJob(ctx, job, core.JobStateSucceeded, nil)
		return
	}

	item.LastError = procErr.Error()

	switch {
	case core.IsMalformed(procErr):
		// Content-level failure; retrying cannot help
		p.failItem(ctx, item)
		p.settleJob(ctx, job, core.JobStateFailedTerminal, procErr)
	case job.Attempts >= p.maxAttempts:
		p.failItem(ctx, item)
		p.settleJob(ctx, job, core.JobStateFailedTerminal,
			fmt.Errorf("attempt budget exhausted: %w", procErr))
	default:
		// Neither transient nor malformed; park with the remaining
		// budget for a later recovery pass
		p.failItem(ctx, item)
		p.settleJob(ctx, job, core.JobStateFailedRetry, procErr)
	}
}

// processItem runs extraction, chunking, embedding, and indexing for one
// item. The vector upsert is confirmed before the item flips to completed:
// a crash between the two re-runs the item and the deterministic point IDs
// make the second upsert overwrite the first.
func (p *Pipeline) processItem(ctx context.Context, item *core.ContentItem) error {
	source, err := p.store.GetSource(ctx, item.SourceID)
	if err != nil {
		return err
	}

	segments, err := p.extractSegments(ctx, source, item)
	if err != nil {
		return err
	}

	chunks := p.chunker.Chunk(item.ID, segments)
	if len(chunks) == 0 {
		return core.Malformed("extraction produced no text")
	}
	for _, chunk := range chunks {
		chunk.SourceID = item.SourceID
		chunk.DocType = item.DocType
		chunk.Metadata = map[string]string{"title": item.Title}
	}

	if err := p.embedChunks(ctx, chunks); err != nil {
		return err
	}

	upsertCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	if err := p.index.Upsert(upsertCtx, chunks); err != nil {
		return err
	}

	// Vectors are durably indexed; only now does the item complete
	item.Status = core.ItemStatusCompleted
	item.LastError = ""
	item.ProcessedAt = time.Now().UTC()
	item.ChunkIDs = make([]string, len(chunks))
	for i, chunk := range chunks {
		item.ChunkIDs[i] = chunk.PointID()
	}
	if err := p.store.UpdateItem(ctx, item); err != nil {
		return err
	}

	p.logger.Info("item completed", "item_id", item.ID, "chunks", len(chunks))
	return nil
}

func (p *Pipeline) extractSegments(ctx context.Context, source *core.Source, item *core.ContentItem) ([]core.Segment, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	switch source.Kind {
	case core.SourceKindFeed:
		if item.MediaURL == "" {
			return nil, core.Malformed("feed entry has no media URL")
		}
		return p.extractor.ExtractAudio(callCtx, item.MediaURL)
	case core.SourceKindDocument:
		content, err := os.ReadFile(item.MediaURL)
		if err != nil {
			return nil, fmt.Errorf("reading spooled document: %w", err)
		}
		return p.extractor.ExtractDocument(callCtx, content, item.Title)
	default:
		return nil, core.Malformed(fmt.Sprintf("unknown source kind %q", source.Kind))
	}
}

func (p *Pipeline) embedChunks(ctx context.Context, chunks []*core.Chunk) error {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()
	vectors, err := p.embedder.EmbedTexts(callCtx, texts)
	if err != nil {
		return err
	}

	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i, chunk := range chunks {
		chunk.Vector = vectors[i]
	}
	return nil
}

func (p *Pipeline) failItem(ctx context.Context, item *core.ContentItem) {
	item.Status = core.ItemStatusFailed
	if err := p.store.UpdateItem(ctx, item); err != nil {
		p.logger.Error("failed to record item failure", "item_id", item.ID, "err", err)
	}
}

// settleJob records the job's final state for this run.
func (p *Pipeline) settleJob(ctx context.Context, job *core.IngestionJob, state core.JobState, cause error) {
	job.State = state
	if cause != nil {
		job.LastError = cause.Error()
	} else {
		job.LastError = ""
	}
	if err := p.store.UpdateJob(ctx, job); err != nil {
		p.logger.Error("failed to settle job", "job_id", job.ID, "state", state, "err", err)
		return
	}

	switch state {
	case core.JobStateSucceeded:
		p.logger.Info("job succeeded", "job_id", job.ID)
	case core.JobStateFailedRetry:
		p.logger.Warn("job parked for retry", "job_id", job.ID,
			"attempt", job.Attempts, "err", cause)
	case core.JobStateFailedTerminal:
		p.logger.Error("job failed terminally", "job_id", job.ID, "err", cause)
	}
}
