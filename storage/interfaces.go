package storage

import (
	"context"

	"github.com/pondera-systems/pondera/core"
)

// SourceStore provides operations for managing content sources.
// Implementations must be thread-safe and support concurrent access.
type SourceStore interface {
	// CreateSource persists a new source.
	// Returns core.ErrDuplicateItem if a source with the same (kind, key)
	// already exists.
	CreateSource(ctx context.Context, source *core.Source) error

	// GetSource retrieves a source by ID.
	// Returns core.ErrNotFound if the source doesn't exist.
	GetSource(ctx context.Context, id string) (*core.Source, error)

	// GetSourceByKey retrieves a source by its (kind, key) identity.
	// Returns core.ErrNotFound if no matching source exists.
	GetSourceByKey(ctx context.Context, kind core.SourceKind, key string) (*core.Source, error)

	// ListSources retrieves all registered sources ordered by creation time.
	ListSources(ctx context.Context) ([]*core.Source, error)

	// UpdateSource updates a source's mutable fields (title, description,
	// last-fetched timestamp, item count).
	// Returns core.ErrNotFound if the source doesn't exist.
	UpdateSource(ctx context.Context, source *core.Source) error
}

// ItemStore provides operations for managing content items and the
// deduplication ledger.
type ItemStore interface {
	// CreateItem persists a new content item in status pending.
	// Returns core.ErrDuplicateItem if an item with the same
	// (source_id, identity_key) already exists. The duplicate check is
	// enforced by the store, not the caller, so concurrent ingestion of
	// the same item is safe.
	CreateItem(ctx context.Context, item *core.ContentItem) error

	// GetItem retrieves a content item by ID.
	// Returns core.ErrNotFound if the item doesn't exist.
	GetItem(ctx context.Context, id string) (*core.ContentItem, error)

	// GetItemByIdentity retrieves an item by its dedup identity.
	// Returns core.ErrNotFound if no matching item exists.
	GetItemByIdentity(ctx context.Context, sourceID, identityKey string) (*core.ContentItem, error)

	// ListItemsBySource retrieves all items belonging to a source,
	// ordered by publication time descending.
	ListItemsBySource(ctx context.Context, sourceID string) ([]*core.ContentItem, error)

	// ListItemsByStatus retrieves all items in the given status across
	// all sources, ordered by creation time.
	ListItemsByStatus(ctx context.Context, status core.ItemStatus) ([]*core.ContentItem, error)

	// UpdateItem updates an item's processing state (status, chunk IDs,
	// attempts, last error, processed-at timestamp).
	// Returns core.ErrNotFound if the item doesn't exist.
	UpdateItem(ctx context.Context, item *core.ContentItem) error
}

// JobStore provides operations for the asynchronous ingestion job ledger.
type JobStore interface {
	// CreateJob persists a new job in state queued.
	// Returns core.ErrItemInFlight if the item already has a job in a
	// non-terminal state.
	CreateJob(ctx context.Context, job *core.IngestionJob) error

	// GetJob retrieves a job by ID.
	// Returns core.ErrNotFound if the job doesn't exist.
	GetJob(ctx context.Context, id string) (*core.IngestionJob, error)

	// GetActiveJobForItem retrieves the item's non-terminal job, if any.
	// Returns core.ErrNotFound when no job is in flight.
	GetActiveJobForItem(ctx context.Context, itemID string) (*core.IngestionJob, error)

	// ListJobsByState retrieves all jobs in the given state, ordered by
	// creation time. Used at startup to recover work interrupted by a
	// crash.
	ListJobsByState(ctx context.Context, state core.JobState) ([]*core.IngestionJob, error)

	// UpdateJob updates a job's state, attempts, and error message.
	// Returns core.ErrNotFound if the job doesn't exist.
	UpdateJob(ctx context.Context, job *core.IngestionJob) error
}

// MetadataStore aggregates the relational side of the system: sources,
// content items, and ingestion jobs.
type MetadataStore interface {
	SourceStore
	ItemStore
	JobStore

	// Close closes the store and releases resources.
	Close() error
}

// SearchFilter restricts a vector search to a subset of the index.
// Zero-value fields apply no restriction.
type SearchFilter struct {
	SourceIDs []string
	ItemIDs   []string
	DocTypes  []string
}

// Empty reports whether the filter restricts nothing.
func (f SearchFilter) Empty() bool {
	return len(f.SourceIDs) == 0 && len(f.ItemIDs) == 0 && len(f.DocTypes) == 0
}

// VectorIndex stores chunk embeddings and answers similarity queries.
// Implementations must be thread-safe.
type VectorIndex interface {
	// EnsureReady prepares the index for vectors of the given dimension,
	// creating backing structures on first use. Idempotent.
	EnsureReady(ctx context.Context, dimension int) error

	// Upsert writes chunks keyed by their deterministic point IDs.
	// Re-upserting a chunk overwrites the previous point instead of
	// creating a duplicate.
	Upsert(ctx context.Context, chunks []*core.Chunk) error

	// Search returns up to limit chunks similar to the query vector with
	// score >= threshold, ordered by score descending. The threshold is
	// inclusive: a hit scoring exactly threshold is returned.
	Search(ctx context.Context, vector []float32, limit int, threshold float32, filter SearchFilter) ([]*core.SearchHit, error)

	// DeleteByItem removes all points belonging to a content item.
	DeleteByItem(ctx context.Context, itemID string) error

	// Count returns the number of points in the index.
	Count(ctx context.Context) (uint64, error)

	// Close closes the index and releases resources.
	Close() error
}
