package core

import (
	"time"
)

// SourceKind identifies the type of a registered content source.
type SourceKind string

const (
	// SourceKindFeed is a podcast RSS/Atom feed polled for new episodes.
	SourceKindFeed SourceKind = "feed"
	// SourceKindDocument is an uploaded document (PDF, transcript, ...).
	SourceKindDocument SourceKind = "document"
)

// ItemStatus tracks the processing lifecycle of a ContentItem.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
)

// JobState tracks the lifecycle of an asynchronous ingestion job.
type JobState string

const (
	JobStateQueued         JobState = "queued"
	JobStateRunning        JobState = "running"
	JobStateSucceeded      JobState = "succeeded"
	JobStateFailedRetry    JobState = "failed-retryable"
	JobStateFailedTerminal JobState = "failed-terminal"
)

// Source is a registered origin of content: a podcast feed or an uploaded
// document. The Key is the stable identity (feed URL or file content hash)
// used to detect re-registration.
type Source struct {
	ID            string
	Kind          SourceKind
	Key           string
	Title         string
	Description   string
	LastFetchedAt time.Time // cursor state lives here, never in process globals
	ItemCount     int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ContentItem is one feed entry or one uploaded document. The IdentityKey
// (entry GUID or file content hash) is unique within its Source and is the
// sole deduplication mechanism: an item with a previously-seen key is never
// reprocessed, even if its bytes change.
type ContentItem struct {
	ID          string
	SourceID    string
	IdentityKey string
	Title       string
	MediaURL    string
	DocType     string // document sources only: "article", "cv", "report", ...
	PublishedAt time.Time
	Status      ItemStatus
	ChunkIDs    []string
	Attempts    int
	LastError   string
	ProcessedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TimeRange is a span within an audio recording.
type TimeRange struct {
	Start time.Duration
	End   time.Duration
}

// IsZero reports whether the range carries no information.
func (r TimeRange) IsZero() bool {
	return r.Start == 0 && r.End == 0
}

// Union widens the range to cover other. A zero range adopts the other.
func (r TimeRange) Union(other TimeRange) TimeRange {
	if r.IsZero() {
		return other
	}
	if other.IsZero() {
		return r
	}
	out := r
	if other.Start < out.Start {
		out.Start = other.Start
	}
	if other.End > out.End {
		out.End = other.End
	}
	return out
}

// Segment is a piece of extracted text as returned by the extraction
// service. Audio content carries a time alignment; structured documents
// carry a section label instead.
type Segment struct {
	Text    string
	Start   time.Duration
	End     time.Duration
	Section string
}

// Chunk is the unit of embedded text. Its identity is a deterministic
// function of (ItemID, Ordinal) so re-ingestion upserts the same vector
// index points instead of creating duplicates.
type Chunk struct {
	ItemID    string
	SourceID  string
	DocType   string // document sources only
	Ordinal   int
	Text      string
	TimeRange TimeRange // audio sources; zero when not applicable
	Section   string    // structured documents; empty when not applicable
	Metadata  map[string]string
	Vector    []float32 // populated by the embedding step
}

// PointID returns the chunk's deterministic vector index identifier.
func (c *Chunk) PointID() string {
	return ChunkPointID(c.ItemID, c.Ordinal)
}

// IngestionJob is a unit of asynchronous work over one ContentItem.
type IngestionJob struct {
	ID        string
	ItemID    string
	Attempts  int
	LastError string
	State     JobState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the job has settled and will not run again.
func (j *IngestionJob) Terminal() bool {
	return j.State == JobStateSucceeded || j.State == JobStateFailedTerminal
}

// SearchHit is a scored chunk returned from the vector index.
type SearchHit struct {
	ChunkID  string
	ItemID   string
	SourceID string
	Text     string
	Score    float32
	Section  string
	Metadata map[string]string
}
