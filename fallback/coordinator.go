package fallback

import (
	"context"
	"log/slog"

	"github.com/pondera-systems/pondera/retrieval"
)

// Coordinator merges web search results into query contexts that the
// knowledge base could not answer.
type Coordinator struct {
	searcher WebSearcher
	counter  retrieval.TokenCounter
	logger   *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator) error

// WithCoordinatorLogger sets a custom logger.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// WithTokenCounter replaces the default heuristic token counter.
func WithTokenCounter(counter retrieval.TokenCounter) CoordinatorOption {
	return func(c *Coordinator) error {
		if counter != nil {
			c.counter = counter
		}
		return nil
	}
}

// NewCoordinator creates a fallback coordinator.
func NewCoordinator(searcher WebSearcher, opts ...CoordinatorOption) (*Coordinator, error) {
	if searcher == nil {
		return nil, ErrSearcherRequired
	}

	c := &Coordinator{
		searcher: searcher,
		counter:  retrieval.HeuristicCounter{},
		logger:   slog.Default().With("component", "fallback"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Augment fills an insufficient-kb query context with web passages. At
// most one web search is made per query. Below-threshold knowledge-base
// hits are kept alongside the web passages so the caller still sees the
// closest local material. A provider failure degrades the context to
// knowledge-base-only with a note; Augment never returns an error for
// that.
//
// Contexts with any other outcome are returned untouched.
func (c *Coordinator) Augment(ctx context.Context, qc *retrieval.QueryContext) *retrieval.QueryContext {
	if qc.Outcome != retrieval.OutcomeInsufficientKB {
		return qc
	}

	// The closest KB material stays visible even though it missed the
	// threshold
	for _, hit := range qc.Hits {
		qc.Passages = append(qc.Passages, retrieval.Passage{
			Text:        hit.Text,
			Score:       hit.Score,
			Attribution: retrieval.AttributionKnowledgeBase,
			ItemID:      hit.ItemID,
			SourceID:    hit.SourceID,
			Section:     hit.Section,
			Tokens:      c.counter.Count(hit.Text),
		})
	}

	results, err := c.searcher.Search(ctx, qc.Query)
	if err != nil {
		c.logger.Warn("web fallback unavailable, answering knowledge-base-only",
			"query", qc.Query, "err", err)
		qc.Note = "web search unavailable; answer drawn from knowledge base only"
		return qc
	}

	for _, r := range results {
		text := r.Snippet
		if text == "" {
			text = r.Content
		}
		if text == "" {
			continue
		}
		qc.Passages = append(qc.Passages, retrieval.Passage{
			Text:        text,
			Score:       r.Score,
			Attribution: retrieval.AttributionWeb,
			ItemTitle:   r.Title,
			URL:         r.URL,
			Tokens:      c.counter.Count(text),
		})
	}

	c.logger.Info("augmented answer with web results",
		"query", qc.Query, "web_results", len(results))
	return qc
}
