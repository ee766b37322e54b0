// Copyright 2026 Pondera Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/pondera-systems/pondera/ai"
	"github.com/pondera-systems/pondera/core"
	"github.com/pondera-systems/pondera/storage"
)

const (
	// DefaultThreshold is the inclusive relevance gate: a hit scoring
	// exactly this value counts as relevant.
	DefaultThreshold = 0.7

	// DefaultMaxHits bounds the vector search fan-out.
	DefaultMaxHits = 10

	// DefaultMaxEntities is how many distinct items a query may match
	// before the engine asks for disambiguation.
	DefaultMaxEntities = 3

	// DefaultTokenBudget bounds the assembled context size.
	DefaultTokenBudget = 2048
)

// Engine answers queries over the ingested knowledge base.
type Engine struct {
	store    storage.MetadataStore
	index    storage.VectorIndex
	embedder ai.Embedder
	counter  TokenCounter
	logger   *slog.Logger

	threshold   float32
	maxHits     int
	maxEntities int
	tokenBudget int
}

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// WithThreshold sets the inclusive relevance threshold.
func WithThreshold(threshold float32) Option {
	return func(e *Engine) error {
		e.threshold = threshold
		return nil
	}
}

// WithMaxHits sets the vector search fan-out.
func WithMaxHits(maxHits int) Option {
	return func(e *Engine) error {
		if maxHits > 0 {
			e.maxHits = maxHits
		}
		return nil
	}
}

// WithMaxEntities sets how many distinct items a query may match before
// disambiguation is required.
func WithMaxEntities(maxEntities int) Option {
	return func(e *Engine) error {
		if maxEntities > 0 {
			e.maxEntities = maxEntities
		}
		return nil
	}
}

// WithTokenBudget sets the context assembly budget.
func WithTokenBudget(budget int) Option {
	return func(e *Engine) error {
		if budget > 0 {
			e.tokenBudget = budget
		}
		return nil
	}
}

// WithTokenCounter replaces the default heuristic counter, e.g. with a
// TiktokenCounter for exact counts.
func WithTokenCounter(counter TokenCounter) Option {
	return func(e *Engine) error {
		if counter != nil {
			e.counter = counter
		}
		return nil
	}
}

// NewEngine creates a query engine.
func NewEngine(
	store storage.MetadataStore,
	index storage.VectorIndex,
	embedder ai.Embedder,
	opts ...Option,
) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	e := &Engine{
		store:       store,
		index:       index,
		embedder:    embedder,
		counter:     HeuristicCounter{},
		logger:      slog.Default().With("component", "retrieval"),
		threshold:   DefaultThreshold,
		maxHits:     DefaultMaxHits,
		maxEntities: DefaultMaxEntities,
		tokenBudget: DefaultTokenBudget,
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Query runs the full retrieval pipeline for the query string.
func (e *Engine) Query(ctx context.Context, query string, filter storage.SearchFilter) (*QueryContext, error) {
	return e.QueryWithMonitor(ctx, query, filter, nil)
}

// QueryWithMonitor runs the retrieval pipeline with monitoring. The
// monitor receives callbacks at each stage.
//
// If the context deadline expires mid-pipeline the partial QueryContext
// is returned with Truncated set, never an error.
func (e *Engine) QueryWithMonitor(ctx context.Context, query string, filter storage.SearchFilter, monitor QueryMonitor) (*QueryContext, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	monitor.Start(query)
	qc := &QueryContext{Query: query}

	embedding, err := e.embedder.EmbedText(ctx, query)
	if err != nil {
		if deadlineExpired(err) {
			qc.Truncated = true
			monitor.Finish(qc)
			return qc, nil
		}
		if providerDown(err) {
			// An unreachable provider degrades to the zero-hit outcome
			// so the web fallback can still answer
			e.logger.Warn("embedding unavailable, degrading query", "err", err)
			qc.Outcome = OutcomeInsufficientKB
			qc.Note = "knowledge base unavailable; falling back to web search"
			monitor.Finish(qc)
			return qc, nil
		}
		e.logger.Error("error embedding query", "err", err)
		return nil, err
	}
	qc.Embedding = embedding
	monitor.AfterEmbedding(len(embedding))

	// Search without a score floor so below-threshold hits stay visible
	// to the fallback coordinator; the relevance gate is applied here.
	hits, err := e.index.Search(ctx, embedding, e.maxHits, 0, filter)
	if err != nil {
		if deadlineExpired(err) {
			qc.Truncated = true
			monitor.Finish(qc)
			return qc, nil
		}
		if providerDown(err) {
			e.logger.Warn("vector index unavailable, degrading query", "err", err)
			qc.Outcome = OutcomeInsufficientKB
			qc.Note = "knowledge base unavailable; falling back to web search"
			monitor.Finish(qc)
			return qc, nil
		}
		e.logger.Error("error searching index", "err", err)
		return nil, err
	}
	qc.Hits = hits
	monitor.AfterVectorSearch(hits)

	// Inclusive gate: a hit at exactly the threshold is relevant
	relevant := make([]*core.SearchHit, 0, len(hits))
	for _, hit := range hits {
		if hit.Score >= e.threshold {
			relevant = append(relevant, hit)
		}
	}

	if len(relevant) == 0 {
		qc.Outcome = OutcomeInsufficientKB
		monitor.Finish(qc)
		return qc, nil
	}

	candidates, titles := e.groupByItem(ctx, relevant)
	monitor.AfterGrouping(candidates)

	if len(candidates) > e.maxEntities {
		// A query that names one candidate's title verbatim is not
		// actually ambiguous; narrow to that item instead of asking.
		itemID, ok := resolveByTitle(query, candidates)
		if !ok {
			qc.Outcome = OutcomeNeedsDisambiguation
			qc.Candidates = candidates
			monitor.Disambiguation(candidates)
			monitor.Finish(qc)
			return qc, nil
		}
		e.logger.Debug("disambiguation resolved by verbatim title match", "item_id", itemID)
		narrowed := relevant[:0]
		for _, hit := range relevant {
			if hit.ItemID == itemID {
				narrowed = append(narrowed, hit)
			}
		}
		relevant = narrowed
	}

	qc.Passages = e.assemble(relevant, titles, monitor)
	qc.Outcome = OutcomeAnswered
	if ctx.Err() != nil {
		qc.Truncated = true
	}
	monitor.Finish(qc)
	return qc, nil
}

// groupByItem collapses hits to one candidate per owning item, ranked
// by each item's best score. Equal top scores keep every tied item in
// the list. Also returns the resolved item titles for attribution.
func (e *Engine) groupByItem(ctx context.Context, hits []*core.SearchHit) ([]Candidate, map[string]string) {
	byItem := make(map[string]*Candidate)
	order := make([]string, 0)
	for _, hit := range hits {
		c, ok := byItem[hit.ItemID]
		if !ok {
			c = &Candidate{ItemID: hit.ItemID, TopScore: hit.Score}
			byItem[hit.ItemID] = c
			order = append(order, hit.ItemID)
		}
		c.Hits++
		if hit.Score > c.TopScore {
			c.TopScore = hit.Score
		}
	}

	titles := make(map[string]string, len(byItem))
	for _, itemID := range order {
		item, err := e.store.GetItem(ctx, itemID)
		if err != nil {
			// Index and metadata store can drift briefly during a
			// rebuild; attribution degrades to the bare item ID
			e.logger.Warn("item lookup failed during grouping", "item_id", itemID, "err", err)
			continue
		}
		titles[itemID] = item.Title
		byItem[itemID].Title = item.Title
	}

	candidates := make([]Candidate, 0, len(byItem))
	for _, itemID := range order {
		candidates = append(candidates, *byItem[itemID])
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].TopScore != candidates[j].TopScore {
			return candidates[i].TopScore > candidates[j].TopScore
		}
		return candidates[i].ItemID < candidates[j].ItemID
	})
	return candidates, titles
}

// assemble builds the context passages from relevant hits in descending
// score order. Chunks are included whole; assembly stops when the next
// chunk would exceed the token budget. The best hit is always included
// even if it alone exceeds the budget.
func (e *Engine) assemble(hits []*core.SearchHit, titles map[string]string, monitor QueryMonitor) []Passage {
	passages := make([]Passage, 0, len(hits))
	used := 0
	for _, hit := range hits {
		tokens := e.counter.Count(hit.Text)
		if len(passages) > 0 && used+tokens > e.tokenBudget {
			monitor.PassageDropped(hit.ChunkID, "token budget")
			break
		}
		p := Passage{
			Text:        hit.Text,
			Score:       hit.Score,
			Attribution: AttributionKnowledgeBase,
			ItemID:      hit.ItemID,
			ItemTitle:   titles[hit.ItemID],
			SourceID:    hit.SourceID,
			Section:     hit.Section,
			Tokens:      tokens,
		}
		passages = append(passages, p)
		used += tokens
		monitor.PassageIncluded(p)
	}
	return passages
}

func deadlineExpired(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// providerDown reports whether the error means the knowledge base could
// not be consulted at all, as opposed to a caller mistake.
func providerDown(err error) bool {
	return errors.Is(err, core.ErrProviderUnavailable) || core.IsTransient(err)
}
