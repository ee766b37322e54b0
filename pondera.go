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


// Package pondera wires the knowledge-retrieval system: a metadata
// store, a vector index, the ingestion pipeline, and the query engine,
// all configured from a single Config.
package pondera

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pondera-systems/pondera/ai"
	"github.com/pondera-systems/pondera/ai/openai"
	"github.com/pondera-systems/pondera/config"
	"github.com/pondera-systems/pondera/extract"
	"github.com/pondera-systems/pondera/fallback"
	"github.com/pondera-systems/pondera/ingest"
	"github.com/pondera-systems/pondera/ingest/chunker"
	"github.com/pondera-systems/pondera/retrieval"
	"github.com/pondera-systems/pondera/storage"
	"github.com/pondera-systems/pondera/storage/badgervec"
	"github.com/pondera-systems/pondera/storage/qdrant"
	"github.com/pondera-systems/pondera/storage/sqlite"
)

// System is the fully wired application.
type System struct {
	cfg         *config.Config
	store       storage.MetadataStore
	index       storage.VectorIndex
	provider    ai.Provider
	pipeline    *ingest.Pipeline
	engine      *retrieval.Engine
	coordinator *fallback.Coordinator
	logger      *slog.Logger
}

// systemOptions collects optional overrides applied before wiring.
type systemOptions struct {
	embedder  ai.Embedder
	extractor extract.Extractor
	searcher  fallback.WebSearcher
}

// SystemOption overrides a component, typically in tests.
type SystemOption func(*systemOptions)

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(embedder ai.Embedder) SystemOption {
	return func(o *systemOptions) {
		o.embedder = embedder
	}
}

// WithExtractor replaces the configured extraction client.
func WithExtractor(extractor extract.Extractor) SystemOption {
	return func(o *systemOptions) {
		o.extractor = extractor
	}
}

// WithWebSearcher replaces the configured web search client.
func WithWebSearcher(searcher fallback.WebSearcher) SystemOption {
	return func(o *systemOptions) {
		o.searcher = searcher
	}
}

// Open wires a System from configuration. The configuration must
// already be validated.
func Open(ctx context.Context, cfg *config.Config, opts ...SystemOption) (*System, error) {
	options := &systemOptions{}
	for _, opt := range opts {
		opt(options)
	}

	store, err := sqlite.NewStore(cfg.Metadata.Path)
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	index, err := openVectorIndex(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := index.EnsureReady(ctx, cfg.Embedding.Dimension); err != nil {
		index.Close()
		store.Close()
		return nil, fmt.Errorf("preparing vector index: %w", err)
	}

	var provider ai.Provider
	embedder := options.embedder
	if embedder == nil {
		embeddingCfg := ai.NewConfig(
			ai.WithHost(cfg.Embedding.Host),
			ai.WithModel(cfg.Embedding.Model),
			ai.WithAPIKey(config.APIKey(cfg.Embedding.APIKeyEnv)),
			ai.WithBatchSize(cfg.Embedding.BatchSize),
		)
		provider, err = openai.NewProvider(embeddingCfg)
		if err != nil {
			index.Close()
			store.Close()
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
		embedder = provider.Embedder()
	}

	extractor := options.extractor
	if extractor == nil {
		extractor = extract.NewClient(cfg.Extraction.Host,
			extract.WithAPIKey(config.APIKey(cfg.Extraction.APIKeyEnv)),
			extract.WithTimeout(cfg.Extraction.Timeout),
		)
	}

	pipeline, err := ingest.NewPipeline(store, index, embedder, extractor,
		ingest.WithPoolSize(cfg.Ingest.Workers),
		ingest.WithChunker(chunker.New(
			chunker.WithChunkSize(cfg.Ingest.ChunkSize),
			chunker.WithOverlap(cfg.Ingest.ChunkOverlap),
		)),
		ingest.WithRetryPolicy(cfg.Ingest.MaxAttempts, cfg.Ingest.RetryBaseDelay),
		ingest.WithCallTimeout(cfg.Ingest.CallTimeout),
	)
	if err != nil {
		index.Close()
		store.Close()
		return nil, fmt.Errorf("creating ingestion pipeline: %w", err)
	}

	engine, err := retrieval.NewEngine(store, index, embedder,
		retrieval.WithThreshold(cfg.Retrieval.RelevanceThreshold),
		retrieval.WithMaxHits(cfg.Retrieval.TopK),
		retrieval.WithMaxEntities(cfg.Retrieval.MaxEntities),
		retrieval.WithTokenBudget(cfg.Retrieval.ContextBudget),
	)
	if err != nil {
		pipeline.Release()
		index.Close()
		store.Close()
		return nil, fmt.Errorf("creating retrieval engine: %w", err)
	}

	searcher := options.searcher
	if searcher == nil {
		searcher, err = fallback.NewClient(config.APIKey(cfg.WebSearch.APIKeyEnv),
			fallback.WithBaseURL(strings.TrimRight(cfg.WebSearch.Host, "/")+"/search"),
			fallback.WithMaxResults(cfg.WebSearch.MaxResults),
			fallback.WithTimeout(cfg.WebSearch.Timeout),
		)
		if err != nil {
			pipeline.Release()
			index.Close()
			store.Close()
			return nil, fmt.Errorf("creating web search client: %w", err)
		}
	}
	coordinator, err := fallback.NewCoordinator(searcher)
	if err != nil {
		pipeline.Release()
		index.Close()
		store.Close()
		return nil, err
	}

	return &System{
		cfg:         cfg,
		store:       store,
		index:       index,
		provider:    provider,
		pipeline:    pipeline,
		engine:      engine,
		coordinator: coordinator,
		logger:      slog.Default(),
	}, nil
}

func openVectorIndex(cfg *config.Config) (storage.VectorIndex, error) {
	switch cfg.VectorIndex.Backend {
	case "badger":
		return badgervec.NewIndex(cfg.VectorIndex.Path)
	case "qdrant":
		return qdrant.NewIndex(cfg.VectorIndex.Addr, cfg.VectorIndex.Collection)
	default:
		return nil, fmt.Errorf("unknown vector index backend %q", cfg.VectorIndex.Backend)
	}
}

// Close drains in-flight jobs and releases every component.
func (s *System) Close() error {
	s.pipeline.Release()

	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.logger.Error("error closing embedding provider", "err", err)
		}
	}
	if err := s.index.Close(); err != nil {
		s.logger.Error("error closing vector index", "err", err)
		return err
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing metadata store", "err", err)
		return err
	}
	return nil
}

// Config returns the configuration the system was wired from.
func (s *System) Config() *config.Config { return s.cfg }

// Store returns the metadata store.
func (s *System) Store() storage.MetadataStore { return s.store }

// Index returns the vector index.
func (s *System) Index() storage.VectorIndex { return s.index }

// Pipeline returns the ingestion pipeline.
func (s *System) Pipeline() *ingest.Pipeline { return s.pipeline }

// Engine returns the retrieval engine.
func (s *System) Engine() *retrieval.Engine { return s.engine }

// Coordinator returns the web-fallback coordinator.
func (s *System) Coordinator() *fallback.Coordinator { return s.coordinator }
