// Package config loads application configuration from a YAML file plus
// environment overrides (.env supported via godotenv). Validation failures
// are fatal at startup; configuration is never re-read mid-pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// EmbeddingConfig configures the OpenAI-compatible embedding provider.
type EmbeddingConfig struct {
	Host      string `yaml:"host"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BatchSize int    `yaml:"batch_size"`
	Dimension int    `yaml:"dimension"`
}

// ExtractionConfig configures the content-extraction service (speech-to-text
// for audio, text/OCR for documents).
type ExtractionConfig struct {
	Host        string        `yaml:"host"`
	Timeout     time.Duration `yaml:"timeout"`
	APIKeyEnv   string        `yaml:"api_key_env"`
}

// VectorIndexConfig selects and configures the vector index backend.
type VectorIndexConfig struct {
	// Backend is "badger" (embedded) or "qdrant".
	Backend    string `yaml:"backend"`
	Path       string `yaml:"path"`       // badger
	Addr       string `yaml:"addr"`       // qdrant gRPC address
	Collection string `yaml:"collection"` // qdrant
}

// MetadataConfig configures the relational metadata store.
type MetadataConfig struct {
	Path string `yaml:"path"`
}

// IngestConfig configures chunking and the background job model.
type IngestConfig struct {
	ChunkSize      int           `yaml:"chunk_size"`
	ChunkOverlap   int           `yaml:"chunk_overlap"`
	Workers        int           `yaml:"workers"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
}

// RetrievalConfig configures the query pipeline.
type RetrievalConfig struct {
	TopK               int           `yaml:"top_k"`
	RelevanceThreshold float32       `yaml:"relevance_threshold"`
	MaxEntities        int           `yaml:"max_entities"`
	ContextBudget      int           `yaml:"context_budget"`
	QueryDeadline      time.Duration `yaml:"query_deadline"`
}

// WebSearchConfig configures the web-search fallback provider.
type WebSearchConfig struct {
	Host       string        `yaml:"host"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	MaxResults int           `yaml:"max_results"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Config is the root application configuration.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	Server      ServerConfig      `yaml:"server"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Extraction  ExtractionConfig  `yaml:"extraction"`
	VectorIndex VectorIndexConfig `yaml:"vector_index"`
	Metadata    MetadataConfig    `yaml:"metadata"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	WebSearch   WebSearchConfig   `yaml:"web_search"`
}

// Load reads configuration from path. A missing file yields defaults. A .env
// file in the working directory is loaded first so `${VAR}` style key
// environment variables resolve.
func Load(path string) (*Config, error) {
	// Ignore a missing .env; explicit environment still applies.
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a Config with development defaults.
func Default() *Config {
	cfg := &Config{
		LogLevel: "info",
		Server:   ServerConfig{Addr: ":8080"},
		Embedding: EmbeddingConfig{
			Host:      "http://localhost:11434/v1",
			Model:     "text-embedding-3-small",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Extraction: ExtractionConfig{
			Host:      "http://localhost:9090",
			APIKeyEnv: "ASSEMBLYAI_API_KEY",
		},
		VectorIndex: VectorIndexConfig{
			Backend:    "badger",
			Path:       "data/vectors",
			Collection: "content_chunks",
		},
		Metadata:  MetadataConfig{Path: "data"},
		WebSearch: WebSearchConfig{Host: "https://api.tavily.com", APIKeyEnv: "TAVILY_API_KEY"},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = 64
	}
	if c.Embedding.Dimension == 0 {
		c.Embedding.Dimension = 1536
	}
	if c.Extraction.Timeout == 0 {
		c.Extraction.Timeout = 2 * time.Minute
	}
	if c.Ingest.ChunkSize == 0 {
		c.Ingest.ChunkSize = 1000
	}
	if c.Ingest.ChunkOverlap == 0 {
		c.Ingest.ChunkOverlap = 100
	}
	if c.Ingest.Workers == 0 {
		c.Ingest.Workers = 4
	}
	if c.Ingest.MaxAttempts == 0 {
		c.Ingest.MaxAttempts = 5
	}
	if c.Ingest.RetryBaseDelay == 0 {
		c.Ingest.RetryBaseDelay = time.Second
	}
	if c.Ingest.CallTimeout == 0 {
		c.Ingest.CallTimeout = 90 * time.Second
	}
	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 10
	}
	if c.Retrieval.RelevanceThreshold == 0 {
		c.Retrieval.RelevanceThreshold = 0.7
	}
	if c.Retrieval.MaxEntities == 0 {
		c.Retrieval.MaxEntities = 1
	}
	if c.Retrieval.ContextBudget == 0 {
		c.Retrieval.ContextBudget = 4000
	}
	if c.Retrieval.QueryDeadline == 0 {
		c.Retrieval.QueryDeadline = 30 * time.Second
	}
	if c.WebSearch.MaxResults == 0 {
		c.WebSearch.MaxResults = 5
	}
	if c.WebSearch.Timeout == 0 {
		c.WebSearch.Timeout = 30 * time.Second
	}
}

// Validate checks that the configuration is complete. Called once at
// startup; any error here is fatal.
func (c *Config) Validate() error {
	if c.Embedding.Host == "" {
		return errors.New("config: embedding.host is required")
	}
	if c.Embedding.Model == "" {
		return errors.New("config: embedding.model is required")
	}
	switch c.VectorIndex.Backend {
	case "badger":
		if c.VectorIndex.Path == "" {
			return errors.New("config: vector_index.path is required for the badger backend")
		}
	case "qdrant":
		if c.VectorIndex.Addr == "" {
			return errors.New("config: vector_index.addr is required for the qdrant backend")
		}
		if c.VectorIndex.Collection == "" {
			return errors.New("config: vector_index.collection is required for the qdrant backend")
		}
	default:
		return fmt.Errorf("config: unknown vector_index.backend %q", c.VectorIndex.Backend)
	}
	if c.Metadata.Path == "" {
		return errors.New("config: metadata.path is required")
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return errors.New("config: ingest.chunk_overlap must be smaller than chunk_size")
	}
	if c.Retrieval.RelevanceThreshold < 0 || c.Retrieval.RelevanceThreshold > 1 {
		return errors.New("config: retrieval.relevance_threshold must be within [0, 1]")
	}
	return nil
}

// APIKey resolves the named environment variable for a provider section.
// Returns an empty string when the variable is unset; providers decide
// whether that disables them (web search) or is acceptable (local embedding
// services that ignore auth).
func APIKey(envName string) string {
	if envName == "" {
		return ""
	}
	return os.Getenv(envName)
}
