package regraph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/regraphio/regraph/classify"
	"github.com/regraphio/regraph/embed"
)

// Config holds all configuration for the ingestion pipeline.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string `json:"db_path" yaml:"db_path"`

	// Rules are the URL classification rules, evaluated in order. When
	// empty, classify.DefaultRules() is used.
	Rules []classify.Rule `json:"rules" yaml:"rules"`

	// Chunking
	MaxChunkTokens int `json:"max_chunk_tokens" yaml:"max_chunk_tokens"`
	ChunkOverlap   int `json:"chunk_overlap" yaml:"chunk_overlap"`

	// Workers is the number of resources processed concurrently.
	Workers int `json:"workers" yaml:"workers"`

	// Embedding provider
	Embedding embed.Config `json:"embedding" yaml:"embedding"`

	// EmbedBatchSize is the number of chunk texts per embedding call.
	EmbedBatchSize int `json:"embed_batch_size" yaml:"embed_batch_size"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
func DefaultConfig() Config {
	return Config{
		DBPath:         "regraph.db",
		MaxChunkTokens: 512,
		ChunkOverlap:   64,
		Workers:        4,
		Embedding: embed.Config{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
			Dim:      768,
		},
		EmbedBatchSize: 32,
	}
}

// LoadConfig reads a YAML config file, layered over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("%w: db_path is required", ErrInvalidConfig)
	}
	if c.MaxChunkTokens < 0 || c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk sizes must be non-negative", ErrInvalidConfig)
	}
	if c.ChunkOverlap > 0 && c.MaxChunkTokens > 0 && c.ChunkOverlap >= c.MaxChunkTokens {
		return fmt.Errorf("%w: chunk_overlap must be smaller than max_chunk_tokens", ErrInvalidConfig)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be non-negative", ErrInvalidConfig)
	}
	if c.Embedding.Dim < 0 {
		return fmt.Errorf("%w: embedding dim must be non-negative", ErrInvalidConfig)
	}
	return nil
}
