// Package embed generates vector embeddings for chunk text via an
// embedding provider's HTTP API. Calls are retried with exponential
// backoff; a response with the wrong vector dimension is an error, never
// silently stored.
package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrDimensionMismatch is returned when the provider responds with vectors
// of a different dimension than configured.
var ErrDimensionMismatch = errors.New("embed: embedding dimension mismatch")

// Embedder generates embeddings for a batch of texts. Implementations
// return exactly one vector per input text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// Config configures an embedding provider.
type Config struct {
	Provider   string        `yaml:"provider" json:"provider"` // ollama, openai
	Model      string        `yaml:"model" json:"model"`
	BaseURL    string        `yaml:"base_url" json:"base_url"`
	APIKey     string        `yaml:"api_key" json:"api_key"`
	Dim        int           `yaml:"dim" json:"dim"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.Dim == 0 {
		cfg.Dim = 768
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return cfg
}

// New creates an Embedder from configuration.
func New(cfg Config) (Embedder, error) {
	c := cfg.withDefaults()
	var inner Embedder
	switch c.Provider {
	case "ollama", "":
		inner = newOllama(c)
	case "openai":
		inner = newOpenAI(c)
	default:
		return nil, fmt.Errorf("embed: unknown provider %q", c.Provider)
	}
	return &retryEmbedder{inner: inner, cfg: c}, nil
}

// retryEmbedder wraps a provider with per-call timeout, retry, and
// dimension validation.
type retryEmbedder struct {
	inner Embedder
	cfg   Config
}

func (r *retryEmbedder) Dim() int { return r.cfg.Dim }

func (r *retryEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var result [][]float32
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()

		embeddings, err := r.inner.Embed(callCtx, texts)
		if err != nil {
			return err
		}
		if len(embeddings) != len(texts) {
			return backoff.Permanent(fmt.Errorf("embed: got %d vectors for %d texts", len(embeddings), len(texts)))
		}
		for i, emb := range embeddings {
			if len(emb) != r.cfg.Dim {
				return backoff.Permanent(fmt.Errorf("%w: text %d has %d dims, want %d",
					ErrDimensionMismatch, i, len(emb), r.cfg.Dim))
			}
		}
		result = embeddings
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(r.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return result, nil
}

func newHTTPClient() *http.Client {
	return &http.Client{} // per-call timeout comes from the context
}
