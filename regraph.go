// Package regraph ingests fetched resources from a regulatory web site
// into a content graph: pages and documents become nodes, their links
// become edges, and their text is chunked, embedded, and attached as chunk
// nodes. Processing is idempotent: the same fetched content merges to the
// same graph.
package regraph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/regraphio/regraph/chunker"
	"github.com/regraphio/regraph/classify"
	"github.com/regraphio/regraph/dedupe"
	"github.com/regraphio/regraph/embed"
	"github.com/regraphio/regraph/extract"
	"github.com/regraphio/regraph/graph"
	"github.com/regraphio/regraph/metrics"
	"github.com/regraphio/regraph/store"
	"github.com/regraphio/regraph/urlutil"
)

// maxEmbedChars caps text sent to the embedding model. Most embedding
// models truncate around 8k tokens; cutting client-side keeps behavior
// predictable.
const maxEmbedChars = 8000

// WarnEmbeddingAbsent is reported when one or more chunks of a resource
// could not be embedded after retries. The chunks are merged without
// vectors and picked up by RepairEmbeddings later.
const WarnEmbeddingAbsent = "embedding-absent"

// Result reports the outcome of processing one resource.
type Result struct {
	URL      string          `json:"url"`
	NodeKey  string          `json:"node_key,omitempty"`
	Role     classify.Role   `json:"role"`
	Decision dedupe.Decision `json:"decision"`
	Skipped  bool            `json:"skipped"`
	Chunks   int             `json:"chunks"`
	Embedded int             `json:"embedded"`
	Warnings []string        `json:"warnings,omitempty"`
	Err      error           `json:"-"`
}

// Option configures a Pipeline beyond its Config.
type Option func(*Pipeline)

// WithEmbedder replaces the embedding provider built from Config.
func WithEmbedder(e embed.Embedder) Option {
	return func(p *Pipeline) { p.embedder = e }
}

// WithLogger sets the pipeline logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// Pipeline wires classification, extraction, chunking, embedding, and
// graph assembly behind a single Process call.
type Pipeline struct {
	cfg        Config
	logger     *slog.Logger
	store      *store.Store
	classifier *classify.Classifier
	extractors *extract.Registry
	chunkr     *chunker.Chunker
	embedder   embed.Embedder
	evaluator  *dedupe.Evaluator
	assembler  *graph.Assembler
}

// New creates a Pipeline with the given configuration.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	metrics.Init()

	p := &Pipeline{cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(p)
	}

	classifier := classify.Default()
	if len(cfg.Rules) > 0 {
		var err error
		classifier, err = classify.New(cfg.Rules)
		if err != nil {
			return nil, fmt.Errorf("compiling classification rules: %w", err)
		}
	}
	p.classifier = classifier

	if p.embedder == nil {
		e, err := embed.New(cfg.Embedding)
		if err != nil {
			return nil, fmt.Errorf("creating embedder: %w", err)
		}
		p.embedder = e
	}

	s, err := store.New(cfg.DBPath, p.embedder.Dim())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	p.store = s

	p.extractors = extract.NewRegistry()
	p.chunkr = chunker.New(chunker.Config{
		MaxTokens: cfg.MaxChunkTokens,
		Overlap:   cfg.ChunkOverlap,
	})
	p.evaluator = dedupe.NewEvaluator(s)
	p.assembler = graph.NewAssembler(s, p.logger)

	return p, nil
}

// Store returns the underlying store for diagnostic access.
func (p *Pipeline) Store() *store.Store {
	return p.store
}

// Close cleanly shuts down the pipeline.
func (p *Pipeline) Close() error {
	return p.store.Close()
}

// Process runs one resource through the full pipeline. The returned Result
// describes what happened; the error is non-nil only for failures that
// leave the resource unmerged (it should be retried or quarantined).
func (p *Pipeline) Process(ctx context.Context, res FetchedResource) (*Result, error) {
	canonical, err := urlutil.Canonicalize(res.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidURL, res.URL, err)
	}

	role := p.classifier.Classify(canonical, res.ContentType)
	result := &Result{URL: canonical, Role: role}
	if role == classify.RoleIrrelevant {
		result.Skipped = true
		metrics.ResourcesTotal.WithLabelValues(string(role), "skipped").Inc()
		return result, nil
	}

	key := nodeKeyFor(role, canonical)
	result.NodeKey = key

	// A vanished resource keeps its node; it just goes stale.
	if res.HTTPStatus >= 400 {
		result.Skipped = true
		if err := p.markGone(ctx, key, res.HTTPStatus); err != nil {
			return result, err
		}
		metrics.ResourcesTotal.WithLabelValues(string(role), "gone").Inc()
		p.logger.Info("resource gone", "url", canonical, "status", res.HTTPStatus)
		return result, nil
	}

	content := p.extractors.Get(res.ContentType).Extract(ctx, canonical, res.ContentType, res.Body)
	result.Warnings = content.Warnings
	for _, w := range content.Warnings {
		metrics.ExtractionWarnings.WithLabelValues(w).Inc()
	}

	fingerprint := dedupe.Fingerprint(content.BodyText)
	decision, err := p.evaluator.Evaluate(ctx, key, fingerprint)
	if err != nil {
		return result, err
	}
	result.Decision = decision

	input := graph.MergeInput{
		NodeKey:     key,
		Kind:        nodeKindFor(role),
		URL:         canonical,
		Title:       content.Title,
		Fingerprint: fingerprint,
		Decision:    decision,
		LinkKeys:    p.classifyLinks(content.OutboundLinks),
	}

	// Index pages contribute structure only; unchanged content skips the
	// chunk and embedding stages entirely.
	if role != classify.RoleIndexPage && decision != dedupe.Unchanged {
		chunks := p.chunkr.Chunk(content.Sections)
		input.Chunks = chunks
		result.Chunks = len(chunks)

		if len(chunks) > 0 {
			exists, err := p.store.HasChunksForFingerprint(ctx, fingerprint)
			if err != nil {
				return result, err
			}
			if !exists {
				embeddings, failed := p.embedChunks(ctx, chunks)
				input.Embeddings = embeddings
				result.Embedded = len(chunks) - failed
				if failed > 0 {
					// A chunk without an embedding is a recoverable state;
					// the repair pass picks it up later.
					result.Warnings = append(result.Warnings, WarnEmbeddingAbsent)
					metrics.EmbeddingFailures.Add(float64(failed))
				}
				metrics.ChunksEmbeddedTotal.Add(float64(result.Embedded))
			}
		}
	}

	// Once a resource reaches the merge stage it completes even if the
	// caller's context is cancelled; a half-merged node is worse than a
	// slightly late shutdown.
	if err := p.assembler.Merge(context.WithoutCancel(ctx), input); err != nil {
		metrics.QuarantinedTotal.Inc()
		return result, err
	}

	metrics.ResourcesTotal.WithLabelValues(string(role), decision.String()).Inc()
	p.logger.Info("resource merged",
		"url", canonical, "role", role, "decision", decision.String(),
		"chunks", result.Chunks, "embedded", result.Embedded)
	return result, nil
}

// Run processes resources with a bounded worker pool. Results are in no
// particular order. Processing errors are recorded per-result, not
// returned; only the resources themselves fail, never the batch.
func (p *Pipeline) Run(ctx context.Context, resources []FetchedResource) []Result {
	workers := p.cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	sem := make(chan struct{}, workers)
	results := make([]Result, len(resources))
	var wg sync.WaitGroup

	for i, res := range resources {
		if ctx.Err() != nil {
			results[i] = Result{URL: res.URL, Skipped: true, Err: ctx.Err()}
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, res FetchedResource) {
			defer wg.Done()
			defer func() { <-sem }()

			r, err := p.Process(ctx, res)
			if r == nil {
				r = &Result{URL: res.URL}
			}
			r.Err = err
			if err != nil {
				p.logger.Error("processing failed", "url", res.URL, "error", err)
			}
			results[i] = *r
		}(i, res)
	}
	wg.Wait()
	return results
}

// RepairEmbeddings finds live chunks without embeddings (for example after
// an interrupted run) and embeds them. Returns the number repaired.
func (p *Pipeline) RepairEmbeddings(ctx context.Context) (int, error) {
	const pageSize = 256
	repaired := 0

	for {
		missing, err := p.store.MissingEmbeddings(ctx, pageSize)
		if err != nil {
			return repaired, err
		}
		if len(missing) == 0 {
			return repaired, nil
		}

		chunks := make([]chunker.Chunk, len(missing))
		for i, n := range missing {
			chunks[i] = chunker.Chunk{Index: n.ChunkIndex, Heading: n.Title, Text: n.Text}
		}
		embeddings, failed := p.embedChunks(ctx, chunks)
		for i, n := range missing {
			if embeddings[i] == nil {
				continue
			}
			if err := p.store.InsertEmbedding(ctx, n.Key, embeddings[i]); err != nil {
				return repaired, err
			}
			repaired++
		}
		metrics.ChunksEmbeddedTotal.Add(float64(len(missing) - failed))
		if failed > 0 {
			metrics.EmbeddingFailures.Add(float64(failed))
			return repaired, fmt.Errorf("%w: %d chunks still missing embeddings", ErrEmbeddingFailed, failed)
		}
	}
}

// markGone records the HTTP status and marks the node stale, if it exists.
func (p *Pipeline) markGone(ctx context.Context, key string, status int) error {
	_, err := p.store.GetNode(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := p.store.RecordHTTPStatus(ctx, key, status); err != nil {
		return err
	}
	return p.store.MarkNodeStale(ctx, key)
}

// classifyLinks maps outbound links to target node keys, dropping
// irrelevant ones. Targets need not have been ingested.
func (p *Pipeline) classifyLinks(links []string) []string {
	var keys []string
	for _, link := range links {
		role := p.classifier.Classify(link, "")
		if role == classify.RoleIrrelevant {
			continue
		}
		keys = append(keys, nodeKeyFor(role, link))
	}
	return keys
}

// embedChunks generates embeddings for chunks in batches. A failed batch
// falls back to per-text calls so one oversized text does not lose the
// whole batch; a text that still fails gets a nil slot and counts toward
// failed, leaving that chunk embedding-absent.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []chunker.Chunk) (embeddings [][]float32, failed int) {
	batchSize := p.cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	embeddings = make([][]float32, 0, len(chunks))
	for i := 0; i < len(chunks); i += batchSize {
		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, end-i)
		for j := i; j < end; j++ {
			prefix := ""
			if chunks[j].Heading != "" {
				prefix = chunks[j].Heading + ": "
			}
			texts[j-i] = truncateForEmbed(prefix + chunks[j].Text)
		}

		start := time.Now()
		batch, err := p.embedder.Embed(ctx, texts)
		metrics.EmbedBatchDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			p.logger.Warn("embedding batch failed, falling back to individual",
				"batch_start", i, "batch_end", end, "error", err)
			batch = make([][]float32, len(texts))
			for j, text := range texts {
				single, serr := p.embedder.Embed(ctx, []string{text})
				if serr != nil {
					p.logger.Warn("embedding chunk failed",
						"chunk", chunks[i+j].Index, "error", serr)
					failed++
					continue
				}
				batch[j] = single[0]
			}
		}
		embeddings = append(embeddings, batch...)
	}
	return embeddings, failed
}

func truncateForEmbed(text string) string {
	if len(text) <= maxEmbedChars {
		return text
	}
	// Cut at the last space before the limit to avoid splitting a word.
	cut := strings.LastIndex(text[:maxEmbedChars], " ")
	if cut <= 0 {
		cut = maxEmbedChars
	}
	return text[:cut]
}

func nodeKeyFor(role classify.Role, canonicalURL string) string {
	if role == classify.RoleAttachment {
		return graph.DocumentKey(canonicalURL)
	}
	return graph.PageKey(canonicalURL)
}

func nodeKindFor(role classify.Role) graph.Kind {
	if role == classify.RoleAttachment {
		return graph.KindDocument
	}
	return graph.KindPage
}
