package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/regraphio/regraph/chunker"
	"github.com/regraphio/regraph/dedupe"
)

// ErrKindCollision is returned when a node key already exists in the graph
// with a different kind. Keys are derived from URL hashes and fingerprints,
// so a collision indicates a classification bug rather than bad data.
var ErrKindCollision = errors.New("graph: node key exists with a different kind")

// ErrMissingFingerprint is returned when a merge arrives without a content
// fingerprint. Chunk keys derive from it, so merging without one would
// corrupt dedup state.
var ErrMissingFingerprint = errors.New("graph: merge input has no fingerprint")

// Store is the persistence surface the assembler needs. *store.Store
// satisfies it.
type Store interface {
	UpsertNode(ctx context.Context, n Node) error
	NodeExists(ctx context.Context, key string) (bool, error)
	UpsertEdge(ctx context.Context, e Edge) error
	// DetachEdges removes all edges of the given kind leaving fromKey and
	// returns the to-keys that were detached.
	DetachEdges(ctx context.Context, fromKey string, kind EdgeKind) ([]string, error)
	// RedirectEdges re-points edges aimed at oldTo towards newTo, dropping
	// any that would duplicate an existing edge.
	RedirectEdges(ctx context.Context, oldTo, newTo string) error
	CountEdgesTo(ctx context.Context, toKey string, kind EdgeKind) (int, error)
	MarkNodeStale(ctx context.Context, key string) error
	InsertEmbedding(ctx context.Context, key string, embedding []float32) error
	// WithTx runs fn with a Store view scoped to one transaction; fn
	// returning an error rolls every write back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// MergeInput is one resource's contribution to the graph, assembled by the
// pipeline after extraction, chunking, and embedding.
type MergeInput struct {
	NodeKey     string
	Kind        Kind
	URL         string
	Title       string
	Fingerprint string
	Decision    dedupe.Decision

	// Chunks and Embeddings are parallel when Embeddings is non-nil. A nil
	// slot means that chunk could not be embedded; its node is merged
	// without a vector so a later repair pass can fill it in.
	// Embeddings is nil when the chunk set for this fingerprint is already
	// embedded, or when the decision is Unchanged.
	Chunks     []chunker.Chunk
	Embeddings [][]float32

	// LinkKeys are the node keys of classified outbound links. Targets
	// need not exist yet; edges to not-yet-ingested nodes are valid.
	LinkKeys []string
}

// Assembler merges ingestion results into the graph.
type Assembler struct {
	store  Store
	logger *slog.Logger
}

// NewAssembler returns an Assembler writing through the given store.
func NewAssembler(s Store, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{store: s, logger: logger}
}

// Merge applies one MergeInput atomically: all writes happen in a single
// store transaction, so a failed merge leaves no trace (in particular no
// persisted fingerprint that would make a re-ingest evaluate Unchanged).
// All writes are upserts keyed on deterministic keys, so merging the same
// input twice leaves the graph unchanged. For an Updated resource the
// previous contains_chunk edges are detached first, and chunks left with
// no remaining parent are marked stale rather than deleted.
func (a *Assembler) Merge(ctx context.Context, in MergeInput) error {
	if in.Fingerprint == "" {
		return fmt.Errorf("%w: node %s", ErrMissingFingerprint, in.NodeKey)
	}
	if in.Embeddings != nil && len(in.Embeddings) != len(in.Chunks) {
		return fmt.Errorf("graph: %d embeddings for %d chunks", len(in.Embeddings), len(in.Chunks))
	}

	return a.store.WithTx(ctx, func(st Store) error {
		return a.merge(ctx, st, in)
	})
}

func (a *Assembler) merge(ctx context.Context, st Store, in MergeInput) error {
	now := time.Now().UTC()

	var detached []string
	if in.Decision == dedupe.Updated {
		var err error
		detached, err = st.DetachEdges(ctx, in.NodeKey, EdgeContainsChunk)
		if err != nil {
			return fmt.Errorf("graph: detaching chunks of %s: %w", in.NodeKey, err)
		}
	}

	if err := st.UpsertNode(ctx, Node{
		Key:         in.NodeKey,
		Kind:        in.Kind,
		URL:         in.URL,
		Title:       in.Title,
		Fingerprint: in.Fingerprint,
		UpdatedAt:   now,
	}); err != nil {
		return fmt.Errorf("graph: upserting %s: %w", in.NodeKey, err)
	}

	// A link recorded before its target was fetched may have guessed the
	// wrong kind: an extensionless PDF URL classifies as a page until its
	// content type is known. Re-point edges aimed at the wrong guess so
	// forward references resolve once the real node exists.
	if sib := siblingKey(in.Kind, in.URL); sib != "" {
		exists, err := st.NodeExists(ctx, sib)
		if err != nil {
			return fmt.Errorf("graph: checking %s: %w", sib, err)
		}
		if !exists {
			if err := st.RedirectEdges(ctx, sib, in.NodeKey); err != nil {
				return fmt.Errorf("graph: redirecting %s -> %s: %w", sib, in.NodeKey, err)
			}
		}
	}

	for i, ch := range in.Chunks {
		key := ChunkKey(in.Fingerprint, ch.Index)
		if err := st.UpsertNode(ctx, Node{
			Key:         key,
			Kind:        KindChunk,
			Title:       ch.Heading,
			Fingerprint: in.Fingerprint,
			Text:        ch.Text,
			ChunkIndex:  ch.Index,
			UpdatedAt:   now,
		}); err != nil {
			return fmt.Errorf("graph: upserting chunk %s: %w", key, err)
		}
		if err := st.UpsertEdge(ctx, Edge{FromKey: in.NodeKey, ToKey: key, Kind: EdgeContainsChunk}); err != nil {
			return fmt.Errorf("graph: linking chunk %s: %w", key, err)
		}
		if in.Embeddings != nil && in.Embeddings[i] != nil {
			if err := st.InsertEmbedding(ctx, key, in.Embeddings[i]); err != nil {
				return fmt.Errorf("graph: embedding chunk %s: %w", key, err)
			}
		}
		for _, ent := range ExtractEntities(ch.Text) {
			entKey := EntityKey(ent.Type, ent.Name)
			if err := st.UpsertNode(ctx, Node{
				Key:       entKey,
				Kind:      KindEntity,
				Title:     ent.Name,
				UpdatedAt: now,
			}); err != nil {
				return fmt.Errorf("graph: upserting entity %s: %w", entKey, err)
			}
			if err := st.UpsertEdge(ctx, Edge{FromKey: key, ToKey: entKey, Kind: EdgeReferences}); err != nil {
				return fmt.Errorf("graph: referencing entity %s: %w", entKey, err)
			}
		}
	}

	for _, to := range in.LinkKeys {
		if to == in.NodeKey {
			continue
		}
		if err := st.UpsertEdge(ctx, Edge{FromKey: in.NodeKey, ToKey: to, Kind: EdgeLinksTo}); err != nil {
			return fmt.Errorf("graph: linking %s -> %s: %w", in.NodeKey, to, err)
		}
	}

	// Chunks detached above that regained no parent are orphans of the
	// previous revision; keep them but mark them stale.
	for _, key := range detached {
		n, err := st.CountEdgesTo(ctx, key, EdgeContainsChunk)
		if err != nil {
			return fmt.Errorf("graph: counting parents of %s: %w", key, err)
		}
		if n == 0 {
			if err := st.MarkNodeStale(ctx, key); err != nil {
				return fmt.Errorf("graph: marking %s stale: %w", key, err)
			}
			a.logger.Debug("orphaned chunk marked stale", "key", key, "parent", in.NodeKey)
		}
	}

	return nil
}
