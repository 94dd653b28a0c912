// Package graph defines the node and edge model of the regulatory content
// graph and assembles merge batches into it. Node keys are derived
// deterministically from URLs and content fingerprints, so repeating an
// ingestion produces the same keys and the merge is idempotent.
package graph

import (
	"fmt"
	"time"

	"github.com/regraphio/regraph/urlutil"
)

// Kind classifies a node.
type Kind string

const (
	KindPage     Kind = "page"
	KindDocument Kind = "document"
	KindChunk    Kind = "chunk"
	KindEntity   Kind = "entity"
)

// EdgeKind classifies an edge.
type EdgeKind string

const (
	// EdgeLinksTo connects a page to a page or document it links to.
	EdgeLinksTo EdgeKind = "links_to"
	// EdgeContainsChunk connects a page or document to one of its chunks.
	EdgeContainsChunk EdgeKind = "contains_chunk"
	// EdgeReferences connects a chunk to an entity it mentions.
	EdgeReferences EdgeKind = "references"
)

// Node is a vertex in the content graph.
type Node struct {
	Key         string
	Kind        Kind
	URL         string
	Title       string
	Fingerprint string
	Text        string // chunk body, empty for other kinds
	ChunkIndex  int
	Stale       bool
	UpdatedAt   time.Time
}

// Edge is a directed edge. Edges are unique per (FromKey, ToKey, Kind).
type Edge struct {
	FromKey string
	ToKey   string
	Kind    EdgeKind
}

// keyHashLen is the number of fingerprint/URL-hash hex chars kept in keys.
const keyHashLen = 32

// PageKey derives the node key for an HTML page from its canonical URL.
func PageKey(canonicalURL string) string {
	return "page:" + urlutil.Hash(canonicalURL)[:keyHashLen]
}

// DocumentKey derives the node key for a binary document (PDF, XLSX) from
// its canonical URL.
func DocumentKey(canonicalURL string) string {
	return "doc:" + urlutil.Hash(canonicalURL)[:keyHashLen]
}

// ChunkKey derives the node key for a chunk from the content fingerprint
// of the body it was cut from and its position. Keying chunks on the
// fingerprint rather than the URL means two URLs serving identical content
// share one set of chunk nodes and embeddings.
func ChunkKey(fingerprint string, index int) string {
	return fmt.Sprintf("chunk:%s:%04d", fingerprint[:keyHashLen], index)
}

// EntityKey derives the node key for a named entity.
func EntityKey(entityType, name string) string {
	return fmt.Sprintf("entity:%s:%s", entityType, name)
}

// siblingKey returns the key the same URL would get under the other
// URL-derived kind, or "" for kinds not keyed by URL.
func siblingKey(kind Kind, canonicalURL string) string {
	switch kind {
	case KindPage:
		return DocumentKey(canonicalURL)
	case KindDocument:
		return PageKey(canonicalURL)
	}
	return ""
}
