// Run with: CGO_ENABLED=1 go test -tags sqlite_fts5 .

//go:build cgo && sqlite_fts5

package regraph

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/regraphio/regraph/classify"
	"github.com/regraphio/regraph/dedupe"
	"github.com/regraphio/regraph/graph"
)

// countingEmbedder returns deterministic vectors and counts how many texts
// it was asked to embed.
type countingEmbedder struct {
	dim   int
	texts atomic.Int64
	fail  bool
}

func (e *countingEmbedder) Dim() int { return e.dim }

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.fail {
		return nil, errors.New("provider down")
	}
	e.texts.Add(int64(len(texts)))
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, e.dim)
		vec[0] = float32(len(texts[i]))
		out[i] = vec
	}
	return out, nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *countingEmbedder) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	cfg.Workers = 2

	emb := &countingEmbedder{dim: 4}
	p, err := New(cfg, WithEmbedder(emb))
	if err != nil {
		t.Fatalf("creating pipeline: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, emb
}

func htmlResource(url, body string) FetchedResource {
	return FetchedResource{
		URL:         url,
		ContentType: "text/html; charset=utf-8",
		HTTPStatus:  200,
		Body:        []byte(body),
	}
}

const pageA = `<!DOCTYPE html>
<html><head><title>Kalydeco | Agency</title></head>
<body><main>
<h1>Kalydeco</h1>
<p>Authorised under Regulation (EC) No 726/2004 for cystic fibrosis.</p>
<p><a href="/en/medicines/human/EPAR/symkevi">Related medicine</a></p>
<p><a href="/documents/overview/kalydeco-epar_en.pdf">EPAR document</a></p>
<p><a href="mailto:info@example.org">Contact</a></p>
</main></body></html>`

func TestProcessDocumentPage(t *testing.T) {
	p, emb := newTestPipeline(t)
	ctx := context.Background()

	res := htmlResource("https://www.ema.europa.eu/en/medicines/human/EPAR/kalydeco", pageA)
	result, err := p.Process(ctx, res)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Role != classify.RoleDocumentPage {
		t.Errorf("Role = %s", result.Role)
	}
	if result.Decision != dedupe.New {
		t.Errorf("Decision = %s", result.Decision)
	}
	if result.Chunks == 0 || result.Embedded != result.Chunks {
		t.Errorf("Chunks = %d, Embedded = %d", result.Chunks, result.Embedded)
	}
	if emb.texts.Load() == 0 {
		t.Error("expected embedding calls for new content")
	}

	// Node exists with links to the related page and the PDF, but not to
	// the mailto target.
	node, err := p.store.GetNode(ctx, result.NodeKey)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if node.Title != "Kalydeco | Agency" {
		t.Errorf("Title = %q", node.Title)
	}

	edges, err := p.store.EdgesFrom(ctx, result.NodeKey)
	if err != nil {
		t.Fatal(err)
	}
	var links, contains int
	for _, e := range edges {
		switch e.Kind {
		case graph.EdgeLinksTo:
			links++
		case graph.EdgeContainsChunk:
			contains++
		}
	}
	if links != 2 {
		t.Errorf("links_to edges = %d, want 2 (related page + pdf)", links)
	}
	if contains != result.Chunks {
		t.Errorf("contains_chunk edges = %d, want %d", contains, result.Chunks)
	}
}

func TestProcessUnchangedSkipsEmbedding(t *testing.T) {
	p, emb := newTestPipeline(t)
	ctx := context.Background()

	res := htmlResource("https://www.ema.europa.eu/en/medicines/human/EPAR/kalydeco", pageA)
	if _, err := p.Process(ctx, res); err != nil {
		t.Fatal(err)
	}
	before := emb.texts.Load()

	result, err := p.Process(ctx, res)
	if err != nil {
		t.Fatal(err)
	}
	if result.Decision != dedupe.Unchanged {
		t.Errorf("Decision = %s, want unchanged", result.Decision)
	}
	if got := emb.texts.Load(); got != before {
		t.Errorf("re-processing unchanged content made %d embedding calls", got-before)
	}
}

func TestProcessDuplicateContentSharesChunks(t *testing.T) {
	p, emb := newTestPipeline(t)
	ctx := context.Background()

	urlA := "https://www.ema.europa.eu/en/medicines/human/EPAR/kalydeco"
	urlB := "https://www.ema.europa.eu/en/medicines/human/EPAR/kalydeco-copy"
	if _, err := p.Process(ctx, htmlResource(urlA, pageA)); err != nil {
		t.Fatal(err)
	}
	before := emb.texts.Load()

	resultB, err := p.Process(ctx, htmlResource(urlB, pageA))
	if err != nil {
		t.Fatal(err)
	}
	if resultB.Decision != dedupe.New {
		t.Errorf("Decision = %s, want new (different URL)", resultB.Decision)
	}
	if got := emb.texts.Load(); got != before {
		t.Errorf("identical content at a second URL made %d embedding calls", got-before)
	}

	// Both pages share the same chunk nodes.
	nodeA, err := p.store.GetNode(ctx, graph.PageKey(urlA))
	if err != nil {
		t.Fatal(err)
	}
	chunkKey := graph.ChunkKey(nodeA.Fingerprint, 0)
	n, err := p.store.CountEdgesTo(ctx, chunkKey, graph.EdgeContainsChunk)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("shared chunk has %d parents, want 2", n)
	}
}

func TestProcessUpdatedContent(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	url := "https://www.ema.europa.eu/en/medicines/human/EPAR/kalydeco"
	if _, err := p.Process(ctx, htmlResource(url, pageA)); err != nil {
		t.Fatal(err)
	}
	nodeBefore, err := p.store.GetNode(ctx, graph.PageKey(url))
	if err != nil {
		t.Fatal(err)
	}

	revised := `<html><head><title>Kalydeco | Agency</title></head><body><main>
<h1>Kalydeco</h1><p>The indication was extended to younger patients in a revised opinion.</p>
</main></body></html>`
	result, err := p.Process(ctx, htmlResource(url, revised))
	if err != nil {
		t.Fatal(err)
	}
	if result.Decision != dedupe.Updated {
		t.Fatalf("Decision = %s, want updated", result.Decision)
	}

	// The previous revision's chunks survive as stale orphans.
	oldChunk, err := p.store.GetNode(ctx, graph.ChunkKey(nodeBefore.Fingerprint, 0))
	if err != nil {
		t.Fatalf("old chunk should still exist: %v", err)
	}
	if !oldChunk.Stale {
		t.Error("old chunk should be stale")
	}
}

func TestProcessIrrelevantAndGone(t *testing.T) {
	p, emb := newTestPipeline(t)
	ctx := context.Background()

	// Static asset is skipped without touching the store.
	result, err := p.Process(ctx, htmlResource("https://www.ema.europa.eu/themes/site/logo.png", ""))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Skipped || result.Role != classify.RoleIrrelevant {
		t.Errorf("result = %+v", result)
	}

	// A 404 on an ingested page marks the node stale instead of deleting it.
	url := "https://www.ema.europa.eu/en/medicines/human/EPAR/kalydeco"
	if _, err := p.Process(ctx, htmlResource(url, pageA)); err != nil {
		t.Fatal(err)
	}
	gone := FetchedResource{URL: url, ContentType: "text/html", HTTPStatus: 404}
	result, err = p.Process(ctx, gone)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Skipped {
		t.Error("404 resource should be skipped")
	}
	node, err := p.store.GetNode(ctx, graph.PageKey(url))
	if err != nil {
		t.Fatal(err)
	}
	if !node.Stale {
		t.Error("node should be stale after 404")
	}
	if emb.texts.Load() == 0 {
		t.Error("sanity: first ingest should have embedded")
	}
}

func TestProcessIndexPageNoChunks(t *testing.T) {
	p, emb := newTestPipeline(t)
	ctx := context.Background()

	listing := `<html><head><title>Medicines</title></head><body><main>
<a href="/en/medicines/human/EPAR/kalydeco">Kalydeco</a>
<a href="/en/medicines/human/EPAR/symkevi">Symkevi</a>
</main></body></html>`
	result, err := p.Process(ctx, htmlResource("https://www.ema.europa.eu/en/medicines", listing))
	if err != nil {
		t.Fatal(err)
	}
	if result.Role != classify.RoleIndexPage {
		t.Fatalf("Role = %s", result.Role)
	}
	if result.Chunks != 0 || emb.texts.Load() != 0 {
		t.Errorf("index pages must not be chunked or embedded: %+v", result)
	}

	edges, err := p.store.EdgesFrom(ctx, result.NodeKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 2 {
		t.Errorf("got %d edges, want 2 links", len(edges))
	}
}

func TestProcessEmbeddingFailureDegrades(t *testing.T) {
	p, emb := newTestPipeline(t)
	emb.fail = true
	ctx := context.Background()

	url := "https://www.ema.europa.eu/en/medicines/human/EPAR/kalydeco"
	result, err := p.Process(ctx, htmlResource(url, pageA))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	// The resource still merges; the chunks just lack vectors.
	if _, err := p.store.GetNode(ctx, result.NodeKey); err != nil {
		t.Fatalf("node should exist despite embedding failure: %v", err)
	}
	if result.Embedded != 0 {
		t.Errorf("Embedded = %d, want 0", result.Embedded)
	}
	found := false
	for _, w := range result.Warnings {
		if w == WarnEmbeddingAbsent {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want %q", result.Warnings, WarnEmbeddingAbsent)
	}

	// Once the embedder recovers, the repair pass fills in the vectors.
	emb.fail = false
	repaired, err := p.RepairEmbeddings(ctx)
	if err != nil {
		t.Fatalf("RepairEmbeddings: %v", err)
	}
	if repaired != result.Chunks {
		t.Errorf("repaired %d chunks, want %d", repaired, result.Chunks)
	}
}

func TestProcessInvalidURL(t *testing.T) {
	p, _ := newTestPipeline(t)
	_, err := p.Process(context.Background(), FetchedResource{URL: "::not a url::"})
	if !errors.Is(err, ErrInvalidURL) {
		t.Errorf("err = %v, want ErrInvalidURL", err)
	}
}

func TestRunWorkerPool(t *testing.T) {
	p, _ := newTestPipeline(t)

	resources := []FetchedResource{
		htmlResource("https://www.ema.europa.eu/en/medicines/human/EPAR/kalydeco", pageA),
		htmlResource("https://www.ema.europa.eu/themes/site/logo.png", ""),
		{URL: "::bad::"},
	}
	results := p.Run(context.Background(), resources)
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Err != nil {
		t.Errorf("result 0 error: %v", results[0].Err)
	}
	if !results[1].Skipped {
		t.Error("result 1 should be skipped")
	}
	if results[2].Err == nil {
		t.Error("result 2 should carry an error")
	}
}

func TestRepairEmbeddings(t *testing.T) {
	p, emb := newTestPipeline(t)
	ctx := context.Background()

	url := "https://www.ema.europa.eu/en/medicines/human/EPAR/kalydeco"
	result, err := p.Process(ctx, htmlResource(url, pageA))
	if err != nil {
		t.Fatal(err)
	}

	// Simulate an interrupted run: drop the embeddings.
	if _, err := p.store.DB().ExecContext(ctx, "DELETE FROM vec_nodes"); err != nil {
		t.Fatal(err)
	}
	emb.texts.Store(0)

	repaired, err := p.RepairEmbeddings(ctx)
	if err != nil {
		t.Fatalf("RepairEmbeddings: %v", err)
	}
	if repaired != result.Chunks {
		t.Errorf("repaired %d chunks, want %d", repaired, result.Chunks)
	}
	if emb.texts.Load() == 0 {
		t.Error("repair should call the embedder")
	}
}

func TestProcessMergeFailureLeavesNoPartialState(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	// Occupy the entity key this page will produce with a different kind,
	// so the merge fails after the parent and chunk upserts have run.
	entKey := graph.EntityKey(graph.EntityRegulation, "regulation (ec) no 726/2004")
	if err := p.store.UpsertNode(ctx, graph.Node{Key: entKey, Kind: graph.KindPage}); err != nil {
		t.Fatal(err)
	}

	url := "https://www.ema.europa.eu/en/medicines/human/EPAR/kalydeco"
	_, err := p.Process(ctx, htmlResource(url, pageA))
	if !errors.Is(err, graph.ErrKindCollision) {
		t.Fatalf("err = %v, want ErrKindCollision", err)
	}

	// The failed merge must roll back completely. In particular the parent
	// node's fingerprint must not persist, or retrying the same bytes
	// would evaluate Unchanged and skip chunking forever.
	if _, err := p.store.GetNode(ctx, graph.PageKey(url)); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("parent node visible after failed merge: err = %v", err)
	}

	// Clear the obstacle and retry with identical bytes.
	if _, err := p.store.DB().ExecContext(ctx, "DELETE FROM nodes WHERE key = ?", entKey); err != nil {
		t.Fatal(err)
	}
	result, err := p.Process(ctx, htmlResource(url, pageA))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.Decision != dedupe.New {
		t.Errorf("retry decision = %s, want new", result.Decision)
	}
	if result.Chunks == 0 || result.Embedded != result.Chunks {
		t.Errorf("retry Chunks = %d, Embedded = %d", result.Chunks, result.Embedded)
	}
	missing, err := p.store.MissingEmbeddings(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 0 {
		t.Errorf("%d chunks missing embeddings after retry", len(missing))
	}
}

const pageB = `<!DOCTYPE html>
<html><head><title>Product overview</title></head>
<body><main>
<h1>Overview</h1>
<p>The assessment history is available for download.</p>
<p><a href="/en/documents/download/12345">Assessment report</a></p>
</main></body></html>`

func TestProcessResolvesWrongKindLink(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	pageURL := "https://www.ema.europa.eu/en/medicines/human/EPAR/kalydeco"
	result, err := p.Process(ctx, htmlResource(pageURL, pageB))
	if err != nil {
		t.Fatalf("Process page: %v", err)
	}

	// At link time the extensionless target has no content type, so the
	// edge is recorded against a page key.
	target := "https://www.ema.europa.eu/en/documents/download/12345"
	edges, err := p.store.EdgesFrom(ctx, result.NodeKey)
	if err != nil {
		t.Fatal(err)
	}
	guessed := false
	for _, e := range edges {
		if e.Kind == graph.EdgeLinksTo && e.ToKey == graph.PageKey(target) {
			guessed = true
		}
	}
	if !guessed {
		t.Fatalf("expected links_to edge to the guessed page key, edges = %v", edges)
	}

	// Fetching the target reveals a PDF; the edge must follow it to the
	// document key.
	docResult, err := p.Process(ctx, FetchedResource{
		URL:         target,
		ContentType: "application/pdf",
		HTTPStatus:  200,
		Body:        []byte("%PDF-1.4 not a real document"),
	})
	if err != nil {
		t.Fatalf("Process attachment: %v", err)
	}
	if docResult.NodeKey != graph.DocumentKey(target) {
		t.Fatalf("NodeKey = %s", docResult.NodeKey)
	}

	edges, err = p.store.EdgesFrom(ctx, result.NodeKey)
	if err != nil {
		t.Fatal(err)
	}
	resolved := false
	for _, e := range edges {
		if e.ToKey == graph.PageKey(target) {
			t.Errorf("edge to the guessed key remains: %v", e)
		}
		if e.Kind == graph.EdgeLinksTo && e.ToKey == docResult.NodeKey {
			resolved = true
		}
	}
	if !resolved {
		t.Error("links_to edge was not re-pointed at the document node")
	}
}

func TestSearchHybrid(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	url := "https://www.ema.europa.eu/en/medicines/human/EPAR/kalydeco"
	if _, err := p.Process(ctx, htmlResource(url, pageA)); err != nil {
		t.Fatal(err)
	}

	results, err := p.Search(ctx, "cystic fibrosis", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results for indexed content")
	}
	if !strings.Contains(strings.ToLower(results[0].Content), "cystic fibrosis") {
		t.Errorf("top result does not mention the query: %q", results[0].Content)
	}

	if _, err := p.Search(ctx, "   ", 5); err == nil {
		t.Error("empty query should fail")
	}
}
