// Package store persists the content graph in SQLite, with vector
// embeddings in a sqlite-vec vec0 virtual table and full-text search over
// chunk content via FTS5.
//
// go-sqlite3 only includes the FTS5 module when built with the
// sqlite_fts5 tag, so binaries using this package need:
//
//	go build -tags sqlite_fts5 ...
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/regraphio/regraph/graph"
)

func init() {
	sqlite_vec.Auto()
}

// SearchResult holds a chunk with its retrieval score and source info.
type SearchResult struct {
	Key     string  `json:"key"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	URL     string  `json:"url"`
	Score   float64 `json:"score"`
}

// Stats summarises the graph contents.
type Stats struct {
	Nodes      int `json:"nodes"`
	Edges      int `json:"edges"`
	Embeddings int `json:"embeddings"`
	StaleNodes int `json:"stale_nodes"`
}

// dbtx is the querying surface shared by *sql.DB and *sql.Tx, so the same
// Store methods can run standalone or inside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps the SQLite database for all graph persistence.
type Store struct {
	db           *sql.DB
	q            dbtx
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec and FTS5 virtual tables.
func New(dbPath string, embeddingDim int) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		if strings.Contains(err.Error(), "fts5") {
			return nil, fmt.Errorf("creating schema (go-sqlite3 must be built with -tags sqlite_fts5): %w", err)
		}
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}
	s.q = db

	// Run pending migrations.
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// WithTx runs fn against a view of the store bound to one transaction,
// committing when fn returns nil and rolling back otherwise. A nested
// call reuses the already-open transaction.
func (s *Store) WithTx(ctx context.Context, fn func(graph.Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	txs := &Store{db: s.db, q: tx, embeddingDim: s.embeddingDim}
	if err := fn(txs); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- Node operations ---

// UpsertNode inserts or updates a node keyed on its deterministic key.
// Upserting clears the stale flag. A key that already exists with a
// different kind returns graph.ErrKindCollision.
func (s *Store) UpsertNode(ctx context.Context, n graph.Node) error {
	var existing string
	err := s.q.QueryRowContext(ctx,
		"SELECT kind FROM nodes WHERE key = ?", n.Key).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return err
	case existing != string(n.Kind):
		return fmt.Errorf("%w: %s is %s, merge wants %s", graph.ErrKindCollision, n.Key, existing, n.Kind)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO nodes (key, kind, url, title, fingerprint, content, chunk_index, stale)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(key) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			fingerprint = excluded.fingerprint,
			content = excluded.content,
			chunk_index = excluded.chunk_index,
			stale = 0,
			updated_at = CURRENT_TIMESTAMP
	`, n.Key, string(n.Kind), n.URL, n.Title, n.Fingerprint, n.Text, n.ChunkIndex)
	return err
}

// GetNode retrieves a node by key. Returns sql.ErrNoRows when absent.
func (s *Store) GetNode(ctx context.Context, key string) (*graph.Node, error) {
	n := &graph.Node{}
	var kind string
	var url, title, fingerprint, content sql.NullString
	var stale int
	var updatedAt time.Time
	err := s.q.QueryRowContext(ctx, `
		SELECT key, kind, url, title, fingerprint, content, chunk_index, stale, updated_at
		FROM nodes WHERE key = ?
	`, key).Scan(&n.Key, &kind, &url, &title, &fingerprint, &content,
		&n.ChunkIndex, &stale, &updatedAt)
	if err != nil {
		return nil, err
	}
	n.Kind = graph.Kind(kind)
	n.URL = url.String
	n.Title = title.String
	n.Fingerprint = fingerprint.String
	n.Text = content.String
	n.Stale = stale != 0
	n.UpdatedAt = updatedAt
	return n, nil
}

// NodeExists reports whether a node with this key is stored.
func (s *Store) NodeExists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx,
		"SELECT 1 FROM nodes WHERE key = ?", key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// FingerprintByKey returns the stored content fingerprint for a node key.
// found is false when no node with that key exists.
func (s *Store) FingerprintByKey(ctx context.Context, key string) (string, bool, error) {
	var fp sql.NullString
	err := s.q.QueryRowContext(ctx,
		"SELECT fingerprint FROM nodes WHERE key = ?", key).Scan(&fp)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return fp.String, true, nil
}

// MarkNodeStale sets the stale flag without deleting anything.
func (s *Store) MarkNodeStale(ctx context.Context, key string) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE nodes SET stale = 1, updated_at = CURRENT_TIMESTAMP WHERE key = ?", key)
	return err
}

// RecordHTTPStatus stores the last observed HTTP status for a node.
func (s *Store) RecordHTTPStatus(ctx context.Context, key string, status int) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE nodes SET http_status = ?, updated_at = CURRENT_TIMESTAMP WHERE key = ?",
		status, key)
	return err
}

// HasChunksForFingerprint reports whether chunk nodes for this content
// fingerprint already exist, meaning the content was chunked and embedded
// under another URL.
func (s *Store) HasChunksForFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM nodes WHERE kind = ? AND fingerprint = ?",
		string(graph.KindChunk), fingerprint).Scan(&count)
	return count > 0, err
}

// ChunksByFingerprint returns the chunk nodes of a fingerprint in index order.
func (s *Store) ChunksByFingerprint(ctx context.Context, fingerprint string) ([]graph.Node, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT key, title, content, chunk_index, stale
		FROM nodes WHERE kind = ? AND fingerprint = ?
		ORDER BY chunk_index
	`, string(graph.KindChunk), fingerprint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []graph.Node
	for rows.Next() {
		n := graph.Node{Kind: graph.KindChunk, Fingerprint: fingerprint}
		var title, content sql.NullString
		var stale int
		if err := rows.Scan(&n.Key, &title, &content, &n.ChunkIndex, &stale); err != nil {
			return nil, err
		}
		n.Title = title.String
		n.Text = content.String
		n.Stale = stale != 0
		chunks = append(chunks, n)
	}
	return chunks, rows.Err()
}

// --- Edge operations ---

// UpsertEdge inserts an edge, ignoring duplicates of (from, to, kind).
func (s *Store) UpsertEdge(ctx context.Context, e graph.Edge) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO edges (from_key, to_key, kind) VALUES (?, ?, ?)
		ON CONFLICT(from_key, to_key, kind) DO NOTHING
	`, e.FromKey, e.ToKey, string(e.Kind))
	return err
}

// DetachEdges deletes all edges of the given kind leaving fromKey and
// returns the to-keys that were detached.
func (s *Store) DetachEdges(ctx context.Context, fromKey string, kind graph.EdgeKind) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT to_key FROM edges WHERE from_key = ? AND kind = ?",
		fromKey, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var detached []string
	for rows.Next() {
		var to string
		if err := rows.Scan(&to); err != nil {
			return nil, err
		}
		detached = append(detached, to)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	_, err = s.q.ExecContext(ctx,
		"DELETE FROM edges WHERE from_key = ? AND kind = ?",
		fromKey, string(kind))
	return detached, err
}

// RedirectEdges re-points every edge aimed at oldTo towards newTo. An edge
// that would duplicate an existing (from, to, kind) row is dropped instead.
func (s *Store) RedirectEdges(ctx context.Context, oldTo, newTo string) error {
	if _, err := s.q.ExecContext(ctx,
		"UPDATE OR IGNORE edges SET to_key = ? WHERE to_key = ?", newTo, oldTo); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx, "DELETE FROM edges WHERE to_key = ?", oldTo)
	return err
}

// CountEdgesTo counts edges of a kind pointing at toKey.
func (s *Store) CountEdgesTo(ctx context.Context, toKey string, kind graph.EdgeKind) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM edges WHERE to_key = ? AND kind = ?",
		toKey, string(kind)).Scan(&count)
	return count, err
}

// EdgesFrom returns all edges leaving a node.
func (s *Store) EdgesFrom(ctx context.Context, fromKey string) ([]graph.Edge, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT from_key, to_key, kind FROM edges WHERE from_key = ?", fromKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []graph.Edge
	for rows.Next() {
		var e graph.Edge
		var kind string
		if err := rows.Scan(&e.FromKey, &e.ToKey, &kind); err != nil {
			return nil, err
		}
		e.Kind = graph.EdgeKind(kind)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// --- Embedding operations ---

// InsertEmbedding stores the embedding for a chunk node.
func (s *Store) InsertEmbedding(ctx context.Context, key string, embedding []float32) error {
	var id int64
	if err := s.q.QueryRowContext(ctx,
		"SELECT id FROM nodes WHERE key = ?", key).Scan(&id); err != nil {
		return fmt.Errorf("resolving node %s: %w", key, err)
	}
	_, err := s.q.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_nodes (node_id, embedding) VALUES (?, ?)",
		id, serializeFloat32(embedding))
	return err
}

// HasEmbedding reports whether a chunk node has a stored embedding.
func (s *Store) HasEmbedding(ctx context.Context, key string) (bool, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM vec_nodes v
		JOIN nodes n ON n.id = v.node_id
		WHERE n.key = ?
	`, key).Scan(&count)
	return count > 0, err
}

// MissingEmbeddings returns live chunk nodes that have no embedding, for
// repair after an interrupted run.
func (s *Store) MissingEmbeddings(ctx context.Context, limit int) ([]graph.Node, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT n.key, n.title, n.content, n.fingerprint, n.chunk_index
		FROM nodes n
		LEFT JOIN vec_nodes v ON v.node_id = n.id
		WHERE n.kind = ? AND n.stale = 0 AND v.node_id IS NULL
		ORDER BY n.id
		LIMIT ?
	`, string(graph.KindChunk), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []graph.Node
	for rows.Next() {
		n := graph.Node{Kind: graph.KindChunk}
		var title, content, fingerprint sql.NullString
		if err := rows.Scan(&n.Key, &title, &content, &fingerprint, &n.ChunkIndex); err != nil {
			return nil, err
		}
		n.Title = title.String
		n.Text = content.String
		n.Fingerprint = fingerprint.String
		chunks = append(chunks, n)
	}
	return chunks, rows.Err()
}

// --- Search ---

// VectorSearch performs a KNN search returning the top-k nearest chunks.
func (s *Store) VectorSearch(ctx context.Context, queryEmbedding []float32, k int) ([]SearchResult, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT n.key, n.title, n.content, v.distance,
			COALESCE(p.url, '')
		FROM vec_nodes v
		JOIN nodes n ON n.id = v.node_id
		LEFT JOIN edges e ON e.to_key = n.key AND e.kind = 'contains_chunk'
		LEFT JOIN nodes p ON p.key = e.from_key
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var title, content sql.NullString
		var distance float64
		if err := rows.Scan(&r.Key, &title, &content, &distance, &r.URL); err != nil {
			return nil, err
		}
		r.Title = title.String
		r.Content = content.String
		// Convert distance to similarity score (1 - distance for cosine)
		r.Score = 1.0 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

// FTSSearch performs a full-text search using FTS5 BM25 ranking.
func (s *Store) FTSSearch(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT n.key, n.title, n.content, bm25(nodes_fts),
			COALESCE(p.url, '')
		FROM nodes_fts f
		JOIN nodes n ON n.id = f.rowid
		LEFT JOIN edges e ON e.to_key = n.key AND e.kind = 'contains_chunk'
		LEFT JOIN nodes p ON p.key = e.from_key
		WHERE nodes_fts MATCH ? AND n.kind = ?
		ORDER BY bm25(nodes_fts)
		LIMIT ?
	`, query, string(graph.KindChunk), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var title, content sql.NullString
		var rank float64
		if err := rows.Scan(&r.Key, &title, &content, &rank, &r.URL); err != nil {
			return nil, err
		}
		r.Title = title.String
		r.Content = content.String
		// BM25 rank is negative; more negative is better.
		r.Score = -rank
		results = append(results, r)
	}
	return results, rows.Err()
}

// GraphStats returns row counts for observability and the CLI summary.
func (s *Store) GraphStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	for _, q := range []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM nodes", &stats.Nodes},
		{"SELECT COUNT(*) FROM edges", &stats.Edges},
		{"SELECT COUNT(*) FROM vec_nodes", &stats.Embeddings},
		{"SELECT COUNT(*) FROM nodes WHERE stale = 1", &stats.StaleNodes},
	} {
		if err := s.q.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
