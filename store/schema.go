package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Graph nodes. Keys are deterministic: page:<urlhash>, doc:<urlhash>,
-- chunk:<fingerprint>:<index>, entity:<type>:<name>.
CREATE TABLE IF NOT EXISTS nodes (
    id INTEGER PRIMARY KEY,
    key TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL,
    url TEXT,
    title TEXT,
    fingerprint TEXT,
    content TEXT,
    chunk_index INTEGER DEFAULT 0,
    stale INTEGER NOT NULL DEFAULT 0,
    http_status INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Directed edges, unique per (from, to, kind). to_key carries no foreign
-- key: pages may link to targets that have not been ingested yet.
CREATE TABLE IF NOT EXISTS edges (
    id INTEGER PRIMARY KEY,
    from_key TEXT NOT NULL REFERENCES nodes(key) ON DELETE CASCADE,
    to_key TEXT NOT NULL,
    kind TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(from_key, to_key, kind)
);

-- Vector embeddings via sqlite-vec, keyed on the chunk node rowid.
CREATE VIRTUAL TABLE IF NOT EXISTS vec_nodes USING vec0(
    node_id INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Full-text search over chunk content via FTS5
CREATE VIRTUAL TABLE IF NOT EXISTS nodes_fts USING fts5(
    content,
    title,
    content='nodes',
    content_rowid='id',
    tokenize='porter unicode61'
);

-- FTS triggers to keep index in sync
CREATE TRIGGER IF NOT EXISTS nodes_ai AFTER INSERT ON nodes BEGIN
    INSERT INTO nodes_fts(rowid, content, title) VALUES (new.id, new.content, new.title);
END;
CREATE TRIGGER IF NOT EXISTS nodes_ad AFTER DELETE ON nodes BEGIN
    INSERT INTO nodes_fts(nodes_fts, rowid, content, title) VALUES ('delete', old.id, old.content, old.title);
END;
CREATE TRIGGER IF NOT EXISTS nodes_au AFTER UPDATE ON nodes BEGIN
    INSERT INTO nodes_fts(nodes_fts, rowid, content, title) VALUES ('delete', old.id, old.content, old.title);
    INSERT INTO nodes_fts(rowid, content, title) VALUES (new.id, new.content, new.title);
END;

-- Indexes
CREATE INDEX IF NOT EXISTS idx_nodes_kind ON nodes(kind);
CREATE INDEX IF NOT EXISTS idx_nodes_fingerprint ON nodes(fingerprint);
CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_key, kind);
CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_key, kind);
`, embeddingDim)
}
