package regraph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/regraphio/regraph/store"
)

// rrfK is the standard reciprocal-rank-fusion constant.
const rrfK = 60

// Search runs hybrid retrieval over the graph: an FTS5 keyword search and
// a vector KNN over chunk embeddings, fused by reciprocal rank. A failed
// query embedding degrades to keyword-only results.
func (p *Pipeline) Search(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("regraph: empty search query")
	}
	if limit <= 0 {
		limit = 10
	}

	var fts []store.SearchResult
	if ftsQuery := sanitizeFTSQuery(query); ftsQuery != "" {
		var err error
		fts, err = p.store.FTSSearch(ctx, ftsQuery, limit)
		if err != nil {
			return nil, fmt.Errorf("fts search: %w", err)
		}
	}

	var vec []store.SearchResult
	if emb, err := p.embedder.Embed(ctx, []string{truncateForEmbed(query)}); err != nil {
		p.logger.Warn("query embedding failed, keyword results only", "error", err)
	} else {
		vec, err = p.store.VectorSearch(ctx, emb[0], limit)
		if err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}
	}

	return fuseByRank(vec, fts, limit), nil
}

// fuseByRank combines ranked result lists with reciprocal rank fusion:
// each result scores sum(1/(k + rank)) over the lists it appears in.
func fuseByRank(vec, fts []store.SearchResult, limit int) []store.SearchResult {
	type fusedEntry struct {
		result store.SearchResult
		score  float64
	}
	fused := make(map[string]*fusedEntry)
	add := func(list []store.SearchResult) {
		for rank, r := range list {
			e, ok := fused[r.Key]
			if !ok {
				e = &fusedEntry{result: r}
				fused[r.Key] = e
			}
			e.score += 1 / float64(rrfK+rank+1)
		}
	}
	add(vec)
	add(fts)

	entries := make([]*fusedEntry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].result.Key < entries[j].result.Key
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	results := make([]store.SearchResult, len(entries))
	for i, e := range entries {
		results[i] = e.result
		results[i].Score = e.score
	}
	return results
}

// ftsQueryReplacer strips FTS5 operators from user input.
var ftsQueryReplacer = strings.NewReplacer(
	`"`, " ", "*", " ", "(", " ", ")", " ", "+", " ", "-", " ",
	"^", " ", ":", " ", "?", " ", "[", " ", "]", " ", "{", " ", "}", " ",
	"!", " ", ".", " ", ",", " ", ";", " ",
)

// sanitizeFTSQuery turns free text into an FTS5 query: the full phrase
// for precision plus each term for recall, OR-ed together. Terms are
// lowercased so a bare AND/OR/NOT cannot act as an operator.
func sanitizeFTSQuery(query string) string {
	words := strings.Fields(strings.ToLower(ftsQueryReplacer.Replace(query)))
	if len(words) == 0 {
		return ""
	}
	parts := make([]string, 0, len(words)+1)
	if len(words) > 1 {
		parts = append(parts, `"`+strings.Join(words, " ")+`"`)
	}
	parts = append(parts, words...)
	return strings.Join(parts, " OR ")
}
