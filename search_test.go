package regraph

import (
	"testing"

	"github.com/regraphio/regraph/store"
)

func TestSanitizeFTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"pharmacovigilance", "pharmacovigilance"},
		{"cystic fibrosis", `"cystic fibrosis" OR cystic OR fibrosis`},
		{`"quoted" AND (grouped)`, `"quoted and grouped" OR quoted OR and OR grouped`},
		{"***", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sanitizeFTSQuery(tt.in); got != tt.want {
			t.Errorf("sanitizeFTSQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFuseByRank(t *testing.T) {
	vec := []store.SearchResult{
		{Key: "chunk:a", Score: 0.9},
		{Key: "chunk:b", Score: 0.8},
	}
	fts := []store.SearchResult{
		{Key: "chunk:b", Score: 5.0},
		{Key: "chunk:c", Score: 4.0},
	}

	fused := fuseByRank(vec, fts, 10)
	if len(fused) != 3 {
		t.Fatalf("got %d results", len(fused))
	}
	// b appears in both lists, so it must outrank the single-list results.
	if fused[0].Key != "chunk:b" {
		t.Errorf("top result = %s, want chunk:b", fused[0].Key)
	}
	for i := 1; i < len(fused); i++ {
		if fused[i].Score > fused[i-1].Score {
			t.Errorf("results not sorted by fused score at %d", i)
		}
	}

	if got := fuseByRank(vec, fts, 2); len(got) != 2 {
		t.Errorf("limit not applied, got %d", len(got))
	}
	if got := fuseByRank(nil, nil, 5); len(got) != 0 {
		t.Errorf("empty inputs should fuse to empty, got %d", len(got))
	}
}
