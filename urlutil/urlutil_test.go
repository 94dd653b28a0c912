package urlutil

import "testing"

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase host", "https://WWW.Ema.Europa.EU/en/medicines", "https://www.ema.europa.eu/en/medicines"},
		{"strip fragment", "https://example.org/page#section-2", "https://example.org/page"},
		{"strip default https port", "https://example.org:443/page", "https://example.org/page"},
		{"strip default http port", "http://example.org:80/page", "http://example.org/page"},
		{"keep custom port", "https://example.org:8443/page", "https://example.org:8443/page"},
		{"trailing slash removed", "https://example.org/en/medicines/", "https://example.org/en/medicines"},
		{"root path kept", "https://example.org", "https://example.org/"},
		{"query sorted", "https://example.org/s?b=2&a=1", "https://example.org/s?a=1&b=2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.in)
			if err != nil {
				t.Fatalf("Canonicalize(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCanonicalizeStable(t *testing.T) {
	in := "https://Example.org:443/a/b/?z=1&a=2#frag"
	first, err := Canonicalize(in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Canonicalize(first)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("canonical form not a fixed point: %q vs %q", first, second)
	}
}

func TestCanonicalizeRejects(t *testing.T) {
	for _, in := range []string{"mailto:someone@example.org", "javascript:void(0)", "/relative/path", ""} {
		if _, err := Canonicalize(in); err == nil {
			t.Errorf("Canonicalize(%q) should fail", in)
		}
	}
}

func TestResolve(t *testing.T) {
	got, err := Resolve("https://example.org/en/medicines/overview", "../documents/report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	want := "https://example.org/en/documents/report.pdf"
	if got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
}

func TestHashDeterministic(t *testing.T) {
	a := Hash("https://example.org/page")
	b := Hash("https://example.org/page")
	if a != b {
		t.Error("Hash should be deterministic")
	}
	if len(a) != 64 {
		t.Errorf("Hash length = %d, want 64", len(a))
	}
	if a == Hash("https://example.org/other") {
		t.Error("distinct URLs should hash differently")
	}
}
