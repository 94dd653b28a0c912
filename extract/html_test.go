package extract

import (
	"context"
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>Aklief - European Medicines Agency</title></head>
<body>
<nav><a href="/en/medicines">Medicines</a><a href="/en/news">News</a></nav>
<header class="header">Site header</header>
<main>
<h1>Aklief</h1>
<p>Aklief is a medicine used to treat acne vulgaris.</p>
<h2>Authorisation details</h2>
<p>The marketing authorisation was granted under Regulation (EC) No 726/2004.</p>
<p>See the <a href="/en/documents/overview/aklief-epar-summary_en.pdf">EPAR summary</a>
and <a href="https://www.ema.europa.eu/en/medicines/human/EPAR/other">a related page</a>.</p>
</main>
<footer class="footer"><a href="/en/about-us/contact">Contact</a></footer>
</body>
</html>`

func TestHTMLExtract(t *testing.T) {
	e := NewHTMLExtractor()
	c := e.Extract(context.Background(), "https://www.ema.europa.eu/en/medicines/human/EPAR/aklief", "text/html", []byte(samplePage))

	if c.Title != "Aklief - European Medicines Agency" {
		t.Errorf("Title = %q", c.Title)
	}
	if len(c.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", c.Warnings)
	}
	if !strings.Contains(c.BodyText, "acne vulgaris") {
		t.Errorf("body missing paragraph text: %q", c.BodyText)
	}
	if strings.Contains(c.BodyText, "Site header") {
		t.Error("main-content selection should exclude header chrome")
	}

	var pdfLink, pageLink bool
	for _, l := range c.OutboundLinks {
		switch l {
		case "https://www.ema.europa.eu/en/documents/overview/aklief-epar-summary_en.pdf":
			pdfLink = true
		case "https://www.ema.europa.eu/en/medicines/human/EPAR/other":
			pageLink = true
		}
	}
	if !pdfLink {
		t.Errorf("relative PDF link not resolved; links = %v", c.OutboundLinks)
	}
	if !pageLink {
		t.Errorf("absolute link missing; links = %v", c.OutboundLinks)
	}

	if len(c.Sections) < 2 {
		t.Fatalf("expected at least 2 sections, got %d", len(c.Sections))
	}
	var authSection *Section
	for i := range c.Sections {
		if c.Sections[i].Heading == "Authorisation details" {
			authSection = &c.Sections[i]
		}
	}
	if authSection == nil {
		t.Fatalf("missing 'Authorisation details' section; sections = %+v", c.Sections)
	}
	if authSection.Level != 2 {
		t.Errorf("section level = %d, want 2", authSection.Level)
	}
	if !strings.Contains(authSection.Text, "726/2004") {
		t.Errorf("section text = %q", authSection.Text)
	}
}

func TestHTMLExtractLinkDedup(t *testing.T) {
	page := `<html><body><main>
	<a href="/en/a">one</a>
	<a href="/en/a/">same after canonicalization</a>
	<a href="/en/a#frag">same minus fragment</a>
	<a href="mailto:x@example.org">mail</a>
	</main></body></html>`
	e := NewHTMLExtractor()
	c := e.Extract(context.Background(), "https://example.org/en/page", "text/html", []byte(page))
	if len(c.OutboundLinks) != 1 {
		t.Errorf("OutboundLinks = %v, want a single deduplicated link", c.OutboundLinks)
	}
}

func TestHTMLExtractEmptyBody(t *testing.T) {
	e := NewHTMLExtractor()
	c := e.Extract(context.Background(), "https://example.org/x", "text/html", nil)
	if c.BodyText != "" {
		t.Errorf("BodyText = %q, want empty", c.BodyText)
	}
	if len(c.Warnings) == 0 {
		t.Error("expected an empty-document warning")
	}
}

func TestHTMLExtractInvalidUTF8(t *testing.T) {
	bad := append([]byte("<html><body><main><p>ok"), 0xff, 0xfe)
	bad = append(bad, []byte("</p></main></body></html>")...)
	e := NewHTMLExtractor()
	c := e.Extract(context.Background(), "https://example.org/x", "text/html", bad)
	var found bool
	for _, w := range c.Warnings {
		if w == WarnEncodingError {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %q warning, got %v", WarnEncodingError, c.Warnings)
	}
}

func TestSectionsFromMarkdown(t *testing.T) {
	md := "intro text\n\n# First\nbody one\n\n## Nested\nbody two"
	sections := sectionsFromMarkdown(md)
	if len(sections) != 3 {
		t.Fatalf("got %d sections, want 3: %+v", len(sections), sections)
	}
	if sections[0].Heading != "" || sections[0].Text != "intro text" {
		t.Errorf("preamble section = %+v", sections[0])
	}
	if sections[1].Heading != "First" || sections[1].Level != 1 {
		t.Errorf("section 1 = %+v", sections[1])
	}
	if sections[2].Heading != "Nested" || sections[2].Level != 2 {
		t.Errorf("section 2 = %+v", sections[2])
	}
}
