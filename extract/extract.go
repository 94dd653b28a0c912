// Package extract turns raw fetched bytes into normalized content.
// Concrete extractors exist for HTML, PDF, and XLSX; anything else falls
// through to a null extractor that records a warning instead of failing,
// so the pipeline keeps moving on unsupported formats.
package extract

import (
	"context"
	"strings"
)

// Warning classes recorded in Content.Warnings. Each failure mode maps to
// one class so downstream tooling can aggregate them.
const (
	WarnUnparseablePDF  = "unparseable-pdf"
	WarnUnparseableHTML = "unparseable-html"
	WarnUnparseableXLSX = "unparseable-xlsx"
	WarnEmptyDocument   = "empty-document"
	WarnEncodingError   = "encoding-error"
	WarnUnsupportedType = "unsupported-content-type"
)

// Section is one structural unit of a document: a heading plus the text
// that follows it until the next heading (or page break for PDFs).
type Section struct {
	Heading string
	Text    string
	Level   int
}

// Content is the normalized result of extracting one resource.
// A failed extraction is still a valid Content: empty BodyText plus at
// least one warning.
type Content struct {
	SourceURL     string
	Title         string
	BodyText      string
	Sections      []Section
	OutboundLinks []string
	Warnings      []string
}

// Extractor converts raw bytes into Content. Implementations never fail:
// malformed input degrades to an empty body with warnings.
type Extractor interface {
	Extract(ctx context.Context, sourceURL, contentType string, body []byte) *Content
}

// Registry selects an extractor by media type. Unregistered types get the
// null extractor.
type Registry struct {
	byType map[string]Extractor
	null   Extractor
}

// NewRegistry returns a Registry with the built-in extractors registered.
func NewRegistry() *Registry {
	r := &Registry{
		byType: make(map[string]Extractor),
		null:   &NullExtractor{},
	}
	html := NewHTMLExtractor()
	r.Register("text/html", html)
	r.Register("application/xhtml+xml", html)
	r.Register("application/pdf", &PDFParser{})
	xlsx := &XLSXParser{}
	r.Register("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", xlsx)
	r.Register("application/vnd.ms-excel", xlsx)
	r.Register("text/plain", &TextExtractor{})
	return r
}

// Register binds a media type to an extractor, replacing any previous
// binding.
func (r *Registry) Register(mediaType string, e Extractor) {
	r.byType[normalizeMediaType(mediaType)] = e
}

// Get returns the extractor for a Content-Type header value. It is total:
// unknown or empty types yield the null extractor.
func (r *Registry) Get(contentType string) Extractor {
	if e, ok := r.byType[normalizeMediaType(contentType)]; ok {
		return e
	}
	return r.null
}

func normalizeMediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// NullExtractor handles anything the registry has no extractor for.
type NullExtractor struct{}

// Extract records the unsupported type and returns an empty body.
func (n *NullExtractor) Extract(_ context.Context, sourceURL, contentType string, _ []byte) *Content {
	return &Content{
		SourceURL: sourceURL,
		Warnings:  []string{WarnUnsupportedType + ": " + normalizeMediaType(contentType)},
	}
}

// TextExtractor handles text/plain resources as a single section.
type TextExtractor struct{}

// Extract wraps the whole body in one section.
func (t *TextExtractor) Extract(_ context.Context, sourceURL, _ string, body []byte) *Content {
	c := &Content{SourceURL: sourceURL}
	text := strings.TrimSpace(string(sanitizeUTF8(body, c)))
	if text == "" {
		c.Warnings = append(c.Warnings, WarnEmptyDocument)
		return c
	}
	c.BodyText = text
	c.Sections = []Section{{Text: text, Level: 1}}
	return c
}

// sanitizeUTF8 replaces invalid byte sequences and records an encoding
// warning when any were found.
func sanitizeUTF8(body []byte, c *Content) []byte {
	cleaned := strings.ToValidUTF8(string(body), "�")
	if cleaned != string(body) {
		c.Warnings = append(c.Warnings, WarnEncodingError)
	}
	return []byte(cleaned)
}
