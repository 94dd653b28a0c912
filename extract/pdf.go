package extract

import (
	"bytes"
	"context"
	"strings"

	"github.com/ledongthuc/pdf"
)

// headerFooterPageShare is the fraction of pages on which a boundary line
// must repeat before it is treated as a running header or footer.
const headerFooterPageShare = 0.5

// boundaryLines is how many lines at the top and bottom of each page are
// considered header/footer candidates.
const boundaryLines = 2

// PDFParser extracts text and section structure from PDF bytes.
type PDFParser struct{}

// Extract reads the PDF page by page, suppresses running headers and
// footers repeated across pages, and splits page text into sections on
// heading patterns. Malformed input yields an empty body plus a warning;
// the underlying library panics on some corrupt files, so extraction runs
// behind a recover.
func (p *PDFParser) Extract(_ context.Context, sourceURL, _ string, body []byte) (content *Content) {
	content = &Content{SourceURL: sourceURL}

	defer func() {
		if r := recover(); r != nil {
			content.BodyText = ""
			content.Sections = nil
			content.Warnings = append(content.Warnings, WarnUnparseablePDF)
		}
	}()

	if len(body) == 0 {
		content.Warnings = append(content.Warnings, WarnEmptyDocument)
		return content
	}

	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		content.Warnings = append(content.Warnings, WarnUnparseablePDF)
		return content
	}

	totalPages := reader.NumPage()
	pages := make([]string, 0, totalPages)
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Pages that fail to extract are skipped, not fatal.
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}

	if len(pages) == 0 {
		content.Warnings = append(content.Warnings, WarnEmptyDocument)
		return content
	}

	pages = stripRunningHeadersFooters(pages)

	var sections []Section
	for _, pageText := range pages {
		sections = append(sections, splitPageIntoSections(pageText)...)
	}
	if len(sections) == 0 {
		content.Warnings = append(content.Warnings, WarnEmptyDocument)
		return content
	}

	content.Sections = sections
	content.BodyText = joinSections(sections)
	if content.Title == "" && sections[0].Heading != "" {
		content.Title = sections[0].Heading
	}
	return content
}

// stripRunningHeadersFooters removes lines that repeat at the top or
// bottom of most pages. Best-effort: single-page documents are returned
// unchanged.
func stripRunningHeadersFooters(pages []string) []string {
	if len(pages) < 3 {
		return pages
	}

	counts := make(map[string]int)
	for _, page := range pages {
		lines := nonEmptyLines(page)
		for _, l := range boundary(lines) {
			counts[l]++
		}
	}

	threshold := int(float64(len(pages)) * headerFooterPageShare)
	if threshold < 2 {
		threshold = 2
	}
	repeated := make(map[string]bool)
	for line, n := range counts {
		if n >= threshold {
			repeated[line] = true
		}
	}
	if len(repeated) == 0 {
		return pages
	}

	out := make([]string, len(pages))
	for i, page := range pages {
		var kept []string
		for _, l := range nonEmptyLines(page) {
			if !repeated[l] {
				kept = append(kept, l)
			}
		}
		out[i] = strings.Join(kept, "\n")
	}
	return out
}

// boundary returns the candidate header/footer lines of one page.
func boundary(lines []string) []string {
	var b []string
	for i := 0; i < len(lines) && i < boundaryLines; i++ {
		b = append(b, lines[i])
	}
	for i := len(lines) - boundaryLines; i < len(lines); i++ {
		if i >= boundaryLines && i >= 0 {
			b = append(b, lines[i])
		}
	}
	return b
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// splitPageIntoSections breaks page text into logical sections on heading
// patterns: short all-caps lines, hierarchical numbering, and common
// structural prefixes.
func splitPageIntoSections(text string) []Section {
	var sections []Section
	var buf strings.Builder
	var heading string
	level := 0

	flush := func() {
		if body := strings.TrimSpace(buf.String()); body != "" || heading != "" {
			sections = append(sections, Section{Heading: heading, Text: body, Level: level})
		}
		buf.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			continue
		}
		if isLikelyHeading(trimmed) {
			flush()
			heading = trimmed
			level = detectHeadingLevel(trimmed)
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(trimmed)
	}
	flush()

	if len(sections) == 0 && strings.TrimSpace(text) != "" {
		sections = append(sections, Section{Text: strings.TrimSpace(text), Level: 1})
	}
	return sections
}

// isLikelyHeading reports whether a line looks like a section heading.
func isLikelyHeading(line string) bool {
	if line == "" || len(line) > 120 {
		return false
	}
	// Short all-caps lines.
	if len(line) > 2 && len(line) < 100 && line == strings.ToUpper(line) && strings.ContainsAny(line, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		return true
	}
	// Hierarchical numbering: "1.", "3.9.1", "7.3.1.2 Title".
	if line[0] >= '0' && line[0] <= '9' {
		head := line
		if len(head) > 10 {
			head = head[:10]
		}
		if strings.Contains(head, ".") {
			return true
		}
	}
	lower := strings.ToLower(line)
	for _, prefix := range []string{"section ", "article ", "chapter ", "part ", "annex ", "appendix "} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// detectHeadingLevel derives the heading depth from its numbering; falls
// back to 1 for all-caps and 2 otherwise.
func detectHeadingLevel(heading string) int {
	first, _, _ := strings.Cut(heading, " ")
	if dots := strings.Count(first, "."); dots > 0 {
		return dots
	}
	if heading == strings.ToUpper(heading) {
		return 1
	}
	return 2
}

// joinSections renders sections back into one normalized body text.
func joinSections(sections []Section) string {
	var b strings.Builder
	for _, s := range sections {
		if s.Heading != "" {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(s.Heading)
		}
		if s.Text != "" {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(s.Text)
		}
	}
	return strings.TrimSpace(b.String())
}
