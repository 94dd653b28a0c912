package extract

import (
	"bytes"
	"context"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"

	"github.com/regraphio/regraph/urlutil"
)

// Elements and class names that carry navigation chrome rather than
// content. Removal is best-effort: residual boilerplate is tolerated.
var (
	chromeTags = []string{
		"nav", "header", "footer", "aside", "script", "style", "noscript",
		"iframe", "object", "embed", "form", "input", "button",
	}
	chromeClasses = []string{
		"nav", "navbar", "navigation", "sidebar", "menu", "toc",
		"table-of-contents", "footer", "header", "breadcrumb",
		"cookie", "banner", "social", "share", "related",
	}
	excessiveLinesRe = regexp.MustCompile(`\n{4,}`)
	headingLineRe    = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
)

// HTMLExtractor extracts normalized text and structure from HTML pages.
// The body is rendered to markdown so heading structure survives for
// chunking.
type HTMLExtractor struct {
	converter *md.Converter
}

// NewHTMLExtractor returns an HTMLExtractor with a GitHub-flavored
// markdown converter.
func NewHTMLExtractor() *HTMLExtractor {
	conv := md.NewConverter("", true, nil)
	conv.Use(plugin.GitHubFlavored())
	return &HTMLExtractor{converter: conv}
}

// Extract parses the page, collects outbound links, strips navigation
// chrome, and renders the main content to markdown sections.
func (e *HTMLExtractor) Extract(_ context.Context, sourceURL, _ string, body []byte) *Content {
	c := &Content{SourceURL: sourceURL}
	body = sanitizeUTF8(body, c)

	if len(bytes.TrimSpace(body)) == 0 {
		c.Warnings = append(c.Warnings, WarnEmptyDocument)
		return c
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		c.Warnings = append(c.Warnings, WarnUnparseableHTML)
		return c
	}

	c.Title = strings.TrimSpace(doc.Find("title").First().Text())
	c.OutboundLinks = collectLinks(doc, sourceURL)

	main := mainContent(doc)
	htmlStr, err := goquery.OuterHtml(main)
	if err != nil {
		c.Warnings = append(c.Warnings, WarnUnparseableHTML)
		return c
	}

	markdown, err := e.converter.ConvertString(htmlStr)
	if err != nil {
		// Converter failure falls back to plain text so the page still
		// contributes a body.
		c.Warnings = append(c.Warnings, WarnUnparseableHTML)
		markdown = main.Text()
	}
	markdown = cleanMarkdown(markdown)

	if c.Title == "" {
		c.Title = firstMarkdownHeading(markdown)
	}

	if markdown == "" {
		c.Warnings = append(c.Warnings, WarnEmptyDocument)
		return c
	}

	c.BodyText = markdown
	c.Sections = sectionsFromMarkdown(markdown)
	return c
}

// mainContent returns the most content-bearing selection: <main>,
// <article>, or [role=main] when present, otherwise <body> with chrome
// elements removed.
func mainContent(doc *goquery.Document) *goquery.Selection {
	for _, sel := range []string{"main", "article", "[role=main]"} {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return s
		}
	}

	body := doc.Find("body").First()
	if body.Length() == 0 {
		return doc.Selection
	}
	body.Find(strings.Join(chromeTags, ", ")).Remove()
	for _, class := range chromeClasses {
		body.Find("." + class).Remove()
	}
	return body
}

// collectLinks gathers every <a href> on the page, resolved against the
// source URL and canonicalized. Unresolvable or non-http references are
// dropped; duplicates are removed preserving first-seen order.
func collectLinks(doc *goquery.Document, sourceURL string) []string {
	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		abs, err := urlutil.Resolve(sourceURL, href)
		if err != nil {
			return
		}
		canonical, err := urlutil.Canonicalize(abs)
		if err != nil {
			return // mailto:, tel:, javascript: and friends
		}
		if !seen[canonical] {
			seen[canonical] = true
			links = append(links, canonical)
		}
	})
	return links
}

// cleanMarkdown collapses excessive blank lines and trims trailing
// whitespace per line.
func cleanMarkdown(content string) string {
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// firstMarkdownHeading returns the text of the first heading line.
func firstMarkdownHeading(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if m := headingLineRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			return strings.TrimSpace(m[2])
		}
	}
	return ""
}

// sectionsFromMarkdown splits rendered markdown into heading-delimited
// sections. Text before the first heading becomes an untitled section.
func sectionsFromMarkdown(markdown string) []Section {
	var sections []Section
	var cur Section
	var buf strings.Builder

	flush := func() {
		text := strings.TrimSpace(buf.String())
		if text != "" || cur.Heading != "" {
			cur.Text = text
			sections = append(sections, cur)
		}
		buf.Reset()
	}

	cur = Section{Level: 1}
	for _, line := range strings.Split(markdown, "\n") {
		if m := headingLineRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			flush()
			cur = Section{Heading: strings.TrimSpace(m[2]), Level: len(m[1])}
			continue
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	flush()
	return sections
}
