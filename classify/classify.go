// Package classify assigns a semantic role to crawled URLs. The role
// decides which extractor handles a resource and whether its links are
// worth following. Classification is a pure function of URL shape and
// content type so a re-crawl always derives the same role.
package classify

import (
	"fmt"
	"regexp"
	"strings"
)

// Role is the semantic classification of a URL.
type Role string

const (
	// RoleDocumentPage is a content-bearing HTML page.
	RoleDocumentPage Role = "document_page"
	// RoleAttachment is a linked document file (PDF, spreadsheet, ...).
	RoleAttachment Role = "attachment"
	// RoleIndexPage is a listing/navigation page crawled for links only.
	RoleIndexPage Role = "index_page"
	// RoleIrrelevant marks URLs outside the ingestion scope.
	RoleIrrelevant Role = "irrelevant"
)

// Rule is one prioritized classification rule. Pattern is matched against
// the full canonical URL; ContentTypes, when non-empty, must additionally
// match the resource's media type. The first matching rule wins, so rule
// lists are ordered most-specific-first.
type Rule struct {
	Name         string   `json:"name" yaml:"name"`
	Pattern      string   `json:"pattern" yaml:"pattern"`
	ContentTypes []string `json:"content_types,omitempty" yaml:"content_types,omitempty"`
	Role         Role     `json:"role" yaml:"role"`
}

type compiledRule struct {
	name  string
	re    *regexp.Regexp
	types map[string]bool
	role  Role
}

// Classifier evaluates an ordered rule list. The zero value is not usable;
// construct with New or Default.
type Classifier struct {
	rules []compiledRule
}

// New compiles a rule list into a Classifier. Invalid patterns or roles
// are configuration errors and abort construction.
func New(rules []Rule) (*Classifier, error) {
	c := &Classifier{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): compiling pattern: %w", i, r.Name, err)
		}
		switch r.Role {
		case RoleDocumentPage, RoleAttachment, RoleIndexPage, RoleIrrelevant:
		default:
			return nil, fmt.Errorf("rule %d (%s): unknown role %q", i, r.Name, r.Role)
		}
		cr := compiledRule{name: r.Name, re: re, role: r.Role}
		if len(r.ContentTypes) > 0 {
			cr.types = make(map[string]bool, len(r.ContentTypes))
			for _, ct := range r.ContentTypes {
				cr.types[strings.ToLower(strings.TrimSpace(ct))] = true
			}
		}
		c.rules = append(c.rules, cr)
	}
	return c, nil
}

// Default returns a Classifier with the built-in rule set.
func Default() *Classifier {
	c, err := New(DefaultRules())
	if err != nil {
		// The built-in rules are covered by tests; a compile failure here
		// is a programming error.
		panic("classify: default rules invalid: " + err.Error())
	}
	return c
}

// Classify returns the role for a URL and media type. It is total: any
// URL that matches no rule is RoleIrrelevant.
func (c *Classifier) Classify(rawURL, contentType string) Role {
	mediaType := normalizeMediaType(contentType)
	for _, r := range c.rules {
		if r.types != nil {
			if mediaType == "" || !r.types[mediaType] {
				continue
			}
		}
		if r.re.MatchString(rawURL) {
			return r.role
		}
	}
	return RoleIrrelevant
}

// normalizeMediaType lowercases a Content-Type header value and strips
// parameters such as charset.
func normalizeMediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// euLanguageCodes are the two-letter codes of non-English EU language
// document variants published alongside the English originals. Go's RE2
// has no negative lookahead, so the exclusion is spelled out.
const euLanguageCodes = `(?:bg|cs|da|de|el|es|et|fi|fr|ga|hr|hu|it|lt|lv|mt|nl|pl|pt|ro|sk|sl|sv)`

// DefaultRules is the built-in rule set for a regulatory site in the
// shape of ema.europa.eu. Most-specific rules come first; exclusions
// precede the broad matches they would otherwise shadow.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "non-http-schemes",
			Pattern: `^(?:mailto|tel|javascript):`,
			Role:    RoleIrrelevant,
		},
		{
			Name:    "static-assets",
			Pattern: `(?i)\.(?:svg|png|jpe?g|gif|ico|css|js|xml|xsd)(?:\?|$)`,
			Role:    RoleIrrelevant,
		},
		{
			Name:    "non-english-documents",
			Pattern: `(?i)_` + euLanguageCodes + `(?:-\d{1,2})?\.pdf(?:\?|$)`,
			Role:    RoleIrrelevant,
		},
		{
			Name:    "document-files",
			Pattern: `(?i)\.(?:pdf|xlsx?|docx?|pptx?)(?:\?|$)`,
			Role:    RoleAttachment,
		},
		{
			Name:         "pdf-content-type",
			Pattern:      `.`,
			ContentTypes: []string{"application/pdf"},
			Role:         RoleAttachment,
		},
		{
			Name:    "spreadsheet-content-type",
			Pattern: `.`,
			ContentTypes: []string{
				"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
				"application/vnd.ms-excel",
			},
			Role: RoleAttachment,
		},
		{
			Name:    "listing-pages",
			Pattern: `/en/(?:medicines|news|events|search)(?:\?[^/]*)?$`,
			Role:    RoleIndexPage,
		},
		{
			Name:    "english-site-section",
			Pattern: `://[^/]+/en(?:/|$)`,
			Role:    RoleDocumentPage,
		},
	}
}
