package graph

import (
	"regexp"
	"strings"
)

// Entity type constants.
const (
	EntityRegulation = "regulation"
	EntityDirective  = "directive"
	EntityProcedure  = "procedure"
	EntityStandard   = "standard"
)

// Entity is a normalized identifier mentioned in chunk text.
type Entity struct {
	Name string
	Type string
}

// ---------------------------------------------------------------------------
// Regex patterns for the structured identifiers regulatory text carries.
// Matches are normalised to lowercase with collapsed whitespace so the same
// identifier written differently maps to one entity node.
// ---------------------------------------------------------------------------
var (
	// EU regulations: Regulation (EC) No 726/2004, Regulation (EU) 2019/6
	reRegulation = regexp.MustCompile(`(?i)Regulation\s+\((?:EC|EU|EEC)\)\s+(?:No\.?\s+)?\d+/\d+`)
	// EU directives: Directive 2001/83/EC, Directive 2010/63/EU
	reDirective = regexp.MustCompile(`(?i)Directive\s+\d+/\d+(?:/(?:EC|EU|EEC))?`)
	// Centralised procedure numbers: EMEA/H/C/004174, EMA/CHMP/282358/2015
	reProcedure = regexp.MustCompile(`\b(?:EMEA|EMA)/[A-Z]+(?:/[A-Z]+)*/\d+(?:/\d+)?\b`)
	// Published standards: ISO 9001, EN 1366-2, ISO/IEC 17025
	reStandard = regexp.MustCompile(`(?i)\b(?:ISO(?:/IEC)?|EN|IEC)\s*[-]?\s*\d[\d.-]*\b`)
)

type entityPattern struct {
	re  *regexp.Regexp
	typ string
}

var entityPatterns = []entityPattern{
	{reRegulation, EntityRegulation},
	{reDirective, EntityDirective},
	{reProcedure, EntityProcedure},
	{reStandard, EntityStandard},
}

// ExtractEntities finds regulatory identifiers in text. Names are
// lowercased and whitespace-collapsed, and duplicates are removed while
// preserving first-seen order.
func ExtractEntities(text string) []Entity {
	seen := make(map[string]bool)
	var entities []Entity

	for _, p := range entityPatterns {
		for _, m := range p.re.FindAllString(text, -1) {
			name := normalizeEntityName(m)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			entities = append(entities, Entity{Name: name, Type: p.typ})
		}
	}
	return entities
}

func normalizeEntityName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
