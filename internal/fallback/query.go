package fallback

import (
	"regexp"
	"strings"
)

var (
	questionWordPattern  = regexp.MustCompile(`\b(?:what|how|why|when|where|who|which|is|are|was|were|does|do|did|can|could|will|would|the|a|an)\b`)
	nonWordPattern       = regexp.MustCompile(`[^\w\s]`)
	whitespaceRunPattern = regexp.MustCompile(`\s+`)
	properNounPattern    = regexp.MustCompile(`\b[A-Z][a-z]*(?:\s+[A-Z][a-z]*)*\b`)
	camelCasePattern     = regexp.MustCompile(`\b([A-Z][a-z]*(?:[A-Z][a-z]*)+)\b`)
	hyphenatedPattern    = regexp.MustCompile(`\b([a-z]+(?:-[a-z]+)+)\b`)
	acronymPattern       = regexp.MustCompile(`\b([A-Z]{2,})\b`)
)

const maxSearchTerms = 5

// CleanQuery reformulates a natural-language question into up to 5 search
// terms: the question stripped of question-words, articles and punctuation, any
// proper-noun phrases, and any CamelCase/hyphenated/ACRONYM technical terms
// — in that priority order, deduplicated.
func CleanQuery(query string) []string {
	terms := make([]string, 0, maxSearchTerms)
	seen := make(map[string]bool)

	add := func(term string) {
		if len(term) > 2 && !seen[term] {
			terms = append(terms, term)
			seen[term] = true
		}
	}

	stripped := questionWordPattern.ReplaceAllString(strings.ToLower(query), "")
	stripped = nonWordPattern.ReplaceAllString(stripped, " ")
	stripped = whitespaceRunPattern.ReplaceAllString(stripped, " ")
	add(strings.TrimSpace(stripped))

	for _, m := range properNounPattern.FindAllString(query, -1) {
		if len(m) > 3 {
			add(m)
		}
	}
	for _, pattern := range []*regexp.Regexp{camelCasePattern, hyphenatedPattern, acronymPattern} {
		for _, m := range pattern.FindAllString(query, -1) {
			add(m)
		}
	}

	if len(terms) > maxSearchTerms {
		terms = terms[:maxSearchTerms]
	}
	return terms
}
