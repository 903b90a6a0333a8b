// Package fallback retrieves supporting content from an external knowledge
// source when local retrieval produces insufficient evidence, scores the
// hits against the original query, and synthesizes a single reply with
// per-source provenance.
package fallback

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/connexus-ai/ragqa-core/internal/apperr"
)

const (
	defaultMaxResults     = 3
	defaultContentSizeCap = 2000
	defaultSearchTimeout  = 10 * time.Second
	defaultFetchTimeout   = 15 * time.Second
	minRelevance          = 0.1
)

// Weights controls the relative contribution of title overlap, content
// overlap, exact-phrase presence, and the provider's own relevance score to
// a hit's final relevance score. Defaults are the grounded source's literal
// 0.5/0.3/0.2 weights plus up to a 0.1 provider-score bonus.
type Weights struct {
	Title         float64
	Content       float64
	ExactPhrase   float64
	ProviderScore float64
}

func defaultWeights() Weights {
	return Weights{Title: 0.5, Content: 0.3, ExactPhrase: 0.2, ProviderScore: 0.1}
}

// Hit is one external search result before relevance scoring.
type Hit struct {
	Title       string
	Extract     string
	URL         string
	NativeScore float64 // the provider's own relevance/search score, provider-specific scale
}

// Source is a scored, deduplicated hit included in a Result.
type Source struct {
	Title     string
	URL       string
	Relevance float64
}

// Result is the External Source Client's synthesized reply.
type Result struct {
	Text       string
	Confidence float64
	Sources    []Source
}

// Provider is an external knowledge source: a public encyclopedia API, a
// web-search provider, or an alternative model service. The choice is
// injected so the Client itself stays source-agnostic.
type Provider interface {
	Search(ctx context.Context, term string, maxResults int) ([]Hit, error)
}

// Client is the External Source Client (§4.10): query cleaning, bounded
// fan-out search across reformulated terms, relevance scoring, and answer
// synthesis.
type Client struct {
	provider       Provider
	maxResults     int
	contentSizeCap int
	weights        Weights
	searchTimeout  time.Duration
}

// Option configures a Client at construction time.
type Option func(*Client)

func WithMaxResults(n int) Option              { return func(c *Client) { c.maxResults = n } }
func WithContentSizeCap(n int) Option          { return func(c *Client) { c.contentSizeCap = n } }
func WithWeights(w Weights) Option             { return func(c *Client) { c.weights = w } }
func WithSearchTimeout(d time.Duration) Option { return func(c *Client) { c.searchTimeout = d } }

// New constructs a Client over the given Provider. The Provider is
// responsible for its own content-fetch timeout (default 15s); the Client
// only bounds the overall per-term search fan-out (default 10s).
func New(provider Provider, opts ...Option) *Client {
	c := &Client{
		provider:       provider,
		maxResults:     defaultMaxResults,
		contentSizeCap: defaultContentSizeCap,
		weights:        defaultWeights(),
		searchTimeout:  defaultSearchTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchAndAnswer cleans the query into search terms, fans out to the
// Provider for each term (bounded by the search timeout), scores and
// deduplicates the hits, and synthesizes a single reply.
func (c *Client) SearchAndAnswer(ctx context.Context, query string) (*Result, error) {
	terms := CleanQuery(query)
	if len(terms) == 0 {
		return &Result{
			Text:       "I couldn't extract meaningful search terms from your question.",
			Confidence: 0.1,
		}, nil
	}

	searchCtx, cancel := context.WithTimeout(ctx, c.searchTimeout)
	defer cancel()

	var allHits []Hit
	for _, term := range terms {
		hits, err := c.provider.Search(searchCtx, term, c.maxResults)
		if err != nil {
			continue // one term failing doesn't sink the whole fallback
		}
		allHits = append(allHits, hits...)
	}

	if len(allHits) == 0 {
		return &Result{
			Text:       "I couldn't find relevant information from the external source for your question.",
			Confidence: 0.2,
		}, nil
	}

	sources := c.rankAndDedupe(query, allHits)
	if len(sources) == 0 {
		return &Result{
			Text:       "I couldn't find relevant information from the external source for your question.",
			Confidence: 0.2,
		}, nil
	}

	return &Result{
		Text:       c.synthesize(sources, allHits),
		Confidence: sources[0].Relevance,
		Sources:    sources,
	}, nil
}

// rankAndDedupe scores every hit, drops anything below minRelevance, sorts
// descending by score, and keeps at most one (the highest-scoring) hit per
// title, capped at maxResults.
func (c *Client) rankAndDedupe(query string, hits []Hit) []Source {
	scored := make([]Source, 0, len(hits))
	for _, h := range hits {
		relevance := c.scoreRelevance(query, h)
		if relevance > minRelevance {
			scored = append(scored, Source{Title: h.Title, URL: h.URL, Relevance: relevance})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Relevance > scored[j].Relevance })

	out := make([]Source, 0, c.maxResults)
	seen := make(map[string]bool)
	for _, s := range scored {
		if seen[s.Title] {
			continue
		}
		seen[s.Title] = true
		out = append(out, s)
		if len(out) >= c.maxResults {
			break
		}
	}
	return out
}

var wordBoundaryPattern = regexp.MustCompile(`\b\w+\b`)

// scoreRelevance blends title overlap, content overlap, an exact-phrase
// bonus, and the provider's native score, matching the grounded source's
// literal weighting.
func (c *Client) scoreRelevance(query string, h Hit) float64 {
	queryWords := toSet(wordBoundaryPattern.FindAllString(strings.ToLower(query), -1))
	if len(queryWords) == 0 {
		return 0
	}
	titleWords := toSet(wordBoundaryPattern.FindAllString(strings.ToLower(h.Title), -1))
	extractWords := toSet(wordBoundaryPattern.FindAllString(strings.ToLower(h.Extract), -1))

	score := 0.0
	if len(titleWords) > 0 {
		score += overlapRatio(queryWords, titleWords) * c.weights.Title
	}
	if len(extractWords) > 0 {
		score += overlapRatio(queryWords, extractWords) * c.weights.Content
	}

	titleLower := strings.ToLower(h.Title)
	for w := range queryWords {
		if len(w) > 3 && strings.Contains(titleLower, w) {
			score += c.weights.ExactPhrase
			break
		}
	}

	providerBonus := h.NativeScore / 1000
	if providerBonus > c.weights.ProviderScore {
		providerBonus = c.weights.ProviderScore
	}
	score += providerBonus

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func overlapRatio(query, other map[string]bool) float64 {
	overlap := 0
	for w := range query {
		if other[w] {
			overlap++
		}
	}
	return float64(overlap) / float64(len(query))
}

func toSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// synthesize assembles a single reply from the ranked sources, using the
// best-scoring hit's extract as the primary content and capping it at
// contentSizeCap, matching the grounded source's literal 2000-char default.
func (c *Client) synthesize(sources []Source, hits []Hit) string {
	byTitle := make(map[string]Hit, len(hits))
	for _, h := range hits {
		if _, ok := byTitle[h.Title]; !ok {
			byTitle[h.Title] = h
		}
	}

	var sb strings.Builder
	best := byTitle[sources[0].Title]
	content := best.Extract
	if len(content) > c.contentSizeCap {
		content = content[:c.contentSizeCap] + "..."
	}
	sb.WriteString(content)

	if len(sources) > 1 {
		sb.WriteString("\n\nAdditional information:\n")
		for _, s := range sources[1:] {
			h := byTitle[s.Title]
			short := h.Extract
			if len(short) > 200 {
				short = short[:200] + "..."
			}
			sb.WriteString("- ")
			sb.WriteString(h.Title)
			sb.WriteString(": ")
			sb.WriteString(short)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// poorAnswerIndicators are substrings in a local answer that signal it's
// likely insufficient even at acceptable confidence, grounded on the
// source's literal indicator list.
var poorAnswerIndicators = []string{
	"insufficient information",
	"cannot answer",
	"not enough context",
	"unclear from the",
	"not specified in",
}

const minAcceptableAnswerLength = 50

// ShouldTrigger reports whether the External Source Client should be
// invoked: the local confidence is below threshold, the local answer
// matches a poor-answer indicator, or the local answer is implausibly
// short.
func ShouldTrigger(localConfidence float64, localAnswer string, threshold float64) bool {
	if localConfidence < threshold {
		return true
	}
	lower := strings.ToLower(localAnswer)
	for _, indicator := range poorAnswerIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return len(strings.TrimSpace(localAnswer)) < minAcceptableAnswerLength
}

// wrapErr is used by Provider implementations to classify transport
// failures uniformly.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded {
		return apperr.New(apperr.KindDeadlineExceeded, op, "external source call timed out", err)
	}
	return apperr.New(apperr.KindDependencyUnavailable, op, "external source call failed", err)
}
