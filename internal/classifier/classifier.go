// Package classifier tags a query with a label from a fixed set using a
// rule-based fast path backed by an ML path for whatever the rules miss.
package classifier

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/connexus-ai/ragqa-core/internal/model"
)

// QA-router label set: the Answer Engine's actual use case. The citation
// label set {Background, Method, Comparison, Result, Other} that the rule
// table was originally modeled on is not used here, but the classifier
// itself is label-set-agnostic — only the rule table and default label
// need to change to repoint it.
const (
	LabelCode       = "code"
	LabelComparison = "comparison"
	LabelDefinition = "definition"
	LabelHowTo      = "howto"
	LabelAnalytical = "analytical"
	LabelGeneral    = "general"

	defaultLabel = LabelGeneral
)

const defaultConfidenceThreshold = 0.6
const defaultCacheSize = 10000
const ruleConfidence = 0.95

// MLClassifier is the residue path invoked when no rule fires. Classifier
// degrades to rules-only when this is nil or returns an error.
type MLClassifier interface {
	Classify(ctx context.Context, normalizedText string) (label string, confidence float64, distribution map[string]float64, err error)
}

type rule struct {
	label    string
	patterns []*regexp.Regexp
}

// Classifier is a hybrid rule+ML text classifier with result caching.
type Classifier struct {
	rules               []rule
	ml                  MLClassifier
	cache               *lru.Cache[string, model.ClassificationRecord]
	confidenceThreshold float64
	mu                  sync.Mutex // serializes cache writes; lru.Cache is otherwise unsynchronized
}

// Option configures a Classifier at construction time.
type Option func(*Classifier)

// WithConfidenceThreshold overrides the default 0.6 ML-confidence floor
// below which a prediction is downgraded to the default label.
func WithConfidenceThreshold(t float64) Option {
	return func(c *Classifier) { c.confidenceThreshold = t }
}

// WithCacheSize overrides the default 10000-entry LRU cache capacity.
func WithCacheSize(size int) Option {
	return func(c *Classifier) {
		cache, err := lru.New[string, model.ClassificationRecord](size)
		if err == nil {
			c.cache = cache
		}
	}
}

// New constructs a Classifier over the QA-router label set. ml may be nil,
// in which case the classifier runs rules-only and defaults unmatched text
// to LabelGeneral.
func New(ml MLClassifier, opts ...Option) *Classifier {
	cache, _ := lru.New[string, model.ClassificationRecord](defaultCacheSize)
	c := &Classifier{
		rules:               qaRouterRules(),
		ml:                  ml,
		cache:               cache,
		confidenceThreshold: defaultConfidenceThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// qaRouterRules is the QA-router rule table: fast, high-confidence patterns
// for the label classes where the surface form is distinctive enough that
// an ML pass would be wasted work.
func qaRouterRules() []rule {
	return []rule{
		{
			label: LabelCode,
			patterns: compileAll(
				`\b(?:write|show|give)\s+(?:me\s+)?(?:a|an|some)\s+(?:code|function|script|snippet)\b`,
				`\bhow\s+(?:do|can)\s+i\s+(?:implement|code|write)\b`,
				"```",
				`\b(?:syntax|compile error|stack trace|traceback)\b`,
			),
		},
		{
			label: LabelComparison,
			patterns: compileAll(
				`\b(?:compare|comparison|versus|vs\.?)\b`,
				`\bdifference between\b.*\band\b`,
				`\bwhich is better\b`,
				`\b(?:pros and cons|advantages and disadvantages)\b`,
			),
		},
		{
			label: LabelDefinition,
			patterns: compileAll(
				`^what (?:is|are|does)\b`,
				`\bdefine\b`,
				`\bmeaning of\b`,
				`\bwhat does .* mean\b`,
			),
		},
		{
			label: LabelHowTo,
			patterns: compileAll(
				`^how (?:do|can|would) (?:i|you|we)\b`,
				`\bstep(?:s|-by-step)\b`,
				`\btutorial\b`,
				`\bwalk me through\b`,
			),
		},
		{
			label: LabelAnalytical,
			patterns: compileAll(
				`\bwhy (?:does|is|do|did)\b`,
				`\bwhat (?:caused|causes|leads to)\b`,
				`\b(?:analyze|analysis|explain the reasoning)\b`,
				`\bimplications? of\b`,
			),
		},
	}
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

var citationMarkupPattern = regexp.MustCompile(`\[\d+(?:,\s*\d+)*\]`)
var whitespacePattern = regexp.MustCompile(`\s+`)

// Normalize lower-cases text, strips bracketed citation markers like "[1]"
// or "[1, 2]", and collapses runs of whitespace to single spaces.
func Normalize(text string) string {
	normalized := citationMarkupPattern.ReplaceAllString(text, "")
	normalized = whitespacePattern.ReplaceAllString(strings.TrimSpace(normalized), " ")
	return strings.ToLower(normalized)
}

// Fingerprint returns a stable hash of normalized text, used both as the
// classifier's cache key and as the Adaptive Cache's lookup key.
func Fingerprint(normalizedText string) string {
	sum := md5.Sum([]byte(normalizedText))
	return hex.EncodeToString(sum[:])
}

// Classify tags a single piece of text. Rule matches short-circuit the ML
// path entirely (the ML stub must not be invoked when a rule fires). ML
// failures degrade to the default label, never to an error — a classifier
// failure must never fail the request it's attached to.
func (c *Classifier) Classify(ctx context.Context, text string) model.ClassificationRecord {
	normalized := Normalize(text)
	fp := Fingerprint(normalized)

	if cached, ok := c.cache.Get(fp); ok {
		return cached
	}

	record := c.classifyUncached(ctx, normalized, fp)

	c.mu.Lock()
	c.cache.Add(fp, record)
	c.mu.Unlock()

	return record
}

// BatchClassify classifies a batch without repeating cache or ML work for
// duplicate texts within the batch.
func (c *Classifier) BatchClassify(ctx context.Context, texts []string) []model.ClassificationRecord {
	results := make([]model.ClassificationRecord, len(texts))
	seen := make(map[string]model.ClassificationRecord, len(texts))

	for i, text := range texts {
		normalized := Normalize(text)
		fp := Fingerprint(normalized)

		if record, ok := seen[fp]; ok {
			results[i] = record
			continue
		}
		record := c.Classify(ctx, text)
		seen[fp] = record
		results[i] = record
	}
	return results
}

func (c *Classifier) classifyUncached(ctx context.Context, normalized, fp string) model.ClassificationRecord {
	if label, ok := c.applyRules(normalized); ok {
		return model.ClassificationRecord{
			Fingerprint:       fp,
			Label:             label,
			Confidence:        ruleConfidence,
			Method:            model.ClassifiedByRule,
			LabelDistribution: distributionFor(label, ruleConfidence),
		}
	}

	if c.ml == nil {
		return model.ClassificationRecord{
			Fingerprint: fp,
			Label:       defaultLabel,
			Confidence:  0.0,
			Method:      model.ClassifiedByRule,
		}
	}

	label, confidence, distribution, err := c.ml.Classify(ctx, normalized)
	if err != nil {
		return model.ClassificationRecord{
			Fingerprint: fp,
			Label:       defaultLabel,
			Confidence:  0.0,
			Method:      model.ClassifiedByRule,
		}
	}
	if confidence < c.confidenceThreshold {
		label = defaultLabel
		confidence = 0.5
	}
	return model.ClassificationRecord{
		Fingerprint:       fp,
		Label:             label,
		Confidence:        confidence,
		Method:            model.ClassifiedByML,
		LabelDistribution: distribution,
	}
}

func (c *Classifier) applyRules(normalized string) (string, bool) {
	for _, r := range c.rules {
		for _, p := range r.patterns {
			if p.MatchString(normalized) {
				return r.label, true
			}
		}
	}
	return "", false
}

// distributionFor builds a rule-based label distribution: the matched label
// takes confidence, the remainder is split evenly across the rest of the
// label set.
func distributionFor(label string, confidence float64) map[string]float64 {
	all := []string{LabelCode, LabelComparison, LabelDefinition, LabelHowTo, LabelAnalytical, LabelGeneral}
	others := make([]string, 0, len(all)-1)
	for _, l := range all {
		if l != label {
			others = append(others, l)
		}
	}
	dist := map[string]float64{label: confidence}
	remaining := (1.0 - confidence) / float64(len(others))
	for _, l := range others {
		dist[l] = remaining
	}
	return dist
}
