// Package adaptivecache learns from repeated queries: it tracks hit counts
// and vote feedback per query fingerprint, promotes an answer to
// serving-eligible once it has proven itself, and serves promoted answers
// either on an exact fingerprint match or a keyword-similarity near match.
package adaptivecache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/connexus-ai/ragqa-core/internal/model"
)

const (
	defaultPromotionThreshold = 5
	defaultJaccardThreshold   = 0.6
	defaultFlushEvery         = 10
	maxLatencySamples         = 50
)

// Store persists and restores the cache's three logical tables (question
// stats, response feedback, promoted entries) — collapsed into a single
// model.CacheEntry per fingerprint in memory, but flushed and loaded as a
// map so a Store implementation can split them back into separate keys.
type Store interface {
	Flush(ctx context.Context, entries map[string]model.CacheEntry) error
	Load(ctx context.Context) (map[string]model.CacheEntry, error)
}

// Option configures an AdaptiveCache at construction time.
type Option func(*AdaptiveCache)

func WithPromotionThreshold(n int) Option {
	return func(c *AdaptiveCache) { c.promotionThreshold = n }
}

func WithJaccardThreshold(t float64) Option {
	return func(c *AdaptiveCache) { c.jaccardThreshold = t }
}

func WithFlushEvery(n int) Option {
	return func(c *AdaptiveCache) { c.flushEvery = n }
}

// fingerprintLocks is a striped lock map: one *sync.Mutex per fingerprint,
// created lazily, adapted from the donor's processingMu+map[string]bool
// single-writer guard in pipeline.go.
type fingerprintLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newFingerprintLocks() *fingerprintLocks {
	return &fingerprintLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *fingerprintLocks) lock(fp string) func() {
	l.mu.Lock()
	m, ok := l.locks[fp]
	if !ok {
		m = &sync.Mutex{}
		l.locks[fp] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// AdaptiveCache is the learning cache shared across requests. Per-fingerprint
// updates take a striped lock; the entry map itself (additions, promoted
// lookups, flush snapshots) is guarded by a read-write lock since reads
// vastly outnumber structural writes.
type AdaptiveCache struct {
	mu      sync.RWMutex
	entries map[string]*model.CacheEntry
	locks   *fingerprintLocks

	promotionThreshold int
	jaccardThreshold   float64
	flushEvery         int
	sinceFlush         int

	store Store
}

// New constructs an AdaptiveCache. If store is non-nil, Load is called
// immediately to warm the in-memory state from the last flush.
func New(ctx context.Context, store Store, opts ...Option) *AdaptiveCache {
	c := &AdaptiveCache{
		entries:            make(map[string]*model.CacheEntry),
		locks:              newFingerprintLocks(),
		promotionThreshold: defaultPromotionThreshold,
		jaccardThreshold:   defaultJaccardThreshold,
		flushEvery:         defaultFlushEvery,
		store:              store,
	}
	for _, opt := range opts {
		opt(c)
	}
	if store != nil {
		if loaded, err := store.Load(ctx); err == nil {
			c.mu.Lock()
			for fp, entry := range loaded {
				e := entry
				c.entries[fp] = &e
			}
			c.mu.Unlock()
		}
	}
	return c
}

// Lookup returns the serving-eligible entry for an exact fingerprint match.
func (c *AdaptiveCache) Lookup(fingerprint string) (model.CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[fingerprint]
	if !ok || !entry.Eligible(c.promotionThreshold) {
		return model.CacheEntry{}, false
	}
	return *entry, true
}

// LookupNearest finds the best Jaccard-keyword match among promoted entries
// when no exact fingerprint hit exists. Returns false if no promoted entry
// clears the similarity threshold.
func (c *AdaptiveCache) LookupNearest(keywords []string) (model.CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	querySet := toSet(keywords)
	if len(querySet) == 0 {
		return model.CacheEntry{}, false
	}

	var best *model.CacheEntry
	bestScore := 0.0
	for _, entry := range c.entries {
		if !entry.Eligible(c.promotionThreshold) {
			continue
		}
		score := jaccard(querySet, toSet(entry.Keywords))
		if score > bestScore && score >= c.jaccardThreshold {
			bestScore = score
			best = entry
		}
	}
	if best == nil {
		return model.CacheEntry{}, false
	}
	return *best, true
}

// RecordHit registers one interaction against a fingerprint: creates the
// entry on first sight, otherwise updates its hit count, canonical answer,
// keyword set, and latency history, then reevaluates promotion eligibility.
// Flushes to the backing Store every flushEvery interactions.
func (c *AdaptiveCache) RecordHit(ctx context.Context, fingerprint, question, answer string, keywords []string, latencyMs int64) model.CacheEntry {
	unlock := c.locks.lock(fingerprint)
	defer unlock()

	now := time.Now().UTC()

	c.mu.Lock()
	entry, ok := c.entries[fingerprint]
	if !ok {
		entry = &model.CacheEntry{
			Fingerprint:       fingerprint,
			CanonicalQuestion: question,
			Keywords:          keywords,
			FirstSeenAt:       now,
		}
		c.entries[fingerprint] = entry
	}
	entry.HitCount++
	entry.CanonicalAnswer = answer
	entry.LastSeenAt = now
	entry.LatencySamplesMs = append(entry.LatencySamplesMs, latencyMs)
	if len(entry.LatencySamplesMs) > maxLatencySamples {
		entry.LatencySamplesMs = entry.LatencySamplesMs[len(entry.LatencySamplesMs)-maxLatencySamples:]
	}
	entry.Promoted = entry.Eligible(c.promotionThreshold)
	snapshot := *entry
	c.mu.Unlock()

	c.maybeFlush(ctx)
	return snapshot
}

// RecordFeedback registers a positive or negative vote against a
// fingerprint's current canonical answer and reevaluates promotion — an
// entry is demoted the moment negative votes overtake positive ones.
func (c *AdaptiveCache) RecordFeedback(ctx context.Context, fingerprint string, positive bool) {
	unlock := c.locks.lock(fingerprint)
	defer unlock()

	c.mu.Lock()
	entry, ok := c.entries[fingerprint]
	if ok {
		if positive {
			entry.PositiveVotes++
		} else {
			entry.NegativeVotes++
		}
		entry.Promoted = entry.Eligible(c.promotionThreshold)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	c.maybeFlush(ctx)
}

// InvalidateEmbeddingVersion demotes the entry for fingerprint when it is
// tagged with an embedding version other than currentVersion, then tags it
// with currentVersion. Other entries are not touched.
func (c *AdaptiveCache) InvalidateEmbeddingVersion(fingerprint, currentVersion string) {
	unlock := c.locks.lock(fingerprint)
	defer unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[fingerprint]
	if !ok {
		return
	}
	if entry.EmbeddingVersion != "" && entry.EmbeddingVersion != currentVersion {
		entry.Promoted = false
	}
	entry.EmbeddingVersion = currentVersion
}

// maybeFlush flushes the full snapshot to the Store every flushEvery
// interactions. Caller must not hold c.mu.
func (c *AdaptiveCache) maybeFlush(ctx context.Context) {
	if c.store == nil {
		return
	}
	c.mu.Lock()
	c.sinceFlush++
	due := c.sinceFlush >= c.flushEvery
	if due {
		c.sinceFlush = 0
	}
	c.mu.Unlock()
	if !due {
		return
	}
	_ = c.store.Flush(ctx, c.Snapshot())
}

// Snapshot returns a defensive copy of every entry, keyed by fingerprint.
func (c *AdaptiveCache) Snapshot() map[string]model.CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]model.CacheEntry, len(c.entries))
	for fp, entry := range c.entries {
		out[fp] = *entry
	}
	return out
}

// stopwords mirrors the donor's simple keyword extractor.
var stopwords = map[string]bool{
	"what": true, "is": true, "the": true, "a": true, "an": true,
	"and": true, "or": true, "but": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "of": true, "with": true, "by": true,
}

// ExtractKeywords pulls up to 10 content words (length > 2, not a
// stopword) from text, lower-cased — used both to populate a new entry's
// keyword set and to drive Jaccard near-match lookups.
func ExtractKeywords(text string) []string {
	words := strings.Fields(strings.ToLower(text))
	keywords := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) > 2 && !stopwords[w] {
			keywords = append(keywords, w)
		}
		if len(keywords) == 10 {
			break
		}
	}
	return keywords
}

func toSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// jaccard computes |intersection| / |union| over two keyword sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
