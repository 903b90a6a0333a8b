package model

import "time"

// CacheEntry is a learned question/answer pair in the Adaptive Cache. It is
// eligible for serving iff HitCount >= promotion_threshold and
// PositiveVotes >= NegativeVotes.
type CacheEntry struct {
	Fingerprint       string
	CanonicalQuestion string
	CanonicalAnswer   string
	Keywords          []string
	HitCount          int
	PositiveVotes     int
	NegativeVotes     int
	FirstSeenAt       time.Time
	LastSeenAt        time.Time
	LatencySamplesMs  []int64
	Promoted          bool
	EmbeddingVersion  string
}

// AvgLatencyMs is the mean of the recorded latency samples, 0 if none yet.
func (e *CacheEntry) AvgLatencyMs() float64 {
	if len(e.LatencySamplesMs) == 0 {
		return 0
	}
	var sum int64
	for _, v := range e.LatencySamplesMs {
		sum += v
	}
	return float64(sum) / float64(len(e.LatencySamplesMs))
}

// Eligible reports whether the entry currently meets the promotion rule.
func (e *CacheEntry) Eligible(promotionThreshold int) bool {
	return e.HitCount >= promotionThreshold && e.PositiveVotes >= e.NegativeVotes
}
