package adaptivecache

import (
	"time"

	"github.com/connexus-ai/ragqa-core/internal/model"
)

const timeLayout = time.RFC3339Nano

// mergeRecords reconstructs the in-memory CacheEntry view from the three
// split tables, keyed by fingerprint. A fingerprint missing from one table
// (e.g. no feedback yet) simply gets that table's zero values.
func mergeRecords(
	patterns map[string]questionPatternRecord,
	feedback map[string]responseFeedbackRecord,
	promoted map[string]promotedRecord,
) map[string]model.CacheEntry {
	out := make(map[string]model.CacheEntry, len(patterns))
	for fp, p := range patterns {
		entry := model.CacheEntry{
			Fingerprint:       fp,
			CanonicalQuestion: p.CanonicalQuestion,
			Keywords:          p.Keywords,
			HitCount:          p.HitCount,
			LatencySamplesMs:  p.LatencySamplesMs,
		}
		if t, err := time.Parse(timeLayout, p.FirstSeenAt); err == nil {
			entry.FirstSeenAt = t
		}
		if t, err := time.Parse(timeLayout, p.LastSeenAt); err == nil {
			entry.LastSeenAt = t
		}
		if f, ok := feedback[fp]; ok {
			entry.CanonicalAnswer = f.CanonicalAnswer
			entry.PositiveVotes = f.PositiveVotes
			entry.NegativeVotes = f.NegativeVotes
		}
		if pr, ok := promoted[fp]; ok {
			entry.Promoted = pr.Promoted
			entry.EmbeddingVersion = pr.EmbeddingVersion
		}
		out[fp] = entry
	}
	return out
}
