package adaptivecache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/connexus-ai/ragqa-core/internal/apperr"
	"github.com/connexus-ai/ragqa-core/internal/model"
)

// FileStore persists the three logical tables as JSON files on disk,
// matching the donor's bare JSON-file persistence — used when no Redis
// endpoint is configured so the flush-every-K guarantee still holds.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Flush(ctx context.Context, entries map[string]model.CacheEntry) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return apperr.New(apperr.KindInternal, "adaptivecache.FileStore.Flush", s.dir, err)
	}

	patterns := make(map[string]questionPatternRecord, len(entries))
	feedback := make(map[string]responseFeedbackRecord, len(entries))
	promoted := make(map[string]promotedRecord, len(entries))

	for fp, e := range entries {
		patterns[fp] = questionPatternRecord{
			CanonicalQuestion: e.CanonicalQuestion,
			Keywords:          e.Keywords,
			HitCount:          e.HitCount,
			FirstSeenAt:       e.FirstSeenAt.Format(timeLayout),
			LastSeenAt:        e.LastSeenAt.Format(timeLayout),
			LatencySamplesMs:  e.LatencySamplesMs,
		}
		feedback[fp] = responseFeedbackRecord{
			CanonicalAnswer: e.CanonicalAnswer,
			PositiveVotes:   e.PositiveVotes,
			NegativeVotes:   e.NegativeVotes,
		}
		promoted[fp] = promotedRecord{
			Promoted:         e.Promoted,
			EmbeddingVersion: e.EmbeddingVersion,
		}
	}

	if err := writeJSONFile(filepath.Join(s.dir, "question_patterns.json"), patterns); err != nil {
		return err
	}
	if err := writeJSONFile(filepath.Join(s.dir, "response_feedback.json"), feedback); err != nil {
		return err
	}
	return writeJSONFile(filepath.Join(s.dir, "promoted.json"), promoted)
}

func (s *FileStore) Load(ctx context.Context) (map[string]model.CacheEntry, error) {
	var patterns map[string]questionPatternRecord
	var feedback map[string]responseFeedbackRecord
	var promoted map[string]promotedRecord

	if err := readJSONFile(filepath.Join(s.dir, "question_patterns.json"), &patterns); err != nil {
		return nil, err
	}
	if err := readJSONFile(filepath.Join(s.dir, "response_feedback.json"), &feedback); err != nil {
		return nil, err
	}
	if err := readJSONFile(filepath.Join(s.dir, "promoted.json"), &promoted); err != nil {
		return nil, err
	}

	return mergeRecords(patterns, feedback, promoted), nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperr.New(apperr.KindInternal, "adaptivecache.writeJSONFile", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperr.New(apperr.KindInternal, "adaptivecache.writeJSONFile", path, err)
	}
	return nil
}

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return apperr.New(apperr.KindInternal, "adaptivecache.readJSONFile", path, err)
	}
	return json.Unmarshal(data, v)
}
