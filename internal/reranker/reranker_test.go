package reranker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/connexus-ai/ragqa-core/internal/model"
)

type fakeScorer struct {
	scores map[string]float64
	err    error
	delay  time.Duration
}

func (f *fakeScorer) Score(ctx context.Context, query, passage string) (float64, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if f.err != nil {
		return 0, f.err
	}
	return f.scores[passage], nil
}

func cand(doc string, ordinal, rank int, text string) Candidate {
	return Candidate{Ref: model.ChunkRef{DocumentID: doc, Ordinal: ordinal}, Text: text, OriginalRank: rank}
}

func TestRerank_NilScorerDegrades(t *testing.T) {
	r := New(nil)
	candidates := []Candidate{cand("d1", 0, 0, "a"), cand("d1", 1, 1, "b")}
	out := r.Rerank(context.Background(), "q", candidates, Config{})
	if !out.Degraded {
		t.Fatal("expected Degraded=true for nil scorer")
	}
	if len(out.Results) != 2 {
		t.Fatalf("Results len = %d, want 2", len(out.Results))
	}
}

func TestRerank_EmptyInput(t *testing.T) {
	r := New(&fakeScorer{})
	out := r.Rerank(context.Background(), "q", nil, Config{})
	if out.Degraded {
		t.Fatal("empty input should not be degraded")
	}
	if len(out.Results) != 0 {
		t.Fatal("expected no results")
	}
}

func TestRerank_SortsByScoreDescending(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{"a": 0.3, "b": 0.9, "c": 0.6}}
	r := New(scorer)
	candidates := []Candidate{cand("d1", 0, 0, "a"), cand("d1", 1, 1, "b"), cand("d1", 2, 2, "c")}
	out := r.Rerank(context.Background(), "q", candidates, Config{MinScore: 0})

	if out.Degraded {
		t.Fatal("should not be degraded")
	}
	if len(out.Results) != 3 {
		t.Fatalf("Results len = %d, want 3", len(out.Results))
	}
	if out.Results[0].Text != "b" || out.Results[1].Text != "c" || out.Results[2].Text != "a" {
		t.Errorf("unexpected order: %+v", out.Results)
	}
}

func TestRerank_MinScoreFilters(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{"a": 0.1, "b": 0.9}}
	r := New(scorer)
	candidates := []Candidate{cand("d1", 0, 0, "a"), cand("d1", 1, 1, "b")}
	out := r.Rerank(context.Background(), "q", candidates, Config{MinScore: 0.2})

	if len(out.Results) != 1 {
		t.Fatalf("Results len = %d, want 1", len(out.Results))
	}
	if out.Results[0].Text != "b" {
		t.Errorf("expected only 'b' to survive filter, got %+v", out.Results)
	}
}

func TestRerank_TopKTruncates(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{"a": 0.9, "b": 0.8, "c": 0.7}}
	r := New(scorer)
	candidates := []Candidate{cand("d1", 0, 0, "a"), cand("d1", 1, 1, "b"), cand("d1", 2, 2, "c")}
	out := r.Rerank(context.Background(), "q", candidates, Config{MinScore: 0, TopK: 2})

	if len(out.Results) != 2 {
		t.Fatalf("Results len = %d, want 2", len(out.Results))
	}
}

func TestRerank_InputMaxTruncatesBeforeScoring(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{"a": 0.9, "b": 0.8, "c": 0.7}}
	r := New(scorer)
	candidates := []Candidate{cand("d1", 0, 0, "a"), cand("d1", 1, 1, "b"), cand("d1", 2, 2, "c")}
	out := r.Rerank(context.Background(), "q", candidates, Config{MinScore: 0, InputMax: 1})

	if len(out.Results) != 1 {
		t.Fatalf("Results len = %d, want 1", len(out.Results))
	}
	if out.Results[0].Text != "a" {
		t.Errorf("expected only first candidate scored, got %+v", out.Results)
	}
}

func TestRerank_TimeoutDegrades(t *testing.T) {
	scorer := &fakeScorer{delay: 200 * time.Millisecond}
	r := New(scorer)
	candidates := []Candidate{cand("d1", 0, 0, "a"), cand("d1", 1, 1, "b")}
	out := r.Rerank(context.Background(), "q", candidates, Config{Timeout: 10 * time.Millisecond})

	if !out.Degraded {
		t.Fatal("expected Degraded=true on timeout")
	}
	if len(out.Results) != 2 {
		t.Fatalf("Results len = %d, want 2 (pass-through)", len(out.Results))
	}
}

func TestRerank_AllScoreErrorsDegrades(t *testing.T) {
	scorer := &fakeScorer{err: errors.New("boom")}
	r := New(scorer)
	candidates := []Candidate{cand("d1", 0, 0, "a")}
	out := r.Rerank(context.Background(), "q", candidates, Config{})

	if !out.Degraded {
		t.Fatal("expected Degraded=true when all scoring fails")
	}
}

func TestRerank_TieBreaksOnOriginalRank(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{"a": 0.5, "b": 0.5}}
	r := New(scorer)
	candidates := []Candidate{cand("d1", 1, 1, "b"), cand("d1", 0, 0, "a")}
	out := r.Rerank(context.Background(), "q", candidates, Config{MinScore: 0})

	if out.Results[0].Text != "a" {
		t.Errorf("expected tie broken toward lower original rank, got %+v", out.Results)
	}
}
