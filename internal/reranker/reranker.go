// Package reranker reorders a retrieval candidate set with a cross-encoder
// scorer, degrading to a pass-through when the scorer is unavailable or too
// slow.
package reranker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/connexus-ai/ragqa-core/internal/model"
)

// Scorer cross-encodes a single (query, passage) pair into a relevance score
// in [0,1]. Implementations must be safe for concurrent use.
type Scorer interface {
	Score(ctx context.Context, query, passage string) (float64, error)
}

// Candidate is one passage entering the reranker, carrying its original
// retrieval rank for tie-breaking.
type Candidate struct {
	Ref          model.ChunkRef
	Text         string
	OriginalRank int
}

// Result is a reranked candidate with its cross-encoder score attached.
type Result struct {
	Candidate
	Score float64
}

// Outcome is the Rerank call's result plus whether it degraded to
// pass-through, which callers must surface in response metadata.
type Outcome struct {
	Results  []Result
	Degraded bool
}

// Config bounds a single Rerank call.
type Config struct {
	InputMax    int           // truncate input to this many candidates
	TopK        int           // output size after scoring
	MinScore    float64       // drop results below this score
	Timeout     time.Duration // hard deadline for the whole scoring pass
	Concurrency int           // bounded scoring concurrency, default 3
}

const defaultConcurrency = 3

// Reranker scores and reorders candidates using a Scorer.
type Reranker struct {
	scorer Scorer
}

// New constructs a Reranker. A nil scorer makes every call a pass-through.
func New(scorer Scorer) *Reranker {
	return &Reranker{scorer: scorer}
}

// Rerank scores candidates against query, filters by MinScore, sorts by
// score descending (ties broken by original retrieval rank), and truncates
// to TopK. If the scorer is nil, the timeout fires before every chunk has
// been scored, or every chunk fails to score, the original order (truncated
// to TopK) is returned with Degraded=true.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []Candidate, cfg Config) Outcome {
	if len(candidates) == 0 {
		return Outcome{Results: nil, Degraded: false}
	}

	input := candidates
	if cfg.InputMax > 0 && len(input) > cfg.InputMax {
		input = input[:cfg.InputMax]
	}

	passThrough := func() Outcome {
		results := make([]Result, len(input))
		for i, c := range input {
			results[i] = Result{Candidate: c, Score: 0}
		}
		topK := cfg.TopK
		if topK <= 0 || topK > len(results) {
			topK = len(results)
		}
		return Outcome{Results: results[:topK], Degraded: true}
	}

	if r.scorer == nil {
		return passThrough()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type scored struct {
		result Result
		ok     bool
	}
	out := make(chan scored, len(input))
	sem := make(chan struct{}, concurrency)

	var wg sync.WaitGroup
	for _, c := range input {
		wg.Add(1)
		go func(cand Candidate) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-timeoutCtx.Done():
				return
			}
			defer func() { <-sem }()

			score, err := r.scorer.Score(timeoutCtx, query, cand.Text)
			if err != nil {
				out <- scored{ok: false}
				return
			}
			out <- scored{result: Result{Candidate: cand, Score: score}, ok: true}
		}(c)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	var results []Result
collect:
	for {
		select {
		case s, open := <-out:
			if !open {
				break collect
			}
			if s.ok {
				results = append(results, s.result)
			}
		case <-timeoutCtx.Done():
			return passThrough()
		}
	}

	if len(results) == 0 {
		return passThrough()
	}

	filtered := make([]Result, 0, len(results))
	for _, res := range results {
		if res.Score >= cfg.MinScore {
			filtered = append(filtered, res)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		return filtered[i].OriginalRank < filtered[j].OriginalRank
	})

	topK := cfg.TopK
	if topK <= 0 || topK > len(filtered) {
		topK = len(filtered)
	}

	return Outcome{Results: filtered[:topK], Degraded: false}
}
