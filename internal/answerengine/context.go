package answerengine

import (
	"context"
	"strings"

	"github.com/connexus-ai/ragqa-core/internal/bestofn"
	"github.com/connexus-ai/ragqa-core/internal/capability/generator"
	"github.com/connexus-ai/ragqa-core/internal/condenser"
	"github.com/connexus-ai/ragqa-core/internal/config"
	"github.com/connexus-ai/ragqa-core/internal/model"
	"github.com/connexus-ai/ragqa-core/internal/reranker"
)

const defaultContextBudgetTokens = 2000

// assembleContext condenses each surviving reranked passage (falling back to
// its original text when condensation is unavailable or fails), then
// concatenates condensed passages in reranker order until the configured
// token budget is reached. Citation indices are 1-based to match the
// Generator's [1], [2] citation contract.
func (e *Engine) assembleContext(ctx context.Context, query string, results []reranker.Result) ([]generator.ContextPassage, []reranker.Result, []string) {
	if len(results) == 0 {
		return nil, nil, nil
	}

	passages := make([]condenser.Passage, len(results))
	for i, r := range results {
		passages[i] = condenser.Passage{Index: i + 1, Original: r.Text}
	}

	var condensed []condenser.Condensed
	if e.condenser != nil {
		if c, err := e.condenser.CondenseAll(ctx, query, passages); err == nil {
			condensed = c
		}
	}
	if condensed == nil {
		condensed = make([]condenser.Condensed, len(passages))
		for i, p := range passages {
			condensed[i] = condenser.Condensed{Index: p.Index, Text: p.Original}
		}
	}

	budget := e.cfg.Generation.ContextBudget
	if budget <= 0 {
		budget = defaultContextBudgetTokens
	}

	out := make([]generator.ContextPassage, 0, len(results))
	var contextTokens []string
	used := 0
	for i, r := range results {
		text := condensed[i].Text
		toks := strings.Fields(strings.ToLower(text))
		if used > 0 && used+len(toks) > budget {
			break
		}
		used += len(toks)
		out = append(out, generator.ContextPassage{
			Index:      i + 1,
			DocumentID: r.Ref.DocumentID,
			Ordinal:    r.Ref.Ordinal,
			Text:       text,
			Score:      r.Score,
		})
		contextTokens = append(contextTokens, toks...)
	}
	return out, results[:len(out)], contextTokens
}

// buildSchedule cycles through the configured base sampling schedule to
// produce exactly n diversity points, assigning each trial a deterministic
// seed for tie-break reproducibility.
func buildSchedule(base []config.SamplingPoint, n int) []model.SamplingParams {
	if n <= 0 {
		n = 1
	}
	if len(base) == 0 {
		base = []config.SamplingPoint{{Temperature: 0.7, TopP: 0.9}}
	}
	out := make([]model.SamplingParams, n)
	for i := 0; i < n; i++ {
		p := base[i%len(base)]
		out[i] = model.SamplingParams{Temperature: p.Temperature, TopP: p.TopP, Seed: int64(i)}
	}
	return out
}

func toBestOfNWeights(w config.GenerationWeights) bestofn.Weights {
	return bestofn.Weights{Perplexity: w.Perplexity, Relevance: w.Relevance, Quality: w.Quality}
}

func generateCandidates(ctx context.Context, gen generator.Generator, req generator.Request, schedule []model.SamplingParams, weights bestofn.Weights, contextTokens []string, bannedPhrases []string) ([]model.Candidate, error) {
	return bestofn.Generate(ctx, gen, req, schedule, weights, contextTokens, bannedPhrases)
}
