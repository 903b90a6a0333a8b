// Package bestofn runs N independent parallel Generator invocations over a
// diverse sampling schedule, scores each candidate on perplexity, relevance,
// and quality, and selects the highest-scoring one.
package bestofn

import (
	"context"
	"math"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/ragqa-core/internal/apperr"
	"github.com/connexus-ai/ragqa-core/internal/capability/generator"
	"github.com/connexus-ai/ragqa-core/internal/model"
)

// groundingLexicon is the tunable list of phrases that signal an answer is
// actually grounded in the supplied context, bonused in relevance scoring.
var groundingLexicon = []string{
	"based on", "according to", "as mentioned", "as stated", "as described",
	"the document", "the context", "the text",
}

// Weights mirrors config.GenerationWeights so this package doesn't import
// the config package directly.
type Weights struct {
	Perplexity float64
	Relevance  float64
	Quality    float64
}

// Generate runs len(schedule) independent Generator calls concurrently, one
// per sampling point, scores every candidate, and returns them sorted with
// the winner first. Individual generation failures are tolerated — the
// operation only fails if every candidate fails. bannedPhrases is the same
// configured list format.finalize strips post-hoc; a candidate containing
// one is penalized here so it never wins selection on the strength of text
// that gets stripped before the caller sees it.
func Generate(ctx context.Context, gen generator.Generator, req generator.Request, schedule []model.SamplingParams, weights Weights, contextTokens []string, bannedPhrases []string) ([]model.Candidate, error) {
	if len(schedule) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "bestofn.Generate", "empty sampling schedule", nil)
	}

	candidates := make([]*model.Candidate, len(schedule))

	g, gCtx := errgroup.WithContext(ctx)
	for i, point := range schedule {
		i, point := i, point
		g.Go(func() error {
			trialReq := req
			trialReq.Sampling = point
			resp, err := gen.Generate(gCtx, trialReq)
			if err != nil {
				return nil // tolerated: this trial simply doesn't produce a candidate
			}
			c := &model.Candidate{
				Text:       resp.Text,
				LogProbSum: resp.LogProbSum,
				HasLogProb: resp.HasLogProb,
				Sampling:   point,
			}
			c.Scores = score(req.Query, c, contextTokens, weights, bannedPhrases)
			candidates[i] = c
			return nil
		})
	}
	// errgroup.Go never returns a non-nil error above, so Wait cannot fail;
	// the call is kept for goroutine-completion synchronization.
	_ = g.Wait()

	surviving := make([]model.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c != nil {
			surviving = append(surviving, *c)
		}
	}
	if len(surviving) == 0 {
		return nil, apperr.New(apperr.KindDependencyUnavailable, "bestofn.Generate", "every candidate failed", nil)
	}

	rankByScore(surviving)
	return surviving, nil
}

// rankByScore sorts candidates by final_score descending, assigns Rank, and
// breaks ties first on quality_score, then on sampling seed for determinism.
func rankByScore(candidates []model.Candidate) {
	for i := 0; i < len(candidates); i++ {
		best := i
		for j := i + 1; j < len(candidates); j++ {
			if less(candidates[best], candidates[j]) {
				best = j
			}
		}
		candidates[i], candidates[best] = candidates[best], candidates[i]
	}
	for i := range candidates {
		candidates[i].Rank = i
	}
}

// less reports whether b should rank ahead of a.
func less(a, b model.Candidate) bool {
	if a.Scores.Final != b.Scores.Final {
		return b.Scores.Final > a.Scores.Final
	}
	if a.Scores.Quality != b.Scores.Quality {
		return b.Scores.Quality > a.Scores.Quality
	}
	return b.Sampling.Seed > a.Sampling.Seed
}

// score computes the three component scores and the weighted final score
// for a single candidate.
func score(query string, c *model.Candidate, contextTokens []string, weights Weights, bannedPhrases []string) model.CandidateScores {
	perplexity := perplexityScore(c.LogProbSum, c.HasLogProb, len(tokenize(c.Text)))
	relevance := relevanceScore(query, c.Text, contextTokens)
	quality := qualityScore(c.Text, bannedPhrases)

	final := weights.Perplexity*perplexity + weights.Relevance*relevance + weights.Quality*quality

	return model.CandidateScores{
		Perplexity: perplexity,
		Relevance:  relevance,
		Quality:    quality,
		Final:      final,
	}
}

// perplexityScore maps a generator's summed log-probability into
// 1/(1+perplexity/10); defaults to 0.5 when the generator reports no
// log-probs.
func perplexityScore(logProbSum float64, hasLogProb bool, tokenCount int) float64 {
	if !hasLogProb || tokenCount == 0 {
		return 0.5
	}
	avgNegLogProb := -logProbSum / float64(tokenCount)
	perplexity := math.Exp(avgNegLogProb)
	if perplexity > 100 {
		perplexity = 100
	}
	return 1.0 / (1.0 + perplexity/10.0)
}

// relevanceScore blends query-keyword overlap, context-token usage, and a
// bonus for explicit grounding phrases, matching the donor's weighting
// (0.4 keyword overlap + 0.4 context usage + 0.2 grounding-phrase bonus).
func relevanceScore(query, answer string, contextTokens []string) float64 {
	queryWords := tokenize(query)
	answerWords := tokenize(answer)

	keywordOverlap := 0.0
	if len(queryWords) > 0 {
		answerSet := toSet(answerWords)
		found := 0
		for _, w := range queryWords {
			if answerSet[w] {
				found++
			}
		}
		keywordOverlap = float64(found) / float64(len(queryWords))
	}

	contextUsage := 0.0
	if len(contextTokens) > 0 && len(answerWords) > 0 {
		contextSet := toSet(contextTokens)
		answerSet := toSet(answerWords)
		overlapCount := 0
		for w := range answerSet {
			if contextSet[w] {
				overlapCount++
			}
		}
		denom := len(answerWords)
		if len(contextTokens) < denom {
			denom = len(contextTokens)
		}
		if denom > 0 {
			contextUsage = float64(overlapCount) / float64(denom)
		}
	}

	lower := strings.ToLower(answer)
	groundingScore := 0.0
	for _, phrase := range groundingLexicon {
		if strings.Contains(lower, phrase) {
			groundingScore += 0.2
		}
	}
	if groundingScore > 1.0 {
		groundingScore = 1.0
	}

	relevance := keywordOverlap*0.4 + contextUsage*0.4 + groundingScore*0.2
	if relevance > 1.0 {
		relevance = 1.0
	}
	return relevance
}

var completenessIndicators = []string{
	"because", "therefore", "however", "additionally", "furthermore",
	"specifically", "for example", "such as",
}

// qualityScore rewards a preferred length band, sentence/formatting
// structure, and completeness indicators, and penalizes the presence of any
// configured banned phrase — a candidate that is mostly a banned refusal
// template must not score like a clean one just because format.finalize
// strips the phrase later.
func qualityScore(answer string, bannedPhrases []string) float64 {
	score := 0.0
	length := len(answer)

	switch {
	case length >= 50 && length <= 2000:
		score += 0.3
	case length >= 20 && length < 50:
		score += 0.1
	}

	if strings.Count(answer, ".") >= 1 {
		score += 0.2
	}
	if strings.Contains(answer, "\n") || strings.Contains(answer, "*") {
		score += 0.1
	}

	lower := strings.ToLower(answer)
	found := 0
	for _, indicator := range completenessIndicators {
		if strings.Contains(lower, indicator) {
			found++
		}
	}
	bonus := float64(found) * 0.05
	if bonus > 0.2 {
		bonus = 0.2
	}
	score += bonus

	if score > 1.0 {
		score = 1.0
	}

	if containsBannedPhrase(lower, bannedPhrases) {
		score *= 0.2
	}

	return score
}

// containsBannedPhrase reports whether lower (already lowercased) contains
// any configured banned phrase.
func containsBannedPhrase(lower string, bannedPhrases []string) bool {
	for _, phrase := range bannedPhrases {
		if phrase == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

var wordPattern = regexp.MustCompile(`\w+`)

func tokenize(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

func toSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
