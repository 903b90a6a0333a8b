package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/connexus-ai/ragqa-core/internal/apperr"
	"github.com/connexus-ai/ragqa-core/internal/gcpclient"
)

const scoreSystemPrompt = `You are a relevance scoring function. Given a query and a passage,
respond with only a JSON object {"score": <float 0.0-1.0>} rating how relevant the passage
is to answering the query. Do not include any other text.`

// rawGenerator is the subset of gcpclient.GenAIAdapter this scorer needs,
// kept narrow so tests can fake it.
type rawGenerator interface {
	GenerateContentWithParams(ctx context.Context, systemPrompt, userPrompt string, params gcpclient.SamplingParams) (string, error)
}

// GeneratorScorer cross-encodes (query, passage) pairs by prompting a
// generation model for a JSON relevance score, reusing the Generator
// capability's underlying model rather than a dedicated cross-encoder.
type GeneratorScorer struct {
	client rawGenerator
}

// NewGeneratorScorer wraps a gcpclient.GenAIAdapter as a Scorer.
func NewGeneratorScorer(client *gcpclient.GenAIAdapter) *GeneratorScorer {
	return &GeneratorScorer{client: client}
}

// Score implements Scorer.
func (s *GeneratorScorer) Score(ctx context.Context, query, passage string) (float64, error) {
	userPrompt := fmt.Sprintf("Query: %s\nPassage: %s", query, passage)
	resp, err := s.client.GenerateContentWithParams(ctx, scoreSystemPrompt, userPrompt, gcpclient.SamplingParams{
		Temperature:     0.0,
		TopP:            1.0,
		MaxOutputTokens: 64,
	})
	if err != nil {
		return 0, apperr.New(apperr.KindDependencyUnavailable, "reranker.Score", "generation failed", err)
	}
	return parseScore(resp)
}

// parseScore extracts a relevance score from a model response, stripping
// markdown code fences and locating the JSON object by brace position
// before unmarshaling, matching the leniency local-model JSON outputs need.
func parseScore(resp string) (float64, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return 0, apperr.New(apperr.KindInternal, "reranker.parseScore", "no JSON object in response", nil)
	}

	var obj struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return 0, apperr.New(apperr.KindInternal, "reranker.parseScore", "unmarshal score", err)
	}
	return obj.Score, nil
}
