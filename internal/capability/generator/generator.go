// Package generator defines the Generator capability and its Vertex AI
// Gemini adapter: producing a single grounded, cited candidate answer from a
// query plus retrieved context at a given sampling point.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/connexus-ai/ragqa-core/internal/apperr"
	"github.com/connexus-ai/ragqa-core/internal/gcpclient"
	"github.com/connexus-ai/ragqa-core/internal/model"
)

// ContextPassage is one piece of retrieved (and possibly condensed) evidence
// handed to the model as numbered, citable context.
type ContextPassage struct {
	Index      int
	DocumentID string
	Ordinal    int
	Text       string
	Score      float64
}

// Request describes a single generation call: the query, its evidence, and
// the sampling point to use for this trial.
type Request struct {
	Query    string
	Passages []ContextPassage
	Sampling model.SamplingParams
	MaxTokens int
}

// Response is a single generation trial's parsed output plus raw log-prob
// information when the backing model exposes it.
type Response struct {
	Text       string
	Sources    []model.Source
	LogProbSum float64
	HasLogProb bool
}

// Generator produces one cited candidate answer per call. Best-of-N drives
// NCandidates parallel calls with distinct Sampling points.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// VertexGenerator implements Generator over Vertex AI Gemini.
type VertexGenerator struct {
	client *gcpclient.GenAIAdapter
	model  string
}

// New constructs a VertexGenerator using application default credentials.
func New(ctx context.Context, project, location, modelName string) (*VertexGenerator, error) {
	client, err := gcpclient.NewGenAIAdapter(ctx, project, location, modelName)
	if err != nil {
		return nil, apperr.New(apperr.KindDependencyUnavailable, "generator.New", "vertex ai genai client", err)
	}
	return &VertexGenerator{client: client, model: modelName}, nil
}

const systemPrompt = `You are a document question-answering assistant.
Rules:
- Only use the provided context passages to answer. Never speculate beyond them.
- Cite sources as [1], [2], [3] referencing the passage indices.
- Every factual claim must have a citation.
- If the context is insufficient to answer, say so explicitly rather than guessing.
- Return your response as JSON with this structure:
{"answer": "...", "citations": [{"passageIndex": 1, "excerpt": "...", "relevance": 0.9}], "confidence": 0.85}`

// Generate sends one prompt at the request's sampling point and parses the
// model's cited-JSON contract into a Response.
func (g *VertexGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.Query == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "generator.Generate", "query is empty", nil)
	}

	userPrompt := buildUserPrompt(req.Query, req.Passages)
	params := gcpclient.SamplingParams{
		Temperature:     req.Sampling.Temperature,
		TopP:            req.Sampling.TopP,
		MaxOutputTokens: req.MaxTokens,
		Seed:            req.Sampling.Seed,
	}

	raw, err := g.client.GenerateContentWithParams(ctx, systemPrompt, userPrompt, params)
	if err != nil {
		return nil, classify("generator.Generate", err)
	}

	return parseResponse(raw, req.Passages), nil
}

func buildUserPrompt(query string, passages []ContextPassage) string {
	var sb strings.Builder
	sb.WriteString("=== CONTEXT PASSAGES ===\n")
	for _, p := range passages {
		sb.WriteString(fmt.Sprintf("[%d] (doc: %s, score: %.2f)\n%s\n\n", p.Index, p.DocumentID, p.Score, p.Text))
	}
	sb.WriteString("=== QUERY ===\n")
	sb.WriteString(query)
	sb.WriteString("\n\nRespond with JSON: {\"answer\": \"...\", \"citations\": [{\"passageIndex\": N, \"excerpt\": \"...\", \"relevance\": 0.0-1.0}], \"confidence\": 0.0-1.0}")
	return sb.String()
}

type generationJSON struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
	Citations  []struct {
		PassageIndex int     `json:"passageIndex"`
		Excerpt      string  `json:"excerpt"`
		Relevance    float64 `json:"relevance"`
	} `json:"citations"`
}

// parseResponse extracts the cited-JSON contract from the model's raw text,
// falling back to treating the whole response as an uncited answer when the
// model didn't comply with the contract.
func parseResponse(raw string, passages []ContextPassage) *Response {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		lines := strings.Split(cleaned, "\n")
		if len(lines) >= 3 {
			cleaned = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}
	cleaned = strings.TrimSpace(cleaned)

	var parsed generationJSON
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return &Response{Text: raw, Sources: nil}
	}

	byIndex := make(map[int]ContextPassage, len(passages))
	for _, p := range passages {
		byIndex[p.Index] = p
	}

	sources := make([]model.Source, 0, len(parsed.Citations))
	for _, c := range parsed.Citations {
		p, ok := byIndex[c.PassageIndex]
		if !ok {
			continue
		}
		sources = append(sources, model.Source{
			DocumentID: p.DocumentID,
			Ordinal:    p.Ordinal,
			Snippet:    c.Excerpt,
			Score:      c.Relevance,
		})
	}

	return &Response{Text: parsed.Answer, Sources: sources}
}

// HealthCheck confirms the generation service is reachable.
func (g *VertexGenerator) HealthCheck(ctx context.Context) error {
	if err := g.client.HealthCheck(ctx); err != nil {
		return classify("generator.HealthCheck", err)
	}
	return nil
}

// Close releases the underlying client.
func (g *VertexGenerator) Close() { g.client.Close() }

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded {
		return apperr.New(apperr.KindDeadlineExceeded, op, "generation call timed out", err)
	}
	return apperr.New(apperr.KindDependencyUnavailable, op, "vertex ai generation call failed", err)
}
