// Package condenser summarizes retrieved passages down to the facts
// relevant to a query, so the generation stage's token budget is spent on
// signal rather than verbatim passage text.
package condenser

import (
	"context"
	"fmt"
	"strings"

	"github.com/connexus-ai/ragqa-core/internal/apperr"
	"github.com/connexus-ai/ragqa-core/internal/gcpclient"
)

const systemPrompt = `Summarize the passage below in 2-3 sentences, retaining only the
facts relevant to answering the query. Do not add commentary, preamble, or mention the
query itself — respond with the summary text only.`

// RawGenerator is the subset of gcpclient.GenAIAdapter this package needs,
// kept narrow so it can be faked in tests and satisfied by *gcpclient.GenAIAdapter.
type RawGenerator interface {
	GenerateContentWithParams(ctx context.Context, systemPrompt, userPrompt string, params gcpclient.SamplingParams) (string, error)
}

// Passage is a single surviving reranked passage to condense. Original is
// retained by the caller for citation even after Text is replaced by the
// condensed summary.
type Passage struct {
	Index    int
	Original string
}

// Condensed pairs a passage's index with its condensed text.
type Condensed struct {
	Index int
	Text  string
}

// Condenser produces per-passage summaries via the raw generation capability.
type Condenser struct {
	client RawGenerator
}

// New wraps any RawGenerator (typically a *gcpclient.GenAIAdapter) as a Condenser.
func New(client RawGenerator) *Condenser {
	return &Condenser{client: client}
}

// Condense summarizes a single passage against query. On generator failure
// or an empty response, it falls back to returning the original passage
// text unchanged — a failed condensation must never drop a passage from
// the context.
func (c *Condenser) Condense(ctx context.Context, query string, passage Passage) Condensed {
	userPrompt := fmt.Sprintf("Query: %s\nPassage:\n%s", query, passage.Original)
	resp, err := c.client.GenerateContentWithParams(ctx, systemPrompt, userPrompt, gcpclient.SamplingParams{
		Temperature:     0.2,
		TopP:            0.9,
		MaxOutputTokens: 256,
	})
	if err != nil || strings.TrimSpace(resp) == "" {
		return Condensed{Index: passage.Index, Text: passage.Original}
	}
	return Condensed{Index: passage.Index, Text: strings.TrimSpace(resp)}
}

// CondenseAll condenses every passage sequentially, preserving input order.
// Best-of-N's concurrency budget is reserved for generation, not this stage.
func (c *Condenser) CondenseAll(ctx context.Context, query string, passages []Passage) ([]Condensed, error) {
	if c.client == nil {
		return nil, apperr.New(apperr.KindNotReady, "condenser.CondenseAll", "no generator configured", nil)
	}
	out := make([]Condensed, len(passages))
	for i, p := range passages {
		out[i] = c.Condense(ctx, query, p)
	}
	return out, nil
}
