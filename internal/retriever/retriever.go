// Package retriever combines the Embedder and Vector Index behind a single
// call: embed the query, fan out vector and lexical search concurrently,
// fuse, and filter by score floor.
package retriever

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/ragqa-core/internal/apperr"
	"github.com/connexus-ai/ragqa-core/internal/capability/embedder"
	"github.com/connexus-ai/ragqa-core/internal/model"
	"github.com/connexus-ai/ragqa-core/internal/vectorindex"
)

const rrfK = 60

// Match is a single search hit from either leg of hybrid retrieval.
type Match = vectorindex.Match

// VectorSearcher is the cosine-similarity leg of hybrid retrieval.
type VectorSearcher interface {
	Search(ctx context.Context, ownerID string, queryVector []float32, k int) ([]Match, error)
}

// LexicalSearcher is the BM25-style full-text leg of hybrid retrieval.
// Optional: when nil, retrieval falls back to vector-only.
type LexicalSearcher interface {
	LexicalSearch(ctx context.Context, ownerID, query string, k int) ([]Match, error)
}

// DocumentMeta carries the secondary-blend inputs for a chunk's parent
// document: creation time (recency) and chunk count (parent document size).
type DocumentMeta struct {
	CreatedAt  time.Time
	ChunkCount int
}

// DocumentMetaLookup resolves a chunk's parent document metadata for the
// optional secondary blend pass. Returns ok=false when unknown, in which
// case the blend degrades to similarity-only for that chunk.
type DocumentMetaLookup func(documentID string) (DocumentMeta, bool)

// Options configures a single Retrieve call.
type Options struct {
	K          int
	ScoreFloor float64
	// SecondaryBlend, when non-nil, applies the donor's
	// 0.70*similarity + 0.15*recency + 0.15*parent-doc-size reordering pass
	// before the score floor is applied. It is a distinct, optional pass from
	// the Reranker's cross-encoder scoring.
	SecondaryBlend DocumentMetaLookup
}

// Retriever combines an Embedder and the two search legs into retrieve().
type Retriever struct {
	embedder embedder.Embedder
	vector   VectorSearcher
	lexical  LexicalSearcher // nil = vector-only
}

// New constructs a Retriever. lexical may be nil for vector-only retrieval.
func New(emb embedder.Embedder, vector VectorSearcher, lexical LexicalSearcher) *Retriever {
	return &Retriever{embedder: emb, vector: vector, lexical: lexical}
}

// Retrieve embeds queryText, fans vector + lexical search out concurrently,
// fuses with reciprocal rank fusion when both legs returned results, applies
// the optional secondary blend, and drops every result below opts.ScoreFloor.
// An empty RetrievalResult is a valid outcome and signals the caller to
// consider fallback.
func (r *Retriever) Retrieve(ctx context.Context, ownerID, queryText string, opts Options) (*model.RetrievalResult, error) {
	if queryText == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "retriever.Retrieve", "query is empty", nil)
	}

	queryVec, err := r.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		return nil, err
	}

	var vectorMatches, lexicalMatches []Match

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorMatches, err = r.vector.Search(gCtx, ownerID, queryVec, opts.K)
		return err
	})
	if r.lexical != nil {
		g.Go(func() error {
			var err error
			lexicalMatches, err = r.lexical.LexicalSearch(gCtx, ownerID, queryText, opts.K)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.New(apperr.KindDependencyUnavailable, "retriever.Retrieve", "search", err)
	}

	var fused []Match
	if len(lexicalMatches) > 0 {
		fused = reciprocalRankFusion(vectorMatches, lexicalMatches)
	} else {
		fused = vectorMatches
	}

	docSet := make(map[string]struct{}, len(fused))
	for _, m := range fused {
		docSet[m.Ref.DocumentID] = struct{}{}
	}

	if opts.SecondaryBlend != nil {
		fused = applySecondaryBlend(fused, opts.SecondaryBlend)
	}

	chunks := make([]model.ScoredChunk, 0, len(fused))
	for _, m := range fused {
		if m.Similarity < opts.ScoreFloor {
			continue
		}
		chunks = append(chunks, model.ScoredChunk{
			Ref:        m.Ref,
			Text:       m.Text,
			Similarity: m.Similarity,
		})
	}

	return &model.RetrievalResult{
		Chunks:              chunks,
		QueryEmbedding:      queryVec,
		TotalCandidates:     len(fused),
		TotalDocumentsFound: len(docSet),
	}, nil
}

// reciprocalRankFusion combines two ranked lists: score = sum(1/(k+rank+1))
// for each list a match appears in. k=60 is the standard RRF constant.
func reciprocalRankFusion(vectorMatches, lexicalMatches []Match) []Match {
	type key struct {
		docID   string
		ordinal int
	}
	scores := make(map[key]float64)
	items := make(map[key]Match)

	accumulate := func(matches []Match) {
		for rank, m := range matches {
			k := key{m.Ref.DocumentID, m.Ref.Ordinal}
			scores[k] += 1.0 / float64(rrfK+rank+1)
			if _, ok := items[k]; !ok {
				items[k] = m
			}
		}
	}
	accumulate(vectorMatches)
	accumulate(lexicalMatches)

	fused := make([]Match, 0, len(items))
	for k, m := range items {
		m.Similarity = scores[k]
		fused = append(fused, m)
	}
	sort.Slice(fused, func(i, j int) bool { return fused[i].Similarity > fused[j].Similarity })
	return fused
}

// applySecondaryBlend reorders matches using the donor's
// 0.70*similarity + 0.15*recency + 0.15*parent-doc-size formula, rewriting
// each match's Similarity to the blended score before the score floor is
// applied by the caller.
func applySecondaryBlend(matches []Match, lookup DocumentMetaLookup) []Match {
	const (
		weightSimilarity = 0.70
		weightRecency    = 0.15
		weightParentDoc  = 0.15
	)
	now := time.Now().UTC()

	blended := make([]Match, len(matches))
	copy(blended, matches)

	for i, m := range blended {
		meta, ok := lookup(m.Ref.DocumentID)
		if !ok {
			continue
		}
		blended[i].Similarity = weightSimilarity*m.Similarity +
			weightRecency*recencyBoost(meta.CreatedAt, now) +
			weightParentDoc*parentDocBoost(meta.ChunkCount)
	}

	sort.Slice(blended, func(i, j int) bool { return blended[i].Similarity > blended[j].Similarity })
	return blended
}

// recencyBoost scores [0,1]: documents within 7 days score 1.0, decaying
// linearly to 0 at 365 days.
func recencyBoost(createdAt, now time.Time) float64 {
	daysSince := now.Sub(createdAt).Hours() / 24
	if daysSince < 0 {
		daysSince = 0
	}
	if daysSince <= 7 {
		return 1.0
	}
	if daysSince >= 365 {
		return 0.0
	}
	return 1.0 - (daysSince-7)/(365-7)
}

// parentDocBoost scores [0,1] by chunk count, capped at 50 chunks.
func parentDocBoost(chunkCount int) float64 {
	if chunkCount <= 0 {
		return 0.0
	}
	const cap = 50.0
	boost := float64(chunkCount) / cap
	if boost > 1.0 {
		return 1.0
	}
	return boost
}
