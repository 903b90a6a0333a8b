// Package embedder defines the Embedder capability and its Vertex AI
// adapter: turning text into vectors for indexing (RETRIEVAL_DOCUMENT) and
// querying (RETRIEVAL_QUERY) against asymmetric embedding models.
package embedder

import (
	"context"
	"fmt"
	"math"

	"github.com/connexus-ai/ragqa-core/internal/apperr"
	"github.com/connexus-ai/ragqa-core/internal/gcpclient"
)

// maxBatchSize is the max texts per Vertex AI embedding API call.
const maxBatchSize = 250

// Embedder turns text into fixed-width vectors. Document and query texts use
// distinct task types because text-embedding-004 produces different vector
// spaces for each, optimized for asymmetric retrieval.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// VertexAdapter implements Embedder over the Vertex AI text embedding REST
// API, reusing the donor's retry-on-429 HTTP client.
type VertexAdapter struct {
	client     *gcpclient.EmbeddingAdapter
	dimensions int
}

// New constructs a VertexAdapter using application default credentials.
func New(ctx context.Context, project, location, model string, dimensions int) (*VertexAdapter, error) {
	client, err := gcpclient.NewEmbeddingAdapter(ctx, project, location, model)
	if err != nil {
		return nil, apperr.New(apperr.KindDependencyUnavailable, "embedder.New", "vertex ai embedding client", err)
	}
	return &VertexAdapter{client: client, dimensions: dimensions}, nil
}

// EmbedDocuments embeds a batch of chunk texts for storage in the Vector
// Index, batching calls at maxBatchSize and L2-normalizing every vector so
// cosine similarity at query time reduces to a dot product.
func (a *VertexAdapter) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := a.client.EmbedTexts(ctx, texts[i:end])
		if err != nil {
			return nil, classify("embedder.EmbedDocuments", err)
		}
		for j, v := range vecs {
			if len(v) != a.dimensions {
				return nil, apperr.New(apperr.KindInternal, "embedder.EmbedDocuments",
					fmt.Sprintf("vector %d has %d dimensions, want %d", i+j, len(v), a.dimensions), nil)
			}
			vecs[j] = l2Normalize(v)
		}
		all = append(all, vecs...)
	}
	return all, nil
}

// EmbedQuery embeds a single user question for retrieval.
func (a *VertexAdapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := a.client.Embed(ctx, []string{text})
	if err != nil {
		return nil, classify("embedder.EmbedQuery", err)
	}
	if len(vecs) == 0 {
		return nil, apperr.New(apperr.KindInternal, "embedder.EmbedQuery", "empty embedding response", nil)
	}
	return l2Normalize(vecs[0]), nil
}

// l2Normalize normalizes a vector to unit length so the Vector Index's
// cosine-distance operator behaves as a plain dot product.
func l2Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// Dimensions reports the vector width this adapter produces.
func (a *VertexAdapter) Dimensions() int { return a.dimensions }

// HealthCheck confirms the embedding service is reachable.
func (a *VertexAdapter) HealthCheck(ctx context.Context) error {
	if err := a.client.HealthCheck(ctx); err != nil {
		return classify("embedder.HealthCheck", err)
	}
	return nil
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded {
		return apperr.New(apperr.KindDeadlineExceeded, op, "embedding call timed out", err)
	}
	return apperr.New(apperr.KindDependencyUnavailable, op, "vertex ai embedding call failed", err)
}
