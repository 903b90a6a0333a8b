// Package vectorindex persists chunk embeddings and answers top-K cosine
// similarity queries, backed by PostgreSQL and pgvector.
package vectorindex

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/connexus-ai/ragqa-core/internal/apperr"
	"github.com/connexus-ai/ragqa-core/internal/model"
)

// Match is one Vector Index search hit: a chunk reference, its text, and its
// similarity mapped into [0,1].
type Match struct {
	Ref        model.ChunkRef
	Text       string
	Similarity float64
}

// Index is the Vector Index contract: add is idempotent on
// (document_id, chunk_ordinal); search returns results sorted by similarity
// descending; delete removes every chunk of a document.
type Index interface {
	Add(ctx context.Context, ownerID string, chunks []model.Chunk) error
	Search(ctx context.Context, ownerID string, queryVector []float32, k int) ([]Match, error)
	Delete(ctx context.Context, documentID string) error
}

// PGVectorIndex implements Index over PostgreSQL + pgvector.
type PGVectorIndex struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The pool's AfterConnect hook must already
// register pgvector's types (see repository.NewPool).
func New(pool *pgxpool.Pool) *PGVectorIndex {
	return &PGVectorIndex{pool: pool}
}

// Add upserts a batch of chunks with their embeddings, scoped to ownerID.
// Idempotent on (document_id, ordinal): a re-ingestion of the same document
// overwrites rather than duplicates chunks.
func (idx *PGVectorIndex) Add(ctx context.Context, ownerID string, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return apperr.New(apperr.KindInvalidInput, "vectorindex.Add",
				fmt.Sprintf("chunk %s/%d has no embedding", c.DocumentID, c.Ordinal), nil)
		}
		embedding := pgvector.NewVector(c.Embedding)
		batch.Queue(`
			INSERT INTO document_chunks
				(document_id, ordinal, owner_id, text, content_hash, token_count, embedding, char_start, char_end, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (document_id, ordinal) DO UPDATE SET
				text = EXCLUDED.text,
				content_hash = EXCLUDED.content_hash,
				token_count = EXCLUDED.token_count,
				embedding = EXCLUDED.embedding,
				char_start = EXCLUDED.char_start,
				char_end = EXCLUDED.char_end`,
			c.DocumentID, c.Ordinal, ownerID, c.Text, c.ContentHash, c.TokenCount,
			embedding, c.CharStart, c.CharEnd, now,
		)
	}

	br := idx.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < len(chunks); i++ {
		if _, err := br.Exec(); err != nil {
			return apperr.New(apperr.KindDependencyUnavailable, "vectorindex.Add",
				fmt.Sprintf("chunk %d", i), err)
		}
	}
	return nil
}

// Search returns the top-k chunks owned by ownerID most similar to
// queryVector. pgvector's <=> operator returns cosine distance; the spec
// requires cosine similarity mapped into [0,1] via (s+1)/2 applied here at
// the component boundary, rather than the 1-distance shortcut valid only
// when vectors are unit-normalized.
func (idx *PGVectorIndex) Search(ctx context.Context, ownerID string, queryVector []float32, k int) ([]Match, error) {
	embedding := pgvector.NewVector(queryVector)

	rows, err := idx.pool.Query(ctx, `
		SELECT document_id, ordinal, text, 1 - (embedding <=> $1::vector) AS cosine_similarity
		FROM document_chunks
		WHERE owner_id = $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3`,
		embedding, ownerID, k,
	)
	if err != nil {
		return nil, apperr.New(apperr.KindDependencyUnavailable, "vectorindex.Search", "query failed", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var cosine float64
		if err := rows.Scan(&m.Ref.DocumentID, &m.Ref.Ordinal, &m.Text, &cosine); err != nil {
			return nil, apperr.New(apperr.KindInternal, "vectorindex.Search", "scan failed", err)
		}
		m.Similarity = cosineToUnitInterval(cosine)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.New(apperr.KindDependencyUnavailable, "vectorindex.Search", "row iteration failed", err)
	}
	return matches, nil
}

// cosineToUnitInterval maps a cosine similarity in [-1,1] to [0,1] via the
// literal (s+1)/2 transform, independent of whether stored vectors happen to
// be unit-normalized.
func cosineToUnitInterval(cosine float64) float64 {
	return (cosine + 1) / 2
}

// Delete removes every chunk belonging to documentID.
func (idx *PGVectorIndex) Delete(ctx context.Context, documentID string) error {
	_, err := idx.pool.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return apperr.New(apperr.KindDependencyUnavailable, "vectorindex.Delete", documentID, err)
	}
	return nil
}

// CountByDocument returns the chunk count currently indexed for documentID.
func (idx *PGVectorIndex) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var count int
	err := idx.pool.QueryRow(ctx, `SELECT count(*) FROM document_chunks WHERE document_id = $1`, documentID).Scan(&count)
	if err != nil {
		return 0, apperr.New(apperr.KindDependencyUnavailable, "vectorindex.CountByDocument", documentID, err)
	}
	return count, nil
}

// LexicalSearch runs PostgreSQL full-text search over document_chunks.content_tsv
// (a GIN-indexed generated column), scoped to ownerID. Used as the BM25-style
// second leg of hybrid retrieval, fused with vector search via reciprocal rank
// fusion.
func (idx *PGVectorIndex) LexicalSearch(ctx context.Context, ownerID, query string, k int) ([]Match, error) {
	rows, err := idx.pool.Query(ctx, `
		SELECT document_id, ordinal, text,
		       ts_rank_cd(content_tsv, plainto_tsquery('english', $1)) AS rank
		FROM document_chunks
		WHERE owner_id = $2
		  AND content_tsv @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC
		LIMIT $3`,
		query, ownerID, k,
	)
	if err != nil {
		return nil, apperr.New(apperr.KindDependencyUnavailable, "vectorindex.LexicalSearch", "query failed", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Ref.DocumentID, &m.Ref.Ordinal, &m.Text, &m.Similarity); err != nil {
			return nil, apperr.New(apperr.KindInternal, "vectorindex.LexicalSearch", "scan failed", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.New(apperr.KindDependencyUnavailable, "vectorindex.LexicalSearch", "row iteration failed", err)
	}
	return matches, nil
}
