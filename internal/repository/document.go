// Package repository holds the PostgreSQL-backed stores for documents and
// their ingestion lifecycle state.
package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragqa-core/internal/apperr"
	"github.com/connexus-ai/ragqa-core/internal/model"
)

// DocumentRepo persists Document rows with pgx.
type DocumentRepo struct {
	pool *pgxpool.Pool
}

// NewDocumentRepo creates a DocumentRepo.
func NewDocumentRepo(pool *pgxpool.Pool) *DocumentRepo {
	return &DocumentRepo{pool: pool}
}

// Create inserts a new document in StatusPending.
func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (id, owner_id, original_name, mime_hint, storage_path, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ID, doc.OwnerID, doc.OriginalName, doc.MimeHint, doc.StoragePath, string(doc.Status), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return apperr.New(apperr.KindDependencyUnavailable, "repository.Create", doc.ID, err)
	}
	return nil
}

// GetByID fetches a document by id, translating a missing row into
// KindDocumentNotFound.
func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	doc := &model.Document{}
	var status string

	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, original_name, mime_hint, storage_path, status, extracted_text,
		       page_count, chunk_count, embedding_version, failure_reason, created_at, updated_at
		FROM documents WHERE id = $1`, id,
	).Scan(
		&doc.ID, &doc.OwnerID, &doc.OriginalName, &doc.MimeHint, &doc.StoragePath, &status, &doc.ExtractedText,
		&doc.PageCount, &doc.ChunkCount, &doc.EmbeddingVersion, &doc.FailureReason, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, apperr.New(apperr.KindDocumentNotFound, "repository.GetByID", id, err)
	}
	doc.Status = model.Status(status)
	return doc, nil
}

// UpdateStatus transitions a document's ingestion status.
func (r *DocumentRepo) UpdateStatus(ctx context.Context, id string, status model.Status) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return apperr.New(apperr.KindDependencyUnavailable, "repository.UpdateStatus", id, err)
	}
	return nil
}

// UpdateExtractedText stores the extracted plain text and page count for a
// document, advancing it to StatusExtracting.
func (r *DocumentRepo) UpdateExtractedText(ctx context.Context, id, text string, pageCount int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET extracted_text = $1, page_count = $2, status = $3, updated_at = $4 WHERE id = $5`,
		text, pageCount, string(model.StatusExtracting), time.Now().UTC(), id,
	)
	if err != nil {
		return apperr.New(apperr.KindDependencyUnavailable, "repository.UpdateExtractedText", id, err)
	}
	return nil
}

// MarkIndexed records the chunk count and embedding model version and moves
// the document to StatusIndexed. Called only after every chunk has been
// added to the Vector Index.
func (r *DocumentRepo) MarkIndexed(ctx context.Context, id string, chunkCount int, embeddingVersion string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET status = $1, chunk_count = $2, embedding_version = $3, updated_at = $4 WHERE id = $5`,
		string(model.StatusIndexed), chunkCount, embeddingVersion, time.Now().UTC(), id,
	)
	if err != nil {
		return apperr.New(apperr.KindDependencyUnavailable, "repository.MarkIndexed", id, err)
	}
	return nil
}

// MarkFailed records why ingestion failed and moves the document to
// StatusFailed.
func (r *DocumentRepo) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE documents SET status = $1, failure_reason = $2, updated_at = $3 WHERE id = $4`,
		string(model.StatusFailed), reason, time.Now().UTC(), id,
	)
	if err != nil {
		return apperr.New(apperr.KindDependencyUnavailable, "repository.MarkFailed", id, err)
	}
	return nil
}
