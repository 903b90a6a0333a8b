package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/ragqa-core/internal/middleware"
	"github.com/connexus-ai/ragqa-core/internal/model"
)

// DocumentGetter is the subset of repository.DocumentRepo this handler needs
// to validate ownership and status before dispatching the pipeline.
type DocumentGetter interface {
	GetByID(ctx context.Context, id string) (*model.Document, error)
}

// Ingester abstracts document ingestion for testability.
type Ingester interface {
	Ingest(ctx context.Context, documentID string) error
}

// IngestDeps bundles dependencies for the ingest handler.
type IngestDeps struct {
	DocRepo  DocumentGetter
	Pipeline Ingester
}

// IngestDocument handles POST /api/documents/{id}/ingest. It validates
// ownership and status, then fires the pipeline in a background goroutine
// and returns 202 Accepted immediately.
func IngestDocument(deps IngestDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		docID := chi.URLParam(r, "id")
		if docID == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "document id required"})
			return
		}

		doc, err := deps.DocRepo.GetByID(r.Context(), docID)
		if err != nil {
			respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "document not found"})
			return
		}

		if doc.OwnerID != userID {
			respondJSON(w, http.StatusForbidden, envelope{Success: false, Error: "access denied"})
			return
		}

		if doc.Status != model.StatusPending {
			respondJSON(w, http.StatusConflict, envelope{Success: false, Error: "document is not in Pending status"})
			return
		}

		go func(id string) {
			ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
			defer cancel()
			slog.Info("ingest dispatched", "document_id", id)
			if err := deps.Pipeline.Ingest(ctx, id); err != nil {
				slog.Error("ingest pipeline failed", "document_id", id, "error", err)
			} else {
				slog.Info("ingest pipeline completed", "document_id", id)
			}
		}(docID)

		respondJSON(w, http.StatusAccepted, envelope{
			Success: true,
			Data: map[string]string{
				"documentId": docID,
				"status":     "processing",
			},
		})
	}
}
