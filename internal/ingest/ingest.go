// Package ingest drives the document ingestion pipeline: extract text,
// scan it for sensitive content, chunk it, embed the chunks, and add them
// to the Vector Index — serialized per document so concurrent re-ingestion
// of the same document never leaves it in a partially-indexed state.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/connexus-ai/ragqa-core/internal/apperr"
	"github.com/connexus-ai/ragqa-core/internal/capability/embedder"
	"github.com/connexus-ai/ragqa-core/internal/chunker"
	"github.com/connexus-ai/ragqa-core/internal/model"
	"github.com/connexus-ai/ragqa-core/internal/vectorindex"
)

// ParseResult holds the extracted text and metadata from a document.
type ParseResult struct {
	Text     string
	Pages    int
	Entities []Entity
}

// Finding represents a single detected PII/PHI occurrence in text.
type Finding struct {
	InfoType   string
	Content    string
	Likelihood string
	StartIndex int
	EndIndex   int
	Score      float64
}

// ScanResult holds the outcome of a PII/PHI scan; scanning is always
// non-fatal to ingestion.
type ScanResult struct {
	Findings     []Finding
	FindingCount int
	Types        []string
}

// Parser abstracts document text extraction at the ingestion boundary.
type Parser interface {
	Extract(ctx context.Context, gcsURI string) (*ParseResult, error)
}

// Redactor abstracts PII/PHI scanning at the ingestion boundary. A scan
// failure or a nil Redactor never fails ingestion — it only means findings
// go unreported.
type Redactor interface {
	Scan(ctx context.Context, text string) (*ScanResult, error)
}

// DocumentRepo is the subset of repository.DocumentRepo the pipeline needs.
type DocumentRepo interface {
	GetByID(ctx context.Context, id string) (*model.Document, error)
	UpdateExtractedText(ctx context.Context, id, text string, pageCount int) error
	MarkIndexed(ctx context.Context, id string, chunkCount int, embeddingVersion string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// documentGuard serializes Ingest calls per document_id: a second concurrent
// call for a document already in flight returns NotReady immediately rather
// than queuing behind the first, per the single-writer discipline applied
// uniformly across this module's shared-resource components.
type documentGuard struct {
	mu sync.Mutex
	inFlight map[string]bool
}

func newDocumentGuard() *documentGuard {
	return &documentGuard{inFlight: make(map[string]bool)}
}

func (g *documentGuard) acquire(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight[id] {
		return false
	}
	g.inFlight[id] = true
	return true
}

func (g *documentGuard) release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, id)
}

// Pipeline orchestrates Parser -> Redactor -> Chunker -> Embedder ->
// Vector Index for a single document at a time.
type Pipeline struct {
	repo             DocumentRepo
	parser           Parser
	redactor         Redactor
	chunker          *chunker.Chunker
	embedder         embedder.Embedder
	index            vectorindex.Index
	bucketName       string
	embeddingVersion string
	guard            *documentGuard
}

// New constructs a Pipeline. redactor may be nil, in which case PII
// scanning is skipped entirely (equivalent to every scan finding nothing).
func New(
	repo DocumentRepo,
	parser Parser,
	redactor Redactor,
	ck *chunker.Chunker,
	emb embedder.Embedder,
	index vectorindex.Index,
	bucketName, embeddingVersion string,
) *Pipeline {
	return &Pipeline{
		repo:             repo,
		parser:           parser,
		redactor:         redactor,
		chunker:          ck,
		embedder:         emb,
		index:            index,
		bucketName:       bucketName,
		embeddingVersion: embeddingVersion,
		guard:            newDocumentGuard(),
	}
}

// Ingest drives the full pipeline for a single document. A concurrent call
// for the same document_id returns KindNotReady immediately instead of
// blocking or queuing.
func (p *Pipeline) Ingest(ctx context.Context, documentID string) error {
	if !p.guard.acquire(documentID) {
		return apperr.New(apperr.KindNotReady, "ingest.Ingest", "document is already being ingested", nil)
	}
	defer p.guard.release(documentID)

	doc, err := p.repo.GetByID(ctx, documentID)
	if err != nil {
		return err
	}

	slog.Info("ingest starting", "document_id", documentID, "owner_id", doc.OwnerID)

	gcsURI := fmt.Sprintf("gs://%s/%s", p.bucketName, doc.StoragePath)
	parsed, err := p.parser.Extract(ctx, gcsURI)
	if err != nil {
		p.fail(ctx, documentID, "parse_failed", err)
		return apperr.New(apperr.KindDependencyUnavailable, "ingest.Ingest", "parse", err)
	}

	if len(parsed.Text) > model.HardCapChars {
		failErr := apperr.New(apperr.KindInvalidInput, "ingest.Ingest", "extracted text exceeds hard cap", nil)
		p.fail(ctx, documentID, "input_too_large", failErr)
		return failErr
	}
	if len(parsed.Text) > model.SoftCapChars {
		slog.Warn("ingest extracted text exceeds soft cap", "document_id", documentID, "chars", len(parsed.Text))
	}

	p.scanForPII(ctx, documentID, parsed.Text)

	if err := p.repo.UpdateExtractedText(ctx, documentID, parsed.Text, parsed.Pages); err != nil {
		p.fail(ctx, documentID, "store_text_failed", err)
		return err
	}

	chunks, err := p.chunker.Chunk(documentID, parsed.Text)
	if err != nil {
		p.fail(ctx, documentID, "chunk_failed", err)
		return apperr.New(apperr.KindInternal, "ingest.Ingest", "chunk", err)
	}
	if len(chunks) == 0 {
		failErr := apperr.New(apperr.KindInvalidInput, "ingest.Ingest", "document produced no chunks", nil)
		p.fail(ctx, documentID, "no_chunks", failErr)
		return failErr
	}

	if err := p.embedChunks(ctx, chunks); err != nil {
		p.fail(ctx, documentID, "embed_failed", err)
		return apperr.New(apperr.KindDependencyUnavailable, "ingest.Ingest", "embed", err)
	}

	if err := p.index.Add(ctx, doc.OwnerID, chunks); err != nil {
		p.fail(ctx, documentID, "index_failed", err)
		return apperr.New(apperr.KindDependencyUnavailable, "ingest.Ingest", "vector index add", err)
	}

	if err := p.repo.MarkIndexed(ctx, documentID, len(chunks), p.embeddingVersion); err != nil {
		return err
	}

	slog.Info("ingest completed", "document_id", documentID, "chunk_count", len(chunks))
	return nil
}

// embedChunks batches chunk text through the Embedder and writes the
// resulting vectors back onto each chunk in place.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []model.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("ingest.embedChunks: expected %d vectors, got %d", len(chunks), len(vectors))
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}
	return nil
}

// scanForPII runs the optional Redactor. Failures and a nil Redactor are
// both non-fatal — ingestion always continues.
func (p *Pipeline) scanForPII(ctx context.Context, documentID, text string) {
	if p.redactor == nil {
		return
	}
	result, err := p.redactor.Scan(ctx, text)
	if err != nil {
		slog.Warn("ingest PII scan failed (non-fatal)", "document_id", documentID, "error", err)
		return
	}
	if result.FindingCount > 0 {
		slog.Info("ingest PII findings detected", "document_id", documentID, "count", result.FindingCount, "types", result.Types)
	}
}

func (p *Pipeline) fail(ctx context.Context, documentID, stage string, cause error) {
	slog.Error("ingest failed", "document_id", documentID, "stage", stage, "error", cause)
	_ = p.repo.MarkFailed(ctx, documentID, stage)
}
