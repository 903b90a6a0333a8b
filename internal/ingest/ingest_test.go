package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/connexus-ai/ragqa-core/internal/apperr"
	"github.com/connexus-ai/ragqa-core/internal/chunker"
	"github.com/connexus-ai/ragqa-core/internal/model"
	"github.com/connexus-ai/ragqa-core/internal/vectorindex"
)

type fakeRepo struct {
	mu   sync.Mutex
	doc  *model.Document
	text string
	pages int
	indexedCount int
	indexedVersion string
	failedReason string
	getErr error
}

func (r *fakeRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	cp := *r.doc
	return &cp, nil
}

func (r *fakeRepo) UpdateExtractedText(ctx context.Context, id, text string, pageCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text = text
	r.pages = pageCount
	return nil
}

func (r *fakeRepo) MarkIndexed(ctx context.Context, id string, chunkCount int, embeddingVersion string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexedCount = chunkCount
	r.indexedVersion = embeddingVersion
	return nil
}

func (r *fakeRepo) MarkFailed(ctx context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failedReason = reason
	return nil
}

type fakeParser struct {
	result  *ParseResult
	err     error
	delay   chan struct{}
	started chan struct{}
}

func (p *fakeParser) Extract(ctx context.Context, gcsURI string) (*ParseResult, error) {
	if p.started != nil {
		close(p.started)
	}
	if p.delay != nil {
		<-p.delay
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

type fakeRedactor struct {
	result *ScanResult
	err    error
}

func (r *fakeRedactor) Scan(ctx context.Context, text string) (*ScanResult, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

type fakeEmbedder struct {
	calls int32
	err   error
}

func (e *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&e.calls, 1)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}
func (e *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) { return nil, nil }
func (e *fakeEmbedder) Dimensions() int { return 3 }

type fakeIndex struct {
	addErr      error
	addedChunks []model.Chunk
	addedOwner  string
}

func (i *fakeIndex) Add(ctx context.Context, ownerID string, chunks []model.Chunk) error {
	if i.addErr != nil {
		return i.addErr
	}
	i.addedOwner = ownerID
	i.addedChunks = chunks
	return nil
}
func (i *fakeIndex) Search(ctx context.Context, ownerID string, queryVector []float32, k int) ([]vectorindex.Match, error) {
	return nil, nil
}
func (i *fakeIndex) Delete(ctx context.Context, documentID string) error { return nil }

func newDoc() *model.Document {
	return &model.Document{
		ID:          "doc-1",
		OwnerID:     "owner-1",
		OriginalName: "report.txt",
		StoragePath: "uploads/owner-1/doc-1/report.txt",
		Status:      model.StatusPending,
	}
}

func newPipeline(repo *fakeRepo, parser Parser, redactor Redactor, emb *fakeEmbedder, idx *fakeIndex) *Pipeline {
	ck := chunker.New(512, 128, 32)
	return New(repo, parser, redactor, ck, emb, idx, "test-bucket", "text-embedding-004")
}

func TestIngest_HappyPath(t *testing.T) {
	repo := &fakeRepo{doc: newDoc()}
	parser := &fakeParser{result: &ParseResult{Text: "This is a short document about goroutines and channels in Go. It explains concurrency primitives.", Pages: 1}}
	emb := &fakeEmbedder{}
	idx := &fakeIndex{}
	p := newPipeline(repo, parser, nil, emb, idx)

	if err := p.Ingest(context.Background(), "doc-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if repo.indexedCount == 0 {
		t.Fatalf("expected indexedCount > 0")
	}
	if repo.indexedVersion != "text-embedding-004" {
		t.Errorf("indexedVersion = %q, want text-embedding-004", repo.indexedVersion)
	}
	if idx.addedOwner != "owner-1" {
		t.Errorf("addedOwner = %q, want owner-1", idx.addedOwner)
	}
	if len(idx.addedChunks) != repo.indexedCount {
		t.Errorf("addedChunks len = %d, want %d", len(idx.addedChunks), repo.indexedCount)
	}
	for _, c := range idx.addedChunks {
		if len(c.Embedding) == 0 {
			t.Errorf("chunk %d has no embedding", c.Ordinal)
		}
	}
	if repo.failedReason != "" {
		t.Errorf("failedReason = %q, want empty", repo.failedReason)
	}
}

func TestIngest_ConcurrentCallReturnsNotReady(t *testing.T) {
	repo := &fakeRepo{doc: newDoc()}
	delay := make(chan struct{})
	started := make(chan struct{})
	parser := &fakeParser{result: &ParseResult{Text: "some text here that is long enough to chunk", Pages: 1}, delay: delay, started: started}
	emb := &fakeEmbedder{}
	idx := &fakeIndex{}
	p := newPipeline(repo, parser, nil, emb, idx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Ingest(context.Background(), "doc-1")
	}()

	<-started // first call has acquired the guard and is blocked in Extract

	err := p.Ingest(context.Background(), "doc-1")
	if !apperr.Is(err, apperr.KindNotReady) {
		t.Fatalf("expected KindNotReady, got %v", err)
	}

	close(delay)
	if err := <-errCh; err != nil {
		t.Fatalf("first call unexpected error: %v", err)
	}
}

func TestIngest_ParseFailureMarksFailed(t *testing.T) {
	repo := &fakeRepo{doc: newDoc()}
	parser := &fakeParser{err: fmt.Errorf("document ai unavailable")}
	emb := &fakeEmbedder{}
	idx := &fakeIndex{}
	p := newPipeline(repo, parser, nil, emb, idx)

	err := p.Ingest(context.Background(), "doc-1")
	if !apperr.Is(err, apperr.KindDependencyUnavailable) {
		t.Fatalf("expected KindDependencyUnavailable, got %v", err)
	}
	if repo.failedReason != "parse_failed" {
		t.Errorf("failedReason = %q, want parse_failed", repo.failedReason)
	}
}

func TestIngest_HardCapExceededRejectsInput(t *testing.T) {
	repo := &fakeRepo{doc: newDoc()}
	oversized := make([]byte, model.HardCapChars+1)
	for i := range oversized {
		oversized[i] = 'a'
	}
	parser := &fakeParser{result: &ParseResult{Text: string(oversized), Pages: 1}}
	emb := &fakeEmbedder{}
	idx := &fakeIndex{}
	p := newPipeline(repo, parser, nil, emb, idx)

	err := p.Ingest(context.Background(), "doc-1")
	if !apperr.Is(err, apperr.KindInvalidInput) {
		t.Fatalf("expected KindInvalidInput, got %v", err)
	}
	if repo.failedReason != "input_too_large" {
		t.Errorf("failedReason = %q, want input_too_large", repo.failedReason)
	}
}

func TestIngest_PIIScanFailureIsNonFatal(t *testing.T) {
	repo := &fakeRepo{doc: newDoc()}
	parser := &fakeParser{result: &ParseResult{Text: "Contact Jane Doe for details about the quarterly report.", Pages: 1}}
	redactor := &fakeRedactor{err: fmt.Errorf("dlp api unavailable")}
	emb := &fakeEmbedder{}
	idx := &fakeIndex{}
	p := newPipeline(repo, parser, redactor, emb, idx)

	if err := p.Ingest(context.Background(), "doc-1"); err != nil {
		t.Fatalf("expected scan failure to be non-fatal, got: %v", err)
	}
	if repo.failedReason != "" {
		t.Errorf("failedReason = %q, want empty (scan failure must not fail ingestion)", repo.failedReason)
	}
}

func TestIngest_EmbedFailureMarksFailed(t *testing.T) {
	repo := &fakeRepo{doc: newDoc()}
	parser := &fakeParser{result: &ParseResult{Text: "Text long enough to produce at least one chunk for embedding.", Pages: 1}}
	emb := &fakeEmbedder{err: fmt.Errorf("vertex ai quota exceeded")}
	idx := &fakeIndex{}
	p := newPipeline(repo, parser, nil, emb, idx)

	err := p.Ingest(context.Background(), "doc-1")
	if !apperr.Is(err, apperr.KindDependencyUnavailable) {
		t.Fatalf("expected KindDependencyUnavailable, got %v", err)
	}
	if repo.failedReason != "embed_failed" {
		t.Errorf("failedReason = %q, want embed_failed", repo.failedReason)
	}
}

func TestIngest_IndexFailureMarksFailed(t *testing.T) {
	repo := &fakeRepo{doc: newDoc()}
	parser := &fakeParser{result: &ParseResult{Text: "Text long enough to produce at least one chunk for indexing.", Pages: 1}}
	emb := &fakeEmbedder{}
	idx := &fakeIndex{addErr: fmt.Errorf("pgvector connection reset")}
	p := newPipeline(repo, parser, nil, emb, idx)

	err := p.Ingest(context.Background(), "doc-1")
	if !apperr.Is(err, apperr.KindDependencyUnavailable) {
		t.Fatalf("expected KindDependencyUnavailable, got %v", err)
	}
	if repo.failedReason != "index_failed" {
		t.Errorf("failedReason = %q, want index_failed", repo.failedReason)
	}
}

func TestIngest_DocumentNotFoundPropagates(t *testing.T) {
	repo := &fakeRepo{getErr: apperr.New(apperr.KindDocumentNotFound, "repository.GetByID", "doc-1", nil)}
	parser := &fakeParser{}
	p := newPipeline(repo, parser, nil, &fakeEmbedder{}, &fakeIndex{})

	err := p.Ingest(context.Background(), "doc-1")
	if !apperr.Is(err, apperr.KindDocumentNotFound) {
		t.Fatalf("expected KindDocumentNotFound, got %v", err)
	}
}
