package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Entity is a detected entity in a parsed document (date, person, amount).
type Entity struct {
	Type       string
	Content    string
	Confidence float64
}

// DocumentAIClient abstracts Document AI's ProcessDocument call.
type DocumentAIClient interface {
	ProcessDocument(ctx context.Context, processor, gcsURI, mimeType string) (*DocumentAIResponse, error)
}

// DocumentAIResponse is the parsed result from Document AI.
type DocumentAIResponse struct {
	Text     string
	Pages    int
	Entities []Entity
}

// downloader abstracts downloading an object from blob storage, matching
// the storage adapter used elsewhere in this package's host process.
type downloader interface {
	Download(ctx context.Context, bucket, object string) ([]byte, error)
}

// ParserService implements Parser with format-aware routing: .docx goes
// through native ZIP+XML extraction, plain-text formats are downloaded
// directly, and everything else (PDF, images, spreadsheets) goes through
// Document AI with a direct-download fallback when Document AI fails or
// returns no text.
type ParserService struct {
	client     DocumentAIClient
	processor  string // projects/{project}/locations/{loc}/processors/{id}
	downloader downloader
	bucketName string
}

// NewParserService constructs a ParserService. downloader may be nil, in
// which case only the Document AI route is available — .docx and
// plain-text routing, and the direct-download fallback, require it.
func NewParserService(client DocumentAIClient, processor string, dl downloader, bucketName string) *ParserService {
	return &ParserService{client: client, processor: processor, downloader: dl, bucketName: bucketName}
}

// Extract routes gcsURI to the appropriate extraction path by file extension.
func (s *ParserService) Extract(ctx context.Context, gcsURI string) (*ParseResult, error) {
	if gcsURI == "" {
		return nil, fmt.Errorf("ingest.ParserService.Extract: gcsURI is empty")
	}

	ext := strings.ToLower(filepath.Ext(gcsURI))

	if ext == ".docx" {
		return s.extractDocx(ctx, gcsURI)
	}
	if isPlainTextFormat(ext) {
		return s.extractPlainText(ctx, gcsURI)
	}

	mimeType := mimeTypeForExt(ext)
	resp, err := s.client.ProcessDocument(ctx, s.processor, gcsURI, mimeType)
	if err != nil {
		slog.Warn("document ai extraction failed, attempting direct download fallback",
			"gcs_uri", gcsURI, "mime_type", mimeType, "error", err)
		return s.extractFallback(ctx, gcsURI, err)
	}
	if resp.Text == "" {
		slog.Warn("document ai returned empty text, attempting direct download fallback", "gcs_uri", gcsURI, "mime_type", mimeType)
		return s.extractFallback(ctx, gcsURI, fmt.Errorf("document ai returned empty text"))
	}

	return &ParseResult{Text: resp.Text, Pages: resp.Pages, Entities: resp.Entities}, nil
}

func isPlainTextFormat(ext string) bool {
	switch ext {
	case ".txt", ".md", ".csv", ".json", ".log", ".xml", ".yaml", ".yml", ".html", ".htm":
		return true
	}
	return false
}

func (s *ParserService) extractPlainText(ctx context.Context, gcsURI string) (*ParseResult, error) {
	if s.downloader == nil {
		return nil, fmt.Errorf("ingest.ParserService.Extract: plain-text extraction requires a downloader")
	}
	bucket, object, err := parseGCSURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("ingest.ParserService.Extract: %w", err)
	}

	data, err := s.downloader.Download(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("ingest.ParserService.Extract: download %s/%s: %w", bucket, object, err)
	}

	text := string(data)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("ingest.ParserService.Extract: downloaded file is empty")
	}
	return &ParseResult{Text: text, Pages: 1}, nil
}

// extractFallback retries as a direct download when Document AI fails or
// returns nothing usable. The fallback only accepts text-like content —
// a binary PDF or image that Document AI rejected stays rejected.
func (s *ParserService) extractFallback(ctx context.Context, gcsURI string, cause error) (*ParseResult, error) {
	if s.downloader == nil {
		return nil, fmt.Errorf("ingest.ParserService.Extract: document ai failed and no fallback downloader configured: %w", cause)
	}
	bucket, object, err := parseGCSURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("ingest.ParserService.Extract: document ai failed: %w", cause)
	}
	data, err := s.downloader.Download(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("ingest.ParserService.Extract: document ai failed and fallback download failed: %w", cause)
	}

	text := string(data)
	if !looksLikeText(text) {
		return nil, fmt.Errorf("ingest.ParserService.Extract: document ai failed on binary content, fallback cannot parse it: %w", cause)
	}
	return &ParseResult{Text: text, Pages: 1}, nil
}

// looksLikeText rejects content that is mostly binary: invalid UTF-8, or a
// high proportion of non-printable bytes in the first 4KiB.
func looksLikeText(s string) bool {
	if len(s) == 0 {
		return false
	}
	sample := s
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	if !utf8.ValidString(sample) {
		return false
	}
	var nonPrintable, total int
	for _, r := range sample {
		total++
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			nonPrintable++
		}
	}
	if total == 0 {
		return false
	}
	return float64(nonPrintable)/float64(total) < 0.05
}

func (s *ParserService) extractDocx(ctx context.Context, gcsURI string) (*ParseResult, error) {
	if s.downloader == nil {
		return nil, fmt.Errorf("ingest.ParserService.Extract: docx extraction requires a downloader")
	}
	bucket, object, err := parseGCSURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("ingest.ParserService.Extract: %w", err)
	}
	data, err := s.downloader.Download(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("ingest.ParserService.Extract: download docx: %w", err)
	}
	text, err := extractDocxText(data)
	if err != nil {
		return nil, fmt.Errorf("ingest.ParserService.Extract: parse docx: %w", err)
	}
	return &ParseResult{Text: text, Pages: 1}, nil
}

// parseGCSURI splits "gs://bucket/path/to/object" into its parts.
func parseGCSURI(uri string) (bucket, object string, err error) {
	if uri == "" {
		return "", "", fmt.Errorf("empty gcs uri")
	}
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid gcs uri %q: must start with gs://", uri)
	}
	trimmed := strings.TrimPrefix(uri, "gs://")
	idx := strings.Index(trimmed, "/")
	if idx <= 0 {
		return "", "", fmt.Errorf("invalid gcs uri %q: missing object path", uri)
	}
	return trimmed[:idx], trimmed[idx+1:], nil
}

func mimeTypeForExt(ext string) string {
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
