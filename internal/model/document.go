// Package model holds the data types shared across the retrieval-augmented
// answering core: documents, chunks, queries, candidates, answers, and the
// cache/classification records the Answer Engine persists between requests.
package model

import "time"

// Status is a document's position in the ingestion lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusExtracting Status = "extracting"
	StatusIndexed    Status = "indexed"
	StatusFailed     Status = "failed"
)

// SoftCapChars is the soft limit on extracted document text before a warning
// is logged; HardCapChars is the limit beyond which ingestion refuses the
// document with InputTooLarge.
const (
	SoftCapChars = 100_000
	HardCapChars = 500_000
)

// Document is an uploaded reference document. A Document reaches StatusIndexed
// only after every one of its chunks has been added to the Vector Index.
type Document struct {
	ID               string
	OwnerID          string
	OriginalName     string
	MimeHint         string
	StoragePath      string // object path within the ingestion bucket
	Status           Status
	ExtractedText    string
	PageCount        int
	ChunkCount       int
	EmbeddingVersion string
	FailureReason    string
	UpdatedAt        time.Time
	CreatedAt        time.Time
}

// Chunk is a retrieval-sized passage of a Document's text, identified by
// (DocumentID, Ordinal). ContentHash dedups identical passages across
// re-ingestion runs.
type Chunk struct {
	DocumentID  string
	Ordinal     int
	Text        string
	ContentHash string
	TokenCount  int
	Embedding   []float32
	CharStart   int
	CharEnd     int
	CreatedAt   time.Time
}

// ChunkRef identifies a chunk without carrying its text, used wherever only
// provenance is needed (sources on an Answer, cache citations).
type ChunkRef struct {
	DocumentID string
	Ordinal    int
}
