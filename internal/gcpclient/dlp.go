package gcpclient

import (
	"context"
	"log"

	"github.com/connexus-ai/ragqa-core/internal/ingest"
)

// StubDLPAdapter is a no-op DLP implementation.
// Returns empty findings so the pipeline continues without PII scanning.
// Wiring in Cloud DLP's real InspectContent call only requires swapping
// this adapter for one backed by the DLP API client.
type StubDLPAdapter struct{}

// NewStubDLPAdapter creates a StubDLPAdapter.
func NewStubDLPAdapter() *StubDLPAdapter {
	return &StubDLPAdapter{}
}

// InspectContent returns empty findings.
func (a *StubDLPAdapter) InspectContent(ctx context.Context, project string, text string, infoTypes []string) ([]ingest.Finding, error) {
	log.Println("DLP scanning skipped (stub adapter)")
	return []ingest.Finding{}, nil
}
