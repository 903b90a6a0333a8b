package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// DLPClient abstracts a PII/PHI inspection backend for testability.
type DLPClient interface {
	InspectContent(ctx context.Context, project, text string, infoTypes []string) ([]Finding, error)
}

// DefaultInfoTypes is the set of info types scanned for when a caller
// doesn't need a narrower list.
var DefaultInfoTypes = []string{
	"PERSON_NAME",
	"EMAIL_ADDRESS",
	"PHONE_NUMBER",
	"US_SOCIAL_SECURITY_NUMBER",
	"CREDIT_CARD_NUMBER",
	"US_INDIVIDUAL_TAXPAYER_IDENTIFICATION_NUMBER",
}

var infoTypeToRedactLabel = map[string]string{
	"PERSON_NAME":                "NAME",
	"EMAIL_ADDRESS":              "EMAIL",
	"PHONE_NUMBER":               "PHONE",
	"US_SOCIAL_SECURITY_NUMBER":  "SSN",
	"CREDIT_CARD_NUMBER":         "CREDIT_CARD",
	"US_INDIVIDUAL_TAXPAYER_IDENTIFICATION_NUMBER": "TIN",
}

// DLPRedactor implements Redactor over a DLPClient.
type DLPRedactor struct {
	client    DLPClient
	project   string
	infoTypes []string
}

// NewDLPRedactor constructs a DLPRedactor scanning DefaultInfoTypes.
func NewDLPRedactor(client DLPClient, project string) *DLPRedactor {
	return &DLPRedactor{client: client, project: project, infoTypes: DefaultInfoTypes}
}

// Scan inspects text for PII/PHI and returns findings without modifying it.
func (r *DLPRedactor) Scan(ctx context.Context, text string) (*ScanResult, error) {
	if text == "" {
		return &ScanResult{}, nil
	}

	findings, err := r.client.InspectContent(ctx, r.project, text, r.infoTypes)
	if err != nil {
		return nil, fmt.Errorf("ingest.DLPRedactor.Scan: inspect content: %w", err)
	}

	typeSet := make(map[string]bool)
	for _, f := range findings {
		typeSet[f.InfoType] = true
	}
	types := make([]string, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, t)
	}
	sort.Strings(types)

	return &ScanResult{
		Findings:     findings,
		FindingCount: len(findings),
		Types:        types,
	}, nil
}

// Redact replaces PII/PHI findings in text with [REDACTED-TYPE] markers.
func Redact(text string, findings []Finding) string {
	if len(findings) == 0 {
		return text
	}

	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartIndex > sorted[j].StartIndex
	})

	result := text
	for _, f := range sorted {
		if f.StartIndex < 0 || f.EndIndex > len(result) || f.StartIndex >= f.EndIndex {
			continue
		}
		label := infoTypeToRedactLabel[f.InfoType]
		if label == "" {
			label = "PII"
		}
		result = result[:f.StartIndex] + fmt.Sprintf("[REDACTED-%s]", label) + result[f.EndIndex:]
	}
	return result
}

// SummaryForAudit returns a flat map suitable for storing alongside a
// document's ingestion record.
func SummaryForAudit(result *ScanResult) map[string]any {
	return map[string]any{
		"pii_scan_complete": true,
		"finding_count":     result.FindingCount,
		"types_detected":    strings.Join(result.Types, ","),
	}
}
