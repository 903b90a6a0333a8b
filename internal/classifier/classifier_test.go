package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/connexus-ai/ragqa-core/internal/model"
)

type fakeML struct {
	calls      int
	label      string
	confidence float64
	dist       map[string]float64
	err        error
}

func (f *fakeML) Classify(ctx context.Context, text string) (string, float64, map[string]float64, error) {
	f.calls++
	return f.label, f.confidence, f.dist, f.err
}

func TestNormalize_StripsCitationsAndCollapsesWhitespace(t *testing.T) {
	got := Normalize("  This   is [1, 2] a   TEST [42]  ")
	want := "this is a test"
	if got != want {
		t.Errorf("Normalize() = %q, want %q", got, want)
	}
}

func TestFingerprint_Stable(t *testing.T) {
	a := Fingerprint("hello world")
	b := Fingerprint("hello world")
	if a != b {
		t.Error("Fingerprint() not stable for identical input")
	}
	if a == Fingerprint("other text") {
		t.Error("Fingerprint() collided for different input")
	}
}

func TestClassify_DefinitionRuleFires(t *testing.T) {
	ml := &fakeML{}
	c := New(ml)
	record := c.Classify(context.Background(), "What is a transformer model?")
	if record.Label != LabelDefinition {
		t.Errorf("Label = %q, want %q", record.Label, LabelDefinition)
	}
	if record.Confidence < 0.9 {
		t.Errorf("Confidence = %f, want high confidence for rule match", record.Confidence)
	}
	if ml.calls != 0 {
		t.Errorf("ML calls = %d, want 0", ml.calls)
	}
}

func TestClassify_NoRuleFallsBackToML(t *testing.T) {
	ml := &fakeML{label: LabelAnalytical, confidence: 0.8, dist: map[string]float64{LabelAnalytical: 0.8}}
	c := New(ml)
	record := c.Classify(context.Background(), "Tell me about the weather patterns in the pacific")
	if record.Method != model.ClassifiedByML {
		t.Errorf("Method = %v, want ml", record.Method)
	}
	if record.Label != LabelAnalytical {
		t.Errorf("Label = %q, want %q", record.Label, LabelAnalytical)
	}
	if ml.calls != 1 {
		t.Errorf("ML calls = %d, want 1", ml.calls)
	}
}

func TestClassify_LowMLConfidenceDowngradesToDefault(t *testing.T) {
	ml := &fakeML{label: LabelAnalytical, confidence: 0.2}
	c := New(ml)
	record := c.Classify(context.Background(), "some ambiguous text with no rule match at all")
	if record.Label != LabelGeneral {
		t.Errorf("Label = %q, want downgrade to %q", record.Label, LabelGeneral)
	}
}

func TestClassify_NilMLDefaultsWithoutError(t *testing.T) {
	c := New(nil)
	record := c.Classify(context.Background(), "some ambiguous text with no rule match at all")
	if record.Label != LabelGeneral {
		t.Errorf("Label = %q, want %q", record.Label, LabelGeneral)
	}
	if record.Method != model.ClassifiedByRule {
		t.Errorf("Method = %v, want rule (degraded)", record.Method)
	}
}

func TestClassify_MLErrorDegradesToDefault(t *testing.T) {
	ml := &fakeML{err: errors.New("model unavailable")}
	c := New(ml)
	record := c.Classify(context.Background(), "some ambiguous text with no rule match at all")
	if record.Label != LabelGeneral {
		t.Errorf("Label = %q, want %q on ML failure", record.Label, LabelGeneral)
	}
}

func TestClassify_CacheHitSkipsML(t *testing.T) {
	ml := &fakeML{label: LabelAnalytical, confidence: 0.9}
	c := New(ml)
	text := "Tell me about the weather patterns in the pacific"
	first := c.Classify(context.Background(), text)
	second := c.Classify(context.Background(), text)
	if ml.calls != 1 {
		t.Errorf("ML calls = %d, want 1 (second call should hit cache)", ml.calls)
	}
	if first.Label != second.Label || first.Fingerprint != second.Fingerprint {
		t.Error("cached result should be identical to the first")
	}
}

func TestBatchClassify_DeduplicatesWithinBatch(t *testing.T) {
	ml := &fakeML{label: LabelAnalytical, confidence: 0.9}
	c := New(ml)
	texts := []string{
		"Tell me about the weather patterns in the pacific",
		"Tell me about the weather patterns in the pacific",
		"what is a vector database",
	}
	results := c.BatchClassify(context.Background(), texts)
	if len(results) != 3 {
		t.Fatalf("results len = %d, want 3", len(results))
	}
	if ml.calls != 1 {
		t.Errorf("ML calls = %d, want 1 (dedup within batch + rule match on third)", ml.calls)
	}
	if results[2].Label != LabelDefinition {
		t.Errorf("third result Label = %q, want %q", results[2].Label, LabelDefinition)
	}
}

func TestWithConfidenceThreshold_Overrides(t *testing.T) {
	ml := &fakeML{label: LabelAnalytical, confidence: 0.5}
	c := New(ml, WithConfidenceThreshold(0.3))
	record := c.Classify(context.Background(), "some ambiguous text with no rule match at all")
	if record.Label != LabelAnalytical {
		t.Errorf("Label = %q, want %q when threshold is lowered below confidence", record.Label, LabelAnalytical)
	}
}
