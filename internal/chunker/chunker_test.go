package chunker

import (
	"strings"
	"testing"
)

func TestChunker_BasicChunking(t *testing.T) {
	c := New(100, 20, 10) // small chunk size for testing

	var paragraphs []string
	for i := 0; i < 20; i++ {
		paragraphs = append(paragraphs, "This is a test paragraph with enough words to contribute to the token count. It has multiple sentences. Each sentence adds to the overall length of the paragraph.")
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks, err := c.Chunk("doc-1", text)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}

	if len(chunks) < 2 {
		t.Errorf("expected at least 2 chunks, got %d", len(chunks))
	}

	for i, ch := range chunks {
		if ch.Text == "" {
			t.Errorf("chunk[%d] has empty text", i)
		}
		if ch.ContentHash == "" {
			t.Errorf("chunk[%d] has empty hash", i)
		}
		if ch.TokenCount <= 0 {
			t.Errorf("chunk[%d] has token count %d", i, ch.TokenCount)
		}
		if ch.DocumentID != "doc-1" {
			t.Errorf("chunk[%d] DocumentID = %q, want %q", i, ch.DocumentID, "doc-1")
		}
		if ch.Ordinal != i {
			t.Errorf("chunk[%d] Ordinal = %d, want %d", i, ch.Ordinal, i)
		}
	}
}

func TestChunker_OverlapApplied(t *testing.T) {
	c := New(50, 10, 5) // very small chunks to force many splits

	var paragraphs []string
	for i := 0; i < 15; i++ {
		paragraphs = append(paragraphs, "Alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu nu xi omicron pi rho sigma tau upsilon.")
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks, err := c.Chunk("doc-overlap", text)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}

	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks for overlap test, got %d", len(chunks))
	}

	words0 := strings.Fields(chunks[0].Text)
	if len(words0) > 5 {
		lastFew := strings.Join(words0[len(words0)-3:], " ")
		if !strings.Contains(chunks[1].Text, lastFew) {
			t.Errorf("chunk[1] should contain overlap from chunk[0], looking for %q", lastFew)
		}
	}
}

func TestChunker_SHA256Hash(t *testing.T) {
	c := New(512, 128, 10)

	text := "This is a simple document with just enough text to form a single chunk."
	chunks, err := c.Chunk("doc-hash", text)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least 1 chunk")
	}
	if len(chunks[0].ContentHash) != 64 {
		t.Errorf("ContentHash length = %d, want 64", len(chunks[0].ContentHash))
	}

	chunks2, _ := c.Chunk("doc-hash-2", text)
	if chunks[0].ContentHash != chunks2[0].ContentHash {
		t.Error("same content should produce same hash")
	}
}

func TestChunker_EmptyText(t *testing.T) {
	c := New(512, 128, 10)
	chunks, err := c.Chunk("doc-empty", "")
	if err != nil || len(chunks) != 0 {
		t.Fatalf("expected no chunks and no error for empty text, got %d chunks, err %v", len(chunks), err)
	}
}

func TestChunker_WhitespaceOnly(t *testing.T) {
	c := New(512, 128, 10)
	chunks, err := c.Chunk("doc-ws", "   \n\n\t  \n  ")
	if err != nil || len(chunks) != 0 {
		t.Fatalf("expected no chunks and no error for whitespace-only text, got %d chunks, err %v", len(chunks), err)
	}
}

func TestChunker_NoEmptyChunks(t *testing.T) {
	c := New(100, 20, 5)

	text := "First paragraph.\n\n\n\n\n\nSecond paragraph.\n\n\n\n\n\nThird paragraph."
	chunks, err := c.Chunk("doc-gaps", text)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	for i, ch := range chunks {
		if strings.TrimSpace(ch.Text) == "" {
			t.Errorf("chunk[%d] is empty after trim", i)
		}
	}
}

func TestChunker_LargeParagraphSplit(t *testing.T) {
	c := New(50, 10, 5)

	var sentences []string
	for i := 0; i < 30; i++ {
		sentences = append(sentences, "This is sentence number that contains enough words to matter for token estimation.")
	}
	text := strings.Join(sentences, " ")

	chunks, err := c.Chunk("doc-large", text)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) < 2 {
		t.Errorf("expected large paragraph to be split into multiple chunks, got %d", len(chunks))
	}
}

func TestChunker_SingleParagraph(t *testing.T) {
	c := New(512, 128, 5)

	text := "A simple short paragraph that fits in one chunk."
	chunks, err := c.Chunk("doc-single", text)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Ordinal != 0 {
		t.Errorf("Ordinal = %d, want 0", chunks[0].Ordinal)
	}
}

func TestChunker_DefaultParameters(t *testing.T) {
	c := New(0, -1, 0)
	if c.chunkSizeTokens != 512 {
		t.Errorf("chunkSizeTokens = %d, want 512 (default)", c.chunkSizeTokens)
	}
	if c.overlapTokens != 128 {
		t.Errorf("overlapTokens = %d, want 128 (default)", c.overlapTokens)
	}
	if c.minChunkTokens != 32 {
		t.Errorf("minChunkTokens = %d, want 32 (default)", c.minChunkTokens)
	}
}

func TestChunker_UndersizedTailMerged(t *testing.T) {
	c := New(200, 20, 50)

	text := "First paragraph with a reasonable amount of content to fill most of a chunk nicely.\n\ntiny tail"
	chunks, err := c.Chunk("doc-merge", text)
	if err != nil {
		t.Fatalf("Chunk() error: %v", err)
	}
	for _, ch := range chunks {
		if ch.TokenCount < 50 && len(chunks) > 1 {
			t.Errorf("expected undersized chunk to be merged, found standalone chunk with %d tokens", ch.TokenCount)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		min  int
		max  int
	}{
		{"", 0, 0},
		{"hello", 1, 3},
		{"one two three four five", 5, 10},
	}

	for _, tt := range tests {
		got := estimateTokens(tt.text)
		if got < tt.min || got > tt.max {
			t.Errorf("estimateTokens(%q) = %d, want [%d, %d]", tt.text, got, tt.min, tt.max)
		}
	}
}

func TestSha256Hash(t *testing.T) {
	hash := sha256Hash("hello world")
	if len(hash) != 64 {
		t.Errorf("hash length = %d, want 64", len(hash))
	}
	if sha256Hash("hello world") != hash {
		t.Error("same input should produce same hash")
	}
	if sha256Hash("goodbye world") == hash {
		t.Error("different input should produce different hash")
	}
}
