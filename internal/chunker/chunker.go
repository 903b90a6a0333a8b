// Package chunker splits ingested document text into overlapping,
// retrieval-sized passages.
package chunker

import (
	"crypto/sha256"
	"fmt"
	"math"
	"strings"

	"github.com/connexus-ai/ragqa-core/internal/apperr"
	"github.com/connexus-ai/ragqa-core/internal/model"
)

// Chunker splits text into overlapping chunks of approximately ChunkSizeTokens,
// with OverlapTokens worth of trailing context repeated as a prefix of each
// chunk after the first.
type Chunker struct {
	chunkSizeTokens int
	overlapTokens   int
	minChunkTokens  int
}

// New constructs a Chunker. chunkSizeTokens defaults to 512, overlapTokens to
// 128, matching the core's default chunking profile.
func New(chunkSizeTokens, overlapTokens, minChunkTokens int) *Chunker {
	if chunkSizeTokens <= 0 {
		chunkSizeTokens = 512
	}
	if overlapTokens <= 0 || overlapTokens >= chunkSizeTokens {
		overlapTokens = 128
	}
	if minChunkTokens <= 0 {
		minChunkTokens = 32
	}
	return &Chunker{chunkSizeTokens: chunkSizeTokens, overlapTokens: overlapTokens, minChunkTokens: minChunkTokens}
}

// Chunk splits text into model.Chunk values for documentID. Chunks smaller
// than minChunkTokens are merged into the preceding chunk rather than
// dropped, so no content is silently lost at the tail of a document.
// Empty or whitespace-only text yields no chunks and no error.
func (c *Chunker) Chunk(documentID, text string) ([]model.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "chunker.Chunk", "no content after splitting", nil)
	}

	segments := c.buildSegments(paragraphs)
	overlapped := c.applyOverlap(segments)

	chunks := make([]model.Chunk, 0, len(overlapped))
	for _, content := range overlapped {
		trimmed := strings.TrimSpace(content)
		if trimmed == "" {
			continue
		}
		chunks = append(chunks, model.Chunk{
			DocumentID:  documentID,
			Text:        trimmed,
			ContentHash: sha256Hash(trimmed),
			TokenCount:  estimateTokens(trimmed),
		})
	}

	chunks = mergeUndersized(chunks, c.minChunkTokens)

	offset := 0
	for i := range chunks {
		chunks[i].Ordinal = i
		chunks[i].CharStart = offset
		chunks[i].CharEnd = offset + len(chunks[i].Text)
		offset = chunks[i].CharEnd
	}

	return chunks, nil
}

// buildSegments merges small paragraphs and splits large ones to fit
// chunkSizeTokens.
func (c *Chunker) buildSegments(paragraphs []string) []string {
	var segments []string
	var current strings.Builder

	for _, para := range paragraphs {
		paraTokens := estimateTokens(para)
		currentTokens := estimateTokens(current.String())

		if currentTokens > 0 && currentTokens+paraTokens > c.chunkSizeTokens {
			segments = append(segments, current.String())
			current.Reset()
		}

		if paraTokens > c.chunkSizeTokens {
			if current.Len() > 0 {
				segments = append(segments, current.String())
				current.Reset()
			}
			segments = append(segments, splitLargeParagraph(para, c.chunkSizeTokens)...)
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}

	if current.Len() > 0 {
		segments = append(segments, current.String())
	}

	return segments
}

// applyOverlap prepends the trailing overlapTokens worth of words from each
// segment to the following segment.
func (c *Chunker) applyOverlap(segments []string) []string {
	if len(segments) <= 1 {
		return segments
	}

	result := make([]string, len(segments))
	result[0] = segments[0]

	overlapWords := int(math.Ceil(float64(c.overlapTokens) / 1.3))

	for i := 1; i < len(segments); i++ {
		tail := lastNWords(segments[i-1], overlapWords)
		if tail != "" {
			result[i] = tail + "\n\n" + segments[i]
		} else {
			result[i] = segments[i]
		}
	}

	return result
}

// mergeUndersized folds any trailing chunk below minChunkTokens into its
// predecessor so short tail fragments never become a standalone, weakly
// retrievable chunk.
func mergeUndersized(chunks []model.Chunk, minChunkTokens int) []model.Chunk {
	if len(chunks) <= 1 {
		return chunks
	}
	out := make([]model.Chunk, 0, len(chunks))
	for _, ch := range chunks {
		if ch.TokenCount < minChunkTokens && len(out) > 0 {
			last := &out[len(out)-1]
			last.Text = last.Text + "\n\n" + ch.Text
			last.TokenCount = estimateTokens(last.Text)
			last.ContentHash = sha256Hash(last.Text)
			continue
		}
		out = append(out, ch)
	}
	return out
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	var result []string
	for _, p := range raw {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func splitLargeParagraph(para string, chunkSizeTokens int) []string {
	sentences := splitSentences(para)
	var chunks []string
	var current strings.Builder

	for _, sent := range sentences {
		sentTokens := estimateTokens(sent)
		currentTokens := estimateTokens(current.String())

		if currentTokens > 0 && currentTokens+sentTokens > chunkSizeTokens {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
	}

	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	if len(chunks) == 0 && len(para) > 0 {
		chunks = splitByWords(para, chunkSizeTokens)
	}

	return chunks
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range text {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(text) && text[i+1] == ' ' {
			sentences = append(sentences, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, strings.TrimSpace(current.String()))
	}
	return sentences
}

func splitByWords(text string, chunkSizeTokens int) []string {
	words := strings.Fields(text)
	wordsPerChunk := int(float64(chunkSizeTokens) / 1.3)
	if wordsPerChunk <= 0 {
		wordsPerChunk = 1
	}

	var chunks []string
	for i := 0; i < len(words); i += wordsPerChunk {
		end := i + wordsPerChunk
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks
}

// estimateTokens approximates token count as words * 1.3, matching the
// heuristic used elsewhere in the pipeline where an exact tokenizer isn't
// wired in.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

func lastNWords(text string, n int) string {
	words := strings.Fields(text)
	if n >= len(words) {
		return text
	}
	return strings.Join(words[len(words)-n:], " ")
}

func sha256Hash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h)
}
