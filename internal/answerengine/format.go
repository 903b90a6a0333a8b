package answerengine

import (
	"regexp"
	"strings"

	"github.com/connexus-ai/ragqa-core/internal/model"
)

var whitespaceRunPattern = regexp.MustCompile(`[ \t]+`)
var blankLineRunPattern = regexp.MustCompile(`\n{3,}`)
var spaceAroundNewlinePattern = regexp.MustCompile(` ?\n ?`)

// finalize implements §4.6 step 10: strip banned phrases, collapse
// whitespace, apply the requested response format, and cap sources at
// max_sources.
func (e *Engine) finalize(
	text string,
	confidence float64,
	sources []model.Source,
	origin model.Origin,
	opts resolvedOptions,
	candidatesGenerated int,
	rerankApplied bool,
	rerankDegraded bool,
	fallbackUsed bool,
	label string,
) *model.Answer {
	formatted := e.stripBannedPhrases(text)
	formatted = collapseWhitespace(formatted)
	formatted = applyResponseFormat(formatted, opts.responseFormat)

	if len(sources) > opts.maxSources {
		sources = sources[:opts.maxSources]
	}

	return &model.Answer{
		Text:       formatted,
		Confidence: clamp01(confidence),
		Sources:    sources,
		Origin:     origin,
		Metadata: model.AnswerMetadata{
			CandidatesGenerated: candidatesGenerated,
			RerankApplied:       rerankApplied,
			RerankDegraded:      rerankDegraded,
			FallbackUsed:        fallbackUsed,
			ClassificationLabel: label,
		},
	}
}

// stripBannedPhrases removes every configured banned phrase from text,
// case-insensitively, matching the donor's refusal-template scrubbing.
func (e *Engine) stripBannedPhrases(text string) string {
	for _, phrase := range e.cfg.Gate.BannedPhrases {
		text = replaceFoldCase(text, phrase, "")
	}
	return text
}

func replaceFoldCase(text, phrase, replacement string) string {
	if phrase == "" {
		return text
	}
	lower := strings.ToLower(text)
	phraseLower := strings.ToLower(phrase)
	var sb strings.Builder
	start := 0
	for {
		idx := strings.Index(lower[start:], phraseLower)
		if idx < 0 {
			sb.WriteString(text[start:])
			break
		}
		sb.WriteString(text[start : start+idx])
		sb.WriteString(replacement)
		start += idx + len(phrase)
	}
	return sb.String()
}

func collapseWhitespace(text string) string {
	text = whitespaceRunPattern.ReplaceAllString(text, " ")
	text = spaceAroundNewlinePattern.ReplaceAllString(text, "\n")
	text = blankLineRunPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// applyResponseFormat post-processes text per the caller-selected display
// mode; "detailed" is a no-op, "brief" keeps the first two sentences,
// "bulleted" splits sentences into a dash list.
func applyResponseFormat(text, format string) string {
	switch format {
	case "brief":
		return briefen(text)
	case "bulleted":
		return bulletize(text)
	default:
		return text
	}
}

var sentenceSplitPattern = regexp.MustCompile(`(?:[.!?])\s+`)

func splitSentences(text string) []string {
	out := make([]string, 0)
	start := 0
	for _, loc := range sentenceSplitPattern.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start : loc[0]+1]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func briefen(text string) string {
	sentences := splitSentences(text)
	if len(sentences) <= 2 {
		return text
	}
	return strings.Join(sentences[:2], " ")
}

func bulletize(text string) string {
	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return text
	}
	var sb strings.Builder
	for _, s := range sentences {
		sb.WriteString("- ")
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
