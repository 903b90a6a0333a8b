// Package answerengine is the orchestrator tying every capability and
// component together into a single call: classify, retrieve, rerank,
// condense, generate N candidates, score and select, quality-gate, fall
// back to an external source when local evidence is weak, format, and
// update the Adaptive Cache.
package answerengine

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/connexus-ai/ragqa-core/internal/adaptivecache"
	"github.com/connexus-ai/ragqa-core/internal/apperr"
	"github.com/connexus-ai/ragqa-core/internal/capability/generator"
	"github.com/connexus-ai/ragqa-core/internal/classifier"
	"github.com/connexus-ai/ragqa-core/internal/condenser"
	"github.com/connexus-ai/ragqa-core/internal/config"
	"github.com/connexus-ai/ragqa-core/internal/fallback"
	"github.com/connexus-ai/ragqa-core/internal/model"
	"github.com/connexus-ai/ragqa-core/internal/reranker"
	"github.com/connexus-ai/ragqa-core/internal/retriever"
)

// Stage names the request's position in the state machine: Received →
// Classifying → Retrieving → Reranking → Condensing → Generating → Scoring →
// Gated → (Fallback?) → Formatted → Completed | Failed.
type Stage string

const (
	StageReceived    Stage = "received"
	StageClassifying Stage = "classifying"
	StageRetrieving  Stage = "retrieving"
	StageReranking   Stage = "reranking"
	StageCondensing  Stage = "condensing"
	StageGenerating  Stage = "generating"
	StageScoring     Stage = "scoring"
	StageGated       Stage = "gated"
	StageFallback    Stage = "fallback"
	StageFormatted   Stage = "formatted"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

// ProgressFunc receives a stage transition. Generalized from the donor's
// per-stage SSE events into a transport-agnostic callback; nil is valid and
// means "no one is listening."
type ProgressFunc func(Stage)

func emit(fn ProgressFunc, stage Stage) {
	if fn != nil {
		fn(stage)
	}
}

const (
	defaultMaxSources     = 5
	definitionFloorRelief = 0.1
)

// Options controls a single Answer call; zero values mean "use the
// configured default."
type Options struct {
	ResponseFormat        string // "brief", "detailed" (default), "bulleted"
	MaxSources            int
	NCandidates           int
	AllowExternalFallback *bool
	ConfidenceFloor       *float64
}

// Request is a single question against one owner's document set.
type Request struct {
	Question string
	OwnerID  string
	Options  Options
}

// Engine is the Answer Engine. It owns the Classifier and the Adaptive
// Cache; every other component is a constructor-injected collaborator.
type Engine struct {
	retriever  *retriever.Retriever
	reranker   *reranker.Reranker
	condenser  *condenser.Condenser
	generator  generator.Generator
	classifier *classifier.Classifier
	cache      *adaptivecache.AdaptiveCache
	fallback   *fallback.Client

	cfg *config.Config

	poorAnswerRegexes []*regexp.Regexp
}

// New constructs an Engine. condenser and fallback may be nil: a nil
// condenser skips condensation (passages flow through verbatim), a nil
// fallback disables external fallback regardless of request options.
func New(
	r *retriever.Retriever,
	rr *reranker.Reranker,
	cd *condenser.Condenser,
	gen generator.Generator,
	cl *classifier.Classifier,
	cache *adaptivecache.AdaptiveCache,
	fb *fallback.Client,
	cfg *config.Config,
) *Engine {
	regexes := make([]*regexp.Regexp, 0, len(cfg.Gate.PoorAnswerRegexes))
	for _, expr := range cfg.Gate.PoorAnswerRegexes {
		if re, err := regexp.Compile(expr); err == nil {
			regexes = append(regexes, re)
		}
	}
	return &Engine{
		retriever:         r,
		reranker:          rr,
		condenser:         cd,
		generator:         gen,
		classifier:        cl,
		cache:             cache,
		fallback:          fb,
		cfg:               cfg,
		poorAnswerRegexes: regexes,
	}
}

// Answer runs the full pipeline for req. It returns a well-formed
// *model.Answer on the cache-hit, no-evidence, fallback and completed paths.
// It returns a nil Answer and an error when the question is empty, when
// retrieval fails, and when generation fails with external fallback not
// available.
func (e *Engine) Answer(ctx context.Context, req Request) (*model.Answer, error) {
	return e.AnswerWithProgress(ctx, req, nil)
}

// AnswerWithProgress is Answer with stage-transition notifications.
func (e *Engine) AnswerWithProgress(ctx context.Context, req Request, onProgress ProgressFunc) (*model.Answer, error) {
	start := time.Now()
	emit(onProgress, StageReceived)

	if req.Question == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "answerengine.Answer", "question is empty", nil)
	}

	opts := e.resolveOptions(req.Options)

	normalized := classifier.Normalize(req.Question)
	fingerprint := classifier.Fingerprint(normalized)
	keywords := adaptivecache.ExtractKeywords(normalized)

	// Step 1: cache lookup — exact fingerprint, then keyword-nearest.
	if e.cache != nil {
		if entry, ok := e.cache.Lookup(fingerprint); ok {
			e.cache.RecordHit(ctx, fingerprint, req.Question, entry.CanonicalAnswer, keywords, time.Since(start).Milliseconds())
			emit(onProgress, StageCompleted)
			return e.cachedAnswer(entry, true), nil
		}
		if entry, ok := e.cache.LookupNearest(keywords); ok {
			e.cache.RecordHit(ctx, fingerprint, req.Question, entry.CanonicalAnswer, keywords, time.Since(start).Milliseconds())
			emit(onProgress, StageCompleted)
			return e.cachedAnswer(entry, true), nil
		}
	}

	// Step 2: classify.
	emit(onProgress, StageClassifying)
	var record model.ClassificationRecord
	if e.classifier != nil {
		record = e.classifier.Classify(ctx, req.Question)
	}

	confidenceFloor := opts.confidenceFloor
	if record.Label == classifier.LabelDefinition {
		confidenceFloor -= definitionFloorRelief
		if confidenceFloor < 0 {
			confidenceFloor = 0
		}
	}

	// Step 3: retrieve.
	emit(onProgress, StageRetrieving)
	retrieval, err := e.retriever.Retrieve(ctx, req.OwnerID, req.Question, retriever.Options{
		K:          e.cfg.Retrieval.TopK,
		ScoreFloor: e.cfg.Retrieval.ScoreFloor,
	})
	if err != nil {
		return nil, err
	}

	if len(retrieval.Chunks) == 0 {
		allowFallback := opts.allowExternalFallback && e.fallback != nil
		if !allowFallback {
			emit(onProgress, StageFailed)
			return noEvidenceAnswer(), nil
		}
		return e.runFallbackOnly(ctx, req, opts, fingerprint, keywords, start, onProgress)
	}

	// Step 4: rerank.
	emit(onProgress, StageReranking)
	candidates := make([]reranker.Candidate, len(retrieval.Chunks))
	for i, c := range retrieval.Chunks {
		candidates[i] = reranker.Candidate{Ref: c.Ref, Text: c.Text, OriginalRank: i}
	}
	outcome := e.reranker.Rerank(ctx, req.Question, candidates, reranker.Config{
		InputMax: e.cfg.Rerank.InputMax,
		TopK:     e.cfg.Rerank.TopK,
		MinScore: e.cfg.Rerank.MinScore,
		Timeout:  e.cfg.Rerank.Timeout,
	})

	// Step 4 cont'd: condense.
	emit(onProgress, StageCondensing)
	contextPassages, _, contextTokens := e.assembleContext(ctx, req.Question, outcome.Results)

	// Step 6: generate N candidates.
	emit(onProgress, StageGenerating)
	schedule := buildSchedule(e.cfg.Generation.SamplingSchedule, opts.nCandidates)
	genReq := generator.Request{
		Query:     req.Question,
		Passages:  contextPassages,
		MaxTokens: e.cfg.Generation.MaxTokens,
	}
	weights := toBestOfNWeights(e.cfg.Generation.Weights)
	candidatesScored, err := generateCandidates(ctx, e.generator, genReq, schedule, weights, contextTokens, e.cfg.Gate.BannedPhrases)
	if err != nil {
		if opts.allowExternalFallback && e.fallback != nil {
			return e.runFallbackOnly(ctx, req, opts, fingerprint, keywords, start, onProgress)
		}
		return nil, err
	}

	// Step 7: select.
	emit(onProgress, StageScoring)
	winner := candidatesScored[0]

	// Step 8: quality gate.
	emit(onProgress, StageGated)
	triggered := e.gateTriggered(winner.Text, winner.Scores.Final, confidenceFloor, len(retrieval.Chunks))

	localText := strings.TrimSpace(winner.Text)
	localConfidence := winner.Scores.Final
	localSources := sourcesFromResults(outcome.Results)

	if !triggered {
		answer := e.finalize(localText, localConfidence, localSources, model.OriginLocal, opts, len(candidatesScored), !outcome.Degraded, outcome.Degraded, false, record.Label)
		e.updateCache(ctx, fingerprint, req.Question, answer.Text, keywords, start)
		emit(onProgress, StageFormatted)
		emit(onProgress, StageCompleted)
		return answer, nil
	}

	// Step 9: external fallback.
	allowFallback := opts.allowExternalFallback && e.fallback != nil
	if !allowFallback {
		answer := e.finalize(localText, localConfidence, localSources, model.OriginLocal, opts, len(candidatesScored), !outcome.Degraded, outcome.Degraded, false, record.Label)
		e.updateCache(ctx, fingerprint, req.Question, answer.Text, keywords, start)
		emit(onProgress, StageFormatted)
		emit(onProgress, StageCompleted)
		return answer, nil
	}

	emit(onProgress, StageFallback)
	fbCtx := ctx
	if e.cfg.Deadlines.FallbackMs > 0 {
		var cancel context.CancelFunc
		fbCtx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.Deadlines.FallbackMs)*time.Millisecond)
		defer cancel()
	}
	fbResult, fbErr := e.fallback.SearchAndAnswer(fbCtx, req.Question)

	answer := e.mergeWithFallback(localText, localConfidence, localSources, fbResult, fbErr, opts, len(candidatesScored), !outcome.Degraded, outcome.Degraded, record.Label)
	e.updateCache(ctx, fingerprint, req.Question, answer.Text, keywords, start)
	emit(onProgress, StageFormatted)
	emit(onProgress, StageCompleted)
	return answer, nil
}

// runFallbackOnly handles the step-3 "empty local evidence, go to step 8"
// path: there is nothing to gate locally, so the gate is trivially
// triggered and the engine goes straight to external fallback.
func (e *Engine) runFallbackOnly(ctx context.Context, req Request, opts resolvedOptions, fingerprint string, keywords []string, start time.Time, onProgress ProgressFunc) (*model.Answer, error) {
	emit(onProgress, StageGated)
	emit(onProgress, StageFallback)

	fbCtx := ctx
	if e.cfg.Deadlines.FallbackMs > 0 {
		var cancel context.CancelFunc
		fbCtx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.Deadlines.FallbackMs)*time.Millisecond)
		defer cancel()
	}
	fbResult, fbErr := e.fallback.SearchAndAnswer(fbCtx, req.Question)

	answer := e.mergeWithFallback("", 0, nil, fbResult, fbErr, opts, 0, false, false, "")
	e.updateCache(ctx, fingerprint, req.Question, answer.Text, keywords, start)
	emit(onProgress, StageFormatted)
	emit(onProgress, StageCompleted)
	return answer, nil
}

// mergeWithFallback implements step 9's merge rule: hybrid when both local
// and external content contributed, external when only fallback did,
// fallback_error when fallback also failed.
func (e *Engine) mergeWithFallback(localText string, localConfidence float64, localSources []model.Source, fbResult *fallback.Result, fbErr error, opts resolvedOptions, candidatesGenerated int, rerankApplied, rerankDegraded bool, label string) *model.Answer {
	if fbErr != nil || fbResult == nil || strings.TrimSpace(fbResult.Text) == "" {
		if localText != "" {
			return e.finalize(localText, localConfidence, localSources, model.OriginLocal, opts, candidatesGenerated, rerankApplied, rerankDegraded, true, label)
		}
		return e.finalize(noEvidenceMessage, 0, nil, model.OriginFallbackError, opts, candidatesGenerated, rerankApplied, rerankDegraded, true, label)
	}

	fbSources := sourcesFromFallback(fbResult.Sources)

	if localText != "" {
		var sb strings.Builder
		sb.WriteString(localText)
		sb.WriteString("\n\n")
		sb.WriteString(fbResult.Text)
		merged := strings.TrimSpace(sb.String())
		confidence := clamp01(localConfidence * fbResult.Confidence)
		sources := append(append([]model.Source{}, localSources...), fbSources...)
		return e.finalize(merged, confidence, sources, model.OriginHybrid, opts, candidatesGenerated, rerankApplied, rerankDegraded, true, label)
	}

	confidence := clamp01(fbResult.Confidence)
	return e.finalize(fbResult.Text, confidence, fbSources, model.OriginExternal, opts, candidatesGenerated, rerankApplied, rerankDegraded, true, label)
}

func (e *Engine) updateCache(ctx context.Context, fingerprint, question, answer string, keywords []string, start time.Time) {
	if e.cache == nil {
		return
	}
	e.cache.RecordHit(ctx, fingerprint, question, answer, keywords, time.Since(start).Milliseconds())
}

func (e *Engine) cachedAnswer(entry model.CacheEntry, cacheHit bool) *model.Answer {
	return &model.Answer{
		Text:       entry.CanonicalAnswer,
		Confidence: 1.0,
		Origin:     model.OriginLocal,
		Metadata: model.AnswerMetadata{
			CacheHit: cacheHit,
		},
	}
}

const noEvidenceMessage = "I don't have enough relevant context to answer this question. Please upload related documents or try a more specific query."

func noEvidenceAnswer() *model.Answer {
	return &model.Answer{
		Text:       noEvidenceMessage,
		Confidence: 0,
		Origin:     model.OriginFallbackError,
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func sourcesFromResults(results []reranker.Result) []model.Source {
	out := make([]model.Source, 0, len(results))
	for _, r := range results {
		snippet := r.Text
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		out = append(out, model.Source{
			DocumentID: r.Ref.DocumentID,
			Ordinal:    r.Ref.Ordinal,
			Snippet:    snippet,
			Score:      r.Score,
		})
	}
	return out
}

func sourcesFromFallback(sources []fallback.Source) []model.Source {
	out := make([]model.Source, 0, len(sources))
	for _, s := range sources {
		out = append(out, model.Source{
			DocumentID: s.URL,
			Ordinal:    0,
			Snippet:    s.Title,
			Score:      s.Relevance,
		})
	}
	return out
}
