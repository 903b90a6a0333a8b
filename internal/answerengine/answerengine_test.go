package answerengine

import (
	"context"
	"testing"

	"github.com/connexus-ai/ragqa-core/internal/adaptivecache"
	"github.com/connexus-ai/ragqa-core/internal/capability/generator"
	"github.com/connexus-ai/ragqa-core/internal/classifier"
	"github.com/connexus-ai/ragqa-core/internal/condenser"
	"github.com/connexus-ai/ragqa-core/internal/config"
	"github.com/connexus-ai/ragqa-core/internal/fallback"
	"github.com/connexus-ai/ragqa-core/internal/model"
	"github.com/connexus-ai/ragqa-core/internal/reranker"
	"github.com/connexus-ai/ragqa-core/internal/retriever"
	"github.com/connexus-ai/ragqa-core/internal/vectorindex"
)

// --- fakes ---------------------------------------------------------------

type fakeEmbedder struct{ dims int }

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}
func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, f.dims), nil
}
func (f *fakeEmbedder) Dimensions() int { return f.dims }

type fakeVectorSearcher struct {
	matches []vectorindex.Match
	err     error
}

func (f *fakeVectorSearcher) Search(ctx context.Context, ownerID string, queryVector []float32, k int) ([]vectorindex.Match, error) {
	return f.matches, f.err
}

type fakeGenerator struct {
	text string
	err  error
}

func (f *fakeGenerator) Generate(ctx context.Context, req generator.Request) (*generator.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &generator.Response{Text: f.text}, nil
}

type fakeStore struct {
	loaded map[string]model.CacheEntry
}

func (f *fakeStore) Flush(ctx context.Context, entries map[string]model.CacheEntry) error { return nil }
func (f *fakeStore) Load(ctx context.Context) (map[string]model.CacheEntry, error) {
	return f.loaded, nil
}

type fakeProvider struct {
	hits []fallback.Hit
}

func (f *fakeProvider) Search(ctx context.Context, term string, maxResults int) ([]fallback.Hit, error) {
	return f.hits, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Retrieval: config.RetrievalConfig{TopK: 5, ScoreFloor: 0.0},
		Rerank:    config.RerankConfig{InputMax: 10, TopK: 5, MinScore: 0.0},
		Generation: config.GenerationConfig{
			NCandidates:   1,
			MaxTokens:     256,
			ContextBudget: 2000,
			// Perplexity alone (always 0.5 absent log-probs) clears the
			// 0.1 confidence floor below, so the happy-path test doesn't
			// hinge on exact keyword-overlap arithmetic.
			Weights: config.GenerationWeights{Perplexity: 0.3, Relevance: 0.3, Quality: 0.4},
		},
		Gate:      config.GateConfig{ConfidenceFloor: 0.1, MinAnswerLength: 5},
		Deadlines: config.DeadlinesConfig{},
	}
}

func newTestEngine(t *testing.T, vecMatches []vectorindex.Match, genText string, genErr error, fb *fallback.Client, cache *adaptivecache.AdaptiveCache, cfg *config.Config) *Engine {
	t.Helper()
	r := retriever.New(&fakeEmbedder{dims: 4}, &fakeVectorSearcher{matches: vecMatches}, nil)
	rr := reranker.New(nil)
	cd := condenser.New(nil)
	cl := classifier.New(nil)
	gen := &fakeGenerator{text: genText, err: genErr}
	return New(r, rr, cd, gen, cl, cache, fb, cfg)
}

// --- tests -----------------------------------------------------------------

func TestAnswer_EmptyQuestionIsInvalidInput(t *testing.T) {
	e := newTestEngine(t, nil, "", nil, nil, nil, testConfig())
	_, err := e.Answer(context.Background(), Request{Question: ""})
	if err == nil {
		t.Fatal("expected error for empty question")
	}
}

func TestAnswer_ExactCacheHitShortCircuits(t *testing.T) {
	cfg := testConfig()
	question := "what is a goroutine"
	fp := classifier.Fingerprint(classifier.Normalize(question))
	store := &fakeStore{loaded: map[string]model.CacheEntry{
		fp: {
			Fingerprint:       fp,
			CanonicalQuestion: question,
			CanonicalAnswer:   "A goroutine is a lightweight thread managed by the Go runtime.",
			Keywords:          adaptivecache.ExtractKeywords(classifier.Normalize(question)),
			HitCount:          10,
			PositiveVotes:     10,
		},
	}}
	cache := adaptivecache.New(context.Background(), store, adaptivecache.WithPromotionThreshold(5))
	e := newTestEngine(t, nil, "should never be called", nil, nil, cache, cfg)

	answer, err := e.Answer(context.Background(), Request{Question: question})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Text != "A goroutine is a lightweight thread managed by the Go runtime." {
		t.Fatalf("expected cached answer text, got %q", answer.Text)
	}
	if answer.Origin != model.OriginLocal {
		t.Fatalf("expected origin local for cache hit, got %s", answer.Origin)
	}
}

func TestAnswer_NearCacheHitViaKeywordsShortCircuits(t *testing.T) {
	cfg := testConfig()
	canonical := "what is a goroutine in golang"
	canonicalFP := classifier.Fingerprint(classifier.Normalize(canonical))
	store := &fakeStore{loaded: map[string]model.CacheEntry{
		canonicalFP: {
			Fingerprint:       canonicalFP,
			CanonicalQuestion: canonical,
			CanonicalAnswer:   "cached goroutine answer",
			Keywords:          adaptivecache.ExtractKeywords(classifier.Normalize(canonical)),
			HitCount:          10,
			PositiveVotes:     10,
		},
	}}
	cache := adaptivecache.New(context.Background(), store, adaptivecache.WithPromotionThreshold(5), adaptivecache.WithJaccardThreshold(0.3))
	e := newTestEngine(t, nil, "should never be called", nil, nil, cache, cfg)

	// A differently-worded but keyword-overlapping question should not
	// fingerprint-match, but should still hit via LookupNearest.
	answer, err := e.Answer(context.Background(), Request{Question: "explain what a goroutine is in golang programs"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Text != "cached goroutine answer" {
		t.Fatalf("expected near-cache-hit answer, got %q", answer.Text)
	}
}

func TestAnswer_EmptyRetrievalWithFallbackDisabledReturnsNoEvidence(t *testing.T) {
	cfg := testConfig()
	e := newTestEngine(t, nil, "unused", nil, nil, nil, cfg)
	allow := false
	answer, err := e.Answer(context.Background(), Request{
		Question: "what is the capital of France",
		Options:  Options{AllowExternalFallback: &allow},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Origin != model.OriginFallbackError {
		t.Fatalf("expected fallback_error origin, got %s", answer.Origin)
	}
	if answer.Text != noEvidenceMessage {
		t.Fatalf("expected no-evidence message, got %q", answer.Text)
	}
}

func TestAnswer_EmptyRetrievalWithFallbackAllowedUsesExternal(t *testing.T) {
	cfg := testConfig()
	provider := &fakeProvider{hits: []fallback.Hit{
		{Title: "Paris", Extract: "Paris is the capital of France.", URL: "https://en.wikipedia.org/wiki/Paris", NativeScore: 1.0},
	}}
	fb := fallback.New(provider)
	e := newTestEngine(t, nil, "unused", nil, fb, nil, cfg)

	answer, err := e.Answer(context.Background(), Request{Question: "what is the capital of France"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Origin != model.OriginExternal {
		t.Fatalf("expected external origin, got %s", answer.Origin)
	}
	if len(answer.Sources) == 0 {
		t.Fatal("expected fallback sources to be attached")
	}
}

func TestAnswer_HappyPathPassesGateReturnsLocalOrigin(t *testing.T) {
	cfg := testConfig()
	matches := []vectorindex.Match{
		{Ref: model.ChunkRef{DocumentID: "doc-1", Ordinal: 0}, Text: "Go channels provide synchronization between goroutines.", Similarity: 0.9},
	}
	e := newTestEngine(t, matches, "Channels synchronize goroutines in Go. [1]", nil, nil, nil, cfg)

	answer, err := e.Answer(context.Background(), Request{Question: "how do channels work in Go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Origin != model.OriginLocal {
		t.Fatalf("expected local origin on a passing gate, got %s", answer.Origin)
	}
	if answer.Metadata.FallbackUsed {
		t.Fatal("fallback should not have been used on the happy path")
	}
}

func TestAnswer_GateTriggeredWithoutFallbackStaysLocal(t *testing.T) {
	cfg := testConfig()
	cfg.Gate.MinAnswerLength = 1000 // force every generated answer below the floor
	matches := []vectorindex.Match{
		{Ref: model.ChunkRef{DocumentID: "doc-1", Ordinal: 0}, Text: "short context", Similarity: 0.9},
	}
	e := newTestEngine(t, matches, "too short", nil, nil, nil, cfg)

	answer, err := e.Answer(context.Background(), Request{Question: "explain the context"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Origin != model.OriginLocal {
		t.Fatalf("expected degraded local origin when fallback unavailable, got %s", answer.Origin)
	}
}

func TestAnswer_GateTriggeredMergesWithFallbackAsHybrid(t *testing.T) {
	cfg := testConfig()
	cfg.Gate.MinAnswerLength = 1000
	matches := []vectorindex.Match{
		{Ref: model.ChunkRef{DocumentID: "doc-1", Ordinal: 0}, Text: "short context", Similarity: 0.9},
	}
	provider := &fakeProvider{hits: []fallback.Hit{
		{Title: "Context", Extract: "Additional detail about the context from an external source.", URL: "https://en.wikipedia.org/wiki/Context", NativeScore: 1.0},
	}}
	fb := fallback.New(provider)
	e := newTestEngine(t, matches, "too short", nil, fb, nil, cfg)

	answer, err := e.Answer(context.Background(), Request{Question: "explain the context"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Origin != model.OriginHybrid {
		t.Fatalf("expected hybrid origin, got %s", answer.Origin)
	}
}

func TestAnswer_GenerationFailureFallsBackWhenAllowed(t *testing.T) {
	cfg := testConfig()
	matches := []vectorindex.Match{
		{Ref: model.ChunkRef{DocumentID: "doc-1", Ordinal: 0}, Text: "some context", Similarity: 0.9},
	}
	provider := &fakeProvider{hits: []fallback.Hit{
		{Title: "Topic", Extract: "External answer content.", URL: "https://en.wikipedia.org/wiki/Topic", NativeScore: 1.0},
	}}
	fb := fallback.New(provider)
	e := newTestEngine(t, matches, "", errGenFailure{}, fb, nil, cfg)

	answer, err := e.Answer(context.Background(), Request{Question: "tell me about the topic"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Origin != model.OriginExternal {
		t.Fatalf("expected external origin after total generation failure, got %s", answer.Origin)
	}
}

type errGenFailure struct{}

func (errGenFailure) Error() string { return "generation failed" }

func TestResolveOptions_Defaults(t *testing.T) {
	cfg := testConfig()
	cfg.Generation.NCandidates = 3
	e := New(nil, nil, nil, nil, nil, nil, nil, cfg)

	opts := e.resolveOptions(Options{})
	if opts.responseFormat != "detailed" {
		t.Errorf("expected default response format detailed, got %s", opts.responseFormat)
	}
	if opts.maxSources != defaultMaxSources {
		t.Errorf("expected default max sources %d, got %d", defaultMaxSources, opts.maxSources)
	}
	if opts.nCandidates != 3 {
		t.Errorf("expected n_candidates from config default, got %d", opts.nCandidates)
	}
	if !opts.allowExternalFallback {
		t.Error("expected fallback allowed by default")
	}
	if opts.confidenceFloor != cfg.Gate.ConfidenceFloor {
		t.Errorf("expected confidence floor from config, got %f", opts.confidenceFloor)
	}
}

func TestResolveOptions_NCandidatesCappedAtTen(t *testing.T) {
	cfg := testConfig()
	e := New(nil, nil, nil, nil, nil, nil, nil, cfg)
	opts := e.resolveOptions(Options{NCandidates: 50})
	if opts.nCandidates != 10 {
		t.Errorf("expected n_candidates capped at 10, got %d", opts.nCandidates)
	}
}

func TestResolveOptions_ExplicitFalseFallbackOverridesDefault(t *testing.T) {
	cfg := testConfig()
	e := New(nil, nil, nil, nil, nil, nil, nil, cfg)
	allow := false
	opts := e.resolveOptions(Options{AllowExternalFallback: &allow})
	if opts.allowExternalFallback {
		t.Error("explicit false should override the true default")
	}
}

func TestGateTriggered_BelowConfidenceFloor(t *testing.T) {
	cfg := testConfig()
	e := New(nil, nil, nil, nil, nil, nil, nil, cfg)
	if !e.gateTriggered("a reasonably long answer text", 0.1, 0.4, 3) {
		t.Error("expected gate to trigger below confidence floor")
	}
}

func TestGateTriggered_TooShortAnswer(t *testing.T) {
	cfg := testConfig()
	cfg.Gate.MinAnswerLength = 50
	e := New(nil, nil, nil, nil, nil, nil, nil, cfg)
	if !e.gateTriggered("short", 0.9, 0.1, 3) {
		t.Error("expected gate to trigger on too-short answer")
	}
}

func TestGateTriggered_NoRetrievedChunks(t *testing.T) {
	cfg := testConfig()
	e := New(nil, nil, nil, nil, nil, nil, nil, cfg)
	if !e.gateTriggered("a perfectly good long answer text here", 0.9, 0.1, 0) {
		t.Error("expected gate to trigger when nothing was retrieved")
	}
}

func TestGateTriggered_PoorAnswerRegexMatch(t *testing.T) {
	cfg := testConfig()
	cfg.Gate.PoorAnswerRegexes = []string{`(?i)i don't know`}
	e := New(nil, nil, nil, nil, nil, nil, nil, cfg)
	if !e.gateTriggered("I don't know the answer to that question.", 0.9, 0.1, 3) {
		t.Error("expected gate to trigger on poor-answer regex match")
	}
}

func TestGateTriggered_GoodAnswerDoesNotTrigger(t *testing.T) {
	cfg := testConfig()
	e := New(nil, nil, nil, nil, nil, nil, nil, cfg)
	if e.gateTriggered("a perfectly good long answer text here", 0.9, 0.1, 3) {
		t.Error("did not expect gate to trigger on a good answer")
	}
}

func TestBuildSchedule_CyclesBaseScheduleAndAssignsSeeds(t *testing.T) {
	base := []config.SamplingPoint{{Temperature: 0.2, TopP: 0.8}, {Temperature: 0.9, TopP: 0.95}}
	schedule := buildSchedule(base, 5)
	if len(schedule) != 5 {
		t.Fatalf("expected 5 trials, got %d", len(schedule))
	}
	for i, s := range schedule {
		want := base[i%len(base)]
		if s.Temperature != want.Temperature || s.TopP != want.TopP {
			t.Errorf("trial %d: expected %+v, got %+v", i, want, s)
		}
		if s.Seed != int64(i) {
			t.Errorf("trial %d: expected seed %d, got %d", i, i, s.Seed)
		}
	}
}

func TestBuildSchedule_EmptyBaseFallsBackToDefault(t *testing.T) {
	schedule := buildSchedule(nil, 2)
	if len(schedule) != 2 {
		t.Fatalf("expected 2 trials, got %d", len(schedule))
	}
}

func TestFinalize_StripsBannedPhrasesCaseInsensitively(t *testing.T) {
	cfg := testConfig()
	cfg.Gate.BannedPhrases = []string{"as an ai"}
	e := New(nil, nil, nil, nil, nil, nil, nil, cfg)
	opts := resolvedOptions{responseFormat: "detailed", maxSources: 5}
	answer := e.finalize("As An AI, I cannot know this.", 0.9, nil, model.OriginLocal, opts, 1, true, false, false, "")
	if got := answer.Text; got == "As An AI, I cannot know this." {
		t.Errorf("expected banned phrase to be stripped, got %q", got)
	}
}

func TestFinalize_CapsSourcesAtMaxSources(t *testing.T) {
	cfg := testConfig()
	e := New(nil, nil, nil, nil, nil, nil, nil, cfg)
	opts := resolvedOptions{responseFormat: "detailed", maxSources: 2}
	sources := []model.Source{
		{DocumentID: "a"}, {DocumentID: "b"}, {DocumentID: "c"},
	}
	answer := e.finalize("text", 0.9, sources, model.OriginLocal, opts, 1, true, false, false, "")
	if len(answer.Sources) != 2 {
		t.Errorf("expected sources capped at 2, got %d", len(answer.Sources))
	}
}

func TestFinalize_BriefFormatKeepsFirstTwoSentences(t *testing.T) {
	cfg := testConfig()
	e := New(nil, nil, nil, nil, nil, nil, nil, cfg)
	opts := resolvedOptions{responseFormat: "brief", maxSources: 5}
	answer := e.finalize("First sentence. Second sentence. Third sentence.", 0.9, nil, model.OriginLocal, opts, 1, true, false, false, "")
	if answer.Text != "First sentence. Second sentence." {
		t.Errorf("unexpected brief text: %q", answer.Text)
	}
}

func TestFinalize_BulletedFormatListsSentences(t *testing.T) {
	cfg := testConfig()
	e := New(nil, nil, nil, nil, nil, nil, nil, cfg)
	opts := resolvedOptions{responseFormat: "bulleted", maxSources: 5}
	answer := e.finalize("First point. Second point.", 0.9, nil, model.OriginLocal, opts, 1, true, false, false, "")
	want := "- First point.\n- Second point."
	if answer.Text != want {
		t.Errorf("expected %q, got %q", want, answer.Text)
	}
}

func TestCollapseWhitespace_CollapsesRunsAndTrims(t *testing.T) {
	got := collapseWhitespace("  too    many   spaces \n\n\n\nand blank lines  ")
	want := "too many spaces\n\nand blank lines"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
