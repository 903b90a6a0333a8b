// Package config loads and validates the core's single structured
// configuration object, following the donor's env-var-loading idiom but
// closing the surface into one struct per concern instead of one flat bag of
// fields.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// RetrievalConfig controls the Retriever.
type RetrievalConfig struct {
	TopK       int
	ScoreFloor float64
}

// RerankConfig controls the Reranker.
type RerankConfig struct {
	Enabled  bool
	InputMax int
	TopK     int
	MinScore float64
	Timeout  time.Duration
}

// ChunkingConfig controls the Chunker. Overlap is always normalized to
// absolute tokens; OverlapPercent is accepted as legacy input only.
type ChunkingConfig struct {
	ChunkSizeTokens int
	OverlapTokens   int
	OverlapPercent  int
	MinChunkTokens  int
}

// GenerationWeights are the best-of-N scoring weights; must sum to 1.
type GenerationWeights struct {
	Perplexity float64
	Relevance  float64
	Quality    float64
}

// SamplingPoint is one (temperature, top_p) pair in the diversity schedule.
type SamplingPoint struct {
	Temperature float64
	TopP        float64
}

// GenerationConfig controls best-of-N candidate generation.
type GenerationConfig struct {
	NCandidates      int
	MaxTokens        int
	SamplingSchedule []SamplingPoint
	Weights          GenerationWeights
	ContextBudget    int
}

// GateConfig controls the quality gate.
type GateConfig struct {
	ConfidenceFloor   float64
	MinAnswerLength   int
	BannedPhrases     []string
	PoorAnswerRegexes []string
}

// FallbackScoringWeights controls External Source Client relevance scoring;
// defaults are grounded on the wikipedia_fallback_agent.py source.
type FallbackScoringWeights struct {
	Title         float64
	Content       float64
	ExactPhrase   float64
	ProviderScore float64
}

// FallbackConfig controls the External Source Client.
type FallbackConfig struct {
	Enabled        bool
	Provider       string
	MaxResults     int
	ContentSizeCap int
	SearchTimeout  time.Duration
	FetchTimeout   time.Duration
	ScoringWeights FallbackScoringWeights
}

// CacheConfig controls the Adaptive Cache.
type CacheConfig struct {
	Capacity            int
	PromotionThreshold  int
	FlushEvery          int
	NearDuplicateCosine float64
	JaccardThreshold    float64
	RedisAddr           string
	PersistPath         string
}

// ClassifierConfig controls the Classifier.
type ClassifierConfig struct {
	CacheCapacity     int
	RuleConfidence    float64
	MLConfidenceFloor float64
	Labels            []string
}

// DeadlinesConfig controls request-wide and per-stage timeouts.
type DeadlinesConfig struct {
	TotalMs     int
	GeneratorMs int
	FallbackMs  int
}

// BackpressureConfig controls concurrency caps.
type BackpressureConfig struct {
	MaxConcurrentFallback  int
	MaxConcurrentGenerator int
	QueueCapacity          int
}

// VertexAIConfig names the Embedder/Generator capability adapters' backing
// service.
type VertexAIConfig struct {
	Project             string
	Region              string
	GenerationLocation  string
	GenerationModel     string
	EmbeddingLocation   string
	EmbeddingModel      string
	EmbeddingDimensions int
}

// Config is the single closed configuration object driving the core.
// Constructed once via Load() and injected into every constructor — no
// package holds its own copy of environment state.
type Config struct {
	Port               int
	Environment        string
	DatabaseURL        string
	DatabaseMaxConns   int
	InternalAuthSecret string
	FrontendURL        string

	Retrieval    RetrievalConfig
	Rerank       RerankConfig
	Chunking     ChunkingConfig
	Generation   GenerationConfig
	Gate         GateConfig
	Fallback     FallbackConfig
	Cache        CacheConfig
	Classifier   ClassifierConfig
	Deadlines    DeadlinesConfig
	Backpressure BackpressureConfig
	VertexAI     VertexAIConfig
}

// knownOverrideKeys is the allow-list for an optional deployment-specific
// override layer (JSON/YAML tuning file). Unknown keys are rejected at load
// time rather than silently ignored.
var knownOverrideKeys = map[string]bool{
	"retrieval.top_k": true, "retrieval.score_floor": true,
	"rerank.enabled": true, "rerank.input_max": true, "rerank.top_k": true, "rerank.min_score": true,
	"chunking.chunk_size": true, "chunking.overlap": true, "chunking.min_chunk_size": true,
	"generation.n_candidates": true, "generation.max_tokens": true,
	"generation.weights.perplexity": true, "generation.weights.relevance": true, "generation.weights.quality": true,
	"gate.confidence_floor": true, "gate.min_answer_length": true,
	"fallback.enabled": true, "fallback.provider": true, "fallback.max_results": true, "fallback.content_size_cap": true,
	"cache.capacity": true, "cache.promotion_threshold": true, "cache.flush_every": true,
	"deadlines.total_ms": true, "deadlines.generator_ms": true, "deadlines.fallback_ms": true,
}

// ValidateOverrideKeys rejects any key not present in the allow-list above.
func ValidateOverrideKeys(overrides map[string]any) error {
	for k := range overrides {
		if !knownOverrideKeys[k] {
			return fmt.Errorf("config.ValidateOverrideKeys: unknown override key %q", k)
		}
	}
	return nil
}

// Load reads configuration from environment variables and validates the
// result.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}
	project := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if project == "" {
		return nil, fmt.Errorf("config.Load: GOOGLE_CLOUD_PROJECT is required")
	}

	chunkSize := envInt("CHUNK_SIZE_TOKENS", 512)
	overlapTokens := envInt("CHUNK_OVERLAP_TOKENS", 0)
	overlapPercent := envInt("CHUNK_OVERLAP_PERCENT", 0)
	if overlapTokens == 0 {
		if overlapPercent > 0 {
			overlapTokens = chunkSize * overlapPercent / 100
		} else {
			overlapTokens = 128
		}
	}

	nCandidates := envInt("GENERATION_N_CANDIDATES", 5)

	cfg := &Config{
		Port:               envInt("PORT", 8080),
		Environment:        envStr("ENVIRONMENT", "development"),
		DatabaseURL:        dbURL,
		DatabaseMaxConns:   envInt("DATABASE_MAX_CONNS", 25),
		InternalAuthSecret: envStr("INTERNAL_AUTH_SECRET", ""),
		FrontendURL:        envStr("FRONTEND_URL", "http://localhost:3000"),

		Retrieval: RetrievalConfig{
			TopK:       envInt("RETRIEVAL_TOP_K", 10),
			ScoreFloor: envFloat("RETRIEVAL_SCORE_FLOOR", 0.2),
		},
		Rerank: RerankConfig{
			Enabled:  envBool("RERANK_ENABLED", true),
			InputMax: envInt("RERANK_INPUT_MAX", 20),
			TopK:     envInt("RERANK_TOP_K", 5),
			MinScore: envFloat("RERANK_MIN_SCORE", 0.2),
			Timeout:  envDuration("RERANK_TIMEOUT", 5*time.Second),
		},
		Chunking: ChunkingConfig{
			ChunkSizeTokens: chunkSize,
			OverlapTokens:   overlapTokens,
			OverlapPercent:  overlapPercent,
			MinChunkTokens:  envInt("CHUNK_MIN_TOKENS", 32),
		},
		Generation: GenerationConfig{
			NCandidates:      nCandidates,
			MaxTokens:        envInt("GENERATION_MAX_TOKENS", 1024),
			SamplingSchedule: defaultSamplingSchedule(nCandidates),
			Weights: GenerationWeights{
				Perplexity: envFloat("GENERATION_WEIGHT_PERPLEXITY", 0.3),
				Relevance:  envFloat("GENERATION_WEIGHT_RELEVANCE", 0.4),
				Quality:    envFloat("GENERATION_WEIGHT_QUALITY", 0.3),
			},
			ContextBudget: envInt("GENERATION_CONTEXT_BUDGET_TOKENS", 2000),
		},
		Gate: GateConfig{
			ConfidenceFloor: envFloat("GATE_CONFIDENCE_FLOOR", 0.6),
			MinAnswerLength: envInt("GATE_MIN_ANSWER_LENGTH", 50),
			BannedPhrases:   []string{"as an ai", "i cannot answer", "as a language model"},
			PoorAnswerRegexes: []string{
				`(?i)insufficient information`,
				`(?i)cannot answer`,
				`(?i)not enough context`,
				`(?i)unclear from the`,
				`(?i)not specified in`,
			},
		},
		Fallback: FallbackConfig{
			Enabled:        envBool("FALLBACK_ENABLED", true),
			Provider:       envStr("FALLBACK_PROVIDER", "wikipedia"),
			MaxResults:     envInt("FALLBACK_MAX_RESULTS", 3),
			ContentSizeCap: envInt("FALLBACK_CONTENT_SIZE_CAP", 2000),
			SearchTimeout:  envDuration("FALLBACK_SEARCH_TIMEOUT", 10*time.Second),
			FetchTimeout:   envDuration("FALLBACK_FETCH_TIMEOUT", 15*time.Second),
			ScoringWeights: FallbackScoringWeights{
				Title:         envFloat("FALLBACK_WEIGHT_TITLE", 0.5),
				Content:       envFloat("FALLBACK_WEIGHT_CONTENT", 0.3),
				ExactPhrase:   envFloat("FALLBACK_WEIGHT_EXACT_PHRASE", 0.2),
				ProviderScore: envFloat("FALLBACK_WEIGHT_PROVIDER_SCORE", 0.1),
			},
		},
		Cache: CacheConfig{
			Capacity:            envInt("CACHE_CAPACITY", 10_000),
			PromotionThreshold:  envInt("CACHE_PROMOTION_THRESHOLD", 5),
			FlushEvery:          envInt("CACHE_FLUSH_EVERY", 10),
			NearDuplicateCosine: envFloat("CACHE_NEAR_DUPLICATE_COSINE", 0.98),
			JaccardThreshold:    envFloat("CACHE_JACCARD_THRESHOLD", 0.6),
			RedisAddr:           envStr("REDIS_ADDR", ""),
			PersistPath:         envStr("CACHE_PERSIST_PATH", "./data/learning"),
		},
		Classifier: ClassifierConfig{
			CacheCapacity:     envInt("CLASSIFIER_CACHE_CAPACITY", 10_000),
			RuleConfidence:    envFloat("CLASSIFIER_RULE_CONFIDENCE", 0.95),
			MLConfidenceFloor: envFloat("CLASSIFIER_ML_CONFIDENCE_FLOOR", 0.6),
			Labels:            []string{"code", "comparison", "definition", "howto", "analytical", "general"},
		},
		Deadlines: DeadlinesConfig{
			TotalMs:     envInt("DEADLINE_TOTAL_MS", 60_000),
			GeneratorMs: envInt("DEADLINE_GENERATOR_MS", 20_000),
			FallbackMs:  envInt("DEADLINE_FALLBACK_MS", 15_000),
		},
		Backpressure: BackpressureConfig{
			MaxConcurrentFallback:  envInt("MAX_CONCURRENT_FALLBACK", 8),
			MaxConcurrentGenerator: envInt("MAX_CONCURRENT_GENERATOR", 8),
			QueueCapacity:          envInt("QUEUE_CAPACITY", 64),
		},
		VertexAI: VertexAIConfig{
			Project:             project,
			Region:              envStr("GCP_REGION", "us-east4"),
			GenerationLocation:  envStr("VERTEX_AI_LOCATION", "global"),
			GenerationModel:     envStr("VERTEX_AI_MODEL", "gemini-3-pro-preview"),
			EmbeddingLocation:   envStr("VERTEX_AI_EMBEDDING_LOCATION", envStr("GCP_REGION", "us-east4")),
			EmbeddingModel:      envStr("VERTEX_AI_EMBEDDING_MODEL", "text-embedding-004"),
			EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 768),
		},
	}

	if cfg.Environment != "development" && cfg.InternalAuthSecret == "" {
		return nil, fmt.Errorf("config.Load: INTERNAL_AUTH_SECRET is required in %s environment", cfg.Environment)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the invariants the spec calls out explicitly: generation
// weights sum to 1, overlap smaller than chunk size, deadlines non-negative.
func (c *Config) Validate() error {
	sum := c.Generation.Weights.Perplexity + c.Generation.Weights.Relevance + c.Generation.Weights.Quality
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("config.Validate: generation weights must sum to 1, got %.4f", sum)
	}
	if c.Chunking.OverlapTokens >= c.Chunking.ChunkSizeTokens {
		return fmt.Errorf("config.Validate: chunk overlap (%d) must be less than chunk size (%d)",
			c.Chunking.OverlapTokens, c.Chunking.ChunkSizeTokens)
	}
	if c.Generation.NCandidates < 1 || c.Generation.NCandidates > 10 {
		return fmt.Errorf("config.Validate: n_candidates must be in [1,10], got %d", c.Generation.NCandidates)
	}
	if c.Deadlines.TotalMs < 0 || c.Deadlines.GeneratorMs < 0 || c.Deadlines.FallbackMs < 0 {
		return fmt.Errorf("config.Validate: deadlines must be >= 0")
	}
	return nil
}

// defaultSamplingSchedule produces n distinct (temperature, top_p) pairs,
// cycling through a fixed base schedule so diversity holds even when
// n_candidates exceeds the base schedule length.
func defaultSamplingSchedule(n int) []SamplingPoint {
	base := []SamplingPoint{
		{Temperature: 0.7, TopP: 0.9},
		{Temperature: 0.5, TopP: 0.9},
		{Temperature: 0.9, TopP: 0.9},
		{Temperature: 0.3, TopP: 0.95},
		{Temperature: 1.0, TopP: 0.85},
		{Temperature: 0.6, TopP: 0.95},
		{Temperature: 0.8, TopP: 0.8},
		{Temperature: 0.4, TopP: 0.9},
		{Temperature: 1.1, TopP: 0.9},
		{Temperature: 0.2, TopP: 0.9},
	}
	if n <= 0 {
		n = 1
	}
	sched := make([]SamplingPoint, n)
	for i := 0; i < n; i++ {
		sched[i] = base[i%len(base)]
	}
	return sched
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
