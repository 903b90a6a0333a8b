// Command server is the composition root: it loads configuration, builds
// every collaborator exactly once, wires them into the Answer Engine and
// the ingestion Pipeline, and mounts the HTTP router.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/connexus-ai/ragqa-core/internal/adaptivecache"
	"github.com/connexus-ai/ragqa-core/internal/answerengine"
	"github.com/connexus-ai/ragqa-core/internal/authn"
	"github.com/connexus-ai/ragqa-core/internal/capability/embedder"
	"github.com/connexus-ai/ragqa-core/internal/capability/generator"
	"github.com/connexus-ai/ragqa-core/internal/chunker"
	"github.com/connexus-ai/ragqa-core/internal/classifier"
	"github.com/connexus-ai/ragqa-core/internal/condenser"
	"github.com/connexus-ai/ragqa-core/internal/config"
	"github.com/connexus-ai/ragqa-core/internal/fallback"
	"github.com/connexus-ai/ragqa-core/internal/gcpclient"
	"github.com/connexus-ai/ragqa-core/internal/ingest"
	"github.com/connexus-ai/ragqa-core/internal/middleware"
	"github.com/connexus-ai/ragqa-core/internal/reranker"
	"github.com/connexus-ai/ragqa-core/internal/repository"
	"github.com/connexus-ai/ragqa-core/internal/retriever"
	"github.com/connexus-ai/ragqa-core/internal/router"
	"github.com/connexus-ai/ragqa-core/internal/vectorindex"

	firebase "firebase.google.com/go/v4"
)

const Version = "0.1.0"

// collaborators holds every long-lived object the composition root builds
// exactly once. Nothing here is a package-level var; run() owns it all.
type collaborators struct {
	engine     *answerengine.Engine
	pipeline   *ingest.Pipeline
	docRepo    *repository.DocumentRepo
	authSvc    *authn.Service
	metrics    *middleware.Metrics
	metricsReg *prometheus.Registry
	pool       *pgxpool.Pool
	closers    []func()
}

func build(ctx context.Context, cfg *config.Config) (*collaborators, error) {
	var c collaborators

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return nil, fmt.Errorf("main.build: db pool: %w", err)
	}
	c.closers = append(c.closers, pool.Close)
	c.pool = pool

	c.docRepo = repository.NewDocumentRepo(pool)
	index := vectorindex.New(pool)

	embAdapter, err := embedder.New(ctx, cfg.VertexAI.Project, cfg.VertexAI.EmbeddingLocation, cfg.VertexAI.EmbeddingModel, cfg.VertexAI.EmbeddingDimensions)
	if err != nil {
		return nil, fmt.Errorf("main.build: embedder: %w", err)
	}

	genAI, err := gcpclient.NewGenAIAdapter(ctx, cfg.VertexAI.Project, cfg.VertexAI.GenerationLocation, cfg.VertexAI.GenerationModel)
	if err != nil {
		return nil, fmt.Errorf("main.build: genai adapter: %w", err)
	}
	c.closers = append(c.closers, genAI.Close)

	gen, err := generator.New(ctx, cfg.VertexAI.Project, cfg.VertexAI.GenerationLocation, cfg.VertexAI.GenerationModel)
	if err != nil {
		return nil, fmt.Errorf("main.build: generator: %w", err)
	}
	c.closers = append(c.closers, gen.Close)

	ck := chunker.New(cfg.Chunking.ChunkSizeTokens, cfg.Chunking.OverlapTokens, cfg.Chunking.MinChunkTokens)
	retr := retriever.New(embAdapter, index, index)
	rr := reranker.New(reranker.NewGeneratorScorer(genAI))
	cd := condenser.New(genAI)
	cl := classifier.New(nil, classifier.WithConfidenceThreshold(cfg.Classifier.MLConfidenceFloor), classifier.WithCacheSize(cfg.Classifier.CacheCapacity))

	var store adaptivecache.Store
	if cfg.Cache.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		store = adaptivecache.NewRedisStore(rdb)
		c.closers = append(c.closers, func() { rdb.Close() })
	} else {
		store = adaptivecache.NewFileStore(cfg.Cache.PersistPath)
	}
	cache := adaptivecache.New(ctx, store,
		adaptivecache.WithPromotionThreshold(cfg.Cache.PromotionThreshold),
		adaptivecache.WithJaccardThreshold(cfg.Cache.JaccardThreshold),
		adaptivecache.WithFlushEvery(cfg.Cache.FlushEvery),
	)

	var fb *fallback.Client
	if cfg.Fallback.Enabled {
		provider := fallback.NewWikipediaProvider("en")
		fb = fallback.New(provider,
			fallback.WithMaxResults(cfg.Fallback.MaxResults),
			fallback.WithContentSizeCap(cfg.Fallback.ContentSizeCap),
			fallback.WithSearchTimeout(cfg.Fallback.SearchTimeout),
			fallback.WithWeights(fallback.Weights{
				Title:         cfg.Fallback.ScoringWeights.Title,
				Content:       cfg.Fallback.ScoringWeights.Content,
				ExactPhrase:   cfg.Fallback.ScoringWeights.ExactPhrase,
				ProviderScore: cfg.Fallback.ScoringWeights.ProviderScore,
			}),
		)
	}

	c.engine = answerengine.New(retr, rr, cd, gen, cl, cache, fb, cfg)

	storageAdapter, err := gcpclient.NewStorageAdapter(ctx)
	if err != nil {
		return nil, fmt.Errorf("main.build: storage adapter: %w", err)
	}
	docAI, err := gcpclient.NewDocumentAIAdapter(ctx, cfg.VertexAI.Project, cfg.VertexAI.Region)
	if err != nil {
		return nil, fmt.Errorf("main.build: document ai adapter: %w", err)
	}
	processor := os.Getenv("DOCUMENT_AI_PROCESSOR")
	bucket := os.Getenv("INGEST_BUCKET")
	parser := ingest.NewParserService(docAI, processor, storageAdapter, bucket)
	redactor := ingest.NewDLPRedactor(gcpclient.NewStubDLPAdapter())

	c.pipeline = ingest.New(c.docRepo, parser, redactor, ck, embAdapter, index, bucket, cfg.VertexAI.EmbeddingModel)

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.VertexAI.Project})
	if err != nil {
		return nil, fmt.Errorf("main.build: firebase app: %w", err)
	}
	fbAuth, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("main.build: firebase auth client: %w", err)
	}
	c.authSvc = authn.NewService(fbAuth)

	c.metricsReg = prometheus.NewRegistry()
	c.metrics = middleware.NewMetrics(c.metricsReg)

	return &c, nil
}

func newServer(cfg *config.Config, c *collaborators) *http.Server {
	mux := router.New(&router.Dependencies{
		DB:                 c.pool,
		AuthService:        c.authSvc,
		FrontendURL:        cfg.FrontendURL,
		InternalAuthSecret: cfg.InternalAuthSecret,
		Version:            Version,
		Metrics:            c.metrics,
		MetricsReg:         c.metricsReg,
		Engine:             c.engine,
		DocRepo:            c.docRepo,
		Pipeline:           c.pipeline,
		GeneralRateLimiter: middleware.NewRateLimiter(middleware.RateLimiterConfig{MaxRequests: 120, Window: time.Minute}),
		ChatRateLimiter:    middleware.NewRateLimiter(middleware.RateLimiterConfig{MaxRequests: 10, Window: time.Minute}),
	})

	return &http.Server{
		Addr:         ":" + fmt.Sprint(cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, cancelBuild := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancelBuild()

	c, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, closer := range c.closers {
			closer()
		}
	}()

	srv := newServer(cfg, c)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("ragqa-core v%s starting on port %d", Version, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("received signal %s, shutting down gracefully", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	log.Println("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
