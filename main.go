package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pagesage/pagesage/internal/cache"
	"github.com/pagesage/pagesage/internal/config"
	"github.com/pagesage/pagesage/internal/crawler"
	"github.com/pagesage/pagesage/internal/health"
	"github.com/pagesage/pagesage/internal/httpapi"
	"github.com/pagesage/pagesage/internal/orchestrator"
	"github.com/pagesage/pagesage/internal/pipeline"
	"github.com/pagesage/pagesage/internal/providers"
	"github.com/pagesage/pagesage/internal/providers/anthropic"
	"github.com/pagesage/pagesage/internal/providers/gemini"
	"github.com/pagesage/pagesage/internal/providers/hash"
	"github.com/pagesage/pagesage/internal/providers/openai"
	"github.com/pagesage/pagesage/internal/questiongen"
	"github.com/pagesage/pagesage/internal/ratecontrol"
	"github.com/pagesage/pagesage/internal/search"
	"github.com/pagesage/pagesage/internal/store"
	"github.com/pagesage/pagesage/internal/vectorstore"
	"github.com/pagesage/pagesage/internal/vectorstore/qdrant"
)

func main() {
	configPath := flag.String("config", "config/pagesage.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Service exited", zap.Error(err))
	}
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(ctx, store.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	cacheClient := cache.New(cache.Config{
		Enabled:    cfg.Cache.Enabled,
		Addr:       cfg.Cache.Addr,
		Password:   cfg.Cache.Password,
		DB:         cfg.Cache.DB,
		DefaultTTL: cfg.Cache.DefaultTTL,
	}, logger)
	defer cacheClient.Close()

	vectors, err := buildVectorStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	limits := ratecontrol.NewRegistry(logger)
	if err := limits.LoadFile(cfg.RateLimitsFile); err != nil {
		logger.Warn("Loading rate limit config failed", zap.Error(err))
	}
	go func() {
		if err := limits.Watch(ctx, cfg.RateLimitsFile); err != nil && ctx.Err() == nil {
			logger.Warn("Rate limit config watcher stopped", zap.Error(err))
		}
	}()

	llmChain, embedChain := buildProviders(ctx, cfg, logger)
	if len(llmChain) == 0 {
		logger.Warn("No LLM provider key configured; generation endpoints will fail")
	}

	var fallback providers.EmbeddingProvider
	if cfg.LLM.AllowHashFallback && len(embedChain) == 0 {
		logger.Warn("No hosted embedding provider configured; serving deterministic local embeddings")
		fallback = hash.New(cfg.Vector.Dimension, true)
	}
	llm := orchestrator.NewLLMService(llmChain, limits, logger)
	embedder := orchestrator.NewEmbeddingService(embedChain, fallback, limits, logger)
	generator := questiongen.New(llm, logger)

	fetcher := crawler.New(crawler.Config{
		Timeout:      cfg.Crawler.Timeout,
		MaxBodyBytes: cfg.Crawler.MaxBodyBytes,
	}, logger)
	pipe := pipeline.New(fetcher, generator, embedder, db, vectors, cacheClient, logger)
	jobs := pipeline.NewJobs(pipe, logger)
	searchSvc := search.New(db, vectors, cacheClient, db.GetSummary, logger)

	healthMgr := health.NewManager(logger)
	healthMgr.Register(health.NewPingChecker("postgres", true, db))
	healthMgr.Register(health.NewPingChecker("cache", false, cacheClient))
	healthMgr.Register(health.NewPingChecker("vectorstore", true, vectors))
	healthMgr.Register(health.NewBreakerChecker("providers", llm.BreakerStates))

	server := httpapi.New(httpapi.Deps{
		Config:    cfg.HTTP,
		Pipeline:  pipe,
		Jobs:      jobs,
		Search:    searchSvc,
		Store:     db,
		LLM:       llm,
		Embedder:  embedder,
		Generator: generator,
		Health:    health.NewHTTPHandler(healthMgr, logger),
		Logger:    logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	jobs.Wait()
	return nil
}

func buildVectorStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (vectorstore.Store, error) {
	switch cfg.Vector.Backend {
	case "qdrant":
		return qdrant.New(ctx, qdrant.Config{
			Host:       cfg.Vector.Host,
			Port:       cfg.Vector.Port,
			Collection: cfg.Vector.Collection,
			Dimension:  cfg.Vector.Dimension,
		}, logger)
	default:
		return vectorstore.NewMemory(logger), nil
	}
}

// modelFor hands the configured default model to the one provider whose
// naming scheme it matches.
func modelFor(provider, model string) string {
	switch provider {
	case "openai":
		if strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") {
			return model
		}
	case "anthropic":
		if strings.HasPrefix(model, "claude-") {
			return model
		}
	case "gemini":
		if strings.HasPrefix(model, "gemini-") {
			return model
		}
	}
	return ""
}

// buildProviders activates a provider for each configured API key, in
// the preference order the config dictates.
func buildProviders(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]providers.LLMProvider, []providers.EmbeddingProvider) {
	var llms []providers.LLMProvider
	var embedders []providers.EmbeddingProvider
	for _, name := range cfg.ActiveProviders() {
		switch name {
		case "openai":
			p := openai.New(openai.Config{
				APIKey:    cfg.LLM.OpenAIKey,
				ChatModel: modelFor(name, cfg.LLM.DefaultModel),
			}, logger)
			llms = append(llms, p)
			embedders = append(embedders, openai.NewEmbedder(p, true))
		case "anthropic":
			llms = append(llms, anthropic.New(anthropic.Config{
				APIKey: cfg.LLM.AnthropicKey,
				Model:  modelFor(name, cfg.LLM.DefaultModel),
			}, logger))
		case "gemini":
			p, err := gemini.New(ctx, gemini.Config{
				APIKey:    cfg.LLM.GoogleKey,
				ChatModel: modelFor(name, cfg.LLM.DefaultModel),
			}, logger)
			if err != nil {
				logger.Warn("Gemini provider init failed", zap.Error(err))
				continue
			}
			llms = append(llms, p)
			embedders = append(embedders, gemini.NewEmbedder(p, true))
		}
	}
	return llms, embedders
}
