package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"news-processor/internal/alert"
	"news-processor/internal/cache"
	"news-processor/internal/chunker"
	"news-processor/internal/config"
	httphandler "news-processor/internal/http"
	"news-processor/internal/ingest"
	"news-processor/internal/middleware"
	"news-processor/internal/pipeline"
	"news-processor/internal/repo"
	"news-processor/internal/services/categorizer"
	"news-processor/internal/services/llm"
	"news-processor/internal/services/summarizer"
	"news-processor/internal/worker"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		ingestPath = flag.String("ingest", "", "Load articles from a JSON file or directory and exit")
		once       = flag.Bool("once", false, "Process one batch and exit")
		migrate    = flag.Bool("migrate", false, "Create database tables before starting")
		port       = flag.String("port", "", "Port to run the server on (overrides PORT)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogger(cfg.Log)
	if *port != "" {
		cfg.Server.Port = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := repo.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	if *migrate {
		if err := store.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate database")
		}
	}

	if *ingestPath != "" {
		report, err := ingest.NewLoader(store).LoadFromPath(ctx, *ingestPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to ingest articles")
		}
		log.Info().
			Int("inserted", report.Inserted).
			Int("duplicates", report.Duplicates).
			Int("invalid", report.Invalid).
			Int("failed", report.Failed).
			Msg("Ingest finished")
		return
	}

	gateway, err := newGateway(cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create LLM gateway")
	}

	tokens, err := chunker.NewTiktoken(chunker.DefaultEncoding)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load tokenizer")
	}

	var notifier summarizer.Notifier = alert.LogNotifier{}
	if cfg.Slack.Token != "" && cfg.Slack.Channel != "" {
		notifier = alert.NewSlackNotifier(cfg.Slack.Token, cfg.Slack.Channel)
	}

	sum := summarizer.New(gateway, tokens, notifier, summarizer.Config{
		Model:            llm.ModelID(cfg.Summarizer.Model),
		Temperature:      cfg.Summarizer.Temperature,
		MaxChunkTokens:   cfg.Summarizer.MaxChunkTokens,
		MinSummaryChars:  cfg.Summarizer.MinSummaryChars,
		MaxAttempts:      cfg.Summarizer.MaxAttempts,
		RetryBaseDelay:   cfg.Summarizer.RetryBaseDelay,
		RetryMaxDelay:    cfg.Summarizer.RetryMaxDelay,
		ChunkConcurrency: cfg.Summarizer.ChunkConcurrency,
	})

	categories := make([]categorizer.Category, 0, len(cfg.Categorizer.Categories))
	for _, c := range cfg.Categorizer.Categories {
		categories = append(categories, categorizer.Category{Index: c.Index, Name: c.Name})
	}
	table, err := categorizer.NewTable(categories)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid category table")
	}

	voteModels := make([]llm.ModelID, 0, len(cfg.Categorizer.VoteModels))
	for _, id := range cfg.Categorizer.VoteModels {
		voteModels = append(voteModels, llm.ModelID(id))
	}
	cat, err := categorizer.New(gateway, table, categorizer.Config{
		VoteModels:      voteModels,
		Temperature:     cfg.Categorizer.Temperature,
		MaxVoteAttempts: cfg.Categorizer.MaxVoteAttempts,
		ParallelVotes:   cfg.Categorizer.ParallelVotes,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create categorizer")
	}

	checks := map[string]httphandler.ReadinessCheck{"postgres": store.Ping}
	var opts []pipeline.Option
	redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, running without article locks and summary cache")
	} else {
		defer redisCache.Close()
		opts = append(opts, pipeline.WithLocker(redisCache), pipeline.WithSummaryCache(redisCache))
		checks["redis"] = redisCache.Ping
	}

	processor := pipeline.NewProcessor(store, sum, cat, pipeline.Config{
		Lookback:       cfg.Worker.Lookback,
		CategorizeFrom: cfg.Categorizer.CategorizeFrom,
		LockTTL:        cfg.Redis.LockTTL,
	}, opts...)
	poller := worker.NewPoller(processor)

	if *once {
		report, err := poller.RunOnce(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Batch failed")
		}
		log.Info().Int("processed", report.Processed).Int("failed", report.Failed).Msg("Batch done")
		return
	}

	if err := poller.Start(ctx, cfg.Worker.Schedule); err != nil {
		log.Fatal().Err(err).Msg("Failed to start poller")
	}
	defer poller.Stop()

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitPerMinute, cfg.Server.RateLimitBurst)
	go pruneLimiter(ctx, limiter)

	router := httphandler.NewRouter(limiter, cfg.Server.RequestTimeout)
	router.RegisterHealthRoutes(checks)
	router.RegisterProcessorRoutes(httphandler.NewProcessorHandler(sum, cat, table, processor))

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("Server stopped")
}

func newGateway(cfg config.LLMConfig) (*llm.Router, error) {
	var backends []llm.Backend
	if cfg.OpenAIAPIKey != "" {
		b, err := llm.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}
	if cfg.CohereAPIKey != "" {
		b, err := llm.NewCohereBackend(cfg.CohereAPIKey, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}

	models := make([]llm.Model, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		models = append(models, llm.Model{ID: llm.ModelID(m.ID), Backend: m.Backend, Name: m.Name})
	}
	return llm.NewRouter(models, backends...)
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func pruneLimiter(ctx context.Context, limiter *middleware.RateLimiter) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Prune(30 * time.Minute)
		}
	}
}
