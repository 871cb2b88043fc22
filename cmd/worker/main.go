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

	config "marketpulse/configs"
	aiadapter "marketpulse/pkg/adapters/ai"
	"marketpulse/pkg/adapters/content"
	"marketpulse/pkg/adapters/feed"
	"marketpulse/pkg/cache/redis"
	"marketpulse/pkg/handlers"
	"marketpulse/pkg/models"
	"marketpulse/pkg/observability/tracing"
	"marketpulse/pkg/queue"
	"marketpulse/pkg/reaper"
	"marketpulse/pkg/storage/archive"
	"marketpulse/pkg/storage/postgres"
	"marketpulse/pkg/worker"
)

func main() {
	cfg := config.LoadConfig()
	log.Println("[Marketpulse Worker] Starting up...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	tracingProvider, err := tracing.Init(ctx, tracing.Config{
		ServiceName:  "marketpulse-worker",
		Environment:  cfg.Environment,
		Endpoint:     cfg.TracingEndpoint,
		Enabled:      cfg.TracingEnabled,
		SamplingRate: 1.0,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer tracingProvider.Shutdown(context.Background())

	connStr := dbConnString(cfg)

	jobStore, err := postgres.NewJobStore(connStr)
	if err != nil {
		log.Fatalf("Failed to initialize job store: %v", err)
	}
	defer jobStore.Close()
	log.Println("[Marketpulse Worker] Postgres connected.")

	domain, err := postgres.NewDomainStore(jobStore.DB())
	if err != nil {
		log.Fatalf("Failed to initialize domain store: %v", err)
	}

	heartbeats := postgres.NewHeartbeatStore(jobStore.DB())

	cache, err := redis.NewCache(fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort))
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cache.Close()
	log.Println("[Marketpulse Worker] Redis cache connected.")

	contentArchive, err := buildArchive(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize content archive: %v", err)
	}

	engine := queue.NewEngine(jobStore)
	aiClient := aiadapter.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIChatModel)
	reconciler := reaper.NewCore(engine, jobStore, heartbeats, cache, cfg.ReaperInterval, cfg.HandlerTimeoutDefault, cfg.JobRetentionDays)

	registry := buildRegistry(engine, domain, contentArchive, aiClient, reconciler)

	pool := worker.New(engine, registry, heartbeats, cfg.WorkerConcurrency, cfg.WorkerPollInterval)
	pool.SetPauseStore(cache)
	if cfg.Paused {
		pool.Pause()
		if err := cache.SetPaused(ctx, true); err != nil {
			log.Printf("[Marketpulse Worker] failed to seed shared pause flag: %v", err)
		}
	}

	go pool.Run(ctx)

	log.Printf("[Marketpulse Worker] Running with concurrency=%d", cfg.WorkerConcurrency)

	sig := <-sigChan
	log.Printf("[Marketpulse Worker] Received signal %v, initiating graceful shutdown...", sig)

	cancel()
	time.Sleep(2 * time.Second)
	log.Println("[Marketpulse Worker] Shutdown complete.")
}

func buildRegistry(engine *queue.Engine, domain *postgres.DomainStore, contentArchive archive.ContentArchive, aiClient *aiadapter.Client, reconciler *reaper.Core) *handlers.Registry {
	registry := handlers.NewRegistry()

	registry.Register(models.JobTypeFeedFetch, handlers.Entry{
		Handler:        &handlers.FeedFetchHandler{Domain: domain, Engine: engine, Fetcher: feed.NewHTTPFetcher(), Archive: contentArchive},
		MaxConcurrency: 4,
		Timeout:        30 * time.Second,
	})
	registry.Register(models.JobTypeContentProcess, handlers.Entry{
		Handler:        &handlers.ContentProcessHandler{Domain: domain, Processor: content.NewKeywordProcessor(), Archive: contentArchive},
		MaxConcurrency: 8,
		Timeout:        60 * time.Second,
	})
	registry.Register(models.JobTypePodcastTranscription, handlers.Entry{
		Handler:        &handlers.PodcastTranscriptionHandler{Domain: domain, Engine: engine, Transcriber: aiClient, HTTPClient: &http.Client{Timeout: 5 * time.Minute}},
		MaxConcurrency: 2,
		Timeout:        10 * time.Minute,
	})
	registry.Register(models.JobTypeDailyAnalysis, handlers.Entry{
		Handler:        &handlers.DailyAnalysisHandler{Domain: domain, Engine: engine, Analyzer: aiClient},
		MaxConcurrency: 1,
		Timeout:        2 * time.Minute,
	})
	registry.Register(models.JobTypeGeneratePredictions, handlers.Entry{
		Handler:        &handlers.GeneratePredictionsHandler{Domain: domain, Predictor: aiClient},
		MaxConcurrency: 2,
		Timeout:        2 * time.Minute,
	})
	registry.Register(models.JobTypePredictionCompare, handlers.Entry{
		Handler:        &handlers.PredictionCompareHandler{Domain: domain},
		MaxConcurrency: 2,
		Timeout:        30 * time.Second,
	})
	registry.Register(models.JobTypeCleanup, handlers.Entry{
		Handler:        &handlers.CleanupHandler{Reconciler: reconciler},
		MaxConcurrency: 1,
		Timeout:        30 * time.Second,
	})

	return registry
}

func buildArchive(cfg *config.Config) (archive.ContentArchive, error) {
	if cfg.ArchiveBucket == "" {
		return archive.NewLocalContentArchive("./data/archive")
	}
	return archive.NewS3ContentArchive(archive.S3ContentArchiveConfig{
		Bucket: cfg.ArchiveBucket,
		Prefix: "content/raw/",
		Region: cfg.ArchiveRegion,
	})
}

func dbConnString(cfg *config.Config) string {
	if cfg.DBURL != "" {
		return cfg.DBURL
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
}
