package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "marketpulse/configs"
	"marketpulse/pkg/api"
	"marketpulse/pkg/auth"
	"marketpulse/pkg/cache/redis"
	"marketpulse/pkg/observability/tracing"
	"marketpulse/pkg/queue"
	"marketpulse/pkg/storage/postgres"
)

func main() {
	cfg := config.LoadConfig()
	log.Println("[Marketpulse API] Starting up...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	tracingProvider, err := tracing.Init(ctx, tracing.Config{
		ServiceName:  "marketpulse-api",
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

	store, err := postgres.NewJobStore(connStr)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()
	log.Println("[Marketpulse API] Postgres connected.")

	cache, err := redis.NewCache(fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort))
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cache.Close()
	log.Println("[Marketpulse API] Redis cache connected.")

	engine := queue.NewEngine(store)

	var jwtService *auth.JWTService
	var apiKeyStore auth.APIKeyStore
	if cfg.AuthEnabled {
		jwtService, err = auth.NewJWTService(auth.JWTConfig{
			SecretKey:     cfg.JWTSecret,
			Issuer:        cfg.JWTIssuer,
			TokenExpiry:   time.Hour,
			RefreshExpiry: 24 * time.Hour,
		})
		if err != nil {
			log.Fatalf("Failed to initialize JWT service: %v", err)
		}
		apiKeyStore = auth.NewRedisAPIKeyStore(cache.Client())
	}

	server := api.NewServer(api.Config{
		Port:        cfg.APIPort,
		Engine:      engine,
		Pause:       cache,
		Idempotency: cache,
		JWTService:  jwtService,
		APIKeyStore: apiKeyStore,
		AuthEnabled: cfg.AuthEnabled,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Printf("[Marketpulse API] Server error: %v", err)
		}
	}()

	log.Printf("[Marketpulse API] Server started on port %s", cfg.APIPort)

	sig := <-sigChan
	log.Printf("[Marketpulse API] Received signal %v, initiating graceful shutdown...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Marketpulse API] Shutdown error: %v", err)
	}

	cancel()
	log.Println("[Marketpulse API] Shutdown complete.")
}

func dbConnString(cfg *config.Config) string {
	if cfg.DBURL != "" {
		return cfg.DBURL
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
}
