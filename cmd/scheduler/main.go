package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	config "marketpulse/configs"
	"marketpulse/pkg/cache/redis"
	"marketpulse/pkg/coordination/etcd"
	"marketpulse/pkg/observability/tracing"
	"marketpulse/pkg/producer"
	"marketpulse/pkg/queue"
	"marketpulse/pkg/reaper"
	"marketpulse/pkg/storage/postgres"
)

func main() {
	cfg := config.LoadConfig()
	log.Println("[Marketpulse Scheduler] Starting up...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	tracingProvider, err := tracing.Init(ctx, tracing.Config{
		ServiceName:  "marketpulse-scheduler",
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
	log.Println("[Marketpulse Scheduler] Postgres connected & schema initialized.")

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
	log.Println("[Marketpulse Scheduler] Redis cache connected.")

	etcdCoord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
	if err != nil {
		log.Fatalf("Failed to connect to etcd: %v", err)
	}
	defer etcdCoord.Close()
	log.Println("[Marketpulse Scheduler] Connected to Etcd.")

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "scheduler-" + uuid.New().String()
	}
	election := etcdCoord.NewElection("marketpulse-leader")

	log.Printf("[Marketpulse Scheduler] requesting leadership as %s...", hostname)
	if err := election.Campaign(ctx, hostname); err != nil {
		log.Fatalf("Election campaign failed: %v", err)
	}
	log.Println("[Marketpulse Scheduler] leadership acquired.")

	engine := queue.NewEngine(jobStore)

	producerCore := producer.NewCore(cfg, engine, domain)
	reaperCore := reaper.NewCore(engine, jobStore, heartbeats, cache, cfg.ReaperInterval, cfg.HandlerTimeoutDefault, cfg.JobRetentionDays)

	log.Println("[Marketpulse Scheduler] Starting producer and reaper loops...")
	go producerCore.Run(ctx, election)
	go reaperCore.Run(ctx, election)

	sig := <-sigChan
	log.Printf("[Marketpulse Scheduler] Received signal %v, initiating graceful shutdown...", sig)

	cancel()

	if err := election.Resign(context.Background()); err != nil {
		log.Printf("[Marketpulse Scheduler] Warning: failed to resign leadership: %v", err)
	} else {
		log.Println("[Marketpulse Scheduler] Leadership resigned.")
	}

	log.Println("[Marketpulse Scheduler] Shutdown complete.")
}

func dbConnString(cfg *config.Config) string {
	if cfg.DBURL != "" {
		return cfg.DBURL
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
}
