package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBURL      string

	RedisHost string
	RedisPort string

	EtcdEndpoints     []string
	LeaderElectionTTL int

	APIPort string

	// Worker pool
	WorkerConcurrency     int
	WorkerPollInterval    time.Duration
	HandlerTimeoutDefault time.Duration
	Paused                bool

	// Producers / reaper
	JobRetentionDays int
	ReaperInterval   time.Duration

	FeedScanInterval         time.Duration
	CleanupCronExpr          string
	DailyAnalysisCronExpr    string
	PredictionCompareCronExpr string
	PredictionHorizon        string

	// AI adapter
	OpenAIAPIKey     string
	OpenAIChatModel  string
	OpenAIAudioModel string

	// Archive
	ArchiveBucket string
	ArchiveRegion string

	// Auth settings
	JWTSecret   string
	JWTIssuer   string
	AuthEnabled bool

	// Tracing
	TracingEnabled bool
	TracingEndpoint string
	Environment     string
}

func LoadConfig() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "marketpulse"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "marketpulse"),
		DBURL:      getEnv("DB_URL", ""),

		RedisHost: getEnv("REDIS_HOST", "localhost"),
		RedisPort: getEnv("REDIS_PORT", "6379"),

		EtcdEndpoints:     []string{getEnv("ETCD_ENDPOINTS", "localhost:2379")},
		LeaderElectionTTL: getEnvAsInt("LEADER_ELECTION_TTL", 15),

		APIPort: getEnv("API_PORT", "8080"),

		WorkerConcurrency:     getEnvAsInt("WORKER_CONCURRENCY", 3),
		WorkerPollInterval:    time.Duration(getEnvAsInt("WORKER_POLL_INTERVAL_MS", 2000)) * time.Millisecond,
		HandlerTimeoutDefault: time.Duration(getEnvAsInt("HANDLER_TIMEOUT_DEFAULT_SEC", 300)) * time.Second,
		Paused:                getEnvAsBool("PAUSED", false),

		JobRetentionDays: getEnvAsInt("JOB_RETENTION_DAYS", 7),
		ReaperInterval:   time.Duration(getEnvAsInt("REAPER_INTERVAL_SEC", 60)) * time.Second,

		FeedScanInterval:          time.Duration(getEnvAsInt("FEED_SCAN_INTERVAL_SEC", 60)) * time.Second,
		CleanupCronExpr:           getEnv("CLEANUP_CRON", "0 * * * *"),
		DailyAnalysisCronExpr:     getEnv("DAILY_ANALYSIS_CRON", "0 0 * * *"),
		PredictionCompareCronExpr: getEnv("PREDICTION_COMPARE_CRON", "0 */6 * * *"),
		PredictionHorizon:         getEnv("PREDICTION_HORIZON", "1d"),

		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIChatModel:  getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		OpenAIAudioModel: getEnv("OPENAI_AUDIO_MODEL", "whisper-1"),

		ArchiveBucket: getEnv("ARCHIVE_BUCKET", ""),
		ArchiveRegion: getEnv("ARCHIVE_REGION", "us-east-1"),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", "marketpulse"),
		AuthEnabled: getEnvAsBool("AUTH_ENABLED", false),

		TracingEnabled:  getEnvAsBool("TRACING_ENABLED", false),
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		Environment:     getEnv("ENVIRONMENT", "development"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}
