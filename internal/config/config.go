package config

import (
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration shared by the server, worker, and CLI.
type Config struct {
	// Server
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Upstream
	APIKey         string        `env:"GOOGLE_API_KEY"`
	Model          string        `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash-preview-09-2025"`
	BaseURL        string        `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta"`
	MaxAttempts    int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	BackoffBase    time.Duration `env:"BACKOFF_BASE" envDefault:"1s"`
	BackoffMax     time.Duration `env:"BACKOFF_MAX" envDefault:"30s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"` // per attempt

	// Cache
	CacheProvider string `env:"CACHE_PROVIDER" envDefault:"none"` // "none" or "redis"
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	CacheTTL      int    `env:"CACHE_TTL" envDefault:"3600"` // seconds

	// Session quota (server only); 0 disables the limit
	SessionQueryLimit int           `env:"SESSION_QUERY_LIMIT" envDefault:"0"`
	SessionWindow     time.Duration `env:"SESSION_WINDOW" envDefault:"24h"`

	// Queue
	QueueProvider string `env:"QUEUE_PROVIDER" envDefault:"none"` // "none" or "nats"
	QueueURL      string `env:"QUEUE_URL" envDefault:"nats://localhost:4222"`

	// Tasks a worker handles at once
	WorkerConcurrency int `env:"WORKER_CONCURRENCY" envDefault:"8"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}
