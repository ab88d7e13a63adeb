package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"grounded-query/internal/cache"
	"grounded-query/internal/config"
	"grounded-query/internal/grounding"
	"grounded-query/internal/logger"
	"grounded-query/internal/queue"
	"grounded-query/internal/retry"
	"grounded-query/internal/session"
)

// Deps bundles common runtime dependencies for services.
type Deps struct {
	Config config.Config
	Log    *slog.Logger
	// Querier is the grounding client, wrapped in the result cache when one is configured.
	Querier grounding.Querier
	Cache   cache.Cache
	Quota   session.Quota
	// Queue is nil unless QUEUE_PROVIDER=nats.
	Queue queue.Queue

	closers []func() error
}

// Close releases connections opened by Build.
func (d Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build loads env, config, and shared components, logging to stdout.
func Build() (Deps, error) {
	return build(os.Stdout, false)
}

// BuildCLI is Build with logs on stderr. With remote set, queries go to a
// worker over the queue and no local API key is needed.
func BuildCLI(remote bool) (Deps, error) {
	return build(os.Stderr, remote)
}

func build(logOut io.Writer, remote bool) (Deps, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Deps{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, logOut)
	deps := Deps{Config: cfg, Log: log}

	rdb, err := buildRedis(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize redis: %w", err)
	}
	if rdb != nil {
		deps.closers = append(deps.closers, rdb.Close)
	}

	deps.Cache = buildCache(cfg, rdb, log)
	deps.Quota = buildQuota(cfg, rdb, log)

	q, nc, err := buildQueue(cfg, log)
	if err != nil {
		_ = deps.Close()
		return Deps{}, fmt.Errorf("failed to initialize queue: %w", err)
	}
	if nc != nil {
		deps.closers = append(deps.closers, func() error { return nc.Drain() })
	}
	deps.Queue = q

	querier, err := buildQuerier(cfg, log, deps, remote)
	if err != nil {
		_ = deps.Close()
		return Deps{}, err
	}
	deps.Querier = querier
	return deps, nil
}

func buildQuerier(cfg config.Config, log *slog.Logger, deps Deps, remote bool) (grounding.Querier, error) {
	if remote {
		if deps.Queue == nil {
			return nil, fmt.Errorf("remote queries require QUEUE_PROVIDER=nats")
		}
		log.Info("dispatching queries to queue workers")
		return queue.NewRemoteQuerier(deps.Queue, Policy(cfg)), nil
	}
	client, err := buildClient(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize grounding client: %w", err)
	}
	if cfg.CacheProvider == "redis" {
		return cache.NewCachedQuerier(client, deps.Cache, client.Model(), time.Duration(cfg.CacheTTL)*time.Second, log), nil
	}
	return client, nil
}

// Policy builds the retry policy from configuration.
// Unset or non-positive values fall back to retry.DefaultPolicy.
func Policy(cfg config.Config) retry.Policy {
	p := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BackoffBase > 0 {
		p.Backoff = retry.Exponential(cfg.BackoffBase, cfg.BackoffMax)
	}
	return p
}

// CallBudget is the longest a single query may take: every attempt plus every backoff.
func CallBudget(cfg config.Config) time.Duration {
	p := Policy(cfg)
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var total time.Duration
	for i := 0; i < attempts; i++ {
		total = saturatingAdd(total, cfg.RequestTimeout)
		if i < attempts-1 {
			total = saturatingAdd(total, p.Backoff(i))
		}
	}
	return total
}

func saturatingAdd(a, b time.Duration) time.Duration {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func buildClient(cfg config.Config, log *slog.Logger) (*grounding.Client, error) {
	if cfg.APIKey == "" {
		return nil, &grounding.APIError{Kind: grounding.ErrAuth, Err: fmt.Errorf("GOOGLE_API_KEY is required")}
	}
	client, err := grounding.NewClient(grounding.Config{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		Policy:  Policy(cfg),
		Timeout: cfg.RequestTimeout,
	}, grounding.WithLogger(log))
	if err != nil {
		return nil, err
	}
	log.Info("using grounding client", "model", client.Model(), "max_attempts", cfg.MaxAttempts)
	return client, nil
}

func buildRedis(cfg config.Config, log *slog.Logger) (*redis.Client, error) {
	if cfg.CacheProvider != "redis" && cfg.SessionQueryLimit <= 0 {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	log.Info("connected to redis", "addr", cfg.RedisAddr)
	return client, nil
}

func buildCache(cfg config.Config, rdb *redis.Client, log *slog.Logger) cache.Cache {
	switch cfg.CacheProvider {
	case "redis":
		log.Info("using Redis result cache", "ttl_seconds", cfg.CacheTTL)
		return cache.NewRedisCacheFromClient(rdb)
	case "none", "":
		return cache.NewNoOpCache()
	default:
		log.Warn("unknown CACHE_PROVIDER; caching disabled", "provider", cfg.CacheProvider)
		return cache.NewNoOpCache()
	}
}

func buildQuota(cfg config.Config, rdb *redis.Client, log *slog.Logger) session.Quota {
	if cfg.SessionQueryLimit <= 0 {
		return session.Unlimited{}
	}
	log.Info("using Redis session quota", "limit", cfg.SessionQueryLimit, "window", cfg.SessionWindow)
	return session.NewRedisQuota(rdb, cfg.SessionQueryLimit, cfg.SessionWindow)
}

func buildQueue(cfg config.Config, log *slog.Logger) (queue.Queue, *nats.Conn, error) {
	switch cfg.QueueProvider {
	case "nats":
		if cfg.QueueURL == "" {
			return nil, nil, fmt.Errorf("QUEUE_URL is required when QUEUE_PROVIDER=nats")
		}
		nc, err := nats.Connect(cfg.QueueURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Info("using NATS queue")
		return queue.NewNATS(log, nc, cfg.WorkerConcurrency), nc, nil
	case "none", "":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("invalid QUEUE_PROVIDER: %s (valid options: none, nats)", cfg.QueueProvider)
	}
}
