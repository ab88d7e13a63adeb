package cache

import (
	"context"
	"log/slog"
	"time"

	"grounded-query/internal/grounding"
)

// CachedQuerier memoizes successful answers from an inner Querier.
type CachedQuerier struct {
	inner grounding.Querier
	cache Cache
	model string
	ttl   time.Duration
	log   *slog.Logger
}

// NewCachedQuerier wraps inner. model is mixed into keys so switching models never replays stale answers.
func NewCachedQuerier(inner grounding.Querier, c Cache, model string, ttl time.Duration, log *slog.Logger) *CachedQuerier {
	return &CachedQuerier{inner: inner, cache: c, model: model, ttl: ttl, log: log}
}

// Execute returns a cached result when present. Placeholder answers and errors are never stored.
func (q *CachedQuerier) Execute(ctx context.Context, req grounding.QueryRequest) (grounding.QueryResult, error) {
	key := GenerateCacheKey(q.model, req)
	if cached, err := q.cache.Get(ctx, key); err != nil {
		q.log.Warn("cache read failed", "err", err)
	} else if cached != nil {
		q.log.Info("cache hit", "key", key)
		return *cached, nil
	}

	result, err := q.inner.Execute(ctx, req)
	if err != nil {
		return grounding.QueryResult{}, err
	}
	if !result.HasContent() {
		return result, nil
	}
	if err := q.cache.Set(ctx, key, &result, q.ttl); err != nil {
		// Log cache write failure but don't fail the request
		q.log.Warn("failed to cache result", "err", err)
	}
	return result, nil
}
