package cache

import (
	"context"
	"time"

	"grounded-query/internal/grounding"
)

// NoOpCache is a cache implementation that does nothing.
// Used when caching is disabled or Redis is unavailable (always cache miss).
type NoOpCache struct{}

// NewNoOpCache creates a new no-op cache instance
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

func (c *NoOpCache) Get(ctx context.Context, key string) (*grounding.QueryResult, error) {
	return nil, nil
}

func (c *NoOpCache) Set(ctx context.Context, key string, result *grounding.QueryResult, ttl time.Duration) error {
	return nil
}

func (c *NoOpCache) Close() error {
	return nil
}
