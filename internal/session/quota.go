// Package session tracks per-session query allowances for the serving layer.
// Quotas are caller-side policy; the grounding client knows nothing about them.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "session:"

// ErrQuotaExceeded is returned by Reserve when a session has no calls left.
var ErrQuotaExceeded = errors.New("session query limit reached")

// Quota hands out query slots. A reserved slot is charged unless Release is
// called, so callers release after a failed query and failed calls cost nothing.
type Quota interface {
	Reserve(ctx context.Context, sessionID string) (remaining int, err error)
	Release(ctx context.Context, sessionID string) error
}

// Unlimited never refuses a call.
type Unlimited struct{}

func (Unlimited) Reserve(context.Context, string) (int, error) { return -1, nil }

func (Unlimited) Release(context.Context, string) error { return nil }

// RedisQuota counts calls per session in a fixed window starting at the first call.
type RedisQuota struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisQuota allows limit calls per session each window.
func NewRedisQuota(client *redis.Client, limit int, window time.Duration) *RedisQuota {
	return &RedisQuota{client: client, limit: limit, window: window}
}

// reserveScript increments the counter, starts the window on first use, and
// undoes the increment when over the limit so refused calls are not counted.
var reserveScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 and tonumber(ARGV[2]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if n > tonumber(ARGV[1]) then
  redis.call("DECR", KEYS[1])
  return -1
end
return n
`)

func (q *RedisQuota) Reserve(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("session id required")
	}
	n, err := reserveScript.Run(ctx, q.client, []string{keyPrefix + sessionID}, q.limit, q.window.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("reserve quota: %w", err)
	}
	if n < 0 {
		return 0, ErrQuotaExceeded
	}
	return q.limit - n, nil
}

func (q *RedisQuota) Release(ctx context.Context, sessionID string) error {
	key := keyPrefix + sessionID
	n, err := q.client.Decr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	if n <= 0 {
		return q.client.Del(ctx, key).Err()
	}
	return nil
}
