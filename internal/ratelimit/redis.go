package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements a sliding window over Redis sorted sets. It keeps
// the proxy from issuing a ledger COUNT query per request at high rates.
// Every attempt is recorded, allowed or not, which matches the ledger
// semantics where 429 responses are logged and counted too.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// IsLimited records this attempt and reports whether the window was already
// full before it.
func (l *RedisLimiter) IsLimited(ctx context.Context, username string) (bool, error) {
	if l.limit <= 0 {
		return false, nil
	}

	key := fmt.Sprintf("ratelimit:%s", username)
	now := time.Now()
	windowStart := now.Add(-l.window)

	pipe := l.client.Pipeline()

	// Drop entries that aged out of the window, then count what remains.
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixMicro()))
	countCmd := pipe.ZCard(ctx, key)

	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMicro()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, l.window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	return int(countCmd.Val()) >= l.limit, nil
}
