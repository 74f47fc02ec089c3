package ratelimit

import (
	"context"
	"time"

	"smallbiznis-licensing/pkg/clock"
	"smallbiznis-licensing/pkg/rediskey"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window counter shared by every server instance.
// Every call increments the window's counter, including refused ones.
type RedisLimiter struct {
	client *redis.Client
	clock  clock.Clock
}

func NewRedisLimiter(client *redis.Client, c clock.Clock) *RedisLimiter {
	return &RedisLimiter{client: client, clock: c}
}

func (l *RedisLimiter) CheckAndConsume(ctx context.Context, callerKey, action string, maxAttempts int, window time.Duration) (Decision, error) {
	if maxAttempts <= 0 || window <= 0 {
		return allowAll(maxAttempts), nil
	}

	now := l.clock.Now()
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}
	windowStart := now.UnixMilli() / windowMs * windowMs
	key := rediskey.BuildRateLimitKey(action, callerKey, windowStart)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.PExpire(ctx, key, window)
		return nil
	})
	if err != nil {
		return Decision{}, err
	}

	count := int(incr.Val())
	if count > maxAttempts {
		resetAt := time.UnixMilli(windowStart + windowMs)
		return Decision{Allowed: false, RetryAfter: resetAt.Sub(now)}, nil
	}
	return Decision{Allowed: true, Remaining: maxAttempts - count}, nil
}
