package store

import (
	"context"
	"fmt"
	"time"
)

// RedisRateLimiter is a fixed-window counter shared across engine instances.
type RedisRateLimiter struct {
	client *RedisClient
	limit  int64
	window time.Duration
}

func NewRedisRateLimiter(client *RedisClient, perMinute int) *RedisRateLimiter {
	if perMinute <= 0 {
		perMinute = 120
	}
	return &RedisRateLimiter{
		client: client,
		limit:  int64(perMinute),
		window: time.Minute,
	}
}

// Allow reports whether another request for the given bucket fits the
// current window.
func (rl *RedisRateLimiter) Allow(ctx context.Context, bucket string) (bool, error) {
	slot := time.Now().Unix() / int64(rl.window.Seconds())
	key := rl.client.generateKey("ratelimit", bucket, fmt.Sprintf("%d", slot))
	n, err := rl.client.Incr(ctx, key, rl.window)
	if err != nil {
		return false, err
	}
	return n <= rl.limit, nil
}
