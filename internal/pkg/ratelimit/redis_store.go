// internal/pkg/ratelimit/redis_store.go
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter per key.
type RateLimiter struct {
	client *redis.Client
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow increments the counter for scope/subject and reports whether the
// request fits in the window.
func (r *RateLimiter) Allow(ctx context.Context, scope, subject string, maxRequests int64, window time.Duration) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", scope, subject)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	// Set expiration on first hit
	if count == 1 {
		r.client.Expire(ctx, key, window)
	}

	return count <= maxRequests, nil
}
