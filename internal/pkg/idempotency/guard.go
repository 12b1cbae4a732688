// Package idempotency holds the short-lived in-flight marker for webhook
// deliveries. The durable dedupe lives in Postgres; this only stops two
// concurrent copies of the same delivery from racing each other.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Guard struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewGuard(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Guard {
	return &Guard{client: client, ttl: ttl, logger: logger}
}

func (g *Guard) key(slug, eventID string) string {
	return fmt.Sprintf("webhook:inflight:%s:%s", slug, eventID)
}

// Acquire marks the delivery as in flight. It returns false when another
// worker already holds the marker. Redis failures fail open.
func (g *Guard) Acquire(ctx context.Context, slug, eventID string) bool {
	if g == nil || g.client == nil {
		return true
	}
	ok, err := g.client.SetNX(ctx, g.key(slug, eventID), time.Now().Unix(), g.ttl).Result()
	if err != nil {
		g.logger.Warn("in-flight guard unavailable, continuing without it",
			zap.String("slug", slug),
			zap.String("external_event_id", eventID),
			zap.Error(err),
		)
		return true
	}
	return ok
}

// Release drops the marker so a provider retry after a failure is not
// rejected as in flight.
func (g *Guard) Release(ctx context.Context, slug, eventID string) {
	if g == nil || g.client == nil {
		return
	}
	if err := g.client.Del(ctx, g.key(slug, eventID)).Err(); err != nil {
		g.logger.Warn("failed to release in-flight guard",
			zap.String("slug", slug),
			zap.String("external_event_id", eventID),
			zap.Error(err),
		)
	}
}
