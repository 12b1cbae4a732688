package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestGuardFailsOpenWithoutRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	g := NewGuard(client, time.Second, zap.NewNop())
	ctx := context.Background()

	assert.True(t, g.Acquire(ctx, "ticto", "purchase.approved:T1"))
	assert.True(t, g.Acquire(ctx, "ticto", "purchase.approved:T1"))
	g.Release(ctx, "ticto", "purchase.approved:T1")
}

func TestNilGuardAllows(t *testing.T) {
	var g *Guard
	assert.True(t, g.Acquire(context.Background(), "ticto", "x"))
	g.Release(context.Background(), "ticto", "x")
}

func TestGuardKey(t *testing.T) {
	g := NewGuard(nil, time.Second, zap.NewNop())
	assert.Equal(t, "webhook:inflight:ticto:sha256:ab", g.key("ticto", "sha256:ab"))
}
