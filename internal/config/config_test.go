package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WEBHOOK_TIMEOUT", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	t.Setenv("WEBHOOK_DEFAULT_SLUG", "")

	cfg := Load()

	assert.Equal(t, 15*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, "ticto", cfg.WebhookDefaultSlug)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.JWT.PrivPath)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WEBHOOK_TIMEOUT", "3s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.copydrive.com, ,https://admin.copydrive.com")
	t.Setenv("RATE_LIMIT_RPC_PER_MIN", "30")
	t.Setenv("DB_MAX_CONNS", "25")

	cfg := Load()

	assert.Equal(t, 3*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, []string{"https://app.copydrive.com", "https://admin.copydrive.com"}, cfg.CORSOrigins)
	assert.Equal(t, int64(30), cfg.RateLimitRPC)
	assert.Equal(t, int32(25), cfg.DBMaxConns)
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("WEBHOOK_TIMEOUT", "-5s")
	t.Setenv("REDIS_DB", "zero")

	cfg := Load()

	assert.Equal(t, 15*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 0, cfg.RedisDB)
}
