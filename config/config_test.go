package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("COMMAND_MAX_RETRIES", "")
	t.Setenv("OUTBOX_INTERVAL", "")

	cfg := LoadConfig()

	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, ProjectionAsync, cfg.ProjectionMode)
	assert.Equal(t, 3, cfg.CommandMaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.OutboxInterval)
	assert.False(t, cfg.ArchiveEnabled())
	assert.False(t, cfg.InlineProjection())
	assert.Equal(t, 30*time.Second, cfg.ReadModelCacheTTL)
	assert.Equal(t, 30*time.Second, cfg.OutboxClaimTimeout)
	assert.NotEmpty(t, cfg.ConsumerName)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("COMMAND_MAX_RETRIES", "7")
	t.Setenv("OUTBOX_INTERVAL", "2s")
	t.Setenv("S3_BUCKET", "incident-archive")
	t.Setenv("S3_REGION", "eu-west-1")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_MAX_CONNS", "5")

	cfg := LoadConfig()

	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, 7, cfg.CommandMaxRetries)
	assert.Equal(t, 2*time.Second, cfg.OutboxInterval)
	assert.True(t, cfg.ArchiveEnabled())
	assert.Contains(t, cfg.DatabaseURL(), "@db:5432/")
	assert.Contains(t, cfg.DatabaseURL(), "pool_max_conns=5")
	assert.True(t, cfg.InlineProjection())
}

func TestInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("IDEMPOTENCY_TTL", "soon")

	cfg := LoadConfig()

	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
}
