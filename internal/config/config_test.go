package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STATE_BACKEND", "")
	t.Setenv("IMPORT_BATCH_SIZE", "")
	t.Setenv("WEBHOOK_TIMEOUT", "")

	cfg := Load()

	assert.Equal(t, "memory", cfg.StateBackend)
	assert.Equal(t, 1000, cfg.Import.BatchSize)
	assert.Equal(t, int64(100*1024*1024), cfg.Import.MaxUploadBytes)
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, 3, cfg.Webhook.MaxRetries)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STATE_BACKEND", "sqlite")
	t.Setenv("IMPORT_BATCH_SIZE", "250")
	t.Setenv("WEBHOOK_TIMEOUT", "2s")
	t.Setenv("RUN_MIGRATIONS", "true")
	t.Setenv("WEBHOOK_RATE_PER_SEC", "12.5")

	cfg := Load()

	assert.Equal(t, "sqlite", cfg.StateBackend)
	assert.Equal(t, 250, cfg.Import.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Webhook.Timeout)
	assert.True(t, cfg.RunMigrations)
	assert.InDelta(t, 12.5, cfg.Webhook.RatePerSec, 0.0001)
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("IMPORT_BATCH_SIZE", "lots")
	t.Setenv("WEBHOOK_TIMEOUT", "soon")
	t.Setenv("RUN_MIGRATIONS", "maybe")

	cfg := Load()

	assert.Equal(t, 1000, cfg.Import.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
	assert.False(t, cfg.RunMigrations)
}
