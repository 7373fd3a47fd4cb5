package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"ENVIRONMENT", "MINIMUM_LISTEN_TIME", "FLAKINESS",
		"MAX_BATCH_SIZE", "QUEUE_CAP", "ROUTE_CONFIG",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 5.0, cfg.MinimumListenTime)
	assert.Zero(t, cfg.Flakiness)
	assert.Equal(t, 8, cfg.MaxBatchSize)
	assert.Equal(t, 64, cfg.QueueCap)
	assert.Equal(t, "4o-v00", cfg.RouteConfigTag)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("MINIMUM_LISTEN_TIME", "10")
	t.Setenv("FLAKINESS", "0.25")
	t.Setenv("MAX_BATCH_SIZE", "4")
	t.Setenv("ARENA_SYSTEM_KEY", "noise:quiet")

	cfg := Load()
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 10.0, cfg.MinimumListenTime)
	assert.Equal(t, 0.25, cfg.Flakiness)
	assert.Equal(t, 4, cfg.MaxBatchSize)
	assert.Equal(t, "noise:quiet", cfg.SystemKey)
}

func TestMalformedNumbersFallBack(t *testing.T) {
	t.Setenv("MINIMUM_LISTEN_TIME", "soon")
	t.Setenv("MAX_BATCH_SIZE", "many")

	cfg := Load()
	assert.Equal(t, 5.0, cfg.MinimumListenTime)
	assert.Equal(t, 8, cfg.MaxBatchSize)
}
