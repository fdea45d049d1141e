package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "resolve.db", cfg.Store.Path)
	assert.Equal(t, []string{"census", "tiger", "google"}, cfg.Geocode.Chain)
	assert.Equal(t, 500, cfg.Geocode.BatchChunkSize)
	assert.Equal(t, 88.0, cfg.Sources.Tiers["layers"])
	assert.Equal(t, 97.0, cfg.Sources.EarlyExitThreshold)
	assert.Equal(t, 70, cfg.Score.ReviewCutoff)
	assert.Equal(t, 540, cfg.Score.StaleAfterDays)
	assert.Equal(t, 0.90, cfg.Catalog.StrictCutoff)
	assert.True(t, cfg.Cache.Persist)
	assert.Equal(t, 16, cfg.Batch.PoolSize)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile("config.yaml", []byte(`
geocode:
  chain: [census]
sources:
  pool_size: 8
cache:
  success_ttl_hours: 12
  persist: false
log:
  level: debug
`), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"census"}, cfg.Geocode.Chain)
	assert.Equal(t, 8, cfg.Sources.PoolSize)
	assert.Equal(t, 12*time.Hour, cfg.Cache.SuccessTTL())
	assert.False(t, cfg.Cache.Persist)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched keys keep their defaults.
	assert.Equal(t, 100, cfg.Batch.CheckpointInterval)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RESOLVE_LOG_LEVEL", "warn")
	t.Setenv("RESOLVE_STORE_PATH", "/var/lib/resolve/resolve.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/var/lib/resolve/resolve.db", cfg.Store.Path)
}

func TestTTLHelpers(t *testing.T) {
	c := CacheConfig{SuccessTTLHours: 2, FailureTTLMins: 15}
	assert.Equal(t, 2*time.Hour, c.SuccessTTL())
	assert.Equal(t, 15*time.Minute, c.FailureTTL())

	s := SourcesConfig{TimeoutSecs: 5, TypeDeadlineSecs: 10}
	assert.Equal(t, 5*time.Second, s.SourceTimeout())
	assert.Equal(t, 10*time.Second, s.TypeDeadline())
}
