package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesDocumentedValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	assert.Equal(t, 180, cfg.IngestIntervalMinutes)
	assert.Equal(t, 100, cfg.MaxSignalsPerBatch)
	assert.Equal(t, 6, cfg.AlertCheckIntervalHours)
	assert.Equal(t, []int{30, 14, 7, 2}, cfg.AlertThresholds)
	assert.Equal(t, "email", cfg.DefaultOutreachChannel)
	assert.False(t, cfg.LLMResolverEnabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad_NoFileNoEnv_ReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAMLOverlayWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cortex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
redis_url: redis://cache.internal:6379
ingest_interval_minutes: 60
alert_thresholds: [14, 7, 1]
default_outreach_channel: sms
llm_resolver_enabled: true
llm_resolver_base_url: http://resolver.internal:9000
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis://cache.internal:6379", cfg.RedisURL)
	assert.Equal(t, 60, cfg.IngestIntervalMinutes)
	assert.Equal(t, []int{14, 7, 1}, cfg.AlertThresholds)
	assert.Equal(t, "sms", cfg.DefaultOutreachChannel)
	assert.True(t, cfg.LLMResolverEnabled)
	assert.Equal(t, "http://resolver.internal:9000", cfg.LLMResolverBaseURL)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cortex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis_url: redis://from-file:6379\n"), 0o644))

	t.Setenv("CORTEX_REDIS_URL", "redis://from-env:6379")
	t.Setenv("CORTEX_MAX_SIGNALS_PER_BATCH", "25")
	t.Setenv("CORTEX_ALERT_THRESHOLDS", "21, 10, 3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis://from-env:6379", cfg.RedisURL)
	assert.Equal(t, 25, cfg.MaxSignalsPerBatch)
	assert.Equal(t, []int{21, 10, 3}, cfg.AlertThresholds)
}

func TestLoad_InvalidEnvIntIsIgnored(t *testing.T) {
	t.Setenv("CORTEX_MAX_SIGNALS_PER_BATCH", "not-a-number")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.MaxSignalsPerBatch)
}

func TestValidate_RejectsBadChannel(t *testing.T) {
	cfg := Default()
	cfg.DefaultOutreachChannel = "carrier-pigeon"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsLLMEnabledWithoutBaseURL(t *testing.T) {
	cfg := Default()
	cfg.LLMResolverEnabled = true
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveIntervals(t *testing.T) {
	cfg := Default()
	cfg.IngestIntervalMinutes = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.MaxSignalsPerBatch = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.AlertCheckIntervalHours = 0
	assert.Error(t, cfg.Validate())
}

func TestIntervalHelpers(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 180*60, int(cfg.IngestInterval().Seconds()))
	assert.Equal(t, 6*3600, int(cfg.AlertCheckInterval().Seconds()))
}

func TestLoad_AdapterOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cortex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
adapters:
  court_docket:
    enabled: false
  talent_tracker:
    cadence: 30m
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Contains(t, cfg.Adapters, "court_docket")
	require.NotNil(t, cfg.Adapters["court_docket"].Enabled)
	assert.False(t, *cfg.Adapters["court_docket"].Enabled)

	require.Contains(t, cfg.Adapters, "talent_tracker")
	require.NotNil(t, cfg.Adapters["talent_tracker"].Cadence)
	assert.Equal(t, "30m0s", cfg.Adapters["talent_tracker"].Cadence.String())
}
