package xsched_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xsched"
)

func TestConfigFromMap_CoercesAndDefaults(t *testing.T) {
	cfg := xsched.ConfigFromMap(map[string]any{
		"min_delay":              "5ms",
		"max_delay":              float64(30 * time.Minute), // JSON numbers arrive as float64
		"retry_ceiling":          float64(7),
		"defer_restricted_retry": true,
		"recursion_limit":        25,
		"batch_max_size":         int64(16),
		"flush_interval":         250 * time.Millisecond,
		"instant_topics":         []any{"URGENT", 42, "NOW"},
		"frame_stats_reset":      "2m",
	})

	assert.Equal(t, 5*time.Millisecond, cfg.MinDelay)
	assert.Equal(t, 30*time.Minute, cfg.MaxDelay)
	assert.Equal(t, 7, cfg.RetryCeiling)
	assert.True(t, cfg.DeferRestrictedRetry)
	assert.Equal(t, 25, cfg.RecursionLimit)
	assert.Equal(t, 16, cfg.BatchMaxSize)
	assert.Equal(t, 250*time.Millisecond, cfg.FlushInterval)
	assert.Equal(t, []string{"URGENT", "NOW"}, cfg.InstantTopics)
	assert.Equal(t, 2*time.Minute, cfg.FrameStatsReset)

	// Missing keys fall back to defaults.
	d := xsched.Defaults()
	assert.Equal(t, d.Precision, cfg.Precision)
	assert.Equal(t, d.TimerArenaMax, cfg.TimerArenaMax)
	assert.Equal(t, d.MaintenanceInterval, cfg.MaintenanceInterval)
}

func TestConfigFromMap_MistypedValuesFallBack(t *testing.T) {
	d := xsched.Defaults()
	cfg := xsched.ConfigFromMap(map[string]any{
		"min_delay":     "not a duration",
		"retry_ceiling": "three",
		"batch_max_size": map[string]any{
			"nested": true,
		},
	})

	assert.Equal(t, d.MinDelay, cfg.MinDelay)
	assert.Equal(t, d.RetryCeiling, cfg.RetryCeiling)
	assert.Equal(t, d.BatchMaxSize, cfg.BatchMaxSize)
}

func TestParseConfig_YAML(t *testing.T) {
	cfg, err := xsched.ParseConfig([]byte(`
min_delay: 5ms
max_delay: 30m
precision: 500us
retry_ceiling: 5
defer_restricted_retry: true
batch_max_size: 8
flush_interval: 50ms
instant_topics:
  - URGENT
maintenance_interval: 30s
`))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Millisecond, cfg.MinDelay)
	assert.Equal(t, 30*time.Minute, cfg.MaxDelay)
	assert.Equal(t, 500*time.Microsecond, cfg.Precision)
	assert.Equal(t, 5, cfg.RetryCeiling)
	assert.True(t, cfg.DeferRestrictedRetry)
	assert.Equal(t, 8, cfg.BatchMaxSize)
	assert.Equal(t, 50*time.Millisecond, cfg.FlushInterval)
	assert.Equal(t, []string{"URGENT"}, cfg.InstantTopics)
	assert.Equal(t, 30*time.Second, cfg.MaintenanceInterval)
}

func TestParseConfig_UnsetFieldsGetDefaults(t *testing.T) {
	cfg, err := xsched.ParseConfig([]byte(`retry_ceiling: 2`))
	require.NoError(t, err)

	d := xsched.Defaults()
	assert.Equal(t, 2, cfg.RetryCeiling)
	assert.Equal(t, d.MinDelay, cfg.MinDelay)
	assert.Equal(t, d.FlushInterval, cfg.FlushInterval)
	assert.Equal(t, d.MaintenanceInterval, cfg.MaintenanceInterval)
}

func TestParseConfig_PrecisionCoarserThanMinDelay(t *testing.T) {
	cfg, err := xsched.ParseConfig([]byte("min_delay: 5ms\nprecision: 20ms\n"))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, cfg.MinDelay)
	assert.Equal(t, 5*time.Millisecond, cfg.Precision, "precision is capped at the delay floor")
}

func TestParseConfig_BadDuration(t *testing.T) {
	_, err := xsched.ParseConfig([]byte(`min_delay: fast`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config duration")
}

func TestParseConfig_BadYAML(t *testing.T) {
	_, err := xsched.ParseConfig([]byte("min_delay: [unterminated"))
	require.Error(t, err)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xsched.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_delay: 20ms\n"), 0o644))

	cfg, err := xsched.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, cfg.MinDelay)

	_, err = xsched.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
