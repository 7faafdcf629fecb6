package xsched

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultRecursionLimit = 100

// Config carries the tuning knobs of a Core. Zero values are replaced by
// defaults at build time.
type Config struct {
	// MinDelay is the host's minimum callback granularity; requested
	// delays are clamped up to it.
	MinDelay time.Duration
	// MaxDelay is the scheduling ceiling; requested delays are clamped
	// down to it.
	MaxDelay time.Duration
	// Precision is the rounding unit for delays (and the drift bound).
	Precision time.Duration

	// RetryCeiling bounds fault retries per timer before permanent
	// removal.
	RetryCeiling int
	// DeferRestrictedRetry queues a HIGH-priority retry until the host's
	// restricted context lifts instead of dropping it.
	DeferRestrictedRetry bool

	// RecursionLimit caps dispatch recursion depth.
	RecursionLimit int

	// BatchMaxSize bounds a topic's buffered batch; reaching it forces
	// an immediate flush.
	BatchMaxSize int
	// FlushInterval is the auto-flush cadence for buffered topics.
	FlushInterval time.Duration
	// InstantTopics bypass buffering and deliver synchronously.
	InstantTopics []string

	// TimerArenaMax and BatchArenaMax bound the tracked slots of the
	// respective object arenas.
	TimerArenaMax int
	BatchArenaMax int

	// Frame statistics tuning.
	FrameExtremeFactor int
	FrameExtremeRun    int
	FrameStatsReset    time.Duration

	// MaintenanceInterval is the cadence of the periodic maintenance
	// pass; negative disables it.
	MaintenanceInterval time.Duration
}

// Defaults returns the production configuration.
func Defaults() Config {
	return Config{
		MinDelay:            10 * time.Millisecond,
		MaxDelay:            time.Hour,
		Precision:           time.Millisecond,
		RetryCeiling:        3,
		RecursionLimit:      defaultRecursionLimit,
		BatchMaxSize:        32,
		FlushInterval:       100 * time.Millisecond,
		TimerArenaMax:       512,
		BatchArenaMax:       1024,
		FrameExtremeFactor:  4,
		FrameExtremeRun:     10,
		FrameStatsReset:     5 * time.Minute,
		MaintenanceInterval: time.Minute,
	}
}

// normalize fills zero values from Defaults.
func (c Config) normalize() Config {
	d := Defaults()
	if c.MinDelay <= 0 {
		c.MinDelay = d.MinDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Precision <= 0 {
		c.Precision = d.Precision
	}
	if c.Precision > c.MinDelay {
		// Rounding a MinDelay-clamped delay to a coarser precision could
		// produce a zero period.
		c.Precision = c.MinDelay
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = d.RetryCeiling
	}
	if c.RecursionLimit <= 0 {
		c.RecursionLimit = d.RecursionLimit
	}
	if c.BatchMaxSize <= 0 {
		c.BatchMaxSize = d.BatchMaxSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.TimerArenaMax <= 0 {
		c.TimerArenaMax = d.TimerArenaMax
	}
	if c.BatchArenaMax <= 0 {
		c.BatchArenaMax = d.BatchArenaMax
	}
	if c.FrameExtremeFactor <= 0 {
		c.FrameExtremeFactor = d.FrameExtremeFactor
	}
	if c.FrameExtremeRun <= 0 {
		c.FrameExtremeRun = d.FrameExtremeRun
	}
	if c.FrameStatsReset <= 0 {
		c.FrameStatsReset = d.FrameStatsReset
	}
	if c.MaintenanceInterval == 0 {
		c.MaintenanceInterval = d.MaintenanceInterval
	}
	return c
}

// ConfigFromMap safely coerces a generic config blob into Config with
// defaults for missing or mistyped keys.
func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}

	getBool := func(k string, d bool) bool {
		if v, ok := cfg[k].(bool); ok {
			return v
		}
		return d
	}

	getDur := func(k string, d time.Duration) time.Duration {
		switch v := cfg[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		case float64:
			return time.Duration(v)
		case int64:
			return time.Duration(v)
		}
		return d
	}

	getStrings := func(k string) []string {
		switch v := cfg[k].(type) {
		case []string:
			return v
		case []any:
			out := make([]string, 0, len(v))
			for _, e := range v {
				if s, ok := e.(string); ok {
					out = append(out, s)
				}
			}
			return out
		}
		return nil
	}

	d := Defaults()
	return Config{
		MinDelay:             getDur("min_delay", d.MinDelay),
		MaxDelay:             getDur("max_delay", d.MaxDelay),
		Precision:            getDur("precision", d.Precision),
		RetryCeiling:         getInt("retry_ceiling", d.RetryCeiling),
		DeferRestrictedRetry: getBool("defer_restricted_retry", false),
		RecursionLimit:       getInt("recursion_limit", d.RecursionLimit),
		BatchMaxSize:         getInt("batch_max_size", d.BatchMaxSize),
		FlushInterval:        getDur("flush_interval", d.FlushInterval),
		InstantTopics:        getStrings("instant_topics"),
		TimerArenaMax:        getInt("timer_arena_max", d.TimerArenaMax),
		BatchArenaMax:        getInt("batch_arena_max", d.BatchArenaMax),
		FrameExtremeFactor:   getInt("frame_extreme_factor", d.FrameExtremeFactor),
		FrameExtremeRun:      getInt("frame_extreme_run", d.FrameExtremeRun),
		FrameStatsReset:      getDur("frame_stats_reset", d.FrameStatsReset),
		MaintenanceInterval:  getDur("maintenance_interval", d.MaintenanceInterval),
	}
}

// configYAML is the on-disk shape; durations are strings for
// time.ParseDuration.
type configYAML struct {
	MinDelay             string   `yaml:"min_delay"`
	MaxDelay             string   `yaml:"max_delay"`
	Precision            string   `yaml:"precision"`
	RetryCeiling         int      `yaml:"retry_ceiling"`
	DeferRestrictedRetry bool     `yaml:"defer_restricted_retry"`
	RecursionLimit       int      `yaml:"recursion_limit"`
	BatchMaxSize         int      `yaml:"batch_max_size"`
	FlushInterval        string   `yaml:"flush_interval"`
	InstantTopics        []string `yaml:"instant_topics"`
	TimerArenaMax        int      `yaml:"timer_arena_max"`
	BatchArenaMax        int      `yaml:"batch_arena_max"`
	FrameExtremeFactor   int      `yaml:"frame_extreme_factor"`
	FrameExtremeRun      int      `yaml:"frame_extreme_run"`
	FrameStatsReset      string   `yaml:"frame_stats_reset"`
	MaintenanceInterval  string   `yaml:"maintenance_interval"`
}

// LoadConfig reads a YAML config file and applies defaults for anything
// unset.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("xsched: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML config bytes.
func ParseConfig(data []byte) (Config, error) {
	var raw configYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("xsched: parse config: %w", err)
	}

	parseDur := func(s string, d time.Duration) (time.Duration, error) {
		if s == "" {
			return d, nil
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("xsched: parse config duration %q: %w", s, err)
		}
		return v, nil
	}

	c := Config{
		RetryCeiling:         raw.RetryCeiling,
		DeferRestrictedRetry: raw.DeferRestrictedRetry,
		RecursionLimit:       raw.RecursionLimit,
		BatchMaxSize:         raw.BatchMaxSize,
		InstantTopics:        raw.InstantTopics,
		TimerArenaMax:        raw.TimerArenaMax,
		BatchArenaMax:        raw.BatchArenaMax,
		FrameExtremeFactor:   raw.FrameExtremeFactor,
		FrameExtremeRun:      raw.FrameExtremeRun,
	}

	var err error
	if c.MinDelay, err = parseDur(raw.MinDelay, 0); err != nil {
		return Config{}, err
	}
	if c.MaxDelay, err = parseDur(raw.MaxDelay, 0); err != nil {
		return Config{}, err
	}
	if c.Precision, err = parseDur(raw.Precision, 0); err != nil {
		return Config{}, err
	}
	if c.FlushInterval, err = parseDur(raw.FlushInterval, 0); err != nil {
		return Config{}, err
	}
	if c.FrameStatsReset, err = parseDur(raw.FrameStatsReset, 0); err != nil {
		return Config{}, err
	}
	if c.MaintenanceInterval, err = parseDur(raw.MaintenanceInterval, Defaults().MaintenanceInterval); err != nil {
		return Config{}, err
	}

	return c.normalize(), nil
}
