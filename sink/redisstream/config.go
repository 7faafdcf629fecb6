package redisstream

import "time"

// Field constants (avoid typos/allocs)
const (
	fieldType       = "type"
	fieldTopic      = "topic"
	fieldHandle     = "handle"
	fieldSubscriber = "subscriber"
	fieldDuration   = "durationNs"
	fieldAttempt    = "attempt"
	fieldCount      = "count"
	fieldError      = "error"
	fieldAt         = "at" // int64 ns
)

// Config for the Redis stream diagnostics sink.
type Config struct {
	// Client options
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Stream is the target stream key.
	Stream string
	// MaxLenApprox trims the stream approximately when positive.
	MaxLenApprox int64

	// BufferSize is the in-process event buffer (default: 1024).
	BufferSize int
	// BatchSize caps events per pipelined XADD flush (default: 64).
	BatchSize int
	// FlushEvery bounds how long a partial batch may wait (default: 250ms).
	FlushEvery time.Duration
}

// Defaults returns a production-ready sink configuration for addr.
func Defaults(addr string) Config {
	return Config{
		Addr:         addr,
		Stream:       "xsched:events",
		MaxLenApprox: 100_000,
		BufferSize:   1024,
		BatchSize:    64,
		FlushEvery:   250 * time.Millisecond,
	}
}

// ConfigFromMap safely converts cfg into Config with defaults.
func ConfigFromMap(cfg map[string]any) Config {
	getString := func(k, d string) string {
		if v, ok := cfg[k].(string); ok && v != "" {
			return v
		}
		return d
	}

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

	getInt64 := func(k string, d int64) int64 {
		switch v := cfg[k].(type) {
		case int:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
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
		}
		return d
	}

	d := Defaults(getString("addr", ""))
	return Config{
		Addr:          d.Addr,
		Username:      getString("username", ""),
		Password:      getString("password", ""),
		DB:            getInt("db", 0),
		TLS:           getBool("tls", false),
		TLSServerName: getString("tls_server_name", ""),
		Stream:        getString("stream", d.Stream),
		MaxLenApprox:  getInt64("max_len_approx", d.MaxLenApprox),
		BufferSize:    getInt("buffer_size", d.BufferSize),
		BatchSize:     getInt("batch_size", d.BatchSize),
		FlushEvery:    getDur("flush_every", d.FlushEvery),
	}
}
