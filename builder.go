package xsched

import (
	"context"
	"sync"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// CoreBuilder constructs Core instances.
type CoreBuilder struct {
	host  Host
	clock xclock.Clock
	cfg   Config

	logger    *xlog.Logger
	observers []Observer

	poolWorkers int
	poolBuffer  int

	onUsed   func(topic string)
	onUnused func(topic string)
}

// NewCoreBuilder returns a builder with production defaults.
func NewCoreBuilder() *CoreBuilder {
	return &CoreBuilder{cfg: Defaults()}
}

// WithHost injects the environment boundary. Without one, a clock-backed
// production host is constructed.
func (cb *CoreBuilder) WithHost(h Host) *CoreBuilder {
	cb.host = h
	return cb
}

// WithClock injects a custom xclock clock for the default host.
func (cb *CoreBuilder) WithClock(c xclock.Clock) *CoreBuilder {
	cb.clock = c
	return cb
}

// WithConfig replaces the tuning configuration.
func (cb *CoreBuilder) WithConfig(cfg Config) *CoreBuilder {
	cb.cfg = cfg
	return cb
}

// WithConfigMap applies a generic config blob (see ConfigFromMap).
func (cb *CoreBuilder) WithConfigMap(cfg map[string]any) *CoreBuilder {
	cb.cfg = ConfigFromMap(cfg)
	return cb
}

// WithLogger injects a custom xlog logger.
func (cb *CoreBuilder) WithLogger(l *xlog.Logger) *CoreBuilder {
	cb.logger = l
	return cb
}

// WithObserver attaches observers for lifecycle events.
func (cb *CoreBuilder) WithObserver(obs ...Observer) *CoreBuilder {
	for _, o := range obs {
		if o != nil {
			cb.observers = append(cb.observers, o)
		}
	}
	return cb
}

// WithObserverPool enables async observer dispatch so slow observers
// stay off the fire path.
func (cb *CoreBuilder) WithObserverPool(workers, bufferSize int) *CoreBuilder {
	cb.poolWorkers = workers
	cb.poolBuffer = bufferSize
	return cb
}

// WithTopicHooks installs the OnUsed/OnUnused topic lifecycle hooks.
func (cb *CoreBuilder) WithTopicHooks(onUsed, onUnused func(topic string)) *CoreBuilder {
	cb.onUsed = onUsed
	cb.onUnused = onUnused
	return cb
}

// Build assembles the Core.
func (cb *CoreBuilder) Build() (*Core, error) {
	host := cb.host
	if host == nil {
		host = NewClockHost(cb.clock)
	}

	lg := cb.logger
	if lg == nil {
		lg = xlog.Default()
	}

	cfg := cb.cfg.normalize()

	d := &diag{
		logger:  lg,
		metrics: &coreMetrics{},
	}
	if cb.poolWorkers > 0 {
		d.pool = NewObserverPool(context.Background(), cb.poolWorkers, cb.poolBuffer)
	}

	c := &Core{
		host:   host,
		cfg:    cfg,
		logger: lg,
		diag:   d,
	}
	c.sched = newScheduler(host, cfg, d)
	c.reg = newRegistry(host, cfg.RecursionLimit, d)
	c.batch = newBatcher(c.sched, c.reg, cfg, d)
	c.mon = newMonitor(c.sched, cfg.MaintenanceInterval, d)

	// Attach a logging observer first for dependable telemetry unless
	// one was supplied externally.
	hasLoggingObserver := false
	for _, o := range cb.observers {
		switch o.(type) {
		case LoggingObserver, *LoggingObserver:
			hasLoggingObserver = true
		}
	}
	if !hasLoggingObserver {
		c.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range cb.observers {
		c.AddObserver(o)
	}

	if cb.onUsed != nil || cb.onUnused != nil {
		c.SetTopicHooks(cb.onUsed, cb.onUnused)
	}

	c.mon.start()

	return c, nil
}

var (
	defaultCore   *Core
	defaultCoreMu sync.Mutex
)

// New constructs a Core via the builder and returns a close func for
// convenience.
func New(init func(cb *CoreBuilder)) (*Core, func() error, error) {
	cb := NewCoreBuilder()
	if init != nil {
		init(cb)
	}
	core, err := cb.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return core.Close(context.Background()) }
	return core, closeFn, nil
}

// Default returns the process-wide singleton Core, initializing it with
// the optional init function on first use. The design requires no
// singleton; this is a composition convenience.
func Default(init func(cb *CoreBuilder)) (*Core, error) {
	defaultCoreMu.Lock()
	defer defaultCoreMu.Unlock()

	if defaultCore != nil {
		return defaultCore, nil
	}
	cb := NewCoreBuilder()
	if init != nil {
		init(cb)
	}
	core, err := cb.Build()
	if err != nil {
		return nil, err
	}
	defaultCore = core
	return defaultCore, nil
}

// SetDefault installs a ready Core as the process-wide default.
func SetDefault(c *Core) {
	defaultCoreMu.Lock()
	defaultCore = c
	defaultCoreMu.Unlock()
}

// Schedule is the facade that uses the default core.
func Schedule(cb Callback, delay time.Duration, repeating bool, args ...any) (Handle, error) {
	c, err := Default(nil)
	if err != nil {
		return 0, err
	}
	return c.Schedule(cb, delay, repeating, args...)
}

// Cancel is the facade that uses the default core.
func Cancel(h Handle) bool {
	c, err := Default(nil)
	if err != nil {
		return false
	}
	return c.Cancel(h)
}

// TimeLeft is the facade that uses the default core.
func TimeLeft(h Handle) (time.Duration, bool) {
	c, err := Default(nil)
	if err != nil {
		return 0, false
	}
	return c.TimeLeft(h)
}

// CancelAll is the facade that uses the default core.
func CancelAll(owner any) {
	if c, err := Default(nil); err == nil {
		c.CancelAll(owner)
	}
}

// Register is the facade that uses the default core.
func Register(topic string, subscriber any, cb Callback) error {
	c, err := Default(nil)
	if err != nil {
		return err
	}
	return c.Register(topic, subscriber, cb)
}

// Unregister is the facade that uses the default core.
func Unregister(topic string, subscriber any) {
	if c, err := Default(nil); err == nil {
		c.Unregister(topic, subscriber)
	}
}

// UnregisterAll is the facade that uses the default core.
func UnregisterAll(subscribers ...any) {
	if c, err := Default(nil); err == nil {
		c.UnregisterAll(subscribers...)
	}
}

// Fire is the facade that uses the default core.
func Fire(topic string, args ...any) {
	if c, err := Default(nil); err == nil {
		c.Fire(topic, args...)
	}
}

// Buffer is the facade that uses the default core.
func Buffer(topic string, payload any) {
	if c, err := Default(nil); err == nil {
		c.Buffer(topic, payload)
	}
}

// Flush is the facade that uses the default core.
func Flush(topic string) {
	if c, err := Default(nil); err == nil {
		c.Flush(topic)
	}
}
