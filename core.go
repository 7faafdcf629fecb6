package xsched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xlog"
)

// API is the complete xsched surface for extensibility.
type API interface {
	Schedule(cb Callback, delay time.Duration, repeating bool, args ...any) (Handle, error)
	ScheduleFor(owner any, cb Callback, delay time.Duration, repeating bool, args ...any) (Handle, error)
	Cancel(h Handle) bool
	TimeLeft(h Handle) (time.Duration, bool)
	CancelAll(owner any)
	Register(topic string, subscriber any, cb Callback) error
	Unregister(topic string, subscriber any)
	UnregisterAll(subscribers ...any)
	Fire(topic string, args ...any)
	Buffer(topic string, payload any)
	Flush(topic string)
	SetTopicHooks(onUsed, onUnused func(topic string))
	GetMetrics() Metrics
	Health(ctx context.Context) HealthStatus
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
	Close(ctx context.Context) error
}

var _ API = (*Core)(nil)

// Core is the timer scheduling and event dispatch facade. All execution
// happens inside host callback invocations; Core owns no threads and
// never blocks.
type Core struct {
	host   Host
	cfg    Config
	logger *xlog.Logger
	diag   *diag

	sched *scheduler
	reg   *registry
	batch *batcher
	mon   *monitor

	closed    atomic.Bool
	closeOnce sync.Once
}

// Schedule arms a timer. For method callbacks the receiver becomes the
// owner used by CancelAll; use ScheduleFor to set an explicit owner.
func (c *Core) Schedule(cb Callback, delay time.Duration, repeating bool, args ...any) (Handle, error) {
	return c.ScheduleFor(cb.Receiver(), cb, delay, repeating, args...)
}

// ScheduleFor arms a timer with an explicit owner.
func (c *Core) ScheduleFor(owner any, cb Callback, delay time.Duration, repeating bool, args ...any) (Handle, error) {
	if c.closed.Load() {
		return 0, ErrCoreClosed
	}
	return c.sched.Schedule(owner, cb, delay, repeating, args...)
}

// Cancel removes a timer before its next invocation. Idempotent.
func (c *Core) Cancel(h Handle) bool {
	return c.sched.Cancel(h)
}

// TimeLeft reports the remaining delay until the timer's next fire.
func (c *Core) TimeLeft(h Handle) (time.Duration, bool) {
	return c.sched.TimeLeft(h)
}

// CancelAll cancels every timer whose owner matches.
func (c *Core) CancelAll(owner any) {
	c.sched.CancelAll(owner)
}

// Register adds or replaces a subscriber thunk for (topic, subscriber).
func (c *Core) Register(topic string, subscriber any, cb Callback) error {
	if c.closed.Load() {
		return ErrCoreClosed
	}
	return c.reg.Register(topic, subscriber, cb)
}

// Unregister removes a subscriber from a topic.
func (c *Core) Unregister(topic string, subscriber any) {
	c.reg.Unregister(topic, subscriber)
}

// UnregisterAll removes the given subscribers from every topic.
func (c *Core) UnregisterAll(subscribers ...any) {
	c.reg.UnregisterAll(subscribers...)
}

// Fire synchronously delivers to every current subscriber of topic; a
// subscriber's failure never propagates to the caller.
func (c *Core) Fire(topic string, args ...any) {
	if c.closed.Load() {
		return
	}
	c.reg.Fire(topic, args...)
}

// Buffer appends an event to the topic's batch for deferred delivery.
func (c *Core) Buffer(topic string, payload any) {
	if c.closed.Load() {
		return
	}
	c.batch.Buffer(topic, payload)
}

// Flush forces immediate delivery of the topic's buffered events.
func (c *Core) Flush(topic string) {
	c.batch.Flush(topic)
}

// SetTopicHooks installs the OnUsed/OnUnused lifecycle hooks, fired
// exactly once per zero-to-one and one-to-zero subscriber transition.
func (c *Core) SetTopicHooks(onUsed, onUnused func(topic string)) {
	c.reg.setHooks(onUsed, onUnused)
}

// GetMetrics returns a telemetry snapshot.
func (c *Core) GetMetrics() Metrics {
	m := c.diag.metrics
	out := Metrics{
		TimersScheduled:   m.timersScheduled.Load(),
		TimersFired:       m.timersFired.Load(),
		TimersCancelled:   m.timersCancelled.Load(),
		TimerRetries:      m.timerRetries.Load(),
		RetriesExhausted:  m.retriesExhausted.Load(),
		HandlerFaults:     m.handlerFaults.Load(),
		RecursionAborts:   m.recursionAborts.Load(),
		EventsFired:       m.eventsFired.Load(),
		EventsBuffered:    m.eventsBuffered.Load(),
		BatchFlushes:      m.batchFlushes.Load(),
		ActiveTimers:      c.sched.Count(),
		ActiveTopics:      c.reg.TopicCount(),
		TimerPool:         c.sched.arena.Stats(),
		BatchPool:         c.batch.arena.Stats(),
		AvgDispatchTimeMs: float64(m.dispatchNs.Load()) / 1e6,
	}
	if c.diag.pool != nil {
		out.EventsDropped = c.diag.pool.Stats().Dropped
	}
	return out
}

// Health reports core health for diagnostics probes.
func (c *Core) Health(ctx context.Context) HealthStatus {
	if c.closed.Load() {
		return HealthStatus{
			Status:    "unhealthy",
			Timestamp: time.Now(),
			Message:   "core is closed",
		}
	}

	metrics := c.GetMetrics()
	status := "healthy"

	// Degraded when more than 5% of invocations fault.
	invocations := metrics.TimersFired + metrics.EventsFired
	if metrics.HandlerFaults > 0 && invocations > 0 {
		if float64(metrics.HandlerFaults)/float64(invocations) > 0.05 {
			status = "degraded"
		}
	}

	return HealthStatus{
		Status:    status,
		Metrics:   metrics,
		Timestamp: time.Now(),
	}
}

// AddObserver registers a diagnostics observer.
func (c *Core) AddObserver(obs Observer) { c.diag.addObserver(obs) }

// RemoveObserver removes a diagnostics observer.
func (c *Core) RemoveObserver(obs Observer) { c.diag.removeObserver(obs) }

// Close shuts the core down: stops maintenance, flushes pending batches,
// cancels all timers, clears subscriptions, and drains the observer
// pool. Idempotent.
func (c *Core) Close(ctx context.Context) error {
	var closeErr error

	c.closeOnce.Do(func() {
		c.mon.stop()
		c.batch.close()
		c.closed.Store(true)
		c.sched.close()
		c.reg.close()

		if c.diag.pool != nil {
			if err := c.diag.pool.Close(5 * time.Second); err != nil {
				c.logger.Warn().Err(err).Msg("xsched: observer pool shutdown timeout")
				closeErr = err
			}
		}
	})

	return closeErr
}
