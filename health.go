package xsched

import (
	"strconv"
	"sync/atomic"
	"time"
)

// coreMetrics uses lock-free atomics for telemetry on the hot paths.
type coreMetrics struct {
	timersScheduled  atomic.Uint64
	timersFired      atomic.Uint64
	timersCancelled  atomic.Uint64
	timerRetries     atomic.Uint64
	retriesExhausted atomic.Uint64
	handlerFaults    atomic.Uint64
	recursionAborts  atomic.Uint64
	eventsFired      atomic.Uint64
	eventsBuffered   atomic.Uint64
	batchFlushes     atomic.Uint64
	dispatchNs       atomic.Int64
}

// recordDispatch folds one invocation latency into an exponential moving
// average, 20% weight to the new sample.
func (m *coreMetrics) recordDispatch(ns int64) {
	const alpha = 0.2
	current := m.dispatchNs.Load()
	if current == 0 {
		m.dispatchNs.Store(ns)
		return
	}
	m.dispatchNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}

// Metrics is the observable telemetry snapshot of a Core.
type Metrics struct {
	TimersScheduled  uint64
	TimersFired      uint64
	TimersCancelled  uint64
	TimerRetries     uint64
	RetriesExhausted uint64
	HandlerFaults    uint64
	RecursionAborts  uint64
	EventsFired      uint64
	EventsBuffered   uint64
	BatchFlushes     uint64
	EventsDropped    uint64 // observer pool drops

	ActiveTimers int
	ActiveTopics int
	TimerPool    ArenaStats
	BatchPool    ArenaStats

	AvgDispatchTimeMs float64
}

// HealthStatus indicates core health for diagnostics surfaces.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}

// monitor runs the periodic maintenance pass on the core's own
// scheduler: frame-stat staleness reset and a telemetry snapshot.
type monitor struct {
	sched  *scheduler
	diag   *diag
	every  time.Duration
	handle Handle
}

func newMonitor(sched *scheduler, every time.Duration, d *diag) *monitor {
	return &monitor{sched: sched, every: every, diag: d}
}

func (m *monitor) start() {
	if m.every <= 0 {
		return
	}
	h, err := m.sched.Schedule(m, Func(func(args ...any) error {
		m.maintain()
		return nil
	}), m.every, true)
	if err == nil {
		m.handle = h
	}
}

func (m *monitor) stop() {
	if m.handle != 0 {
		m.sched.Cancel(m.handle)
		m.handle = 0
	}
}

func (m *monitor) maintain() {
	m.sched.maintain()
	stats := m.sched.arena.Stats()
	m.diag.notify(Event{Type: MaintenancePass, Count: stats.Live})
	m.diag.logger.Debug().
		Str("active_timers", strconv.Itoa(m.sched.Count())).
		Str("timer_pool_live", strconv.Itoa(stats.Live)).
		Str("timer_pool_capacity", strconv.Itoa(stats.Capacity)).
		Msg("xsched: maintenance pass")
}
