package xsched

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xlog"
)

// EventType enumerates internal lifecycle events for observers.
type EventType string

const (
	TimerFired       EventType = "timer_fired"
	TimerRetry       EventType = "timer_retry"
	TimerExhausted   EventType = "timer_exhausted"
	HandlerFault     EventType = "handler_fault"
	RecursionAborted EventType = "recursion_aborted"
	BatchFlushed     EventType = "batch_flushed"
	TopicUsed        EventType = "topic_used"
	TopicUnused      EventType = "topic_unused"
	MaintenancePass  EventType = "maintenance_pass"
)

// Event carries diagnostics for observers. Component-internal faults are
// reported here rather than propagated to callers.
type Event struct {
	Type       EventType
	Topic      string
	Handle     Handle
	Subscriber any
	Duration   time.Duration
	Attempt    int
	Count      int
	Err        error

	// Internal: attached for async dispatch
	observers []Observer
}

// Observer receives core lifecycle events. Implementations should be
// non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver emits core events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("topic", e.Topic),
		xlog.Str("handle", strconv.FormatUint(uint64(e.Handle), 10)),
	)
	if e.Subscriber != nil {
		ev = ev.With(xlog.Str("subscriber", fmt.Sprint(e.Subscriber)))
	}
	switch e.Type {
	case HandlerFault, RecursionAborted, TimerExhausted:
		ev.Warn().Err(e.Err).Msg("xsched event")
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Msg("xsched event")
	}
}

// diag is the shared diagnostics fan-out: logger, metrics, and observer
// notification. Notification is synchronous and panic-isolated by
// default; an async ObserverPool may be attached to keep slow observers
// off the dispatch path entirely.
type diag struct {
	logger  *xlog.Logger
	metrics *coreMetrics

	mu        sync.RWMutex
	observers []Observer
	pool      *ObserverPool
}

func (d *diag) addObserver(obs Observer) {
	if obs == nil {
		return
	}
	d.mu.Lock()
	d.observers = append(d.observers, obs)
	d.mu.Unlock()
}

func (d *diag) removeObserver(obs Observer) {
	if obs == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, o := range d.observers {
		if o == obs {
			d.observers = append(d.observers[:i], d.observers[i+1:]...)
			break
		}
	}
}

func (d *diag) notify(e Event) {
	d.mu.RLock()
	n := len(d.observers)
	if n == 0 {
		d.mu.RUnlock()
		return
	}
	if d.pool != nil {
		observers := make([]Observer, n)
		copy(observers, d.observers)
		d.mu.RUnlock()
		d.pool.Notify(e, observers)
		return
	}
	// Avoid the copy when only one observer is attached.
	if n == 1 {
		obs := d.observers[0]
		d.mu.RUnlock()
		dispatchToObserver(obs, e)
		return
	}
	observers := make([]Observer, n)
	copy(observers, d.observers)
	d.mu.RUnlock()
	for _, obs := range observers {
		dispatchToObserver(obs, e)
	}
}

func dispatchToObserver(obs Observer, e Event) {
	if obs == nil {
		return
	}
	defer func() {
		// Observer panic must not abort dispatch or scheduling.
		_ = recover()
	}()
	obs.OnEvent(e)
}

// ObserverPool dispatches events to observers asynchronously so a slow
// observer cannot stall the fire path. Non-blocking: events are dropped
// when the buffer is full.
type ObserverPool struct {
	eventCh   chan *Event
	workers   int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	dropped   atomic.Uint64
	processed atomic.Uint64
}

// ObserverPoolStats reports pool telemetry.
type ObserverPoolStats struct {
	Dropped      uint64
	Processed    uint64
	ActiveEvents int
	Workers      int
	BufferSize   int
}

// NewObserverPool creates a pool for async observer notification.
func NewObserverPool(ctx context.Context, workers, bufferSize int) *ObserverPool {
	if workers < 1 {
		workers = 2
	}
	if bufferSize < 1 {
		bufferSize = 1000
	}

	poolCtx, cancel := context.WithCancel(ctx)
	op := &ObserverPool{
		eventCh: make(chan *Event, bufferSize),
		workers: workers,
		ctx:     poolCtx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		op.wg.Add(1)
		go op.worker()
	}

	return op
}

// Notify queues an event for asynchronous dispatch. Returns immediately;
// drops the event if the buffer is full.
func (op *ObserverPool) Notify(e Event, observers []Observer) {
	if len(observers) == 0 {
		return
	}
	e.observers = observers

	select {
	case op.eventCh <- &e:
	default:
		op.dropped.Add(1)
	}
}

func (op *ObserverPool) worker() {
	defer op.wg.Done()
	for {
		select {
		case <-op.ctx.Done():
			// Drain remaining events before exiting.
			for {
				select {
				case e := <-op.eventCh:
					op.dispatchEvent(e)
				default:
					return
				}
			}
		case e := <-op.eventCh:
			op.dispatchEvent(e)
			op.processed.Add(1)
		}
	}
}

func (op *ObserverPool) dispatchEvent(e *Event) {
	if e == nil {
		return
	}
	for _, obs := range e.observers {
		dispatchToObserver(obs, *e)
	}
}

// Close shuts down the pool, waiting up to timeout for queued events.
func (op *ObserverPool) Close(timeout time.Duration) error {
	if op.closed.Swap(true) {
		return nil
	}

	op.cancel()

	done := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrObserverPoolShutdownTimeout
	}
}

// Stats returns current pool statistics.
func (op *ObserverPool) Stats() ObserverPoolStats {
	return ObserverPoolStats{
		Dropped:      op.dropped.Load(),
		Processed:    op.processed.Load(),
		ActiveEvents: len(op.eventCh),
		Workers:      op.workers,
		BufferSize:   cap(op.eventCh),
	}
}
