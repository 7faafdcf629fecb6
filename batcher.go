package xsched

import (
	"sync"
	"time"
)

// batchEntry is one pooled buffered event record.
type batchEntry struct {
	payload any
}

// eventBatch is the bounded FIFO buffer for one topic, created lazily on
// the first buffered event and destroyed on flush.
type eventBatch struct {
	entries []*batchEntry
	timer   Handle // pending auto-flush timer, 0 when unarmed
}

// batcher buffers high-frequency events and flushes them in bounded
// batches on a fixed cadence, built atop the scheduler. A size-triggered
// flush takes priority over the cadence timer.
type batcher struct {
	mu       sync.Mutex
	sched    *scheduler
	reg      *registry
	diag     *diag
	maxSize  int
	interval time.Duration
	instant  map[string]struct{}
	batches  map[string]*eventBatch
	arena    *Arena[batchEntry]
	closed   bool
}

func newBatcher(sched *scheduler, reg *registry, cfg Config, d *diag) *batcher {
	instant := make(map[string]struct{}, len(cfg.InstantTopics))
	for _, t := range cfg.InstantTopics {
		instant[t] = struct{}{}
	}
	return &batcher{
		sched:    sched,
		reg:      reg,
		diag:     d,
		maxSize:  cfg.BatchMaxSize,
		interval: cfg.FlushInterval,
		instant:  instant,
		batches:  make(map[string]*eventBatch),
		arena:    NewArena[batchEntry](cfg.BatchArenaMax),
	}
}

// Buffer appends payload to the topic's batch, forcing an immediate
// flush when the batch reaches its maximum size. Instant topics bypass
// buffering and are delivered synchronously.
func (b *batcher) Buffer(topic string, payload any) {
	if topic == "" {
		return
	}
	if _, ok := b.instant[topic]; ok {
		b.reg.Fire(topic, payload)
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	eb := b.batches[topic]
	if eb == nil {
		eb = &eventBatch{}
		b.batches[topic] = eb
	}
	e := b.arena.Acquire()
	e.payload = payload
	eb.entries = append(eb.entries, e)
	b.diag.metrics.eventsBuffered.Add(1)

	if len(eb.entries) >= b.maxSize {
		entries, timer := b.detachLocked(topic, eb)
		b.mu.Unlock()
		if timer != 0 {
			b.sched.Cancel(timer)
		}
		b.deliver(topic, entries)
		return
	}

	if len(eb.entries) == 1 && b.interval > 0 {
		// First buffered event for the topic; arm the auto-flush timer.
		flushTopic := topic
		h, err := b.sched.Schedule(b, Func(func(args ...any) error {
			b.Flush(flushTopic)
			return nil
		}), b.interval, false)
		if err == nil {
			eb.timer = h
		}
	}
	b.mu.Unlock()
}

// Flush drains the topic's batch, delivering entries in insertion order
// through the registry, and cancels the pending auto-flush timer.
func (b *batcher) Flush(topic string) {
	b.mu.Lock()
	eb := b.batches[topic]
	if eb == nil {
		b.mu.Unlock()
		return
	}
	entries, timer := b.detachLocked(topic, eb)
	b.mu.Unlock()

	if timer != 0 {
		b.sched.Cancel(timer)
	}
	b.deliver(topic, entries)
}

// FlushAll drains every pending batch; used on shutdown.
func (b *batcher) FlushAll() {
	b.mu.Lock()
	topics := make([]string, 0, len(b.batches))
	for t := range b.batches {
		topics = append(topics, t)
	}
	b.mu.Unlock()
	for _, t := range topics {
		b.Flush(t)
	}
}

// PendingCount reports the number of currently buffered events for topic.
func (b *batcher) PendingCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if eb := b.batches[topic]; eb != nil {
		return len(eb.entries)
	}
	return 0
}

func (b *batcher) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.FlushAll()
	b.sched.CancelAll(b)
}

// detachLocked empties the batch and removes it from the table. Called
// with mu held.
func (b *batcher) detachLocked(topic string, eb *eventBatch) ([]*batchEntry, Handle) {
	entries := eb.entries
	timer := eb.timer
	eb.entries = nil
	eb.timer = 0
	delete(b.batches, topic)
	return entries, timer
}

func (b *batcher) deliver(topic string, entries []*batchEntry) {
	if len(entries) == 0 {
		return
	}
	for _, e := range entries {
		payload := e.payload
		b.arena.Release(e)
		b.reg.Fire(topic, payload)
	}
	b.diag.metrics.batchFlushes.Add(1)
	b.diag.notify(Event{Type: BatchFlushed, Topic: topic, Count: len(entries)})
}
