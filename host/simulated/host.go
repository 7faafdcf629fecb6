// Package simulated provides a deterministic, manually advanced Host for
// tests, benchmarks, and replay-style simulation. Time only moves when
// Advance is called; pending wakeups run in timestamp order on the
// caller's goroutine.
package simulated

import (
	"container/heap"
	"math/rand"
	"sync"
	"time"

	"github.com/trickstertwo/xsched"
)

var _ xsched.Host = (*Host)(nil)

// Host is a manual-advance implementation of xsched.Host.
type Host struct {
	mu         sync.Mutex
	now        time.Time
	seq        uint64
	queue      wakeupHeap
	restricted bool

	jitter time.Duration
	rng    *rand.Rand
}

// Option configures a simulated Host.
type Option func(*Host)

// WithStart sets the initial simulated time.
func WithStart(t time.Time) Option {
	return func(h *Host) { h.now = t }
}

// WithJitter perturbs every wakeup's delivery time by up to ±d, using a
// seeded generator for reproducibility. Delays never go negative.
func WithJitter(d time.Duration, seed int64) Option {
	return func(h *Host) {
		h.jitter = d
		h.rng = rand.New(rand.NewSource(seed))
	}
}

// New returns a simulated host starting at a fixed reference time.
func New(opts ...Option) *Host {
	h := &Host{
		now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// After schedules fn to run once the simulated clock reaches now+d.
func (h *Host) After(d time.Duration, fn func()) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	if h.jitter > 0 && h.rng != nil {
		j := time.Duration(h.rng.Int63n(int64(2*h.jitter))) - h.jitter
		d += j
		if d < 0 {
			d = 0
		}
	}
	h.seq++
	heap.Push(&h.queue, &wakeup{at: h.now.Add(d), seq: h.seq, fn: fn})
	h.mu.Unlock()
}

// Now returns the current simulated time.
func (h *Host) Now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

// RestrictedContext reports the simulated restriction flag.
func (h *Host) RestrictedContext() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.restricted
}

// SetRestricted toggles the restricted-context signal.
func (h *Host) SetRestricted(v bool) {
	h.mu.Lock()
	h.restricted = v
	h.mu.Unlock()
}

// Advance moves the simulated clock forward by d, running every pending
// wakeup whose time falls within the window, in timestamp order.
// Callbacks run without the host lock held, so they may schedule
// further wakeups.
func (h *Host) Advance(d time.Duration) {
	h.mu.Lock()
	target := h.now.Add(d)
	for {
		if h.queue.Len() == 0 {
			break
		}
		next := h.queue[0]
		if next.at.After(target) {
			break
		}
		heap.Pop(&h.queue)
		if next.at.After(h.now) {
			h.now = next.at
		}
		fn := next.fn
		h.mu.Unlock()
		fn()
		h.mu.Lock()
	}
	h.now = target
	h.mu.Unlock()
}

// Pending reports the number of queued wakeups.
func (h *Host) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.queue.Len()
}

type wakeup struct {
	at  time.Time
	seq uint64
	fn  func()
}

// wakeupHeap orders by time, then insertion order for stability.
type wakeupHeap []*wakeup

func (q wakeupHeap) Len() int { return len(q) }

func (q wakeupHeap) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q wakeupHeap) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *wakeupHeap) Push(x any) { *q = append(*q, x.(*wakeup)) }

func (q *wakeupHeap) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return w
}
