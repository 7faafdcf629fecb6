package xsched

import (
	"strconv"
	"sync"
	"time"
)

// scheduler owns all active timers. It computes drift-compensated next
// fire times and drives everything off the host's single fire-after
// primitive. State is guarded by mu, but the lock is never held across
// a callback invocation so handlers may re-enter the scheduler freely.
type scheduler struct {
	mu         sync.Mutex
	host       Host
	cfg        Config
	diag       *diag
	arena      *Arena[timerRecord]
	timers     map[Handle]*timerRecord
	nextHandle Handle
	frames     frameStats
	closed     bool
}

func newScheduler(host Host, cfg Config, d *diag) *scheduler {
	return &scheduler{
		host:   host,
		cfg:    cfg,
		diag:   d,
		arena:  NewArena[timerRecord](cfg.TimerArenaMax),
		timers: make(map[Handle]*timerRecord),
		frames: newFrameStats(cfg.FrameExtremeFactor, cfg.FrameExtremeRun, cfg.FrameStatsReset),
	}
}

// Schedule arms a one-shot or repeating timer. The delay is clamped to
// [MinDelay, MaxDelay] and rounded to the configured precision. The
// owner is used by CancelAll; for method callbacks the receiver is a
// natural owner.
func (s *scheduler) Schedule(owner any, cb Callback, delay time.Duration, repeating bool, args ...any) (Handle, error) {
	if !cb.valid() {
		return 0, ErrNilCallback
	}
	if delay < 0 {
		return 0, ErrInvalidDelay
	}
	delay = s.clamp(delay)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrCoreClosed
	}
	h := s.allocHandleLocked()
	rec := s.arena.Acquire()
	rec.handle = h
	rec.owner = owner
	rec.cb = cb
	rec.args = args
	rec.period = delay
	rec.repeating = repeating
	rec.tier = priorityFor(delay)
	now := s.host.Now()
	rec.start = now
	rec.nextFire = now.Add(delay)
	s.timers[h] = rec
	gen := rec.gen
	hostDelay := s.hostDelay(rec.tier, delay)
	s.mu.Unlock()

	s.diag.metrics.timersScheduled.Add(1)
	s.arm(h, gen, hostDelay)
	return h, nil
}

// Cancel removes a timer before its next invocation. It is idempotent:
// cancelling twice or cancelling an unknown handle returns false.
func (s *scheduler) Cancel(h Handle) bool {
	s.mu.Lock()
	rec, ok := s.timers[h]
	if !ok {
		s.mu.Unlock()
		return false
	}
	rec.cancelled = true
	delete(s.timers, h)
	firing := rec.firing
	s.mu.Unlock()

	s.diag.metrics.timersCancelled.Add(1)
	if !firing {
		// The pending host wakeup checks the generation and finds the
		// record gone; safe to recycle now.
		s.arena.Release(rec)
	}
	return true
}

// TimeLeft reports the remaining delay until the timer's next fire.
func (s *scheduler) TimeLeft(h Handle) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.timers[h]
	if !ok {
		return 0, false
	}
	d := rec.nextFire.Sub(s.host.Now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// CancelAll cancels every timer whose owner matches.
func (s *scheduler) CancelAll(owner any) {
	if owner == nil {
		return
	}
	s.mu.Lock()
	var handles []Handle
	for h, rec := range s.timers {
		if rec.owner == owner {
			handles = append(handles, h)
		}
	}
	s.mu.Unlock()
	for _, h := range handles {
		s.Cancel(h)
	}
}

// Count reports the number of active timers.
func (s *scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// maintain resets frame statistics that have gone stale because no
// timer has woken the scheduler within the reset interval.
func (s *scheduler) maintain() {
	s.mu.Lock()
	now := s.host.Now()
	if !s.frames.lastWake.IsZero() && now.Sub(s.frames.lastWake) >= s.frames.resetEvery {
		s.frames.reset(now)
		s.frames.lastWake = time.Time{}
	}
	s.mu.Unlock()
}

// close cancels all timers and rejects further scheduling.
func (s *scheduler) close() {
	s.mu.Lock()
	s.closed = true
	recs := make([]*timerRecord, 0, len(s.timers))
	for h, rec := range s.timers {
		rec.cancelled = true
		if !rec.firing {
			recs = append(recs, rec)
		}
		delete(s.timers, h)
	}
	s.mu.Unlock()
	for _, rec := range recs {
		s.arena.Release(rec)
	}
}

func (s *scheduler) clamp(d time.Duration) time.Duration {
	if d < s.cfg.MinDelay {
		d = s.cfg.MinDelay
	}
	if d > s.cfg.MaxDelay {
		d = s.cfg.MaxDelay
	}
	d = d.Round(s.cfg.Precision)
	if d < s.cfg.MinDelay {
		// A precision coarser than MinDelay can round down to zero; a
		// period must stay positive.
		d = s.cfg.MinDelay
	}
	return d
}

// allocHandleLocked issues the next handle, wrapping at maxHandle and
// skipping handles still present in the active set.
func (s *scheduler) allocHandleLocked() Handle {
	for {
		s.nextHandle++
		if s.nextHandle > maxHandle {
			s.nextHandle = 1
		}
		if _, exists := s.timers[s.nextHandle]; !exists {
			return s.nextHandle
		}
	}
}

// hostDelay returns the delay actually requested from the host. HIGH
// tier timers are eagerly re-armed at the minimum granularity every
// cycle and spin-check their target on wakeup.
func (s *scheduler) hostDelay(tier Priority, next time.Duration) time.Duration {
	if tier == PriorityHigh {
		return s.cfg.MinDelay
	}
	return next
}

func (s *scheduler) arm(h Handle, gen uint64, d time.Duration) {
	s.host.After(d, func() { s.fire(h, gen) })
}

// fire is the host wakeup entry for one timer arm.
func (s *scheduler) fire(h Handle, gen uint64) {
	s.mu.Lock()
	rec, ok := s.timers[h]
	if !ok || rec.gen != gen {
		// Cancelled, completed, or superseded arm; suppress.
		s.mu.Unlock()
		return
	}
	now := s.host.Now()
	s.frames.record(now)

	// Eagerly re-armed HIGH timers wake before their target; re-arm and
	// keep waiting. Half a precision unit of early fire is accepted.
	if now.Add(s.cfg.Precision / 2).Before(rec.nextFire) {
		rec.gen++
		g := rec.gen
		s.mu.Unlock()
		s.arm(h, g, s.cfg.MinDelay)
		return
	}

	// Deferred fault retry: hold while the host context is restricted.
	if rec.retrying && rec.tier == PriorityHigh && s.cfg.DeferRestrictedRetry && s.host.RestrictedContext() {
		rec.gen++
		g := rec.gen
		s.mu.Unlock()
		s.arm(h, g, s.cfg.MinDelay)
		return
	}

	rec.firing = true
	cb, args := rec.cb, rec.args
	s.mu.Unlock()

	err := protect(cb, args)
	after := s.host.Now()
	s.diag.metrics.timersFired.Add(1)
	s.diag.metrics.recordDispatch(after.Sub(now).Nanoseconds())

	s.mu.Lock()
	cur, stillActive := s.timers[h]
	if !stillActive || cur != rec {
		// Self-cancelled (or replaced) during its own callback; Cancel
		// left the release to us.
		s.mu.Unlock()
		s.arena.Release(rec)
		return
	}
	rec.firing = false

	if err != nil {
		s.settleFaultLocked(rec, now, err)
		return
	}

	rec.retries = 0
	rec.retrying = false

	if !rec.repeating {
		delete(s.timers, h)
		s.mu.Unlock()
		s.diag.notify(Event{Type: TimerFired, Handle: h, Duration: after.Sub(now)})
		s.arena.Release(rec)
		return
	}

	next := s.nextDelayLocked(rec, after)
	rec.nextFire = after.Add(next)
	rec.gen++
	g := rec.gen
	hostDelay := s.hostDelay(rec.tier, next)
	s.mu.Unlock()

	s.diag.notify(Event{Type: TimerFired, Handle: h, Duration: after.Sub(now)})
	s.arm(h, g, hostDelay)
}

// nextDelayLocked computes the drift-compensated delay to the next fire
// of a repeating timer. Cumulative drift is bounded to one precision
// unit per correction instead of compounding.
func (s *scheduler) nextDelayLocked(rec *timerRecord, now time.Time) time.Duration {
	period := rec.period
	elapsed := now.Sub(rec.start)
	if elapsed < 0 {
		elapsed = 0
	}
	cycles := int64(elapsed / period)
	target := rec.start.Add(time.Duration(cycles+1) * period)
	next := target.Sub(now)

	if next < s.cfg.MinDelay {
		// Behind schedule; restart the cycle origin so error does not
		// accumulate across corrections.
		next = s.cfg.MinDelay
		rec.start = now
	} else if next > period+s.cfg.Precision {
		next = period
		rec.start = now
	}

	if f := s.frames.floor(); next < f {
		next = f
	}
	return next
}

// settleFaultLocked handles a callback error: bounded retry, restricted
// context policy, or permanent removal. Called with mu held; releases it.
func (s *scheduler) settleFaultLocked(rec *timerRecord, now time.Time, err error) {
	h := rec.handle
	s.diag.metrics.handlerFaults.Add(1)

	restricted := rec.tier == PriorityHigh && s.host.RestrictedContext()
	if restricted && !s.cfg.DeferRestrictedRetry {
		// Drop the retry outright. One-shot timers end here; repeating
		// timers resume their normal cadence next period.
		if !rec.repeating {
			delete(s.timers, h)
			attempts := rec.retries
			s.mu.Unlock()
			s.reportFault(h, err, attempts)
			s.arena.Release(rec)
			return
		}
		next := s.nextDelayLocked(rec, now)
		rec.nextFire = now.Add(next)
		rec.gen++
		g := rec.gen
		attempts := rec.retries
		hostDelay := s.hostDelay(rec.tier, next)
		s.mu.Unlock()
		s.reportFault(h, err, attempts)
		s.arm(h, g, hostDelay)
		return
	}

	if rec.retries >= s.cfg.RetryCeiling {
		delete(s.timers, h)
		attempts := rec.retries
		s.mu.Unlock()
		s.reportFault(h, err, attempts)
		s.diag.metrics.retriesExhausted.Add(1)
		s.diag.notify(Event{Type: TimerExhausted, Handle: h, Attempt: attempts, Err: err})
		s.diag.logger.Warn().
			Err(err).
			Str("handle", strconv.FormatUint(uint64(h), 10)).
			Msg("xsched: timer retries exhausted, removing")
		s.arena.Release(rec)
		return
	}

	rec.retries++
	rec.retrying = true
	rec.nextFire = now.Add(s.cfg.MinDelay)
	rec.gen++
	g := rec.gen
	attempt := rec.retries
	s.mu.Unlock()

	s.reportFault(h, err, attempt-1)
	s.diag.metrics.timerRetries.Add(1)
	s.diag.notify(Event{Type: TimerRetry, Handle: h, Attempt: attempt, Err: err})
	s.arm(h, g, s.cfg.MinDelay)
}

func (s *scheduler) reportFault(h Handle, err error, attempt int) {
	s.diag.notify(Event{Type: HandlerFault, Handle: h, Attempt: attempt, Err: err})
	s.diag.logger.Warn().
		Err(err).
		Str("handle", strconv.FormatUint(uint64(h), 10)).
		Msg("xsched: timer callback fault")
}
