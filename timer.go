package xsched

import "time"

// Handle identifies an active timer. Handles increase monotonically and
// wrap at maxHandle, well before overflow; a handle is never reissued
// while still present in the active set.
type Handle uint64

// maxHandle is 2^53 - 1, keeping handles exactly representable even for
// embedders that round-trip them through float64.
const maxHandle Handle = 1<<53 - 1

// Priority classifies a timer by its requested delay and controls how
// aggressively it is re-armed against the host.
type Priority int8

const (
	// PriorityHigh timers (delay <= 100ms) are re-armed at the host's
	// minimum granularity every cycle to minimize latency.
	PriorityHigh Priority = iota
	// PriorityNormal timers (delay <= 1s) use the host's native delay.
	PriorityNormal
	// PriorityLow timers (delay > 1s) use the host's native delay.
	PriorityLow
)

const (
	highTierMax   = 100 * time.Millisecond
	normalTierMax = time.Second
)

func priorityFor(delay time.Duration) Priority {
	switch {
	case delay <= highTierMax:
		return PriorityHigh
	case delay <= normalTierMax:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// timerRecord is the pooled per-timer state. It is mutated only by the
// scheduler's own fire/reschedule logic and by Cancel.
type timerRecord struct {
	handle    Handle
	owner     any
	cb        Callback
	args      []any
	period    time.Duration // clamped and rounded to precision
	repeating bool
	tier      Priority

	start    time.Time // cycle origin for drift compensation
	nextFire time.Time

	retries int
	gen     uint64 // arm generation; stale host wakeups are ignored

	cancelled bool
	firing    bool
	retrying  bool // current arm is a fault retry, not a period cycle
}
