package xsched

import (
	"time"

	"github.com/trickstertwo/xclock"
)

// Host is the environment boundary: a single fire-after primitive, a
// clock, and a restricted-context signal. All core execution happens
// inside callbacks the host invokes; the core never blocks and owns no
// threads of its own.
type Host interface {
	// After invokes fn once, at least d later. The host decides on which
	// execution context fn runs; the core serializes its own state.
	After(d time.Duration, fn func())
	// Now returns the current time from the host's clock.
	Now() time.Time
	// RestrictedContext reports whether immediate execution of sensitive
	// operations is currently disallowed by the host.
	RestrictedContext() bool
}

// clockHost is the production Host backed by xclock and the runtime
// timer. It never reports a restricted context.
type clockHost struct {
	clock xclock.Clock
}

// NewClockHost returns a Host driven by the given xclock clock. A nil
// clock selects xclock.Default().
func NewClockHost(c xclock.Clock) Host {
	if c == nil {
		c = xclock.Default()
	}
	return &clockHost{clock: c}
}

func (h *clockHost) After(d time.Duration, fn func()) {
	if d < 0 {
		d = 0
	}
	time.AfterFunc(d, fn)
}

func (h *clockHost) Now() time.Time { return h.clock.Now() }

func (h *clockHost) RestrictedContext() bool { return false }
