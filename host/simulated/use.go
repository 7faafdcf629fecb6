package simulated

import (
	"fmt"

	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xsched"
)

// Use builds a Core driven by a fresh simulated host and installs it as
// the process-wide default. Mirrors the adapter Use pattern: explicit
// construction with global install.
//
// Example:
//
//	host := simulated.New()
//	core := simulated.Use(host, xsched.Defaults(),
//	    simulated.WithLogger(logger),
//	)
//	host.Advance(time.Second)
func Use(host *Host, cfg xsched.Config, opts ...BuildOption) *xsched.Core {
	cb := xsched.NewCoreBuilder().
		WithHost(host).
		WithConfig(cfg)

	for _, o := range opts {
		if o != nil {
			o(cb)
		}
	}

	core, err := cb.Build()
	if err != nil {
		panic(fmt.Errorf("simulated.Use: %w", err))
	}

	xsched.SetDefault(core)
	return core
}

// BuildOption configures the xsched.Core when calling Use.
type BuildOption func(*xsched.CoreBuilder)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) BuildOption {
	return func(b *xsched.CoreBuilder) { b.WithLogger(l) }
}

// WithObserver attaches observers for lifecycle events.
func WithObserver(obs ...xsched.Observer) BuildOption {
	return func(b *xsched.CoreBuilder) { b.WithObserver(obs...) }
}

// WithObserverPool configures async observer dispatch.
func WithObserverPool(workers, bufferSize int) BuildOption {
	return func(b *xsched.CoreBuilder) { b.WithObserverPool(workers, bufferSize) }
}

// WithTopicHooks installs topic used/unused lifecycle hooks.
func WithTopicHooks(onUsed, onUnused func(topic string)) BuildOption {
	return func(b *xsched.CoreBuilder) { b.WithTopicHooks(onUsed, onUnused) }
}
