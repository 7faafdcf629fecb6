package redisstream

import (
	"fmt"

	"github.com/trickstertwo/xsched"
)

// Attach builds a Sink and registers it as an observer on core. The
// caller owns the returned Sink and should Close it after the core.
//
// Example:
//
//	sink, err := redisstream.Attach(core, redisstream.Defaults("localhost:6379"))
func Attach(core *xsched.Core, cfg Config) (*Sink, error) {
	if core == nil {
		return nil, fmt.Errorf("redisstream: nil core")
	}
	s, err := NewSink(cfg)
	if err != nil {
		return nil, err
	}
	core.AddObserver(s)
	return s, nil
}
