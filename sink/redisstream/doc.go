// Package redisstream ships xsched diagnostics events to a Redis stream
// via XADD, with approximate trimming to keep the stream bounded.
//
// The sink is an xsched.Observer: attach it to a Core (ideally together
// with the async observer pool) and every lifecycle event is appended to
// the configured stream by a background writer. OnEvent never blocks;
// events are dropped when the buffer is full.
package redisstream
