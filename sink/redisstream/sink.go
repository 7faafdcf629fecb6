package redisstream

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xsched"
)

var _ xsched.Observer = (*Sink)(nil)

// Sink appends xsched events to a Redis stream. A single background
// writer drains a bounded buffer and pipelines XADDs; OnEvent never
// blocks the dispatch path.
type Sink struct {
	cfg    Config
	client *redis.Client

	events  chan xsched.Event
	done    chan struct{}
	stopped chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Uint64
	written   atomic.Uint64
	writeErrs atomic.Uint64
}

// SinkStats reports sink telemetry.
type SinkStats struct {
	Written   uint64
	Dropped   uint64
	WriteErrs uint64
	Buffered  int
}

// NewSink connects to Redis and starts the background writer.
func NewSink(cfg Config) (*Sink, error) {
	if cfg.Stream == "" {
		cfg.Stream = "xsched:events"
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1024
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 64
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 250 * time.Millisecond
	}

	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 5,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(client); err != nil {
		return nil, err
	}

	s := &Sink{
		cfg:    cfg,
		client: client,
		events:  make(chan xsched.Event, cfg.BufferSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.writer()
	return s, nil
}

func ping(client *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisstream: ping: %w", err)
	}
	return nil
}

// OnEvent implements xsched.Observer. Non-blocking: drops the event if
// the buffer is full.
func (s *Sink) OnEvent(e xsched.Event) {
	if s.closed.Load() {
		return
	}
	select {
	case s.events <- e:
	default:
		s.dropped.Add(1)
	}
}

func (s *Sink) writer() {
	defer close(s.stopped)
	ticker := time.NewTicker(s.cfg.FlushEvery)
	defer ticker.Stop()

	batch := make([]xsched.Event, 0, s.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-s.done:
			// Drain what is buffered, then a final flush.
			for {
				select {
				case e := <-s.events:
					batch = append(batch, e)
					if len(batch) >= s.cfg.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case e := <-s.events:
			batch = append(batch, e)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *Sink) flush(batch []xsched.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pipe := s.client.Pipeline()
	for i := range batch {
		e := &batch[i]

		vals := make(map[string]any, 9)
		vals[fieldType] = string(e.Type)
		vals[fieldAt] = time.Now().UnixNano()
		if e.Topic != "" {
			vals[fieldTopic] = e.Topic
		}
		if e.Handle != 0 {
			vals[fieldHandle] = strconv.FormatUint(uint64(e.Handle), 10)
		}
		if e.Subscriber != nil {
			vals[fieldSubscriber] = fmt.Sprint(e.Subscriber)
		}
		if e.Duration > 0 {
			vals[fieldDuration] = e.Duration.Nanoseconds()
		}
		if e.Attempt > 0 {
			vals[fieldAttempt] = e.Attempt
		}
		if e.Count > 0 {
			vals[fieldCount] = e.Count
		}
		if e.Err != nil {
			vals[fieldError] = e.Err.Error()
		}

		args := &redis.XAddArgs{
			Stream: s.cfg.Stream,
			ID:     "*",
			Values: vals,
		}
		if s.cfg.MaxLenApprox > 0 {
			args.MaxLen = s.cfg.MaxLenApprox
			args.Approx = true
		}
		pipe.XAdd(ctx, args)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		s.writeErrs.Add(1)
		return
	}
	s.written.Add(uint64(len(batch)))
}

// Close stops the writer, flushes buffered events, and closes the
// client. Idempotent.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		select {
		case <-s.stopped:
		case <-time.After(5 * time.Second):
		}
		err = s.client.Close()
	})
	return err
}

// Stats returns current sink statistics.
func (s *Sink) Stats() SinkStats {
	return SinkStats{
		Written:   s.written.Load(),
		Dropped:   s.dropped.Load(),
		WriteErrs: s.writeErrs.Load(),
		Buffered:  len(s.events),
	}
}
