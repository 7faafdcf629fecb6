package xsched_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xsched"
	"github.com/trickstertwo/xsched/host/simulated"
)

func batchConfig() xsched.Config {
	cfg := testConfig()
	cfg.BatchMaxSize = 5
	cfg.FlushInterval = 100 * time.Millisecond
	return cfg
}

func TestBuffer_AutoFlushOnInterval(t *testing.T) {
	h := simulated.New()
	core := newTestCore(t, h, batchConfig())

	var got []any
	require.NoError(t, core.Register("EVT", "sub", xsched.Func(func(args ...any) error {
		got = append(got, args[0])
		return nil
	})))

	core.Buffer("EVT", "a")
	core.Buffer("EVT", "b")
	core.Buffer("EVT", "c")

	h.Advance(99 * time.Millisecond)
	assert.Empty(t, got, "nothing delivered before the flush interval")

	h.Advance(time.Millisecond)
	assert.Equal(t, []any{"a", "b", "c"}, got, "delivered in buffering order")

	h.Advance(time.Second)
	assert.Len(t, got, 3, "each event delivered exactly once")
	assert.Equal(t, uint64(1), core.GetMetrics().BatchFlushes)
}

func TestBuffer_MaxSizeForcesImmediateFlush(t *testing.T) {
	h := simulated.New()
	core := newTestCore(t, h, batchConfig())

	var got []any
	require.NoError(t, core.Register("EVT", "sub", xsched.Func(func(args ...any) error {
		got = append(got, args[0])
		return nil
	})))

	for i := 0; i < 5; i++ {
		core.Buffer("EVT", i)
	}
	// Size flush beats the cadence timer: delivery happens inside the
	// fifth Buffer call, with no clock movement at all.
	assert.Equal(t, []any{0, 1, 2, 3, 4}, got)

	h.Advance(time.Second)
	assert.Len(t, got, 5, "the cancelled cadence timer never re-delivers")
	assert.Equal(t, uint64(1), core.GetMetrics().BatchFlushes)
}

func TestBuffer_SeparateBatchesPerTopic(t *testing.T) {
	h := simulated.New()
	core := newTestCore(t, h, batchConfig())

	got := map[string][]any{}
	for _, topic := range []string{"A", "B"} {
		topic := topic
		require.NoError(t, core.Register(topic, "sub", xsched.Func(func(args ...any) error {
			got[topic] = append(got[topic], args[0])
			return nil
		})))
	}

	core.Buffer("A", 1)
	core.Buffer("B", 2)
	core.Buffer("A", 3)

	h.Advance(150 * time.Millisecond)
	assert.Equal(t, []any{1, 3}, got["A"])
	assert.Equal(t, []any{2}, got["B"])
	assert.Equal(t, uint64(2), core.GetMetrics().BatchFlushes)
}

func TestFlush_ManualDrain(t *testing.T) {
	h := simulated.New()
	core := newTestCore(t, h, batchConfig())

	var got []any
	require.NoError(t, core.Register("EVT", "sub", xsched.Func(func(args ...any) error {
		got = append(got, args[0])
		return nil
	})))

	core.Buffer("EVT", "a")
	core.Buffer("EVT", "b")
	core.Flush("EVT")
	assert.Equal(t, []any{"a", "b"}, got)

	h.Advance(time.Second)
	assert.Len(t, got, 2, "manual flush cancels the pending cadence timer")

	core.Flush("EVT") // empty flush is a no-op
	assert.Equal(t, uint64(1), core.GetMetrics().BatchFlushes)
}

func TestBuffer_InstantTopicBypassesBatching(t *testing.T) {
	h := simulated.New()
	cfg := batchConfig()
	cfg.InstantTopics = []string{"URGENT"}
	core := newTestCore(t, h, cfg)

	var got []any
	require.NoError(t, core.Register("URGENT", "sub", xsched.Func(func(args ...any) error {
		got = append(got, args[0])
		return nil
	})))

	core.Buffer("URGENT", "now")
	assert.Equal(t, []any{"now"}, got, "delivered synchronously")

	m := core.GetMetrics()
	assert.Equal(t, uint64(0), m.EventsBuffered)
	assert.Equal(t, uint64(1), m.EventsFired)
}

func TestBuffer_FlushEventCarriesCount(t *testing.T) {
	h := simulated.New()
	core := newTestCore(t, h, batchConfig())

	col := &eventCollector{}
	core.AddObserver(col)

	core.Buffer("EVT", "a")
	core.Buffer("EVT", "b")
	h.Advance(150 * time.Millisecond)

	flushes := col.byType(xsched.BatchFlushed)
	require.Len(t, flushes, 1)
	assert.Equal(t, "EVT", flushes[0].Topic)
	assert.Equal(t, 2, flushes[0].Count)
}

func TestBuffer_ReentrantBufferDuringDelivery(t *testing.T) {
	h := simulated.New()
	core := newTestCore(t, h, batchConfig())

	var got []any
	require.NoError(t, core.Register("EVT", "sub", xsched.Func(func(args ...any) error {
		got = append(got, args[0])
		if args[0] == "first" {
			core.Buffer("EVT", "chained")
		}
		return nil
	})))

	core.Buffer("EVT", "first")
	h.Advance(150 * time.Millisecond)
	assert.Equal(t, []any{"first"}, got, "chained event waits for its own batch window")

	h.Advance(150 * time.Millisecond)
	assert.Equal(t, []any{"first", "chained"}, got)
}

func TestBuffer_EmptyTopicIgnored(t *testing.T) {
	h := simulated.New()
	core := newTestCore(t, h, batchConfig())
	core.Buffer("", "x")
	assert.Zero(t, core.GetMetrics().EventsBuffered)
	assert.Zero(t, h.Pending())
}
