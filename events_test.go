package xsched_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xsched"
	"github.com/trickstertwo/xsched/host/simulated"
)

func TestRegister_Validation(t *testing.T) {
	core := newTestCore(t, simulated.New(), testConfig())
	noop := xsched.Func(func(args ...any) error { return nil })

	assert.ErrorIs(t, core.Register("", "sub", noop), xsched.ErrInvalidTopic)
	assert.ErrorIs(t, core.Register("TOPIC", nil, noop), xsched.ErrInvalidSubscriber)
	assert.ErrorIs(t, core.Register("TOPIC", "sub", xsched.Callback{}), xsched.ErrNilCallback)
}

func TestFire_RegistrationOrder(t *testing.T) {
	core := newTestCore(t, simulated.New(), testConfig())

	var order []string
	sub := func(name string) xsched.Callback {
		return xsched.Func(func(args ...any) error {
			order = append(order, name)
			return nil
		})
	}
	require.NoError(t, core.Register("X", "A", sub("A")))
	require.NoError(t, core.Register("X", "B", sub("B")))
	require.NoError(t, core.Register("X", "C", sub("C")))

	core.Fire("X")
	assert.Equal(t, []string{"A", "B", "C"}, order)
}

func TestFire_ArgsReachEverySubscriber(t *testing.T) {
	core := newTestCore(t, simulated.New(), testConfig())

	var got [][]any
	for _, id := range []string{"A", "B"} {
		require.NoError(t, core.Register("X", id, xsched.Func(func(args ...any) error {
			got = append(got, args)
			return nil
		})))
	}

	core.Fire("X", "target", 12)
	require.Len(t, got, 2)
	assert.Equal(t, []any{"target", 12}, got[0])
	assert.Equal(t, []any{"target", 12}, got[1])
}

func TestRegister_ReplaceKeepsOrderPosition(t *testing.T) {
	core := newTestCore(t, simulated.New(), testConfig())

	var order []string
	sub := func(name string) xsched.Callback {
		return xsched.Func(func(args ...any) error {
			order = append(order, name)
			return nil
		})
	}
	require.NoError(t, core.Register("X", "A", sub("A")))
	require.NoError(t, core.Register("X", "B", sub("B-old")))
	require.NoError(t, core.Register("X", "C", sub("C")))
	require.NoError(t, core.Register("X", "B", sub("B-new")))

	core.Fire("X")
	assert.Equal(t, []string{"A", "B-new", "C"}, order)
}

func TestFire_SnapshotSemanticsAcrossMutation(t *testing.T) {
	core := newTestCore(t, simulated.New(), testConfig())

	var order []string
	record := func(name string) xsched.Callback {
		return xsched.Func(func(args ...any) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, core.Register("X", "A", record("A")))
	require.NoError(t, core.Register("X", "B", xsched.Func(func(args ...any) error {
		order = append(order, "B")
		// Mutations from inside a dispatch of the same topic must not
		// affect the in-progress pass.
		core.Unregister("X", "B")
		return core.Register("X", "D", record("D"))
	})))
	require.NoError(t, core.Register("X", "C", record("C")))

	core.Fire("X")
	assert.Equal(t, []string{"A", "B", "C"}, order, "first pass sees the entry snapshot")

	order = nil
	core.Fire("X")
	assert.Equal(t, []string{"A", "C", "D"}, order, "second pass sees the settled mutations")
}

func TestFire_SubscriberFaultIsolated(t *testing.T) {
	core := newTestCore(t, simulated.New(), testConfig())

	col := &eventCollector{}
	core.AddObserver(col)

	var order []string
	require.NoError(t, core.Register("X", "A", xsched.Func(func(args ...any) error {
		order = append(order, "A")
		return nil
	})))
	require.NoError(t, core.Register("X", "B", xsched.Func(func(args ...any) error {
		panic("subscriber bug")
	})))
	require.NoError(t, core.Register("X", "C", xsched.Func(func(args ...any) error {
		order = append(order, "C")
		return nil
	})))

	core.Fire("X")
	assert.Equal(t, []string{"A", "C"}, order, "later subscribers still run")

	faults := col.byType(xsched.HandlerFault)
	require.Len(t, faults, 1)
	assert.Equal(t, "B", faults[0].Subscriber)
	assert.Equal(t, uint64(1), core.GetMetrics().HandlerFaults)
}

func TestFire_NestedDispatchAllowed(t *testing.T) {
	core := newTestCore(t, simulated.New(), testConfig())

	var order []string
	require.NoError(t, core.Register("OUTER", "a", xsched.Func(func(args ...any) error {
		order = append(order, "outer")
		core.Fire("INNER")
		return nil
	})))
	require.NoError(t, core.Register("INNER", "b", xsched.Func(func(args ...any) error {
		order = append(order, "inner")
		return nil
	})))

	core.Fire("OUTER")
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestFire_RecursionCeilingAbortsInnermost(t *testing.T) {
	cfg := testConfig()
	cfg.RecursionLimit = 5
	core := newTestCore(t, simulated.New(), cfg)

	col := &eventCollector{}
	core.AddObserver(col)

	depth := 0
	require.NoError(t, core.Register("LOOP", "a", xsched.Func(func(args ...any) error {
		depth++
		core.Fire("LOOP")
		return nil
	})))

	core.Fire("LOOP")
	assert.Equal(t, 5, depth, "innermost frame aborted, outer frames complete")
	assert.Equal(t, 1, col.count(xsched.RecursionAborted))
	assert.Equal(t, uint64(1), core.GetMetrics().RecursionAborts)
}

func TestTopicHooks_FireOncePerTransition(t *testing.T) {
	core := newTestCore(t, simulated.New(), testConfig())

	var used, unused []string
	core.SetTopicHooks(
		func(topic string) { used = append(used, topic) },
		func(topic string) { unused = append(unused, topic) },
	)

	noop := xsched.Func(func(args ...any) error { return nil })
	require.NoError(t, core.Register("X", "A", noop))
	require.NoError(t, core.Register("X", "B", noop))
	assert.Equal(t, []string{"X"}, used, "only the zero-to-one transition")

	core.Unregister("X", "A")
	assert.Empty(t, unused)
	core.Unregister("X", "B")
	assert.Equal(t, []string{"X"}, unused, "only the one-to-zero transition")

	// Re-registering triggers the used hook again.
	require.NoError(t, core.Register("X", "A", noop))
	assert.Equal(t, []string{"X", "X"}, used)
}

func TestUnregister_UnknownIsNoOp(t *testing.T) {
	core := newTestCore(t, simulated.New(), testConfig())
	core.Unregister("X", "ghost")
	core.Unregister("", "ghost")

	noop := xsched.Func(func(args ...any) error { return nil })
	require.NoError(t, core.Register("X", "A", noop))
	core.Unregister("X", "ghost")
	assert.Equal(t, 1, core.GetMetrics().ActiveTopics)
}

func TestUnregisterAll_RemovesFromEveryTopic(t *testing.T) {
	core := newTestCore(t, simulated.New(), testConfig())

	calls := map[string]int{}
	sub := func(name string) xsched.Callback {
		return xsched.Func(func(args ...any) error {
			calls[name]++
			return nil
		})
	}
	require.NoError(t, core.Register("X", "A", sub("X/A")))
	require.NoError(t, core.Register("Y", "A", sub("Y/A")))
	require.NoError(t, core.Register("Y", "B", sub("Y/B")))

	core.UnregisterAll("A")
	core.Fire("X")
	core.Fire("Y")

	assert.Zero(t, calls["X/A"])
	assert.Zero(t, calls["Y/A"])
	assert.Equal(t, 1, calls["Y/B"])
	assert.Equal(t, 1, core.GetMetrics().ActiveTopics, "empty topics are dropped")
}

func TestFire_EmptyTopicAndNoSubscribers(t *testing.T) {
	core := newTestCore(t, simulated.New(), testConfig())
	core.Fire("")
	core.Fire("NOBODY", 1, 2, 3)
	assert.Zero(t, core.GetMetrics().EventsFired)
}
