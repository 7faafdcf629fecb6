package xsched

import (
	"fmt"
	"sync"
)

// subscription is one (identity, thunk) registration on a topic.
type subscription struct {
	id any
	cb Callback
}

// topicState keeps subscribers in registration order plus an identity
// index for replace/remove. firing counts in-progress dispatch passes
// for the topic.
type topicState struct {
	order  []subscription
	index  map[any]int
	firing int
}

// pendingOp is a registration mutation diverted because its topic was
// mid-dispatch. Ops are drained in order once recursion depth returns
// to zero.
type pendingOp struct {
	topic      string
	id         any
	cb         Callback
	unregister bool
}

// topicTransition records a zero-to-one or one-to-zero subscriber count
// change, delivered to the OnUsed/OnUnused hooks outside the lock.
type topicTransition struct {
	topic string
	used  bool
}

// registry is the per-topic subscriber map with recursion-safe mutation
// during dispatch. The lock is never held while subscriber thunks run.
type registry struct {
	mu      sync.Mutex
	host    Host
	diag    *diag
	limit   int
	topics  map[string]*topicState
	depth   int
	pending []pendingOp

	onUsed   func(topic string)
	onUnused func(topic string)

	scratch sync.Pool // *[]subscription dispatch snapshots
}

func newRegistry(host Host, limit int, d *diag) *registry {
	if limit < 1 {
		limit = defaultRecursionLimit
	}
	return &registry{
		host:   host,
		diag:   d,
		limit:  limit,
		topics: make(map[string]*topicState),
		scratch: sync.Pool{
			New: func() any {
				s := make([]subscription, 0, 8)
				return &s
			},
		},
	}
}

// setHooks installs the topic used/unused lifecycle hooks. Hooks fire
// exactly once per zero-to-one and one-to-zero transition.
func (r *registry) setHooks(onUsed, onUnused func(topic string)) {
	r.mu.Lock()
	r.onUsed = onUsed
	r.onUnused = onUnused
	r.mu.Unlock()
}

// Register adds or replaces the thunk for (topic, id). Registration
// during a dispatch of the same topic is queued and becomes visible
// once the dispatch stack unwinds.
func (r *registry) Register(topic string, id any, cb Callback) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if id == nil {
		return ErrInvalidSubscriber
	}
	if !cb.valid() {
		return ErrNilCallback
	}

	r.mu.Lock()
	if ts := r.topics[topic]; ts != nil && ts.firing > 0 {
		r.pending = append(r.pending, pendingOp{topic: topic, id: id, cb: cb})
		r.mu.Unlock()
		return nil
	}
	used := r.applyRegisterLocked(topic, id, cb)
	r.mu.Unlock()

	if used {
		r.transition(topicTransition{topic: topic, used: true})
	}
	return nil
}

// Unregister removes the registration for (topic, id), if any.
func (r *registry) Unregister(topic string, id any) {
	if topic == "" || id == nil {
		return
	}
	r.mu.Lock()
	if ts := r.topics[topic]; ts != nil && ts.firing > 0 {
		r.pending = append(r.pending, pendingOp{topic: topic, id: id, unregister: true})
		r.mu.Unlock()
		return
	}
	unused := r.applyUnregisterLocked(topic, id)
	r.mu.Unlock()

	if unused {
		r.transition(topicTransition{topic: topic, used: false})
	}
}

// UnregisterAll removes the given identities from every topic.
func (r *registry) UnregisterAll(ids ...any) {
	if len(ids) == 0 {
		return
	}
	r.mu.Lock()
	var transitions []topicTransition
	for topic, ts := range r.topics {
		for _, id := range ids {
			if id == nil {
				continue
			}
			if ts.firing > 0 {
				r.pending = append(r.pending, pendingOp{topic: topic, id: id, unregister: true})
				continue
			}
			if r.applyUnregisterLocked(topic, id) {
				transitions = append(transitions, topicTransition{topic: topic, used: false})
			}
		}
	}
	r.mu.Unlock()

	for _, tr := range transitions {
		r.transition(tr)
	}
}

// Fire synchronously invokes every subscriber registered for topic at
// call entry, in registration order, each isolated by a protected call.
// Fire is reentrant; exceeding the recursion ceiling aborts only the
// innermost frame.
func (r *registry) Fire(topic string, args ...any) {
	if topic == "" {
		return
	}
	r.mu.Lock()
	if r.depth >= r.limit {
		r.mu.Unlock()
		r.diag.metrics.recursionAborts.Add(1)
		r.diag.notify(Event{Type: RecursionAborted, Topic: topic})
		r.diag.logger.Warn().
			Str("topic", topic).
			Msg("xsched: dispatch recursion ceiling hit, aborting fire")
		return
	}
	ts := r.topics[topic]
	if ts == nil || len(ts.order) == 0 {
		r.mu.Unlock()
		return
	}
	r.depth++
	ts.firing++
	snapp := r.scratch.Get().(*[]subscription)
	snap := append((*snapp)[:0], ts.order...)
	r.mu.Unlock()

	r.diag.metrics.eventsFired.Add(1)
	start := r.host.Now()
	for _, sub := range snap {
		if err := protect(sub.cb, args); err != nil {
			r.diag.metrics.handlerFaults.Add(1)
			r.diag.notify(Event{Type: HandlerFault, Topic: topic, Subscriber: sub.id, Err: err})
			r.diag.logger.Warn().
				Err(err).
				Str("topic", topic).
				Str("subscriber", fmt.Sprint(sub.id)).
				Msg("xsched: subscriber fault")
		}
	}
	r.diag.metrics.recordDispatch(r.host.Now().Sub(start).Nanoseconds())

	*snapp = snap[:0]
	r.scratch.Put(snapp)

	r.mu.Lock()
	ts.firing--
	r.depth--
	var transitions []topicTransition
	if r.depth == 0 && len(r.pending) > 0 {
		transitions = r.drainLocked()
	}
	r.mu.Unlock()

	for _, tr := range transitions {
		r.transition(tr)
	}
}

// SubscriberCount reports the current number of subscribers for topic.
func (r *registry) SubscriberCount(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ts := r.topics[topic]; ts != nil {
		return len(ts.order)
	}
	return 0
}

// TopicCount reports the number of topics with at least one subscriber.
func (r *registry) TopicCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics)
}

func (r *registry) close() {
	r.mu.Lock()
	r.topics = make(map[string]*topicState)
	r.pending = nil
	r.mu.Unlock()
}

// applyRegisterLocked inserts or replaces; reports a zero-to-one
// transition. Re-registration keeps the original order position.
func (r *registry) applyRegisterLocked(topic string, id any, cb Callback) bool {
	ts := r.topics[topic]
	if ts == nil {
		ts = &topicState{index: make(map[any]int)}
		r.topics[topic] = ts
	}
	if i, ok := ts.index[id]; ok {
		ts.order[i].cb = cb
		return false
	}
	ts.index[id] = len(ts.order)
	ts.order = append(ts.order, subscription{id: id, cb: cb})
	return len(ts.order) == 1
}

// applyUnregisterLocked removes; reports a one-to-zero transition.
func (r *registry) applyUnregisterLocked(topic string, id any) bool {
	ts := r.topics[topic]
	if ts == nil {
		return false
	}
	i, ok := ts.index[id]
	if !ok {
		return false
	}
	ts.order = append(ts.order[:i], ts.order[i+1:]...)
	delete(ts.index, id)
	for j := i; j < len(ts.order); j++ {
		ts.index[ts.order[j].id] = j
	}
	if len(ts.order) == 0 {
		delete(r.topics, topic)
		return true
	}
	return false
}

// drainLocked applies queued mutations in arrival order. Only called at
// recursion depth zero, so the applied state is what the next Fire sees.
func (r *registry) drainLocked() []topicTransition {
	var transitions []topicTransition
	for _, op := range r.pending {
		if op.unregister {
			if r.applyUnregisterLocked(op.topic, op.id) {
				transitions = append(transitions, topicTransition{topic: op.topic, used: false})
			}
			continue
		}
		if r.applyRegisterLocked(op.topic, op.id, op.cb) {
			transitions = append(transitions, topicTransition{topic: op.topic, used: true})
		}
	}
	r.pending = r.pending[:0]
	return transitions
}

func (r *registry) transition(tr topicTransition) {
	r.mu.Lock()
	onUsed, onUnused := r.onUsed, r.onUnused
	r.mu.Unlock()

	if tr.used {
		r.diag.notify(Event{Type: TopicUsed, Topic: tr.topic})
		if onUsed != nil {
			onUsed(tr.topic)
		}
		return
	}
	r.diag.notify(Event{Type: TopicUnused, Topic: tr.topic})
	if onUnused != nil {
		onUnused(tr.topic)
	}
}
