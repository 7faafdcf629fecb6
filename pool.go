package xsched

import (
	"sync"
	"sync/atomic"
)

// arenaSlabSize is the number of slots allocated per growth step. Slabs
// are fixed-size so pointers into them stay valid as the arena grows.
const arenaSlabSize = 64

// Arena is a reusable-object pool backed by slab storage and an
// index-based free list. Acquire always returns a structurally empty
// object; Release clears the slot and returns its index to the free
// list. When every tracked slot is live, Acquire falls back to a fresh
// heap allocation, which is simply discarded on Release.
type Arena[T any] struct {
	mu    sync.Mutex
	slabs [][]T
	inUse []bool
	index map[*T]int
	free  []int
	max   int

	hits   atomic.Uint64
	misses atomic.Uint64
}

// ArenaStats reports arena occupancy and traffic.
type ArenaStats struct {
	Capacity int    // tracked slots
	Live     int    // slots currently handed out
	Hits     uint64 // acquisitions served from the free list
	Misses   uint64 // acquisitions that fell back to fresh allocation
}

// NewArena returns an arena retaining at most max tracked slots. A
// non-positive max selects a single slab.
func NewArena[T any](max int) *Arena[T] {
	if max < arenaSlabSize {
		max = arenaSlabSize
	}
	a := &Arena[T]{
		max:   max,
		index: make(map[*T]int),
	}
	a.grow()
	return a
}

// grow adds one slab of capacity, bounded by max. Called with mu held
// (or from the constructor).
func (a *Arena[T]) grow() {
	if len(a.inUse) >= a.max {
		return
	}
	slab := make([]T, arenaSlabSize)
	base := len(a.inUse)
	a.slabs = append(a.slabs, slab)
	for i := range slab {
		a.index[&slab[i]] = base + i
		a.free = append(a.free, base+i)
	}
	a.inUse = append(a.inUse, make([]bool, arenaSlabSize)...)
}

// Acquire returns a cleared object. Growth is proactive: when the free
// list drops below half of the configured maximum, a whole slab is
// pre-allocated rather than growing one object at a time.
func (a *Arena[T]) Acquire() *T {
	a.mu.Lock()
	if len(a.free) < a.max/2 {
		a.grow()
	}
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.inUse[idx] = true
		p := a.at(idx)
		var zero T
		*p = zero
		a.mu.Unlock()
		a.hits.Add(1)
		return p
	}
	a.mu.Unlock()

	// Every tracked slot is live; hand out an untracked object.
	a.misses.Add(1)
	return new(T)
}

// Release clears obj and returns its slot to the free list. Untracked
// objects are discarded. Releasing the same object twice is a no-op;
// the slot stays cleared until independently re-acquired.
func (a *Arena[T]) Release(obj *T) {
	if obj == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, ok := a.index[obj]
	if !ok || !a.inUse[idx] {
		return
	}
	var zero T
	*obj = zero
	a.inUse[idx] = false
	a.free = append(a.free, idx)
}

func (a *Arena[T]) at(idx int) *T {
	return &a.slabs[idx/arenaSlabSize][idx%arenaSlabSize]
}

// Stats returns a snapshot of arena occupancy.
func (a *Arena[T]) Stats() ArenaStats {
	a.mu.Lock()
	capacity := len(a.inUse)
	live := capacity - len(a.free)
	a.mu.Unlock()
	return ArenaStats{
		Capacity: capacity,
		Live:     live,
		Hits:     a.hits.Load(),
		Misses:   a.misses.Load(),
	}
}
