// Package timer keeps one cancellable expiry per key.
package timer

import (
	"sync"
	"time"

	"github.com/matheus3301/casesync/internal/clock"
)

// Dispatcher runs an expiry callback in the owner's execution context.
type Dispatcher func(func())

// Direct runs callbacks on the clock's goroutine.
func Direct(fn func()) { fn() }

// Registry holds at most one pending timer per key. Scheduling a key that
// already has a timer replaces it. A fire that was superseded by a later
// Schedule or Cancel is dropped when it reaches the dispatcher, so queued
// stale expiries never act on a refreshed key.
type Registry[K comparable] struct {
	clock    clock.Clock
	dispatch Dispatcher

	mu      sync.Mutex
	gen     uint64
	entries map[K]entry
}

type entry struct {
	gen   uint64
	timer *clock.Timer
}

// New creates a registry. A nil dispatch runs callbacks directly.
func New[K comparable](clk clock.Clock, dispatch Dispatcher) *Registry[K] {
	if dispatch == nil {
		dispatch = Direct
	}
	return &Registry[K]{
		clock:    clk,
		dispatch: dispatch,
		entries:  make(map[K]entry),
	}
}

// Schedule arms fn to run for key after d, replacing any pending timer.
func (r *Registry[K]) Schedule(key K, d time.Duration, fn func(K)) {
	r.mu.Lock()
	if old, ok := r.entries[key]; ok {
		old.timer.Stop()
	}
	r.gen++
	gen := r.gen
	r.entries[key] = entry{gen: gen}
	r.mu.Unlock()

	t := r.clock.AfterFunc(d, func() {
		r.dispatch(func() { r.fire(key, gen, fn) })
	})

	r.mu.Lock()
	if e, ok := r.entries[key]; ok && e.gen == gen {
		e.timer = t
		r.entries[key] = e
	}
	r.mu.Unlock()
}

func (r *Registry[K]) fire(key K, gen uint64, fn func(K)) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok || e.gen != gen {
		r.mu.Unlock()
		return
	}
	delete(r.entries, key)
	r.mu.Unlock()

	fn(key)
}

// Cancel stops the pending timer for key. Reports whether one existed.
func (r *Registry[K]) Cancel(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(r.entries, key)
	return true
}

// Pending reports whether key has an armed timer.
func (r *Registry[K]) Pending(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

// Len returns the number of armed timers.
func (r *Registry[K]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Stop cancels every pending timer.
func (r *Registry[K]) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.entries {
		e.timer.Stop()
		delete(r.entries, key)
	}
}
