// Package flight tracks in-flight work keyed by URL so that a duplicate
// load request attaches to the running fetch instead of starting a second
// one. Unlike classic call coalescing, a duplicate caller does not block:
// it observes the existing flight (attaching extra state to it under the
// caller's own lock) and relies on the shared completion event.
package flight

import "sync"

// Group tracks at most one live Flight per key.
// All methods are safe for concurrent use.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*Flight[V]
}

// Flight is one unit of in-flight work carrying caller state V.
type Flight[V any] struct {
	// Val is set by the owner at Begin time. Mutating it afterwards is the
	// caller's responsibility (guard with the caller's lock).
	Val V

	done chan struct{} // closed by Finish/Remove
}

// Begin registers a flight for key. It returns (flight, true) when the
// caller became the owner, or the existing flight and false when one is
// already live (val is discarded in that case).
func (g *Group[K, V]) Begin(key K, val V) (*Flight[V], bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.m == nil {
		g.m = make(map[K]*Flight[V])
	}
	if f, ok := g.m[key]; ok {
		return f, false
	}
	f := &Flight[V]{Val: val, done: make(chan struct{})}
	g.m[key] = f
	return f, true
}

// Get returns the live flight for key, if any.
func (g *Group[K, V]) Get(key K) (*Flight[V], bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.m[key]
	return f, ok
}

// Remove unregisters the flight for key and wakes waiters. It returns the
// removed flight, or false when no flight was live. Publishing final state
// into Val must happen before Remove so that waiters observe it.
func (g *Group[K, V]) Remove(key K) (*Flight[V], bool) {
	g.mu.Lock()
	f, ok := g.m[key]
	if ok {
		delete(g.m, key)
	}
	g.mu.Unlock()
	if ok {
		close(f.done)
	}
	return f, ok
}

// Drain removes every live flight, wakes all waiters, and returns the
// removed flights.
func (g *Group[K, V]) Drain() []*Flight[V] {
	g.mu.Lock()
	fs := make([]*Flight[V], 0, len(g.m))
	for k, f := range g.m {
		fs = append(fs, f)
		delete(g.m, k)
	}
	g.mu.Unlock()
	for _, f := range fs {
		close(f.done)
	}
	return fs
}

// Len returns the number of live flights.
func (g *Group[K, V]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}

// Done returns a channel closed when the flight is finished or removed.
func (f *Flight[V]) Done() <-chan struct{} { return f.done }
