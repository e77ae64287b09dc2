package cache

import (
	"image"
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/thumbcache/internal/imaging"
)

// memoryTier is the byte-bounded decoded-bitmap tier with its own lock, map,
// and an intrusive doubly linked list (head=MRU, tail=LRU).
//
// Eviction targets a low watermark: when a put would exceed the cap, least
// recently accessed entries are removed until the tier holds at most half
// its cap, so bursts of puts do not thrash the eviction path.
type memoryTier struct {
	// ---- guarded by mu ----
	mu    sync.Mutex
	m     map[Key]*node
	head  *node // MRU
	tail  *node // LRU
	bytes int64 // total estimated resident bytes
	cap   int64 // byte cap

	opt *Options

	// ---- hot counters ----
	hits   atomic.Int64
	misses atomic.Int64
}

func newMemoryTier(capBytes int64, opt *Options) *memoryTier {
	return &memoryTier{
		m:   make(map[Key]*node),
		cap: capBytes,
		opt: opt,
	}
}

// Get returns the bitmap for k and promotes the entry to MRU.
func (t *memoryTier) Get(k Key) (image.Image, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.m[k]
	if !ok {
		t.misses.Add(1)
		t.opt.Metrics.Miss()
		return nil, false
	}
	t.moveToFront(n)
	t.hits.Add(1)
	t.opt.Metrics.Hit()
	return n.img, true
}

// Put inserts or updates k. A single item larger than half the cap is
// refused; a put that would exceed the cap first evicts down to the 50%
// watermark.
func (t *memoryTier) Put(k Key, img image.Image) {
	cost := imaging.ByteSize(img)

	t.mu.Lock()
	defer t.mu.Unlock()

	if cost > t.cap/2 {
		return
	}

	if n, ok := t.m[k]; ok {
		// In-place update: adjust the cost delta and promote.
		t.bytes += cost - n.bytes
		n.img = img
		n.bytes = cost
		t.moveToFront(n)
		if t.bytes > t.cap {
			t.evictToWatermarkLocked(n)
		}
		t.opt.Metrics.Size(len(t.m), t.bytes)
		return
	}

	if t.bytes+cost > t.cap {
		t.evictToWatermarkLocked(nil)
	}
	n := &node{key: k, img: img, bytes: cost}
	t.m[k] = n
	t.insertFront(n)
	t.opt.Metrics.Size(len(t.m), t.bytes)
}

// Remove deletes k if present and returns true on success.
func (t *memoryTier) Remove(k Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.m[k]
	if !ok {
		return false
	}
	t.removeNode(n)
	delete(t.m, k)
	t.opt.Metrics.Size(len(t.m), t.bytes)
	return true
}

// Clear drops every entry.
func (t *memoryTier) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for k, n := range t.m {
		t.removeNode(n)
		delete(t.m, k)
		t.opt.Metrics.Evict(EvictExplicit)
	}
	t.opt.Metrics.Size(0, 0)
}

// Len returns the number of resident entries.
func (t *memoryTier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}

// Bytes returns the total estimated resident bytes.
func (t *memoryTier) Bytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes
}

// SetCap adjusts the byte cap at runtime, evicting immediately if the tier
// is now over it.
func (t *memoryTier) SetCap(capBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cap = capBytes
	if t.bytes > t.cap {
		t.evictToWatermarkLocked(nil)
		t.opt.Metrics.Size(len(t.m), t.bytes)
	}
}

// -------------------- internals (mu held) --------------------

// insertFront inserts n at MRU in O(1).
func (t *memoryTier) insertFront(n *node) {
	n.prev = nil
	n.next = t.head
	if t.head != nil {
		t.head.prev = n
	}
	t.head = n
	if t.tail == nil {
		t.tail = n
	}
	t.bytes += n.bytes
}

// moveToFront promotes n to MRU in O(1).
func (t *memoryTier) moveToFront(n *node) {
	if n == t.head {
		return
	}
	// detach
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if t.tail == n {
		t.tail = n.prev
	}
	// insert at head
	n.prev = nil
	n.next = t.head
	if t.head != nil {
		t.head.prev = n
	}
	t.head = n
	if t.tail == nil {
		t.tail = n
	}
}

// removeNode removes n from the list and updates counters in O(1).
func (t *memoryTier) removeNode(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if t.head == n {
		t.head = n.next
	}
	if t.tail == n {
		t.tail = n.prev
	}
	n.prev, n.next = nil, nil
	t.bytes -= n.bytes
	if t.bytes < 0 {
		t.bytes = 0
	}
}

// evictToWatermarkLocked removes LRU entries until the tier holds at most
// half its cap. keep, when non-nil, is never evicted (the entry being
// updated in place).
func (t *memoryTier) evictToWatermarkLocked(keep *node) {
	target := t.cap / 2
	for t.bytes > target {
		tail := t.tail
		if tail == nil || tail == keep {
			break
		}
		t.removeNode(tail)
		delete(t.m, tail.key)
		t.opt.Metrics.Evict(EvictCapacity)
		if cb := t.opt.OnEvict; cb != nil {
			cb(tail.key, EvictCapacity)
		}
	}
}
