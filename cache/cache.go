package cache

import (
	"fmt"
	"image"
	"os"
	"sync/atomic"
	"time"
)

// Cache composes the memory tier, the disk tier and the by-ID thumbnail
// store behind one handle with an explicit lifetime: construct at startup,
// Close at shutdown. All methods are safe for concurrent use.
type Cache struct {
	mem   *memoryTier
	disk  *diskTier
	thumb *thumbStore

	opt    Options
	closed atomic.Bool

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New constructs a tiered cache, creating the backing directories.
// Defaults:
//   - MaxMemoryBytes <= 0 -> 200 MiB
//   - MaxDiskBytes <= 0   -> 1000 MiB
//   - SweepInterval == 0  -> 1 hour (negative disables the periodic sweep)
//   - JPEGQuality <= 0    -> 85
//   - nil Metrics         -> NoopMetrics
func New(opt Options) (*Cache, error) {
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.MaxMemoryBytes <= 0 {
		opt.MaxMemoryBytes = 200 << 20
	}
	if opt.MaxDiskBytes <= 0 {
		opt.MaxDiskBytes = 1000 << 20
	}
	if opt.SweepInterval == 0 {
		opt.SweepInterval = time.Hour
	}
	if opt.JPEGQuality <= 0 {
		opt.JPEGQuality = 85
	}
	if opt.Dir == "" {
		return nil, fmt.Errorf("cache: Dir is required")
	}
	if opt.ThumbnailDir == "" {
		return nil, fmt.Errorf("cache: ThumbnailDir is required")
	}
	if err := os.MkdirAll(opt.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	if err := os.MkdirAll(opt.ThumbnailDir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create thumbnail dir: %w", err)
	}

	c := &Cache{opt: opt}
	c.mem = newMemoryTier(opt.MaxMemoryBytes, &c.opt)
	c.disk = newDiskTier(opt.Dir, opt.MaxDiskBytes, &c.opt)
	c.thumb = newThumbStore(opt.ThumbnailDir, opt.JPEGQuality, &c.opt)

	if opt.SweepInterval > 0 {
		c.sweepStop = make(chan struct{})
		c.sweepDone = make(chan struct{})
		go c.sweepLoop(opt.SweepInterval)
	}
	return c, nil
}

// GetMemory returns the decoded bitmap for key, promoting it on hit.
func (c *Cache) GetMemory(key Key) (image.Image, bool) {
	if c.closed.Load() {
		return nil, false
	}
	return c.mem.Get(key)
}

// PutMemory stores a decoded bitmap under key, evicting to the 50%
// watermark when the addition would exceed the memory cap. Items larger
// than half the cap are not cached.
func (c *Cache) PutMemory(key Key, img image.Image) {
	if c.closed.Load() {
		return
	}
	c.mem.Put(key, img)
}

// GetDisk returns the raw payload for key, refreshing its recency.
func (c *Cache) GetDisk(key Key) ([]byte, bool) {
	if c.closed.Load() {
		return nil, false
	}
	return c.disk.Get(key)
}

// PutDisk stores a raw payload under key.
func (c *Cache) PutDisk(key Key, data []byte) {
	if c.closed.Load() {
		return
	}
	c.disk.Put(key, data)
}

// SweepDisk runs a disk sweep now: oldest-by-mtime entries are deleted
// until the tier holds at most 80% of its cap.
func (c *Cache) SweepDisk() {
	if c.closed.Load() {
		return
	}
	c.disk.Sweep()
}

// GetThumbnailByID returns the pre-rendered thumbnail stored under id.
func (c *Cache) GetThumbnailByID(id string) (image.Image, bool) {
	if c.closed.Load() {
		return nil, false
	}
	return c.thumb.Get(id)
}

// PutThumbnailByID renders img as a JPEG (quality <= 0 uses the configured
// default) and stores it under id, outside the swept cache.
func (c *Cache) PutThumbnailByID(id string, img image.Image, quality int) error {
	if c.closed.Load() {
		return fmt.Errorf("cache: closed")
	}
	return c.thumb.Put(id, img, quality)
}

// ClearThumbnails empties the by-ID thumbnail store.
func (c *Cache) ClearThumbnails() {
	if c.closed.Load() {
		return
	}
	c.thumb.Clear()
}

// ClearAll flushes the memory and disk tiers (the thumbnail store is left
// alone) and fires OnCacheCleared.
func (c *Cache) ClearAll() {
	if c.closed.Load() {
		return
	}
	c.mem.Clear()
	c.disk.Clear()
	if cb := c.opt.OnCacheCleared; cb != nil {
		cb()
	}
}

// SetMaxMemoryBytes adjusts the memory cap at runtime, evicting
// immediately if the tier is over the new cap.
func (c *Cache) SetMaxMemoryBytes(n int64) {
	if n <= 0 || c.closed.Load() {
		return
	}
	c.mem.SetCap(n)
}

// SetMaxDiskBytes adjusts the disk cap at runtime, sweeping immediately if
// the tier is over the new cap.
func (c *Cache) SetMaxDiskBytes(n int64) {
	if n <= 0 || c.closed.Load() {
		return
	}
	c.disk.SetCap(n)
}

// Stats returns a point-in-time snapshot of both tiers.
func (c *Cache) Stats() Stats {
	hits := c.mem.hits.Load()
	misses := c.mem.misses.Load()
	total := hits + misses
	var rate float64
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		MemoryEntries: c.mem.Len(),
		MemoryBytes:   c.mem.Bytes(),
		DiskEntries:   c.disk.count(),
		DiskBytes:     c.disk.size(),
		Hits:          hits,
		Misses:        misses,
		HitRate:       rate,
	}
}

// Close stops the background sweep and marks the cache closed. Future
// operations are ignored.
func (c *Cache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.sweepStop != nil {
		close(c.sweepStop)
		<-c.sweepDone
	}
	return nil
}

func (c *Cache) sweepLoop(every time.Duration) {
	defer close(c.sweepDone)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.disk.Sweep()
		case <-c.sweepStop:
			return
		}
	}
}
