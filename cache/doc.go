// Package cache provides the tiered image cache: a byte-bounded in-memory
// tier of decoded bitmaps, a size-bounded on-disk tier of raw downloaded
// bytes, and an independent by-ID thumbnail store.
//
// Design
//
//   - Addressing: entries are content-addressed by URL. KeyOf hashes the
//     URL; VariantKeyOf hashes the URL qualified with a target size, so a
//     rescaled bitmap is cached separately from its base-resolution source.
//     Variant keys are used only in the memory tier; the disk tier always
//     stores the original payload under the base key.
//
//   - Memory tier: a map[Key]*node plus an intrusive MRU↔LRU doubly linked
//     list under a single mutex. Cost is estimated as width*height*4 bytes.
//     A put that would exceed the byte cap first evicts least-recently
//     accessed entries until the tier is at half capacity; a single item
//     larger than half the cap is refused outright.
//
//   - Disk tier: one file per key (<dir>/<key>.cache) with recency tracked
//     through file modification time, refreshed on every read. A sweep —
//     periodic, and on demand when a write would exceed the cap — deletes
//     oldest-by-mtime files until the tier is at 80% of its cap.
//
//   - Thumbnail store: pre-rendered JPEGs keyed by a stable image ID in a
//     separate directory. The sweep never touches it; ClearThumbnails is
//     the only bulk removal path.
//
//   - Failure semantics: disk I/O errors degrade to cache misses and never
//     propagate to callers. An unreadable entry is deleted on first read.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size signals.
//     NoopMetrics is the default; metrics/prom exports an adapter.
//
// Basic usage
//
//	c, err := cache.New(cache.Options{
//	    Dir:            "/var/cache/thumbs/data",
//	    ThumbnailDir:   "/var/cache/thumbs/byid",
//	    MaxMemoryBytes: 200 << 20,
//	    MaxDiskBytes:   1000 << 20,
//	})
//	if err != nil { ... }
//	defer c.Close()
//
//	key := cache.KeyOf(url)
//	c.PutDisk(key, raw)
//	if img, ok := c.GetMemory(cache.VariantKeyOf(url, cache.Size{W: 160, H: 160})); ok {
//	    _ = img
//	}
//
// All methods are safe for concurrent use by multiple goroutines.
package cache
