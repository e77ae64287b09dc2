package cache

import "image"

// Tiered is the read-through/write-through surface the loading pipeline
// consumes. *Cache is the canonical implementation; tests may substitute
// their own.
type Tiered interface {
	// GetMemory returns the decoded bitmap for key and a presence flag.
	// On hit, the entry's recency is refreshed.
	GetMemory(key Key) (image.Image, bool)

	// PutMemory stores a decoded bitmap under key, subject to the byte cap
	// and the oversized-item rule.
	PutMemory(key Key, img image.Image)

	// GetDisk returns the raw stored payload for key and a presence flag.
	// On hit, the entry's recency (mtime) is refreshed.
	GetDisk(key Key) ([]byte, bool)

	// PutDisk stores a raw payload under key, sweeping first if the write
	// would exceed the disk cap.
	PutDisk(key Key, data []byte)
}

var _ Tiered = (*Cache)(nil)

// Stats is a point-in-time snapshot of the cache tiers.
type Stats struct {
	MemoryEntries int
	MemoryBytes   int64
	DiskEntries   int
	DiskBytes     int64
	Hits          int64
	Misses        int64
	HitRate       float64
}
