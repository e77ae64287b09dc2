package cache

import "time"

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures the tiered cache. Zero values are safe;
// sane defaults are applied in New():
//   - MaxMemoryBytes <= 0 => 200 MiB
//   - MaxDiskBytes <= 0   => 1000 MiB
//   - SweepInterval == 0  => 1 hour (negative disables the periodic sweep)
//   - JPEGQuality <= 0    => 85
//   - nil Metrics         => NoopMetrics
type Options struct {
	// Dir is the disk-tier directory; raw payloads are stored as <key>.cache.
	Dir string
	// ThumbnailDir holds pre-rendered by-ID thumbnails (<id>.jpg). It is
	// exempt from the size-based sweep.
	ThumbnailDir string

	// MaxMemoryBytes caps the decoded-bitmap tier (width*height*4 per entry).
	MaxMemoryBytes int64
	// MaxDiskBytes caps the raw-payload tier.
	MaxDiskBytes int64

	// SweepInterval is the period of the background disk sweep. A sweep also
	// runs on demand when a write would exceed MaxDiskBytes.
	SweepInterval time.Duration

	// JPEGQuality used by PutThumbnailByID when the caller passes quality <= 0.
	JPEGQuality int

	// OnEvict is called for every evicted entry; memory-tier callbacks run
	// under the tier lock, so keep them lightweight.
	OnEvict func(key Key, reason EvictReason)
	// OnCacheCleared fires after a disk sweep or an explicit clear completes.
	OnCacheCleared func()

	// Observability
	Metrics Metrics

	// Clock allows overriding the time source (tests). Nil => time.Now().
	Clock Clock
}
