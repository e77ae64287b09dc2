package cache

// EvictReason explains why an entry was removed.
type EvictReason int

const (
	// EvictCapacity — removed to bring the memory tier back under its byte cap.
	EvictCapacity EvictReason = iota
	// EvictSweep — removed by the disk sweep (oldest-by-mtime first).
	EvictSweep
	// EvictCorrupt — removed after a failed read of the stored entry.
	EvictCorrupt
	// EvictExplicit — removed by ClearAll or ClearThumbnails.
	EvictExplicit
)

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int, bytes int64)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
// It is safe for concurrent use and intended as the default when
// no observability backend is configured.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                          {}
func (NoopMetrics) Miss()                         {}
func (NoopMetrics) Evict(EvictReason)             {}
func (NoopMetrics) Size(entries int, bytes int64) {}

// Ensure NoopMetrics implements the Metrics interface at compile time.
var _ Metrics = NoopMetrics{}
