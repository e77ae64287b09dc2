// Package prom exports Prometheus adapters for the cache and loader
// metrics hooks.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/thumbcache/cache"
	"github.com/IvanBrykalov/thumbcache/loader"
)

// CacheAdapter implements cache.Metrics and exports Prometheus
// counters/gauges. Safe for concurrent use; all Prometheus metric types
// are goroutine-safe.
type CacheAdapter struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evicts    *prometheus.CounterVec
	sizeEnt   prometheus.Gauge
	sizeBytes prometheus.Gauge
}

// NewCache constructs a Prometheus adapter for the cache tiers.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:     Prometheus namespace and subsystem
//   - constLabels: static labels applied to all metrics (may be nil)
func NewCache(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *CacheAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &CacheAdapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Cache hits",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Cache misses",
			ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "evictions_total",
				Help:        "Cache evictions by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		sizeEnt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "memory_entries",
			Help:        "Resident memory-tier entries",
			ConstLabels: constLabels,
		}),
		sizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "memory_bytes",
			Help:        "Estimated resident memory-tier bytes",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.sizeEnt, a.sizeBytes)
	return a
}

// Hit increments the hit counter.
func (a *CacheAdapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *CacheAdapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *CacheAdapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(evictReason(r)).Inc()
}

// Size updates gauges for resident entries and bytes.
func (a *CacheAdapter) Size(entries int, bytes int64) {
	a.sizeEnt.Set(float64(entries))
	a.sizeBytes.Set(float64(bytes))
}

// evictReason maps EvictReason to a stable label value.
func evictReason(r cache.EvictReason) string {
	switch r {
	case cache.EvictSweep:
		return "sweep"
	case cache.EvictCorrupt:
		return "corrupt"
	case cache.EvictExplicit:
		return "explicit"
	default:
		return "capacity"
	}
}

// Compile-time check: ensure CacheAdapter implements cache.Metrics.
var _ cache.Metrics = (*CacheAdapter)(nil)

// LoaderAdapter implements loader.Metrics and exports dispatcher-level
// Prometheus metrics.
type LoaderAdapter struct {
	launches  prometheus.Counter
	completed *prometheus.CounterVec
	duration  prometheus.Histogram
	active    prometheus.Gauge
	pending   prometheus.Gauge
}

// NewLoader constructs a Prometheus adapter for the load dispatcher.
func NewLoader(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *LoaderAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &LoaderAdapter{
		launches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "launches_total",
			Help:        "Workers launched",
			ConstLabels: constLabels,
		}),
		completed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "completed_total",
				Help:        "Worker completions by outcome",
				ConstLabels: constLabels,
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "load_duration_seconds",
			Help:        "Successful load duration",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "active_workers",
			Help:        "Currently active workers",
			ConstLabels: constLabels,
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "pending_requests",
			Help:        "Requests waiting for a worker slot",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.launches, a.completed, a.duration, a.active, a.pending)
	return a
}

// Launched increments the launch counter.
func (a *LoaderAdapter) Launched() { a.launches.Inc() }

// Completed records a worker completion and, for successful loads, its
// duration.
func (a *LoaderAdapter) Completed(o loader.Outcome, d time.Duration) {
	a.completed.WithLabelValues(outcome(o)).Inc()
	if o == loader.OutcomeLoaded {
		a.duration.Observe(d.Seconds())
	}
}

// Depth updates the pool and queue gauges.
func (a *LoaderAdapter) Depth(active, pending int) {
	a.active.Set(float64(active))
	a.pending.Set(float64(pending))
}

// outcome maps Outcome to a stable label value.
func outcome(o loader.Outcome) string {
	switch o {
	case loader.OutcomeFailed:
		return "failed"
	case loader.OutcomeCancelled:
		return "cancelled"
	default:
		return "loaded"
	}
}

// Compile-time check: ensure LoaderAdapter implements loader.Metrics.
var _ loader.Metrics = (*LoaderAdapter)(nil)
