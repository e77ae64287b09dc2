package scheduler

import (
	"github.com/IvanBrykalov/thumbcache/internal/logger"
	"github.com/IvanBrykalov/thumbcache/loader"
)

// Stats combines scheduler counters, smoothed signals and a dispatcher
// snapshot; it is what OnStats consumers receive.
type Stats struct {
	CacheHits     int64
	CacheMisses   int64
	PreloadHits   int64
	TotalRequests int64
	HitRate       float64

	EMAHitRate       float64
	EMAAvgLoadMillis float64

	PreloadQueue int
	VariantQueue int

	Loader loader.Stats
}

// CacheStats returns the current combined statistics.
func (s *Scheduler) CacheStats() Stats {
	st := s.disp.Stats()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked(st)
}

func (s *Scheduler) statsLocked(st loader.Stats) Stats {
	total := s.totalRequests
	if total < 1 {
		total = 1
	}
	return Stats{
		CacheHits:        s.cacheHits,
		CacheMisses:      s.cacheMisses,
		PreloadHits:      s.preloadHits,
		TotalRequests:    s.totalRequests,
		HitRate:          float64(s.cacheHits) / float64(total),
		EMAHitRate:       s.emaHitRate,
		EMAAvgLoadMillis: s.emaAvgMillis,
		PreloadQueue:     len(s.preloadQ),
		VariantQueue:     len(s.variantQ),
		Loader:           st,
	}
}

// recompute refreshes the smoothed signals, runs the concurrency
// controller if due, and publishes a stats snapshot.
//
// The controller is an additive increase / additive decrease loop around
// the dispatcher's pool bound, at most once per AdjustInterval:
//   - backlog pressure (pending > 2×active) shrinks the pool by one, floor 2;
//   - a sustained smoothed hit-rate above 0.7 grows it by one, never past
//     BaseMaxConcurrent.
func (s *Scheduler) recompute() {
	st := s.disp.Stats()

	s.mu.Lock()
	total := s.totalRequests
	if total < 1 {
		total = 1
	}
	hitRate := float64(s.cacheHits) / float64(total)
	a := s.opt.Alpha
	s.emaHitRate = a*hitRate + (1-a)*s.emaHitRate
	s.emaAvgMillis = a*st.AvgLoadMillis + (1-a)*s.emaAvgMillis

	target := -1
	now := s.nowNano()
	if now-s.lastAdjust >= int64(s.opt.AdjustInterval) {
		s.lastAdjust = now
		cur := st.MaxConcurrent
		switch {
		case st.Pending > 2*st.Active && st.Pending > 2:
			if cur > 2 {
				target = cur - 1
			}
		case s.emaHitRate > 0.7 && cur < s.opt.BaseMaxConcurrent:
			target = cur + 1
		}
	}
	snap := s.statsLocked(st)
	s.mu.Unlock()

	if target > 0 && target != st.MaxConcurrent {
		logger.Debug("scheduler: adjusting max concurrent",
			"from", st.MaxConcurrent, "to", target,
			"pending", st.Pending, "active", st.Active,
			"ema_hit_rate", snap.EMAHitRate, "ema_avg_ms", snap.EMAAvgLoadMillis)
		s.disp.SetMaxConcurrent(target)
	}
	if cb := s.opt.OnStats; cb != nil {
		cb(snap)
	}
}
