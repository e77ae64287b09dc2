// Package scheduler composes the tiered cache and the load dispatcher into
// the thumbnail policy layer: synchronous variant resolution, background
// preloading split into a network queue and a rescale-only queue, and an
// adaptive controller that tunes the dispatcher's concurrency from observed
// hit-rate and latency.
package scheduler

import (
	"image"
	"sync"
	"time"

	"github.com/IvanBrykalov/thumbcache/cache"
	"github.com/IvanBrykalov/thumbcache/internal/imaging"
	"github.com/IvanBrykalov/thumbcache/loader"
)

// Options configures a Scheduler. Zero values are safe; defaults applied
// in New():
//   - BaseMaxConcurrent <= 0 => 5
//   - PreloadDelay == 0      => 500ms, bounded by [MinPreloadDelay=250ms,
//     MaxPreloadDelay=1400ms]
//   - VariantDelay == 0      => 200ms; VariantBatch <= 0 => 4
//   - AdjustInterval == 0    => 500ms; Alpha <= 0 => 0.2
type Options struct {
	// Fetcher, MinLaunchInterval and LoaderMetrics are handed to the
	// dispatcher the scheduler constructs and owns.
	Fetcher           loader.Fetcher
	MinLaunchInterval time.Duration
	LoaderMetrics     loader.Metrics

	// BaseMaxConcurrent is both the dispatcher's initial pool bound and the
	// ceiling the adaptive controller never exceeds.
	BaseMaxConcurrent int

	// PreloadDelay is the initial delay between preload-queue ticks; the
	// tick adapts it within [MinPreloadDelay, MaxPreloadDelay] as its own
	// backpressure behavior.
	PreloadDelay    time.Duration
	MinPreloadDelay time.Duration
	MaxPreloadDelay time.Duration

	// VariantDelay spaces variant-queue ticks; VariantBatch bounds the
	// rescales done per tick.
	VariantDelay time.Duration
	VariantBatch int

	// AdjustInterval is the minimum spacing between controller adjustments;
	// Alpha is the EMA smoothing constant for hit-rate and latency.
	AdjustInterval time.Duration
	Alpha          float64

	// OnLoaded fires for every delivered bitmap (cache hits included).
	OnLoaded func(url string, img image.Image)
	// OnFailed fires for every failed load.
	OnFailed func(url string, errMsg string)
	// OnStats fires on every stats recompute, for telemetry consumers.
	OnStats func(Stats)

	// Clock allows overriding the time source (tests). Nil => time.Now().
	Clock cache.Clock
}

// item is a queued (url, size) awaiting a network fetch (preload queue) or
// an in-memory rescale (variant queue).
type item struct {
	url  string
	size cache.Size
}

// Scheduler is the thumbnail policy layer. All methods are safe for
// concurrent use.
type Scheduler struct {
	cache cache.Tiered
	disp  *loader.Dispatcher
	opt   Options

	mu                sync.Mutex
	preloadQ          []item
	variantQ          []item
	priority          map[string]struct{}
	paused            bool
	closed            bool
	preloadDelay      time.Duration // adaptive, current value
	preloadTimerArmed bool
	variantTimerArmed bool

	cacheHits     int64
	cacheMisses   int64
	preloadHits   int64
	totalRequests int64

	emaHitRate   float64
	emaAvgMillis float64
	lastAdjust   int64 // UnixNano of the last controller adjustment
}

// New constructs a scheduler and its internal dispatcher.
func New(c cache.Tiered, opt Options) *Scheduler {
	if opt.BaseMaxConcurrent <= 0 {
		opt.BaseMaxConcurrent = 5
	}
	if opt.PreloadDelay == 0 {
		opt.PreloadDelay = 500 * time.Millisecond
	}
	if opt.MinPreloadDelay <= 0 {
		opt.MinPreloadDelay = 250 * time.Millisecond
	}
	if opt.MaxPreloadDelay <= 0 {
		opt.MaxPreloadDelay = 1400 * time.Millisecond
	}
	if opt.VariantDelay == 0 {
		opt.VariantDelay = 200 * time.Millisecond
	}
	if opt.VariantBatch <= 0 {
		opt.VariantBatch = 4
	}
	if opt.AdjustInterval == 0 {
		opt.AdjustInterval = 500 * time.Millisecond
	}
	if opt.Alpha <= 0 || opt.Alpha > 1 {
		opt.Alpha = 0.2
	}

	s := &Scheduler{
		cache:        c,
		opt:          opt,
		priority:     make(map[string]struct{}),
		preloadDelay: opt.PreloadDelay,
	}
	s.disp = loader.New(c, loader.Options{
		Fetcher:           opt.Fetcher,
		MaxConcurrent:     opt.BaseMaxConcurrent,
		MinLaunchInterval: opt.MinLaunchInterval,
		Metrics:           opt.LoaderMetrics,
		Clock:             opt.Clock,
		OnLoaded:          s.onLoaded,
		OnFailed:          s.onFailed,
	})
	return s
}

// Dispatcher exposes the scheduler-owned dispatcher (stats, cancellation).
func (s *Scheduler) Dispatcher() *loader.Dispatcher { return s.disp }

// LoadThumbnail resolves url at size: the variant cache, then the base
// cache (rescaling and caching the variant on a base hit), then the
// dispatcher. It returns true only when resolved synchronously from cache;
// the bitmap is always delivered via OnLoaded.
func (s *Scheduler) LoadThumbnail(url string, size cache.Size, priority bool) bool {
	s.mu.Lock()
	s.totalRequests++
	s.mu.Unlock()

	vkey := cache.VariantKeyOf(url, size)
	if img, ok := s.cache.GetMemory(vkey); ok {
		s.recordHit()
		s.emitLoaded(url, img)
		s.recompute()
		return true
	}
	if base, ok := s.cache.GetMemory(cache.KeyOf(url)); ok {
		scaled := imaging.Scale(base, size.W, size.H)
		s.cache.PutMemory(vkey, scaled)
		s.recordHit()
		s.emitLoaded(url, scaled)
		s.recompute()
		return true
	}

	s.mu.Lock()
	s.cacheMisses++
	if priority {
		s.priority[url] = struct{}{}
	}
	s.mu.Unlock()

	s.disp.Load(url, size)
	s.recompute()
	return false
}

// PreloadThumbnails partitions urls into already-variant-cached (skipped),
// base-cached (variant queue: rescale only, no network) and uncached
// (preload queue: network fetch), then arms the queue timers.
func (s *Scheduler) PreloadThumbnails(urls []string, size cache.Size) {
	var toVariant, toPreload []item
	for _, url := range urls {
		if _, ok := s.cache.GetMemory(cache.VariantKeyOf(url, size)); ok {
			continue
		}
		if _, ok := s.cache.GetMemory(cache.KeyOf(url)); ok {
			toVariant = append(toVariant, item{url: url, size: size})
		} else {
			toPreload = append(toPreload, item{url: url, size: size})
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, it := range toVariant {
		s.pushLocked(&s.variantQ, it)
	}
	for _, it := range toPreload {
		s.pushLocked(&s.preloadQ, it)
	}
	if len(s.preloadQ) > 0 {
		s.armPreloadLocked(s.preloadDelay)
	}
	if len(s.variantQ) > 0 {
		s.armVariantLocked()
	}
}

// SetPaused suppresses preload-queue ticks while true (e.g. during rapid
// scrolling). Priority loads are unaffected; unpausing re-arms the queue.
func (s *Scheduler) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	if !paused && len(s.preloadQ) > 0 {
		s.armPreloadLocked(s.preloadDelay)
	}
}

// ClearPreloadQueue drops all queued background work.
func (s *Scheduler) ClearPreloadQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preloadQ = nil
	s.variantQ = nil
}

// CancelAll aborts every active and queued load.
func (s *Scheduler) CancelAll() {
	s.disp.CancelAll()
	s.ClearPreloadQueue()
	s.mu.Lock()
	s.priority = make(map[string]struct{})
	s.mu.Unlock()
}

// Close cancels all work and shuts down the dispatcher.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.CancelAll()
	return s.disp.Close()
}

// -------------------- queue ticks --------------------

// preloadTick submits queued network fetches, keeping a fraction of the
// dispatcher's free capacity reserved for priority loads, and adapts its
// own delay to the dispatcher's backlog and the smoothed latency.
func (s *Scheduler) preloadTick() {
	st := s.disp.Stats()

	s.mu.Lock()
	s.preloadTimerArmed = false
	if s.paused || s.closed || len(s.preloadQ) == 0 {
		s.mu.Unlock()
		return
	}

	// Heavy dispatcher backlog: back off a full tick without submitting.
	backlogGate := 2 * st.Active
	if backlogGate < 2 {
		backlogGate = 2
	}
	if st.Pending > backlogGate {
		s.armPreloadLocked(s.preloadDelay)
		s.mu.Unlock()
		return
	}

	ratio := 0.3
	if s.emaHitRate < 0.4 || s.emaAvgMillis > 600 {
		ratio = 0.5
	}
	avail := st.MaxConcurrent - st.Active
	if avail < 0 {
		avail = 0
	}
	reserved := int(float64(avail) * ratio)
	if reserved < 1 {
		reserved = 1
	}
	slots := avail - reserved

	var submit []item
	for slots > 0 && len(s.preloadQ) > 0 {
		it := s.preloadQ[0]
		s.preloadQ = s.preloadQ[1:]
		// May have been filled while queued.
		if _, ok := s.cache.GetMemory(cache.VariantKeyOf(it.url, it.size)); ok {
			continue
		}
		submit = append(submit, it)
		slots--
	}

	// Backpressure: stretch the tick under load, relax it otherwise.
	if st.Pending > 10 || s.emaAvgMillis > 700 {
		s.preloadDelay += 200 * time.Millisecond
		if s.preloadDelay > s.opt.MaxPreloadDelay {
			s.preloadDelay = s.opt.MaxPreloadDelay
		}
	} else {
		s.preloadDelay -= 100 * time.Millisecond
		if s.preloadDelay < s.opt.MinPreloadDelay {
			s.preloadDelay = s.opt.MinPreloadDelay
		}
	}
	if len(s.preloadQ) > 0 {
		s.armPreloadLocked(s.preloadDelay)
	}
	s.mu.Unlock()

	for _, it := range submit {
		s.disp.Load(it.url, it.size)
	}
}

// variantTick drains a small batch of rescale-only work: no network, no
// dispatcher interaction.
func (s *Scheduler) variantTick() {
	type ready struct {
		url string
		img image.Image
	}
	var out []ready

	s.mu.Lock()
	s.variantTimerArmed = false
	if s.closed {
		s.mu.Unlock()
		return
	}
	batch := s.opt.VariantBatch
	for batch > 0 && len(s.variantQ) > 0 {
		it := s.variantQ[0]
		s.variantQ = s.variantQ[1:]
		vkey := cache.VariantKeyOf(it.url, it.size)
		if _, ok := s.cache.GetMemory(vkey); ok {
			continue
		}
		base, ok := s.cache.GetMemory(cache.KeyOf(it.url))
		if !ok {
			// Base evicted since it was queued; a later load refetches.
			continue
		}
		scaled := imaging.Scale(base, it.size.W, it.size.H)
		s.cache.PutMemory(vkey, scaled)
		out = append(out, ready{url: it.url, img: scaled})
		batch--
	}
	if len(s.variantQ) > 0 {
		s.armVariantLocked()
	}
	s.mu.Unlock()

	for _, r := range out {
		s.emitLoaded(r.url, r.img)
	}
	s.recompute()
}

// -------------------- internals --------------------

func (s *Scheduler) pushLocked(q *[]item, it item) {
	for _, have := range *q {
		if have == it {
			return
		}
	}
	*q = append(*q, it)
}

func (s *Scheduler) armPreloadLocked(delay time.Duration) {
	if s.preloadTimerArmed || s.closed || s.paused {
		return
	}
	s.preloadTimerArmed = true
	time.AfterFunc(delay, s.preloadTick)
}

func (s *Scheduler) armVariantLocked() {
	if s.variantTimerArmed || s.closed {
		return
	}
	s.variantTimerArmed = true
	time.AfterFunc(s.opt.VariantDelay, s.variantTick)
}

func (s *Scheduler) recordHit() {
	s.mu.Lock()
	s.cacheHits++
	s.mu.Unlock()
}

// onLoaded is the dispatcher completion hook: non-priority completions are
// preload hits; priority URLs are cleared from the reservation set.
func (s *Scheduler) onLoaded(url string, img image.Image) {
	s.mu.Lock()
	if _, ok := s.priority[url]; ok {
		delete(s.priority, url)
	} else {
		s.preloadHits++
	}
	s.mu.Unlock()
	s.emitLoaded(url, img)
	s.recompute()
}

func (s *Scheduler) onFailed(url, msg string) {
	s.mu.Lock()
	delete(s.priority, url)
	s.mu.Unlock()
	if cb := s.opt.OnFailed; cb != nil {
		cb(url, msg)
	}
	s.recompute()
}

func (s *Scheduler) emitLoaded(url string, img image.Image) {
	if cb := s.opt.OnLoaded; cb != nil {
		cb(url, img)
	}
}

func (s *Scheduler) nowNano() int64 {
	if s.opt.Clock != nil {
		return s.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}
