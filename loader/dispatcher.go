// Package loader provides the bounded concurrent image-loading dispatcher:
// a worker pool that fetches a URL's bytes, decodes them, and reports
// success or failure through completion callbacks.
//
//   - At most MaxConcurrent workers run at any time; the bound is
//     hot-adjustable via SetMaxConcurrent.
//   - At most one in-flight worker exists per URL. A duplicate Load for a
//     URL already being fetched is a no-op, except that a new target size
//     attaches to the running worker so its completion delivers that
//     variant too.
//   - Worker creation is throttled by a minimum inter-launch interval (a
//     token-bucket-of-one on launches, not on throughput) so a grid of
//     thumbnails appearing in one tick cannot cause a launch storm.
//     Requests that cannot launch immediately wait in a pending queue
//     drained by a single-shot dispatch timer and by worker completions.
package loader

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/IvanBrykalov/thumbcache/cache"
	"github.com/IvanBrykalov/thumbcache/internal/flight"
	"github.com/IvanBrykalov/thumbcache/internal/imaging"
)

// Options configures a Dispatcher. Zero values are safe; defaults are
// applied in New():
//   - nil Fetcher           => HTTPFetcher
//   - MaxConcurrent <= 0    => 5
//   - MinLaunchInterval == 0 => 30ms (negative disables the throttle)
//   - nil Metrics           => NoopMetrics
type Options struct {
	// Fetcher downloads raw bytes. The default performs plain HTTP GETs;
	// clients with retry/auth concerns inject their own.
	Fetcher Fetcher

	// MaxConcurrent bounds the worker pool.
	MaxConcurrent int

	// MinLaunchInterval is the minimum time between spawning consecutive
	// workers.
	MinLaunchInterval time.Duration

	// OnLoaded is called with the decoded (and, when a target size was
	// requested, rescaled) bitmap after every successful load, including
	// synchronous cache resolutions. Called outside dispatcher locks.
	OnLoaded func(url string, img image.Image)
	// OnFailed is called with an opaque error message after a network or
	// decode failure. Called outside dispatcher locks.
	OnFailed func(url string, errMsg string)

	// Observability
	Metrics Metrics

	// Clock allows overriding the time source (tests). Nil => time.Now().
	Clock cache.Clock
}

// request is a pending (url, size) awaiting dispatch.
type request struct {
	url  string
	size cache.Size
}

// Dispatcher is the bounded worker pool. All methods are safe for
// concurrent use.
type Dispatcher struct {
	cache cache.Tiered
	opt   Options

	mu            sync.Mutex
	active        flight.Group[string, *worker]
	pending       []request
	maxConcurrent int
	lastLaunch    int64 // UnixNano of the last worker launch; 0 = never
	timerArmed    bool
	closed        bool

	loadedCount int64
	cancelCount int64
	sumLoadNs   int64
}

// New constructs a dispatcher on top of the given cache tiers.
func New(c cache.Tiered, opt Options) *Dispatcher {
	if opt.Fetcher == nil {
		opt.Fetcher = &HTTPFetcher{}
	}
	if opt.MaxConcurrent <= 0 {
		opt.MaxConcurrent = 5
	}
	if opt.MinLaunchInterval == 0 {
		opt.MinLaunchInterval = 30 * time.Millisecond
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	return &Dispatcher{
		cache:         c,
		opt:           opt,
		maxConcurrent: opt.MaxConcurrent,
	}
}

// Load resolves url from the memory tier or schedules a fetch. It returns
// true only when the bitmap was delivered synchronously from cache (via
// OnLoaded). Duplicate calls for a URL already in flight are no-ops.
func (d *Dispatcher) Load(url string, size cache.Size) bool {
	if img, ok := d.resolveFromMemory(url, size); ok {
		d.emitLoaded(url, img)
		return true
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	if f, ok := d.active.Get(url); ok {
		// Already being fetched: the running worker delivers this variant.
		if !size.IsZero() {
			f.Val.addSizeLocked(size)
		}
		d.mu.Unlock()
		return false
	}
	if d.active.Len() >= d.maxConcurrent || !d.canLaunchLocked() {
		d.enqueueLocked(url, size)
		d.armTimerLocked()
		d.mu.Unlock()
		return false
	}
	d.launchLocked(url, size)
	d.mu.Unlock()
	return false
}

// Cancel terminates the named worker (if any) and removes matching pending
// entries. Cancelled loads emit no completion event; they are visible in
// Stats().CancelCount.
func (d *Dispatcher) Cancel(url string) {
	d.mu.Lock()
	var cancelled bool
	if f, ok := d.active.Get(url); ok {
		f.Val.cancel()
		d.active.Remove(url)
		d.cancelCount++
		cancelled = true
	}
	filtered := d.pending[:0]
	for _, r := range d.pending {
		if r.url != url {
			filtered = append(filtered, r)
		}
	}
	d.pending = filtered
	d.opt.Metrics.Depth(d.active.Len(), len(d.pending))
	d.mu.Unlock()

	if cancelled {
		d.opt.Metrics.Completed(OutcomeCancelled, 0)
	}
	d.dispatchPending()
}

// CancelAll terminates every active worker and clears the pending queue.
func (d *Dispatcher) CancelAll() {
	d.mu.Lock()
	flights := d.active.Drain()
	for _, f := range flights {
		f.Val.cancel()
		d.cancelCount++
	}
	d.pending = nil
	d.opt.Metrics.Depth(0, 0)
	d.mu.Unlock()

	for range flights {
		d.opt.Metrics.Completed(OutcomeCancelled, 0)
	}
}

// SetMaxConcurrent adjusts the pool bound at runtime (floor 1). Raising it
// immediately dispatches queued work.
func (d *Dispatcher) SetMaxConcurrent(n int) {
	if n < 1 {
		n = 1
	}
	d.mu.Lock()
	grew := n > d.maxConcurrent
	d.maxConcurrent = n
	d.mu.Unlock()
	if grew {
		d.dispatchPending()
	}
}

// MaxConcurrent returns the current pool bound.
func (d *Dispatcher) MaxConcurrent() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxConcurrent
}

// Stats is a point-in-time snapshot of dispatcher state.
type Stats struct {
	Active        int
	Pending       int
	MaxConcurrent int
	LoadedCount   int64
	CancelCount   int64
	AvgLoadMillis float64
}

// Stats returns current pool and queue depths plus lifetime counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	var avg float64
	if d.loadedCount > 0 {
		avg = float64(d.sumLoadNs) / float64(d.loadedCount) / float64(time.Millisecond)
	}
	return Stats{
		Active:        d.active.Len(),
		Pending:       len(d.pending),
		MaxConcurrent: d.maxConcurrent,
		LoadedCount:   d.loadedCount,
		CancelCount:   d.cancelCount,
		AvgLoadMillis: avg,
	}
}

// Close cancels all work and marks the dispatcher closed. Future Load
// calls are ignored.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	d.CancelAll()
	return nil
}

// -------------------- internals --------------------

// resolveFromMemory serves url from the memory tier: the size variant if
// present, else a rescale of the base bitmap (caching the new variant).
// Safe to call with or without d.mu held (the tiers carry their own locks).
func (d *Dispatcher) resolveFromMemory(url string, size cache.Size) (image.Image, bool) {
	if !size.IsZero() {
		vkey := cache.VariantKeyOf(url, size)
		if img, ok := d.cache.GetMemory(vkey); ok {
			return img, true
		}
		if base, ok := d.cache.GetMemory(cache.KeyOf(url)); ok {
			scaled := imaging.Scale(base, size.W, size.H)
			d.cache.PutMemory(vkey, scaled)
			return scaled, true
		}
		return nil, false
	}
	return d.cache.GetMemory(cache.KeyOf(url))
}

func (d *Dispatcher) enqueueLocked(url string, size cache.Size) {
	for _, r := range d.pending {
		if r.url == url && r.size == size {
			return
		}
	}
	d.pending = append(d.pending, request{url: url, size: size})
	d.opt.Metrics.Depth(d.active.Len(), len(d.pending))
}

// canLaunchLocked reports whether the launch throttle allows spawning a
// worker now.
func (d *Dispatcher) canLaunchLocked() bool {
	if d.opt.MinLaunchInterval <= 0 || d.lastLaunch == 0 {
		return true
	}
	return d.nowNano()-d.lastLaunch >= int64(d.opt.MinLaunchInterval)
}

// armTimerLocked schedules a single-shot dispatch for the remainder of the
// throttle interval (or one full interval when no time constraint is
// pending).
func (d *Dispatcher) armTimerLocked() {
	if d.timerArmed || d.closed {
		return
	}
	delay := d.opt.MinLaunchInterval
	if delay <= 0 {
		delay = time.Millisecond
	}
	if d.lastLaunch > 0 && d.opt.MinLaunchInterval > 0 {
		if rem := int64(d.opt.MinLaunchInterval) - (d.nowNano() - d.lastLaunch); rem > 0 {
			delay = time.Duration(rem)
		}
	}
	d.timerArmed = true
	time.AfterFunc(delay, func() {
		d.mu.Lock()
		d.timerArmed = false
		d.mu.Unlock()
		d.dispatchPending()
	})
}

func (d *Dispatcher) launchLocked(url string, size cache.Size) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		d:         d,
		url:       url,
		ctx:       ctx,
		cancel:    cancel,
		startNano: d.nowNano(),
	}
	if !size.IsZero() {
		w.sizes = []cache.Size{size}
	}
	d.active.Begin(url, w)
	d.lastLaunch = w.startNano
	d.opt.Metrics.Launched()
	d.opt.Metrics.Depth(d.active.Len(), len(d.pending))
	go w.run()
}

// dispatchPending launches queued requests while capacity and the launch
// throttle allow. Requests whose bitmap landed in memory meanwhile are
// resolved without a worker.
func (d *Dispatcher) dispatchPending() {
	type memHit struct {
		url string
		img image.Image
	}
	var hits []memHit

	d.mu.Lock()
	for !d.closed && len(d.pending) > 0 && d.active.Len() < d.maxConcurrent {
		if !d.canLaunchLocked() {
			d.armTimerLocked()
			break
		}
		r := d.pending[0]
		d.pending = d.pending[1:]
		if f, ok := d.active.Get(r.url); ok {
			if !r.size.IsZero() {
				f.Val.addSizeLocked(r.size)
			}
			continue
		}
		if img, ok := d.resolveFromMemory(r.url, r.size); ok {
			hits = append(hits, memHit{url: r.url, img: img})
			continue
		}
		d.launchLocked(r.url, r.size)
	}
	d.opt.Metrics.Depth(d.active.Len(), len(d.pending))
	d.mu.Unlock()

	for _, h := range hits {
		d.emitLoaded(h.url, h.img)
	}
}

// detachLocked removes w from the active set if it is still the registered
// worker for its URL; a false return means the worker was cancelled.
func (d *Dispatcher) detachLocked(w *worker) bool {
	f, ok := d.active.Get(w.url)
	if !ok || f.Val != w {
		return false
	}
	d.active.Remove(w.url)
	return true
}

func (d *Dispatcher) emitLoaded(url string, img image.Image) {
	if cb := d.opt.OnLoaded; cb != nil {
		cb(url, img)
	}
}

func (d *Dispatcher) emitFailed(url, msg string) {
	if cb := d.opt.OnFailed; cb != nil {
		cb(url, msg)
	}
}

func (d *Dispatcher) nowNano() int64 {
	if d.opt.Clock != nil {
		return d.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}
