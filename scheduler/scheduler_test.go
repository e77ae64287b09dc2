package scheduler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/thumbcache/cache"
	"github.com/IvanBrykalov/thumbcache/internal/imaging"
	"github.com/IvanBrykalov/thumbcache/loader"
)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(cache.Options{
		Dir:           t.TempDir(),
		ThumbnailDir:  t.TempDir(),
		SweepInterval: -1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func img(w, h int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	data, err := imaging.EncodeJPEG(img(w, h), 85)
	require.NoError(t, err)
	return data
}

// noFetch fails the test if the network path is ever taken.
func noFetch(t *testing.T) loader.Fetcher {
	return loader.FetcherFunc(func(context.Context, string) ([]byte, error) {
		t.Error("fetcher must not run in this scenario")
		return nil, errors.New("unreachable")
	})
}

// gateFetcher blocks every Fetch until release is closed.
type gateFetcher struct {
	release chan struct{}
	data    []byte
	calls   atomic.Int64
}

func newGateFetcher(data []byte) *gateFetcher {
	return &gateFetcher{release: make(chan struct{}), data: data}
}

func (g *gateFetcher) Fetch(ctx context.Context, _ string) ([]byte, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
		return g.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeClock struct{ t atomic.Int64 }

func (c *fakeClock) NowUnixNano() int64  { return c.t.Load() }
func (c *fakeClock) add(d time.Duration) { c.t.Add(int64(d)) }
func (c *fakeClock) set(ns int64)        { c.t.Store(ns) }

// inertOptions keeps every timer far in the future so ticks only run when a
// test invokes them directly.
func inertOptions() Options {
	return Options{
		MinLaunchInterval: -1,
		PreloadDelay:      time.Hour,
		VariantDelay:      time.Hour,
	}
}

type loadedLog struct {
	mu   sync.Mutex
	urls []string
	imgs []image.Image
}

func (l *loadedLog) add(url string, im image.Image) {
	l.mu.Lock()
	l.urls = append(l.urls, url)
	l.imgs = append(l.imgs, im)
	l.mu.Unlock()
}

func (l *loadedLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.urls)
}

func TestLoadThumbnail_VariantCacheHit(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	var log loadedLog
	opt := inertOptions()
	opt.Fetcher = noFetch(t)
	opt.OnLoaded = log.add
	s := New(c, opt)
	defer s.Close()

	const url = "http://example.com/v.jpg"
	size := cache.Size{W: 160, H: 160}
	c.PutMemory(cache.VariantKeyOf(url, size), img(160, 160))

	require.True(t, s.LoadThumbnail(url, size, false))
	require.Equal(t, 1, log.count())

	st := s.CacheStats()
	require.Equal(t, int64(1), st.CacheHits)
	require.Equal(t, int64(0), st.CacheMisses)
}

func TestLoadThumbnail_BaseHitRescalesAndCaches(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	var log loadedLog
	opt := inertOptions()
	opt.Fetcher = noFetch(t)
	opt.OnLoaded = log.add
	s := New(c, opt)
	defer s.Close()

	const url = "http://example.com/base.jpg"
	size := cache.Size{W: 80, H: 60}
	c.PutMemory(cache.KeyOf(url), img(320, 240))

	require.True(t, s.LoadThumbnail(url, size, false))
	log.mu.Lock()
	b := log.imgs[0].Bounds()
	log.mu.Unlock()
	require.Equal(t, 80, b.Dx())
	require.Equal(t, 60, b.Dy())

	_, ok := c.GetMemory(cache.VariantKeyOf(url, size))
	require.True(t, ok, "rescaled variant must be cached for later hits")
}

func TestLoadThumbnail_MissGoesThroughDispatcher(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	var log loadedLog
	gate := newGateFetcher(jpegBytes(t, 96, 96))
	opt := inertOptions()
	opt.Fetcher = gate
	opt.OnLoaded = log.add
	s := New(c, opt)
	defer s.Close()

	const url = "http://example.com/miss.jpg"
	size := cache.Size{W: 48, H: 48}
	require.False(t, s.LoadThumbnail(url, size, true))
	// A second request while the fetch is in flight must not refetch.
	require.False(t, s.LoadThumbnail(url, size, true))

	close(gate.release)
	require.Eventually(t, func() bool { return log.count() == 1 },
		time.Second, 5*time.Millisecond)
	require.Equal(t, int64(1), gate.calls.Load())

	st := s.CacheStats()
	require.Equal(t, int64(2), st.CacheMisses)
	require.Equal(t, int64(0), st.PreloadHits, "priority completions are not preload hits")
}

func TestLoadThumbnail_BackgroundCompletionCountsAsPreloadHit(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	var log loadedLog
	gate := newGateFetcher(jpegBytes(t, 96, 96))
	opt := inertOptions()
	opt.Fetcher = gate
	opt.OnLoaded = log.add
	s := New(c, opt)
	defer s.Close()

	require.False(t, s.LoadThumbnail("http://example.com/bg.jpg", cache.Size{W: 48, H: 48}, false))
	close(gate.release)
	require.Eventually(t, func() bool { return log.count() == 1 },
		time.Second, 5*time.Millisecond)

	require.Equal(t, int64(1), s.CacheStats().PreloadHits)
}

func TestPreloadThumbnails_Partition(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	opt := inertOptions()
	opt.Fetcher = noFetch(t)
	s := New(c, opt)
	defer s.Close()

	size := cache.Size{W: 160, H: 160}
	urls := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		url := fmt.Sprintf("http://example.com/p/%03d.jpg", i)
		urls = append(urls, url)
		switch {
		case i < 10:
			// Variant already cached: nothing to do.
			c.PutMemory(cache.VariantKeyOf(url, size), img(160, 160))
		case i < 90:
			// Base cached: rescale only, no network.
			c.PutMemory(cache.KeyOf(url), img(640, 480))
		}
	}

	s.PreloadThumbnails(urls, size)

	st := s.CacheStats()
	require.Equal(t, 80, st.VariantQueue)
	require.Equal(t, 10, st.PreloadQueue)

	// Repeating the call must not duplicate queue entries.
	s.PreloadThumbnails(urls, size)
	st = s.CacheStats()
	require.Equal(t, 80, st.VariantQueue)
	require.Equal(t, 10, st.PreloadQueue)
}

func TestVariantTick_DrainsInBatches(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	var log loadedLog
	opt := inertOptions()
	opt.Fetcher = noFetch(t)
	opt.VariantBatch = 4
	opt.OnLoaded = log.add
	s := New(c, opt)
	defer s.Close()

	size := cache.Size{W: 120, H: 90}
	urls := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		url := fmt.Sprintf("http://example.com/v/%02d.jpg", i)
		urls = append(urls, url)
		c.PutMemory(cache.KeyOf(url), img(480, 360))
	}
	s.PreloadThumbnails(urls, size)
	require.Equal(t, 10, s.CacheStats().VariantQueue)

	s.variantTick()
	require.Equal(t, 6, s.CacheStats().VariantQueue, "one tick processes one batch")
	require.Equal(t, 4, log.count())

	s.variantTick()
	s.variantTick()
	require.Equal(t, 0, s.CacheStats().VariantQueue)
	require.Equal(t, 10, log.count())

	for _, url := range urls {
		_, ok := c.GetMemory(cache.VariantKeyOf(url, size))
		require.True(t, ok, "variant for %s must be cached", url)
	}
}

func TestPreloadTick_ReservesPrioritySlots(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	gate := newGateFetcher(jpegBytes(t, 32, 32))
	opt := inertOptions()
	opt.Fetcher = gate
	opt.BaseMaxConcurrent = 4
	s := New(c, opt)
	defer s.Close()

	size := cache.Size{W: 32, H: 32}
	urls := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		urls = append(urls, fmt.Sprintf("http://example.com/pre/%d.jpg", i))
	}
	s.PreloadThumbnails(urls, size)

	// Cold start: smoothed hit-rate is 0, so half of the free capacity is
	// reserved for priority loads. 4 free slots minus 2 reserved = 2 submits.
	s.preloadTick()

	require.Eventually(t, func() bool { return s.Dispatcher().Stats().Active == 2 },
		time.Second, 5*time.Millisecond)
	require.Equal(t, 3, s.CacheStats().PreloadQueue)

	close(gate.release)
}

func TestPreloadTick_PausedSubmitsNothing(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	gate := newGateFetcher(jpegBytes(t, 32, 32))
	opt := inertOptions()
	opt.Fetcher = gate
	s := New(c, opt)
	defer s.Close()

	s.PreloadThumbnails([]string{"http://example.com/paused.jpg"}, cache.Size{W: 32, H: 32})
	s.SetPaused(true)
	s.preloadTick()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int64(0), gate.calls.Load())
	require.Equal(t, 1, s.CacheStats().PreloadQueue, "paused queue keeps its work")

	close(gate.release)
}

func TestController_ShrinksUnderBacklog(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	clk := &fakeClock{}
	clk.set(int64(time.Hour))
	gate := newGateFetcher(jpegBytes(t, 32, 32))
	opt := inertOptions()
	opt.Fetcher = gate
	opt.BaseMaxConcurrent = 3
	opt.Clock = clk
	s := New(c, opt)
	defer s.Close()

	for i := 0; i < 12; i++ {
		s.LoadThumbnail(fmt.Sprintf("http://example.com/slow/%02d.jpg", i),
			cache.Size{W: 32, H: 32}, false)
	}
	st := s.Dispatcher().Stats()
	require.Equal(t, 3, st.Active)
	require.Equal(t, 9, st.Pending)

	// Sustained backlog walks the bound down one step per interval, floor 2.
	for i := 0; i < 5; i++ {
		clk.add(600 * time.Millisecond)
		s.recompute()
	}
	require.Equal(t, 2, s.Dispatcher().MaxConcurrent())

	close(gate.release)
}

func TestController_GrowsOnHighHitRate(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	clk := &fakeClock{}
	clk.set(int64(time.Hour))
	opt := inertOptions()
	opt.Fetcher = noFetch(t)
	opt.BaseMaxConcurrent = 5
	opt.Clock = clk
	s := New(c, opt)
	defer s.Close()

	const url = "http://example.com/hot.jpg"
	size := cache.Size{W: 64, H: 64}
	c.PutMemory(cache.VariantKeyOf(url, size), img(64, 64))

	// Warm the smoothed hit-rate well past the growth threshold.
	for i := 0; i < 15; i++ {
		require.True(t, s.LoadThumbnail(url, size, false))
	}
	require.Greater(t, s.CacheStats().EMAHitRate, 0.7)

	// Simulate a previous shrink, then let the controller recover.
	s.Dispatcher().SetMaxConcurrent(2)
	for i := 0; i < 6; i++ {
		clk.add(600 * time.Millisecond)
		s.recompute()
	}
	require.Equal(t, 5, s.Dispatcher().MaxConcurrent(),
		"growth must stop at the configured base")
}

func TestCancelAll_ClearsQueuesAndWorkers(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	var log loadedLog
	gate := newGateFetcher(jpegBytes(t, 32, 32))
	opt := inertOptions()
	opt.Fetcher = gate
	opt.OnLoaded = log.add
	s := New(c, opt)
	defer s.Close()

	size := cache.Size{W: 32, H: 32}
	s.LoadThumbnail("http://example.com/c1.jpg", size, true)
	s.PreloadThumbnails([]string{"http://example.com/c2.jpg"}, size)

	s.CancelAll()
	close(gate.release)

	st := s.CacheStats()
	require.Equal(t, 0, st.PreloadQueue)
	require.Equal(t, 0, st.VariantQueue)
	require.Eventually(t, func() bool { return s.Dispatcher().Stats().Active == 0 },
		time.Second, 5*time.Millisecond)
	require.Equal(t, 0, log.count(), "cancelled loads must not be announced")
}

func TestOnStats_PublishesSnapshots(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	var got atomic.Int64
	opt := inertOptions()
	opt.Fetcher = noFetch(t)
	opt.OnStats = func(Stats) { got.Add(1) }
	s := New(c, opt)
	defer s.Close()

	const url = "http://example.com/stats.jpg"
	size := cache.Size{W: 64, H: 64}
	c.PutMemory(cache.VariantKeyOf(url, size), img(64, 64))

	s.LoadThumbnail(url, size, false)
	require.Greater(t, got.Load(), int64(0))
}
