// Command bench runs a synthetic thumbnail workload against the cache and
// scheduler and exposes optional pprof/Prometheus endpoints.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/thumbcache/cache"
	"github.com/IvanBrykalov/thumbcache/internal/logger"
	pmet "github.com/IvanBrykalov/thumbcache/metrics/prom"
	"github.com/IvanBrykalov/thumbcache/scheduler"
)

func main() {
	// ---- Flags ----
	var (
		memCap  = flag.Int64("mem", 64<<20, "memory tier capacity (bytes)")
		diskCap = flag.Int64("disk", 256<<20, "disk tier capacity (bytes)")
		dir     = flag.String("dir", "", "cache directory (empty = temp)")

		maxConcurrent = flag.Int("concurrent", 5, "base max concurrent loads")
		workers       = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of requester goroutines")
		duration      = flag.Duration("duration", 10*time.Second, "benchmark duration")

		urls    = flag.Int("urls", 10_000, "URL keyspace size")
		zipfS   = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV   = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		preload = flag.Int("preload_batch", 16, "URLs per synthetic preload batch (0 = no preloads)")

		latency = flag.Duration("latency", 40*time.Millisecond, "simulated fetch latency (mean)")
		failPct = flag.Int("fail", 1, "simulated fetch failure percentage [0..100]")

		logLevel    = flag.String("log", "info", "log level: debug | info | warn | error")
		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	logger.Init(logger.Config{Level: *logLevel})

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	cacheMet := pmet.NewCache(nil, "thumbcache", "bench", nil)
	loaderMet := pmet.NewLoader(nil, "thumbcache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	// ---- Cache directories ----
	root := *dir
	if root == "" {
		tmp, err := os.MkdirTemp("", "thumbcache-bench-*")
		if err != nil {
			log.Fatalf("temp dir: %v", err)
		}
		defer os.RemoveAll(tmp)
		root = tmp
	}

	c, err := cache.New(cache.Options{
		Dir:            root + "/pages",
		ThumbnailDir:   root + "/thumbs",
		MaxMemoryBytes: *memCap,
		MaxDiskBytes:   *diskCap,
		Metrics:        cacheMet,
	})
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	defer func() { _ = c.Close() }()

	// ---- Scheduler over a simulated network ----
	fetch := newFakeFetcher(*seed, *latency, *failPct)
	var failures uint64
	s := scheduler.New(c, scheduler.Options{
		Fetcher:           fetch,
		BaseMaxConcurrent: *maxConcurrent,
		LoaderMetrics:     loaderMet,
		OnFailed: func(string, string) {
			atomic.AddUint64(&failures, 1)
		},
	})
	defer func() { _ = s.Close() }()

	// ---- Load generation ----
	sizes := []cache.Size{{W: 160, H: 160}, {W: 256, H: 256}, {W: 96, H: 96}}
	urlOf := func(n uint64) string {
		return "bench://img/" + strconv.FormatUint(n, 10) + ".jpg"
	}

	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}
	var requests, cached uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workersN; w++ {
		id := w
		g.Go(func() error {
			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(*seed + int64(id)*9973))
			localZipf := rand.NewZipf(localR, *zipfS, *zipfV, uint64(*urls-1))

			for {
				select {
				case <-ctx.Done():
					return nil
				default:
				}

				atomic.AddUint64(&requests, 1)
				size := sizes[localR.Intn(len(sizes))]
				if s.LoadThumbnail(urlOf(localZipf.Uint64()), size, localR.Intn(4) == 0) {
					atomic.AddUint64(&cached, 1)
				}

				if *preload > 0 && localR.Intn(50) == 0 {
					batch := make([]string, 0, *preload)
					for i := 0; i < *preload; i++ {
						batch = append(batch, urlOf(localZipf.Uint64()))
					}
					s.PreloadThumbnails(batch, size)
				}

				// A viewport paint every few ms, not a tight loop.
				time.Sleep(time.Duration(1+localR.Intn(5)) * time.Millisecond)
			}
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	st := s.CacheStats()
	cst := c.Stats()
	reqs := atomic.LoadUint64(&requests)

	fmt.Printf("workers=%d urls=%d concurrent=%d dur=%v seed=%d\n",
		workersN, *urls, *maxConcurrent, elapsed, *seed)
	fmt.Printf("requests=%d (%.0f req/s)  sync-cached=%d  failures=%d\n",
		reqs, float64(reqs)/elapsed.Seconds(), atomic.LoadUint64(&cached),
		atomic.LoadUint64(&failures))
	fmt.Printf("hit-rate=%.2f%%  ema-hit=%.2f  ema-load=%.1fms  preload-hits=%d\n",
		st.HitRate*100, st.EMAHitRate, st.EMAAvgLoadMillis, st.PreloadHits)
	fmt.Printf("loader: loaded=%d cancelled=%d avg=%.1fms max-concurrent=%d\n",
		st.Loader.LoadedCount, st.Loader.CancelCount, st.Loader.AvgLoadMillis,
		st.Loader.MaxConcurrent)
	fmt.Printf("memory=%d entries / %d bytes  disk=%d entries / %d bytes\n",
		cst.MemoryEntries, cst.MemoryBytes, cst.DiskEntries, cst.DiskBytes)
}

// fakeFetcher simulates a remote image host: per-call latency around a mean,
// a failure percentage, and a precomputed JPEG payload.
type fakeFetcher struct {
	payload []byte
	latency time.Duration
	failPct int
	seed    int64
	calls   atomic.Int64
}

func newFakeFetcher(seed int64, latency time.Duration, failPct int) *fakeFetcher {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y += 16 {
		for x := 0; x < 640; x += 16 {
			c := color.RGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 255}
			for dy := 0; dy < 16; dy++ {
				for dx := 0; dx < 16; dx++ {
					img.SetRGBA(x+dx, y+dy, c)
				}
			}
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		log.Fatalf("payload: %v", err)
	}
	return &fakeFetcher{payload: buf.Bytes(), latency: latency, failPct: failPct, seed: seed}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	n := f.calls.Add(1)
	r := rand.New(rand.NewSource(f.seed + n))

	d := f.latency/2 + time.Duration(r.Int63n(int64(f.latency)+1))
	select {
	case <-time.After(d):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.Intn(100) < f.failPct {
		return nil, fmt.Errorf("simulated fetch failure for %s", url)
	}
	return f.payload, nil
}
