package loader

import (
	"context"
	"image"
	"time"

	"github.com/IvanBrykalov/thumbcache/cache"
	"github.com/IvanBrykalov/thumbcache/internal/imaging"
	"github.com/IvanBrykalov/thumbcache/internal/logger"
)

// worker owns one network fetch. At most one live worker exists per URL;
// target sizes requested while it is in flight accumulate in sizes so the
// completion path delivers every variant that was asked for.
type worker struct {
	d         *Dispatcher
	url       string
	ctx       context.Context
	cancel    context.CancelFunc
	startNano int64

	// sizes is guarded by d.mu.
	sizes []cache.Size
}

// addSizeLocked records another requested variant. Caller holds d.mu.
func (w *worker) addSizeLocked(s cache.Size) {
	for _, have := range w.sizes {
		if have == s {
			return
		}
	}
	w.sizes = append(w.sizes, s)
}

func (w *worker) run() {
	img, err := w.load()
	switch {
	case w.ctx.Err() != nil:
		w.finishCancelled()
	case err != nil:
		w.finishFailed(err)
	default:
		w.finishLoaded(img)
	}
}

// load produces the base bitmap: memory re-check, disk read-through, then
// network fetch. Cache writes happen only after a full successful decode,
// so a cancelled or failed fetch never leaves a partial entry.
func (w *worker) load() (image.Image, error) {
	baseKey := cache.KeyOf(w.url)

	// A concurrent load may have populated memory since dispatch.
	if img, ok := w.d.cache.GetMemory(baseKey); ok {
		return img, nil
	}

	if data, ok := w.d.cache.GetDisk(baseKey); ok {
		img, err := imaging.Decode(data)
		if err == nil {
			return img, nil
		}
		// Stored payload no longer decodes; refetch and overwrite.
		logger.Debug("loader: undecodable disk entry, refetching", "url", w.url, "err", err)
	}

	data, err := w.d.opt.Fetcher.Fetch(w.ctx, w.url)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}
	w.d.cache.PutDisk(baseKey, data)
	return img, nil
}

// finishLoaded publishes the base bitmap: each requested variant is
// rescaled, cached, and announced; with no requested size the base itself
// is cached and announced.
func (w *worker) finishLoaded(base image.Image) {
	d := w.d

	d.mu.Lock()
	sizes := w.sizes
	w.sizes = nil
	owned := d.detachLocked(w)
	var dur time.Duration
	if owned {
		dur = time.Duration(d.nowNano() - w.startNano)
		d.loadedCount++
		d.sumLoadNs += int64(dur)
	}
	d.opt.Metrics.Depth(d.active.Len(), len(d.pending))
	d.mu.Unlock()

	if !owned {
		// Cancelled while decoding; Cancel already accounted for it.
		return
	}
	d.opt.Metrics.Completed(OutcomeLoaded, dur)

	if len(sizes) == 0 {
		d.cache.PutMemory(cache.KeyOf(w.url), base)
		d.emitLoaded(w.url, base)
	} else {
		for _, size := range sizes {
			scaled := imaging.Scale(base, size.W, size.H)
			d.cache.PutMemory(cache.VariantKeyOf(w.url, size), scaled)
			d.emitLoaded(w.url, scaled)
		}
	}
	d.dispatchPending()
}

func (w *worker) finishFailed(err error) {
	d := w.d

	d.mu.Lock()
	owned := d.detachLocked(w)
	var dur time.Duration
	if owned {
		dur = time.Duration(d.nowNano() - w.startNano)
	}
	d.opt.Metrics.Depth(d.active.Len(), len(d.pending))
	d.mu.Unlock()

	if !owned {
		return
	}
	d.opt.Metrics.Completed(OutcomeFailed, dur)
	logger.Debug("loader: load failed", "url", w.url, "err", err)
	d.emitFailed(w.url, err.Error())
	d.dispatchPending()
}

// finishCancelled runs when the worker itself observes cancellation; the
// cancelling side already removed it from the active set and counted it.
func (w *worker) finishCancelled() {
	d := w.d
	d.mu.Lock()
	d.detachLocked(w)
	d.mu.Unlock()
	d.dispatchPending()
}
