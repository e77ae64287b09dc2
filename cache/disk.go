package cache

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/IvanBrykalov/thumbcache/internal/logger"
)

const diskEntryExt = ".cache"

// diskTier stores raw downloaded bytes one file per key, with recency
// tracked via file modification time (refreshed on every read). All I/O
// errors degrade to cache misses; none propagate to callers.
type diskTier struct {
	dir string
	opt *Options

	mu  sync.Mutex // serializes sweeps and cap changes
	cap int64
}

func newDiskTier(dir string, capBytes int64, opt *Options) *diskTier {
	return &diskTier{dir: dir, cap: capBytes, opt: opt}
}

func (t *diskTier) path(k Key) string {
	return filepath.Join(t.dir, string(k)+diskEntryExt)
}

// Get reads the stored payload for k and bumps the entry's mtime. An entry
// that exists but cannot be read is deleted and reported as a miss.
func (t *diskTier) Get(k Key) ([]byte, bool) {
	p := t.path(k)
	data, err := os.ReadFile(p)
	if err != nil {
		if !os.IsNotExist(err) {
			// Unreadable entry: drop it so the next load refetches.
			if rmErr := os.Remove(p); rmErr == nil {
				t.opt.Metrics.Evict(EvictCorrupt)
				if cb := t.opt.OnEvict; cb != nil {
					cb(k, EvictCorrupt)
				}
			}
			logger.Debug("disk cache: dropped unreadable entry", "key", k, "err", err)
		}
		t.opt.Metrics.Miss()
		return nil, false
	}
	now := t.now()
	if err := os.Chtimes(p, now, now); err != nil {
		logger.Debug("disk cache: mtime refresh failed", "key", k, "err", err)
	}
	t.opt.Metrics.Hit()
	return data, true
}

// Put writes the payload for k, sweeping first when the write would push
// the tier past its cap. Write errors are logged and swallowed.
func (t *diskTier) Put(k Key, data []byte) {
	if t.size()+int64(len(data)) > t.capBytes() {
		t.Sweep()
	}
	if err := os.WriteFile(t.path(k), data, 0o644); err != nil {
		logger.Warn("disk cache: write failed", "key", k, "err", err)
	}
}

// Remove deletes the entry for k if present.
func (t *diskTier) Remove(k Key) bool {
	if err := os.Remove(t.path(k)); err != nil {
		return false
	}
	return true
}

// Sweep deletes oldest-by-mtime entries until the tier holds at most 80%
// of its cap, then fires OnCacheCleared. Per-file deletion errors are
// ignored so one stubborn file cannot block the pass.
func (t *diskTier) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	type entry struct {
		path  string
		mtime time.Time
		size  int64
	}
	var (
		entries []entry
		total   int64
	)
	matches, err := filepath.Glob(filepath.Join(t.dir, "*"+diskEntryExt))
	if err != nil {
		logger.Warn("disk cache: sweep glob failed", "err", err)
		return
	}
	for _, p := range matches {
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		entries = append(entries, entry{path: p, mtime: fi.ModTime(), size: fi.Size()})
		total += fi.Size()
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime.Before(entries[j].mtime) })

	target := t.cap * 8 / 10
	removed := 0
	for _, e := range entries {
		if total <= target {
			break
		}
		if err := os.Remove(e.path); err != nil {
			continue
		}
		total -= e.size
		removed++
		t.opt.Metrics.Evict(EvictSweep)
	}
	if removed > 0 {
		logger.Info("disk cache: sweep", "removed", removed, "resident_bytes", total)
		if cb := t.opt.OnCacheCleared; cb != nil {
			cb()
		}
	}
}

// Clear deletes every entry.
func (t *diskTier) Clear() {
	matches, err := filepath.Glob(filepath.Join(t.dir, "*"+diskEntryExt))
	if err != nil {
		logger.Warn("disk cache: clear glob failed", "err", err)
		return
	}
	for _, p := range matches {
		if err := os.Remove(p); err != nil {
			continue
		}
		t.opt.Metrics.Evict(EvictExplicit)
	}
}

// size returns the total resident bytes of the tier.
func (t *diskTier) size() int64 {
	var total int64
	matches, _ := filepath.Glob(filepath.Join(t.dir, "*"+diskEntryExt))
	for _, p := range matches {
		if fi, err := os.Stat(p); err == nil {
			total += fi.Size()
		}
	}
	return total
}

// count returns the number of resident entries.
func (t *diskTier) count() int {
	matches, _ := filepath.Glob(filepath.Join(t.dir, "*"+diskEntryExt))
	return len(matches)
}

func (t *diskTier) capBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cap
}

// SetCap adjusts the byte cap at runtime and sweeps if now over it.
func (t *diskTier) SetCap(capBytes int64) {
	t.mu.Lock()
	t.cap = capBytes
	over := t.size() > t.cap
	t.mu.Unlock()
	if over {
		t.Sweep()
	}
}

func (t *diskTier) now() time.Time {
	if t.opt.Clock != nil {
		return time.Unix(0, t.opt.Clock.NowUnixNano())
	}
	return time.Now()
}
