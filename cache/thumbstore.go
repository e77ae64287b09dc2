package cache

import (
	"image"
	"os"
	"path/filepath"

	"github.com/IvanBrykalov/thumbcache/internal/imaging"
	"github.com/IvanBrykalov/thumbcache/internal/logger"
)

// thumbStore keeps pre-rendered per-image thumbnails as <dir>/<id>.jpg,
// keyed by a stable image identifier rather than a URL hash. It is never
// touched by the size-based sweep; Clear is the only bulk removal path.
type thumbStore struct {
	dir     string
	quality int
	opt     *Options
}

func newThumbStore(dir string, quality int, opt *Options) *thumbStore {
	return &thumbStore{dir: dir, quality: quality, opt: opt}
}

func (s *thumbStore) path(id string) string {
	if id == "" {
		id = "unknown"
	}
	return filepath.Join(s.dir, id+".jpg")
}

// Get loads the pre-rendered thumbnail for id. An entry that cannot be
// decoded is deleted and reported as a miss.
func (s *thumbStore) Get(id string) (image.Image, bool) {
	p := s.path(id)
	data, err := os.ReadFile(p)
	if err != nil {
		s.opt.Metrics.Miss()
		return nil, false
	}
	img, err := imaging.Decode(data)
	if err != nil {
		if rmErr := os.Remove(p); rmErr == nil {
			s.opt.Metrics.Evict(EvictCorrupt)
		}
		logger.Debug("thumb store: dropped undecodable entry", "id", id, "err", err)
		s.opt.Metrics.Miss()
		return nil, false
	}
	s.opt.Metrics.Hit()
	return img, true
}

// Put renders img as a JPEG at the given quality (<= 0 uses the configured
// default) and stores it under id.
func (s *thumbStore) Put(id string, img image.Image, quality int) error {
	if quality <= 0 {
		quality = s.quality
	}
	data, err := imaging.EncodeJPEG(img, quality)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(id), data, 0o644)
}

// Clear deletes every stored thumbnail. Per-file errors are ignored.
func (s *thumbStore) Clear() {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.jpg"))
	if err != nil {
		logger.Warn("thumb store: clear glob failed", "err", err)
		return
	}
	for _, p := range matches {
		if err := os.Remove(p); err != nil {
			continue
		}
		s.opt.Metrics.Evict(EvictExplicit)
	}
}
