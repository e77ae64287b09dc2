package cache

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Key identifies a cached image: the xxhash of its URL (base key) or of the
// URL qualified with a target size (variant key), rendered as fixed-width
// hex so it doubles as a file name.
type Key string

// Size is a target width/height in pixels. The zero value means "no target
// size" (load at original resolution).
type Size struct {
	W, H int
}

// IsZero reports whether no usable target size was given.
func (s Size) IsZero() bool { return s.W <= 0 || s.H <= 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.W, s.H) }

// KeyOf returns the content-addressed key for url. Pure and deterministic.
func KeyOf(url string) Key {
	return Key(fmt.Sprintf("%016x", xxhash.Sum64String(url)))
}

// VariantKeyOf returns the key for the rescaled variant of url at size.
func VariantKeyOf(url string, size Size) Key {
	return Key(fmt.Sprintf("%016x", xxhash.Sum64String(url+"|"+size.String())))
}
