// Package imaging bundles the decode / rescale / encode helpers shared by
// the cache tiers and the load pipeline. Decoding accepts JPEG, PNG, GIF
// and WebP payloads.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

// Decode parses raw downloaded bytes into an image.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imaging: decode: %w", err)
	}
	return img, nil
}

// EncodeJPEG renders img as a JPEG at the given quality (1..100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("imaging: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Scale resizes img to fit inside a w×h box, preserving aspect ratio.
// When the source already has the target dimensions it is returned as-is.
// Catmull-Rom interpolation keeps thumbnails sharp at grid sizes.
func Scale(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	tw, th := FitDims(b.Dx(), b.Dy(), w, h)
	if tw == b.Dx() && th == b.Dy() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// FitDims returns the largest dimensions ≤ (w, h) that keep the sw:sh
// aspect ratio. Both results are at least 1.
func FitDims(sw, sh, w, h int) (int, int) {
	if sw <= 0 || sh <= 0 || w <= 0 || h <= 0 {
		return 1, 1
	}
	// Compare sw/sh against w/h without floating point.
	if sw*h > sh*w {
		// Width-bound.
		th := sh * w / sw
		if th < 1 {
			th = 1
		}
		return w, th
	}
	tw := sw * h / sh
	if tw < 1 {
		tw = 1
	}
	return tw, h
}

// ByteSize estimates the resident footprint of a decoded bitmap as
// width*height*4 (RGBA), independent of the underlying pixel format.
func ByteSize(img image.Image) int64 {
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * 4
}
