package imaging

import (
	"image"
	"testing"
)

// Aspect-fit dimensions: the result always fits inside the box and keeps
// the source ratio.
func TestFitDims(t *testing.T) {
	t.Parallel()

	cases := []struct {
		sw, sh, w, h int
		tw, th       int
	}{
		{800, 600, 160, 160, 160, 120}, // landscape, width-bound
		{600, 800, 160, 160, 120, 160}, // portrait, height-bound
		{100, 100, 160, 160, 160, 160}, // square upscale
		{1, 1000, 160, 160, 1, 160},    // extreme ratio clamps to 1px
		{0, 0, 160, 160, 1, 1},         // degenerate source
	}
	for _, c := range cases {
		tw, th := FitDims(c.sw, c.sh, c.w, c.h)
		if tw != c.tw || th != c.th {
			t.Errorf("FitDims(%d,%d,%d,%d) = %dx%d, want %dx%d",
				c.sw, c.sh, c.w, c.h, tw, th, c.tw, c.th)
		}
		if tw > c.w && c.sw > 0 || th > c.h && c.sh > 0 {
			t.Errorf("result %dx%d escapes the %dx%d box", tw, th, c.w, c.h)
		}
	}
}

// Scale is a no-op when the source already matches the target fit.
func TestScale_NoopAtTargetSize(t *testing.T) {
	t.Parallel()

	src := image.NewRGBA(image.Rect(0, 0, 160, 120))
	if got := Scale(src, 160, 160); got != src {
		t.Fatal("expect the identical image back when no resample is needed")
	}
}

// Scale produces the aspect-fit dimensions.
func TestScale_Resamples(t *testing.T) {
	t.Parallel()

	src := image.NewRGBA(image.Rect(0, 0, 800, 600))
	got := Scale(src, 160, 160)
	b := got.Bounds()
	if b.Dx() != 160 || b.Dy() != 120 {
		t.Fatalf("want 160x120, got %dx%d", b.Dx(), b.Dy())
	}
}

// JPEG encode/decode round trip preserves dimensions.
func TestEncodeDecodeJPEG(t *testing.T) {
	t.Parallel()

	src := image.NewRGBA(image.Rect(0, 0, 64, 48))
	data, err := EncodeJPEG(src, 85)
	if err != nil {
		t.Fatal(err)
	}
	img, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	b := img.Bounds()
	if b.Dx() != 64 || b.Dy() != 48 {
		t.Fatalf("want 64x48, got %dx%d", b.Dx(), b.Dy())
	}
}

// Garbage bytes fail to decode with an error, never a panic.
func TestDecode_RejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := Decode([]byte("definitely not an image")); err == nil {
		t.Fatal("expect decode error")
	}
}

// The RGBA estimate is width*height*4 regardless of source pixel format.
func TestByteSize(t *testing.T) {
	t.Parallel()

	if got := ByteSize(image.NewGray(image.Rect(0, 0, 10, 20))); got != 800 {
		t.Fatalf("want 800, got %d", got)
	}
}
