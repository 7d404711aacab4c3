package transport

import (
	"bytes"
	"errors"
	"testing"
)

// pattern fills a w x h RGBA frame with bytes derived from position and salt.
func pattern(w, h int, salt byte) []byte {
	b := make([]byte, w*h*4)
	for i := range b {
		b[i] = byte(i*7) ^ salt
	}
	return b
}

func TestApplyFullRoundTrip(t *testing.T) {
	c := NewFrameCache()
	src := pattern(16, 9, 0x5A)
	if err := c.ApplyFull(16, 9, src); err != nil {
		t.Fatalf("ApplyFull(): %v", err)
	}
	if got := c.Pixels(); !bytes.Equal(got, src) {
		t.Fatalf("Pixels() differs from published frame")
	}
	f := c.Snapshot()
	if !f.Ready() || f.Width != 16 || f.Height != 9 || f.Seq != 1 {
		t.Fatalf("Snapshot() = %+v", f)
	}

	if err := c.ApplyFull(16, 9, src[:10]); err == nil {
		t.Fatalf("ApplyFull() accepted a short body")
	}
}

func TestApplyRectsUnion(t *testing.T) {
	const w, h = 20, 10
	c := NewFrameCache()
	first := pattern(w, h, 0x00)
	if err := c.ApplyRects(w, h, first, nil); err != nil {
		t.Fatalf("ApplyRects(full): %v", err)
	}

	second := pattern(w, h, 0xFF)
	rects := []Rect{{X: 2, Y: 1, W: 3, H: 2}, {X: 4, Y: 2, W: 5, H: 3}, {X: 18, Y: 8, W: 10, H: 10}, {X: 50, Y: 0, W: 1, H: 1}}
	if err := c.ApplyRects(w, h, second, rects); err != nil {
		t.Fatalf("ApplyRects(): %v", err)
	}

	inside := func(x, y int) bool {
		for _, r := range rects {
			if x >= int(r.X) && x < int(r.X+r.W) && y >= int(r.Y) && y < int(r.Y+r.H) {
				return true
			}
		}
		return false
	}
	got := c.Pixels()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := (y*w + x) * 4
			want := first[off : off+4]
			if inside(x, y) {
				want = second[off : off+4]
			}
			if !bytes.Equal(got[off:off+4], want) {
				t.Fatalf("pixel (%d,%d) = % x, want % x", x, y, got[off:off+4], want)
			}
		}
	}
}

func TestApplyRectsResizeFallsBackToFull(t *testing.T) {
	c := NewFrameCache()
	c.ApplyFull(4, 4, pattern(4, 4, 1))

	next := pattern(8, 2, 2)
	if err := c.ApplyRects(8, 2, next, []Rect{{X: 0, Y: 0, W: 1, H: 1}}); err != nil {
		t.Fatalf("ApplyRects(): %v", err)
	}
	if got := c.Pixels(); !bytes.Equal(got, next) {
		t.Fatalf("resize with dirty rects did not copy the full frame")
	}
	if f := c.Snapshot(); f.Width != 8 || f.Height != 2 {
		t.Fatalf("Snapshot() = %dx%d, want 8x2", f.Width, f.Height)
	}
}

func TestCopyToHonorsRowPitch(t *testing.T) {
	c := NewFrameCache()
	src := pattern(3, 2, 9)
	c.ApplyFull(3, 2, src)

	const pitch = 16
	dst := bytes.Repeat([]byte{0xEE}, pitch*2)
	if _, err := c.CopyTo(dst, pitch, 3, 2); err != nil {
		t.Fatalf("CopyTo(): %v", err)
	}
	for y := 0; y < 2; y++ {
		row := dst[y*pitch : y*pitch+12]
		if !bytes.Equal(row, src[y*12:(y+1)*12]) {
			t.Fatalf("row %d = % x, want % x", y, row, src[y*12:(y+1)*12])
		}
		if pad := dst[y*pitch+12 : (y+1)*pitch]; !bytes.Equal(pad, []byte{0xEE, 0xEE, 0xEE, 0xEE}) {
			t.Fatalf("row %d padding overwritten: % x", y, pad)
		}
	}

	if _, err := c.CopyTo(dst, 8, 3, 2); err == nil {
		t.Fatalf("CopyTo() accepted a pitch below the row width")
	}
	if _, err := c.CopyTo(dst, pitch, 4, 2); !errors.Is(err, ErrSizeChanged) {
		t.Fatalf("CopyTo() with stale size error = %v, want ErrSizeChanged", err)
	}
	if _, err := NewFrameCache().CopyTo(dst, pitch, 3, 2); !errors.Is(err, ErrNotReady) {
		t.Fatalf("CopyTo() on empty cache error = %v, want ErrNotReady", err)
	}
}

func TestAlpha(t *testing.T) {
	c := NewFrameCache()
	pix := make([]byte, 2*2*4)
	pix[(1*2+0)*4+3] = 200 // (0,1)
	c.ApplyFull(2, 2, pix)

	tests := []struct {
		x, y int
		want uint8
	}{
		{0, 1, 200},
		{1, 1, 0},
		{-1, 0, 0},
		{2, 0, 0},
		{0, 5, 0},
	}
	for _, tt := range tests {
		if got := c.Alpha(tt.x, tt.y); got != tt.want {
			t.Errorf("Alpha(%d, %d) = %d, want %d", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestResetAndInvalidate(t *testing.T) {
	c := NewFrameCache()
	c.ApplyFull(2, 2, pattern(2, 2, 0))
	gen := c.Snapshot().Gen

	c.Invalidate()
	if f := c.Snapshot(); f.Ready() || f.Gen != gen {
		t.Fatalf("after Invalidate Snapshot() = %+v", f)
	}

	c.ApplyFull(2, 2, pattern(2, 2, 0))
	c.Reset()
	f := c.Snapshot()
	if f.Width != 0 || f.Height != 0 || f.Gen != gen+1 {
		t.Fatalf("after Reset Snapshot() = %+v, want 0x0 gen %d", f, gen+1)
	}
	if len(c.Pixels()) != 0 {
		t.Fatalf("Reset() kept pixels")
	}
}

func TestSetSharedReportsChange(t *testing.T) {
	c := NewFrameCache()
	h := SharedHeader{Width: 1920, Height: 1080, HandleA: 1, HandleB: 2}
	if !c.SetShared(h) {
		t.Fatalf("first SetShared() = false")
	}
	if c.SetShared(h) {
		t.Fatalf("repeated SetShared() = true")
	}
	h.Index = 1
	if !c.SetShared(h) {
		t.Fatalf("SetShared() after index flip = false")
	}
}
