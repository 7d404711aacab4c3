package transport

import (
	"errors"
	"fmt"
	"sync"
)

// ErrSizeChanged means the frame was resized between snapshot and copy.
var ErrSizeChanged = errors.New("transport: frame size changed")

// Frame is a consistent view of the cache taken under its lock.
type Frame struct {
	Width, Height uint32
	// Seq advances whenever pixels or shared handles change.
	Seq uint64
	// Gen advances whenever the producer is lost and the cache is wiped.
	Gen uint64
	// Shared is set in shared-handle mode.
	Shared SharedHeader
}

// Ready reports whether the frame has usable dimensions.
func (f Frame) Ready() bool { return f.Width != 0 && f.Height != 0 }

// FrameCache is the in-process mirror of the producer's latest frame. The
// transport goroutine writes it, the render and input threads read it. Every
// method holds the lock only across a memory copy.
type FrameCache struct {
	mu     sync.Mutex
	width  uint32
	height uint32
	seq    uint64
	gen    uint64
	shared SharedHeader
	pixels []byte
}

func NewFrameCache() *FrameCache {
	return &FrameCache{}
}

func (c *FrameCache) Snapshot() Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frameLocked()
}

func (c *FrameCache) frameLocked() Frame {
	return Frame{Width: c.width, Height: c.height, Seq: c.seq, Gen: c.gen, Shared: c.shared}
}

// resizeLocked reallocates the pixel buffer to exactly w*h*4 bytes.
func (c *FrameCache) resizeLocked(w, h uint32) bool {
	if c.width == w && c.height == h && len(c.pixels) == int(w)*int(h)*4 {
		return false
	}
	c.width, c.height = w, h
	c.pixels = make([]byte, int(w)*int(h)*4)
	return true
}

// ApplyFull replaces the whole frame with src, a tightly packed w x h RGBA
// buffer.
func (c *FrameCache) ApplyFull(w, h uint32, src []byte) error {
	n := int(w) * int(h) * 4
	if len(src) < n {
		return fmt.Errorf("transport: body is %d bytes, want %d", len(src), n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resizeLocked(w, h)
	copy(c.pixels, src[:n])
	c.seq++
	return nil
}

// ApplyRects copies only the listed rectangles of src onto the previous
// frame. A dimension change or an empty list falls back to a full copy.
func (c *FrameCache) ApplyRects(w, h uint32, src []byte, rects []Rect) error {
	c.mu.Lock()
	resized := c.width != w || c.height != h
	c.mu.Unlock()
	if resized || len(rects) == 0 {
		return c.ApplyFull(w, h, src)
	}

	n := int(w) * int(h) * 4
	if len(src) < n {
		return fmt.Errorf("transport: body is %d bytes, want %d", len(src), n)
	}
	stride := int(w) * 4

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range rects {
		r, ok := r.clip(w, h)
		if !ok {
			continue
		}
		span := int(r.W) * 4
		for y := r.Y; y < r.Y+r.H; y++ {
			off := int(y)*stride + int(r.X)*4
			copy(c.pixels[off:off+span], src[off:off+span])
		}
	}
	c.seq++
	return nil
}

// SetShared records shared-handle state. It reports whether anything
// changed.
func (c *FrameCache) SetShared(h SharedHeader) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shared == h && c.width == h.Width && c.height == h.Height {
		return false
	}
	c.shared = h
	c.width, c.height = h.Width, h.Height
	c.pixels = nil
	c.seq++
	return true
}

// Invalidate marks the frame not ready without bumping the generation.
func (c *FrameCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.width == 0 && c.height == 0 {
		return
	}
	c.width, c.height = 0, 0
	c.shared = SharedHeader{}
	c.pixels = nil
	c.seq++
}

// Reset zeroes the cache after the producer is lost.
func (c *FrameCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.width, c.height = 0, 0
	c.shared = SharedHeader{}
	c.pixels = nil
	c.seq++
	c.gen++
}

// CopyTo copies a w x h frame into dst, whose rows are rowPitch bytes
// apart. rowPitch may exceed w*4. It fails with ErrSizeChanged when the
// cached frame no longer has the size the destination was built for.
func (c *FrameCache) CopyTo(dst []byte, rowPitch int, w, h uint32) (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.frameLocked()
	if !f.Ready() || c.pixels == nil {
		return f, ErrNotReady
	}
	if f.Width != w || f.Height != h {
		return f, fmt.Errorf("%w: cached %dx%d, want %dx%d", ErrSizeChanged, f.Width, f.Height, w, h)
	}
	stride := int(c.width) * 4
	if rowPitch < stride {
		return f, fmt.Errorf("transport: row pitch %d below %d", rowPitch, stride)
	}
	if need := rowPitch*(int(c.height)-1) + stride; len(dst) < need {
		return f, fmt.Errorf("transport: destination is %d bytes, want %d", len(dst), need)
	}
	for y := 0; y < int(c.height); y++ {
		copy(dst[y*rowPitch:y*rowPitch+stride], c.pixels[y*stride:(y+1)*stride])
	}
	return f, nil
}

// Pixels returns a copy of the RGBA buffer.
func (c *FrameCache) Pixels() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.pixels...)
}

// Alpha returns the alpha byte at (x, y), or 0 outside the frame or when no
// pixel data is cached.
func (c *FrameCache) Alpha(x, y int) uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pixels == nil || x < 0 || y < 0 || x >= int(c.width) || y >= int(c.height) {
		return 0
	}
	return c.pixels[(y*int(c.width)+x)*4+3]
}
