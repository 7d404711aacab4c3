package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotReady means the producer has not published a usable frame.
var ErrNotReady = errors.New("transport: producer not ready")

// DefaultMaxDimension bounds header width and height.
const DefaultMaxDimension = 10000

// Shared-handle header: width, height, index (u32) then two u64 handles.
const SharedHeaderSize = 28

// Pixel-copy header: width, height, ready, consumed, sequence, rect count
// (u32 each) followed by MaxRects rectangles of four u32.
const (
	MaxRects        = 32
	pixelFixedSize  = 24
	rectSize        = 16
	PixelHeaderSize = pixelFixedSize + MaxRects*rectSize

	offReady    = 8
	offConsumed = 12
)

// Resize request written by the consumer: width, height, sequence.
const ResizeRequestSize = 12

// Rect is a dirty rectangle in frame pixels.
type Rect struct {
	X, Y, W, H uint32
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.W, r.H, r.X, r.Y)
}

// clip intersects r with a w x h frame.
func (r Rect) clip(w, h uint32) (Rect, bool) {
	if r.X >= w || r.Y >= h || r.W == 0 || r.H == 0 {
		return Rect{}, false
	}
	if r.W > w-r.X {
		r.W = w - r.X
	}
	if r.H > h-r.Y {
		r.H = h - r.Y
	}
	return r, true
}

func validDims(w, h, max uint32) error {
	if w == 0 || h == 0 || w > max || h > max {
		return fmt.Errorf("%w: dimensions %dx%d", ErrNotReady, w, h)
	}
	return nil
}

// SharedHeader is the shared-handle frame descriptor.
type SharedHeader struct {
	Width, Height uint32
	Index         uint32
	HandleA       uint64
	HandleB       uint64
}

// ParseSharedHeader decodes and validates b. Any header that fails bounds
// validation is reported as ErrNotReady.
func ParseSharedHeader(b []byte, maxDim uint32) (SharedHeader, error) {
	if len(b) < SharedHeaderSize {
		return SharedHeader{}, fmt.Errorf("%w: header is %d bytes", ErrNotReady, len(b))
	}
	h := SharedHeader{
		Width:   binary.LittleEndian.Uint32(b[0:]),
		Height:  binary.LittleEndian.Uint32(b[4:]),
		Index:   binary.LittleEndian.Uint32(b[8:]),
		HandleA: binary.LittleEndian.Uint64(b[12:]),
		HandleB: binary.LittleEndian.Uint64(b[20:]),
	}
	if err := validDims(h.Width, h.Height, maxDim); err != nil {
		return h, err
	}
	if h.Active() == 0 {
		return h, fmt.Errorf("%w: no handle for index %d", ErrNotReady, h.Index)
	}
	return h, nil
}

// Active returns the handle selected by Index.
func (h SharedHeader) Active() uint64 {
	if h.Index%2 == 0 {
		return h.HandleA
	}
	return h.HandleB
}

func (h SharedHeader) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], h.Width)
	binary.LittleEndian.PutUint32(b[4:], h.Height)
	binary.LittleEndian.PutUint32(b[8:], h.Index)
	binary.LittleEndian.PutUint64(b[12:], h.HandleA)
	binary.LittleEndian.PutUint64(b[20:], h.HandleB)
}

// PixelHeader is the pixel-copy frame descriptor. An empty Rects list means
// the whole frame changed.
type PixelHeader struct {
	Width, Height uint32
	Ready         bool
	Consumed      bool
	Seq           uint32
	Rects         []Rect
}

func ParsePixelHeader(b []byte, maxDim uint32) (PixelHeader, error) {
	if len(b) < PixelHeaderSize {
		return PixelHeader{}, fmt.Errorf("%w: header is %d bytes", ErrNotReady, len(b))
	}
	h := PixelHeader{
		Width:    binary.LittleEndian.Uint32(b[0:]),
		Height:   binary.LittleEndian.Uint32(b[4:]),
		Ready:    binary.LittleEndian.Uint32(b[offReady:]) != 0,
		Consumed: binary.LittleEndian.Uint32(b[offConsumed:]) != 0,
		Seq:      binary.LittleEndian.Uint32(b[16:]),
	}
	if err := validDims(h.Width, h.Height, maxDim); err != nil {
		return h, err
	}
	n := binary.LittleEndian.Uint32(b[20:])
	if n > MaxRects {
		return h, fmt.Errorf("%w: %d dirty rects", ErrNotReady, n)
	}
	for i := uint32(0); i < n; i++ {
		off := pixelFixedSize + i*rectSize
		h.Rects = append(h.Rects, Rect{
			X: binary.LittleEndian.Uint32(b[off:]),
			Y: binary.LittleEndian.Uint32(b[off+4:]),
			W: binary.LittleEndian.Uint32(b[off+8:]),
			H: binary.LittleEndian.Uint32(b[off+12:]),
		})
	}
	return h, nil
}

// BodySize is the byte length of a tightly packed RGBA body.
func (h PixelHeader) BodySize() int {
	return int(h.Width) * int(h.Height) * 4
}

func (h PixelHeader) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], h.Width)
	binary.LittleEndian.PutUint32(b[4:], h.Height)
	binary.LittleEndian.PutUint32(b[offReady:], boolU32(h.Ready))
	binary.LittleEndian.PutUint32(b[offConsumed:], boolU32(h.Consumed))
	binary.LittleEndian.PutUint32(b[16:], h.Seq)
	binary.LittleEndian.PutUint32(b[20:], uint32(len(h.Rects)))
	for i, r := range h.Rects {
		off := pixelFixedSize + i*rectSize
		binary.LittleEndian.PutUint32(b[off:], r.X)
		binary.LittleEndian.PutUint32(b[off+4:], r.Y)
		binary.LittleEndian.PutUint32(b[off+8:], r.W)
		binary.LittleEndian.PutUint32(b[off+12:], r.H)
	}
}

// acknowledge marks the frame consumed and clears ready.
func acknowledge(b []byte) {
	binary.LittleEndian.PutUint32(b[offConsumed:], 1)
	binary.LittleEndian.PutUint32(b[offReady:], 0)
}

// ResizeRequest asks the producer to render at the host's size.
type ResizeRequest struct {
	Width, Height uint32
	Seq           uint32
}

func (r ResizeRequest) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], r.Width)
	binary.LittleEndian.PutUint32(b[4:], r.Height)
	binary.LittleEndian.PutUint32(b[8:], r.Seq)
}

func ParseResizeRequest(b []byte) (ResizeRequest, error) {
	if len(b) < ResizeRequestSize {
		return ResizeRequest{}, fmt.Errorf("transport: resize request is %d bytes", len(b))
	}
	return ResizeRequest{
		Width:  binary.LittleEndian.Uint32(b[0:]),
		Height: binary.LittleEndian.Uint32(b[4:]),
		Seq:    binary.LittleEndian.Uint32(b[8:]),
	}, nil
}

func boolU32(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}
