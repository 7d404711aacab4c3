package main

import (
	"fmt"
	"image"
	"image/color"

	"github.com/gogpu/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/breeze-rmm/overlay/internal/transport"
)

const (
	boxSize  = 160
	boxStep  = 6
	labelW   = 260
	labelH   = 20
	labelTop = 8
)

// pattern is a translucent box bouncing along the top of the frame, with
// a frame counter in the corner.
type pattern struct {
	w, h  int
	frame int
	x, dx int
	prev  image.Rectangle
}

func newPattern(w, h int) *pattern {
	return &pattern{w: w, h: h, dx: boxStep}
}

func (p *pattern) box() image.Rectangle {
	y := p.h / 4
	return image.Rect(p.x, y, p.x+boxSize, y+boxSize).Intersect(image.Rect(0, 0, p.w, p.h))
}

// next renders the following frame and returns it with the rectangles that
// changed. The first frame is a full frame.
func (p *pattern) next() ([]byte, []transport.Rect) {
	p.frame++
	if p.frame > 1 {
		p.x += p.dx
		if p.x < 0 || p.x+boxSize > p.w {
			p.dx = -p.dx
			p.x += 2 * p.dx
		}
	}
	cur := p.box()
	label := image.Rect(0, 0, labelW, labelH+labelTop).Intersect(image.Rect(0, 0, p.w, p.h))

	dc := gg.NewContext(p.w, p.h)
	defer dc.Close()
	dc.Clear()
	dc.SetRGBA(0.1, 0.6, 0.9, 0.7)
	dc.DrawRoundedRectangle(float64(cur.Min.X), float64(cur.Min.Y), float64(cur.Dx()), float64(cur.Dy()), 12)
	_ = dc.Fill()
	dc.SetRGBA(0, 0, 0, 0.6)
	dc.DrawRectangle(0, 0, float64(label.Dx()), float64(label.Dy()))
	_ = dc.Fill()
	_ = dc.FlushGPU()

	img := dc.Image().(*image.RGBA)
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(6, labelTop+10),
	}
	d.DrawString(fmt.Sprintf("producer-sim %dx%d frame %d", p.w, p.h, p.frame))

	var dirty []transport.Rect
	if p.frame > 1 {
		for _, r := range []image.Rectangle{label, p.prev.Union(cur)} {
			if !r.Empty() {
				dirty = append(dirty, transport.Rect{X: uint32(r.Min.X), Y: uint32(r.Min.Y), W: uint32(r.Dx()), H: uint32(r.Dy())})
			}
		}
	}
	p.prev = cur
	return img.Pix, dirty
}
