//go:build windows

package composite

import (
	"errors"
	"fmt"

	"github.com/breeze-rmm/overlay/internal/d3d"
)

// D3DBackend draws through the host's own D3D11 device.
type D3DBackend struct{}

func (D3DBackend) Open(swapchain uintptr) (Device, error) {
	sc := d3d.WrapSwapChain(swapchain)
	dev, err := sc.Device()
	if err != nil {
		return nil, translate(err)
	}
	pipe, err := dev.CreatePipeline()
	if err != nil {
		dev.Release()
		return nil, translate(err)
	}
	return &d3dDevice{sc: sc, dev: dev, pipe: pipe}, nil
}

func translate(err error) error {
	if errors.Is(err, d3d.ErrDeviceLost) {
		return fmt.Errorf("%w: %v", ErrDeviceLost, err)
	}
	return err
}

type d3dDevice struct {
	sc   *d3d.SwapChain
	dev  *d3d.Device
	pipe *d3d.Pipeline
	rt   *d3d.RenderTarget
}

type d3dTexture struct {
	*d3d.Texture
}

func (t d3dTexture) Size() (int, int) { return t.Width, t.Height }

func (d *d3dDevice) Removed() error {
	return d.dev.Removed()
}

func (d *d3dDevice) BackBufferSize() (int, int, error) {
	w, h, err := d.sc.Size()
	return w, h, translate(err)
}

func (d *d3dDevice) CreateUploadTexture(w, h int) (Texture, error) {
	t, err := d.dev.CreateUploadTexture(w, h)
	if err != nil {
		return nil, translate(err)
	}
	return d3dTexture{t}, nil
}

func (d *d3dDevice) OpenSharedTexture(handle uint64) (Texture, error) {
	t, err := d.dev.OpenSharedTexture(handle)
	if err != nil {
		return nil, translate(err)
	}
	return d3dTexture{t}, nil
}

func (d *d3dDevice) Upload(tex Texture, fill func(dst []byte, rowPitch int) error) error {
	var fillErr error
	err := d.dev.Write(tex.(d3dTexture).Texture, func(dst []byte, rowPitch int) {
		fillErr = fill(dst, rowPitch)
	})
	if err != nil {
		return translate(err)
	}
	return fillErr
}

func (d *d3dDevice) Begin() error {
	rt, err := d.dev.CreateRenderTarget(d.sc)
	if err != nil {
		return translate(err)
	}
	d.rt = rt
	return nil
}

func (d *d3dDevice) Draw(tex Texture, vp Rect) error {
	if d.rt == nil {
		return errors.New("draw outside Begin/End")
	}
	d.dev.Draw(d.pipe, d.rt, tex.(d3dTexture).Texture, d3d.Viewport{
		TopLeftX: float32(vp.X),
		TopLeftY: float32(vp.Y),
		Width:    float32(vp.W),
		Height:   float32(vp.H),
		MaxDepth: 1,
	})
	return nil
}

func (d *d3dDevice) End() {
	if d.rt != nil {
		d.rt.Release()
		d.rt = nil
	}
}

func (d *d3dDevice) Release() {
	d.End()
	d.pipe.Release()
	d.dev.Release()
}
