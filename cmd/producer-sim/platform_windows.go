//go:build windows

package main

import (
	"fmt"

	"github.com/breeze-rmm/overlay/internal/d3d"
	"github.com/breeze-rmm/overlay/internal/transport"
)

func namespace() transport.ProducerNamespace {
	return transport.Win32Namespace{}
}

// sharedPublisher renders into two alternating shared textures and points
// the header at the one just written.
type sharedPublisher struct {
	dev     *d3d.Device
	w, h    int
	tex     [2]*d3d.Texture
	handles [2]uint64
	index   uint32
}

func newSharedPublisher() (*sharedPublisher, error) {
	dev, err := d3d.NewDevice()
	if err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}
	return &sharedPublisher{dev: dev}, nil
}

func (sp *sharedPublisher) ensure(w, h int) error {
	if sp.tex[0] != nil && sp.w == w && sp.h == h {
		return nil
	}
	sp.releaseTextures()
	for i := range sp.tex {
		t, handle, err := sp.dev.CreateSharedTexture(w, h)
		if err != nil {
			sp.releaseTextures()
			return fmt.Errorf("create shared texture: %w", err)
		}
		sp.tex[i], sp.handles[i] = t, handle
	}
	sp.w, sp.h = w, h
	log.Info("shared textures created", "handleA", fmt.Sprintf("%#x", sp.handles[0]), "handleB", fmt.Sprintf("%#x", sp.handles[1]))
	return nil
}

func (sp *sharedPublisher) Publish(p *transport.Producer, w, h int, pix []byte, _ []transport.Rect) error {
	if err := sp.ensure(w, h); err != nil {
		return err
	}
	next := sp.index + 1
	sp.dev.Update(sp.tex[next%2], pix)
	sp.dev.Flush()
	sp.index = next
	return p.PublishShared(transport.SharedHeader{
		Width:   uint32(w),
		Height:  uint32(h),
		Index:   next,
		HandleA: sp.handles[0],
		HandleB: sp.handles[1],
	})
}

func (sp *sharedPublisher) releaseTextures() {
	for i, t := range sp.tex {
		if t != nil {
			t.Release()
		}
		sp.tex[i], sp.handles[i] = nil, 0
	}
}

func (sp *sharedPublisher) Close() {
	sp.releaseTextures()
	sp.dev.Release()
}
