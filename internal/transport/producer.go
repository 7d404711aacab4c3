package transport

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// Producer is the publishing side of the channel. The overlay host process
// never uses it; the producer simulator and the tests do.
type Producer struct {
	ns    ProducerNamespace
	mode  Mode
	names Names
	live  string

	mutex     io.Closer
	header    Region
	body      Region
	bodyW     uint32
	bodyH     uint32
	ready     Event
	consumed  Event
	resize    Region
	resizeEvt Event
	seq       uint32
}

func NewProducer(ns ProducerNamespace, mode Mode, names Names, liveness string) *Producer {
	return &Producer{ns: ns, mode: mode, names: names, live: liveness}
}

// Start creates the liveness mutex, header, events and resize mapping.
func (p *Producer) Start() error {
	var err error
	if p.mutex, err = p.ns.CreateMutex(p.live); err != nil {
		return fmt.Errorf("create liveness mutex: %w", err)
	}

	size := SharedHeaderSize
	if p.mode == ModePixelCopy {
		size = PixelHeaderSize
	}
	if p.header, err = p.ns.CreateRegion(p.names.Header, size); err != nil {
		p.Stop()
		return fmt.Errorf("create header: %w", err)
	}
	if p.mode == ModePixelCopy {
		if p.ready, err = p.ns.CreateEvent(p.names.FrameReady); err != nil {
			p.Stop()
			return fmt.Errorf("create ready event: %w", err)
		}
		if p.consumed, err = p.ns.CreateEvent(p.names.FrameConsumed); err != nil {
			p.Stop()
			return fmt.Errorf("create consumed event: %w", err)
		}
	}
	if p.names.Resize != "" {
		if p.resize, err = p.ns.CreateRegion(p.names.Resize, ResizeRequestSize); err != nil {
			p.Stop()
			return fmt.Errorf("create resize mapping: %w", err)
		}
		if p.resizeEvt, err = p.ns.CreateEvent(p.names.ResizeSignal); err != nil {
			p.Stop()
			return fmt.Errorf("create resize event: %w", err)
		}
	}
	return nil
}

// PublishPixels writes a frame into the body and signals it. rects limits
// what the consumer copies; nil means the full frame.
func (p *Producer) PublishPixels(w, h uint32, pix []byte, rects []Rect) error {
	if p.header == nil {
		return errors.New("producer not started")
	}
	if len(rects) > MaxRects {
		rects = nil
	}
	if p.body == nil || p.bodyW != w || p.bodyH != h {
		body, err := p.ns.CreateRegion(BodyName(p.names.Body, w, h), int(w)*int(h)*4)
		if err != nil {
			return fmt.Errorf("create body: %w", err)
		}
		if p.body != nil {
			p.body.Close()
		}
		p.body, p.bodyW, p.bodyH = body, w, h
	}
	copy(p.body.Bytes(), pix)

	p.seq++
	PixelHeader{Width: w, Height: h, Ready: true, Seq: p.seq, Rects: rects}.Encode(p.header.Bytes())
	return p.ready.Set()
}

// WaitConsumed waits for the consumer's acknowledgment.
func (p *Producer) WaitConsumed(timeout time.Duration) (bool, error) {
	if p.consumed == nil {
		return false, errors.New("producer has no consumed event")
	}
	return p.consumed.Wait(timeout)
}

// PublishShared writes a shared-handle header.
func (p *Producer) PublishShared(h SharedHeader) error {
	if p.header == nil {
		return errors.New("producer not started")
	}
	h.Encode(p.header.Bytes())
	return nil
}

// WriteHeader overwrites the raw header bytes.
func (p *Producer) WriteHeader(b []byte) {
	copy(p.header.Bytes(), b)
}

// Header returns the live header bytes.
func (p *Producer) Header() []byte {
	return p.header.Bytes()
}

// ResizeRequest returns the consumer's latest request when the resize event
// fired within timeout.
func (p *Producer) ResizeRequest(timeout time.Duration) (ResizeRequest, bool, error) {
	if p.resizeEvt == nil {
		return ResizeRequest{}, false, nil
	}
	ok, err := p.resizeEvt.Wait(timeout)
	if err != nil || !ok {
		return ResizeRequest{}, false, err
	}
	r, err := ParseResizeRequest(p.resize.Bytes())
	return r, err == nil, err
}

// Stop releases every object, the liveness mutex last.
func (p *Producer) Stop() error {
	for _, c := range []io.Closer{p.resizeEvt, p.resize, p.consumed, p.ready, p.body, p.header} {
		if c != nil {
			c.Close()
		}
	}
	p.resizeEvt, p.resize, p.consumed, p.ready, p.body, p.header = nil, nil, nil, nil, nil, nil
	if p.mutex != nil {
		err := p.mutex.Close()
		p.mutex = nil
		return err
	}
	return nil
}
