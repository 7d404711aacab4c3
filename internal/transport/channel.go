// Package transport receives overlay frames from the producer process.
//
// A Channel runs on its own goroutine. It opens the producer's named
// mappings, mirrors the latest frame into a FrameCache and tears everything
// down when the producer's liveness object disappears. Two strategies are
// supported: shared-handle, where the header carries two alternating GPU
// texture handles, and pixel-copy, where RGBA pixels and optional dirty
// rectangles are copied through a body mapping under a ready/consumed
// event handshake.
package transport

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/overlay/internal/clock"
	"github.com/breeze-rmm/overlay/internal/health"
	"github.com/breeze-rmm/overlay/internal/liveness"
	"github.com/breeze-rmm/overlay/internal/logging"
	"github.com/breeze-rmm/overlay/internal/metrics"
)

var log = logging.L("transport")

// Mode selects the payload strategy.
type Mode string

const (
	ModeSharedHandle Mode = "shared-handle"
	ModePixelCopy    Mode = "pixel-copy"
)

// Timing defaults.
const (
	DefaultPollInterval  = 20 * time.Millisecond
	DefaultRetryInterval = time.Second
	DefaultWaitTimeout   = 100 * time.Millisecond
)

var errProducerDown = errors.New("producer not running")

type Options struct {
	Mode          Mode
	Names         Names
	MaxDimension  uint32
	PollInterval  time.Duration
	RetryInterval time.Duration
	WaitTimeout   time.Duration
	Clock         clock.Clock
	Metrics       *metrics.Metrics
	Health        *health.Monitor
}

func (o *Options) setDefaults() {
	if o.Mode == "" {
		o.Mode = ModeSharedHandle
	}
	if o.MaxDimension == 0 {
		o.MaxDimension = DefaultMaxDimension
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = DefaultWaitTimeout
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
}

// Channel is the consumer side of the transport.
type Channel struct {
	opts  Options
	ns    Namespace
	live  *liveness.Monitor
	cache *FrameCache

	// Owned by the goroutine calling Step.
	header    Region
	body      Region
	bodyW     uint32
	bodyH     uint32
	ready     Event
	consumed  Event
	resize    Region
	resizeEvt Event
	connected atomic.Bool
	lastWhy   string
	waitErr   string

	resizeMu   sync.Mutex
	resizeWant ResizeRequest
	resizeSent ResizeRequest

	lostMu sync.Mutex
	onLost []func()
}

// New returns a Channel. Nothing is opened until the first Step.
func New(ns Namespace, live *liveness.Monitor, opts Options) *Channel {
	opts.setDefaults()
	return &Channel{
		opts:  opts,
		ns:    ns,
		live:  live,
		cache: NewFrameCache(),
	}
}

func (c *Channel) Cache() *FrameCache { return c.cache }

func (c *Channel) Mode() Mode { return c.opts.Mode }

// OnProducerLost registers fn to run after the channel tore down a lost
// producer's resources. Consumers holding GPU objects derived from shared
// handles use it to drop them.
func (c *Channel) OnProducerLost(fn func()) {
	c.lostMu.Lock()
	c.onLost = append(c.onLost, fn)
	c.lostMu.Unlock()
}

// RequestResize asks the producer to render at w x h. Safe from any
// goroutine; the transport goroutine delivers it on its next Step.
func (c *Channel) RequestResize(w, h uint32) {
	c.resizeMu.Lock()
	defer c.resizeMu.Unlock()
	if c.resizeWant.Width == w && c.resizeWant.Height == h {
		return
	}
	c.resizeWant = ResizeRequest{Width: w, Height: h, Seq: c.resizeWant.Seq + 1}
}

// Run steps the channel until ctx is done.
func (c *Channel) Run(ctx context.Context) {
	log.Info("transport started", "mode", string(c.opts.Mode), "header", c.opts.Names.Header)
	defer c.release()
	for {
		wait := c.safeStep()
		if !c.opts.Clock.Sleep(wait, ctx.Done()) {
			log.Info("transport stopped")
			return
		}
	}
}

func (c *Channel) safeStep() (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("transport step panicked", "panic", r, "stack", string(debug.Stack()))
			wait = c.opts.RetryInterval
		}
	}()
	return c.Step()
}

// Step runs one iteration and returns how long to sleep before the next.
func (c *Channel) Step() time.Duration {
	if !c.live.Alive() {
		if c.connected.Load() || c.header != nil {
			c.producerLost()
		}
		c.notReady(errProducerDown, true)
		c.opts.Health.Update(health.Producer, health.Unhealthy, errProducerDown.Error())
		return c.opts.RetryInterval
	}
	c.opts.Health.Update(health.Producer, health.Healthy, "")

	if c.header == nil {
		if err := c.open(); err != nil {
			c.notReady(err, true)
			return c.opts.RetryInterval
		}
		log.Info("producer header opened", "name", c.opts.Names.Header)
	}
	c.connected.Store(true)
	c.flushResize()

	if c.opts.Mode == ModePixelCopy {
		return c.receivePixels()
	}
	c.pollShared()
	return c.opts.PollInterval
}

// notReady logs why no frame is available. Retry-path reasons are logged on
// every call, which happens once per retry interval; header validation
// failures only when the reason changes.
func (c *Channel) notReady(err error, periodic bool) {
	why := err.Error()
	if periodic || why != c.lastWhy {
		log.Info("producer not ready", "reason", why)
	}
	c.lastWhy = why
	c.opts.Health.Update(health.Transport, health.Degraded, why)
}

func (c *Channel) markReady() {
	if c.lastWhy != "" {
		log.Info("producer frames flowing", "mode", string(c.opts.Mode))
		c.lastWhy = ""
	}
	c.opts.Health.Update(health.Transport, health.Healthy, "")
}

func (c *Channel) open() error {
	size := SharedHeaderSize
	if c.opts.Mode == ModePixelCopy {
		size = PixelHeaderSize
	}
	header, err := c.ns.OpenRegion(c.opts.Names.Header, size)
	if err != nil {
		return fmt.Errorf("open header: %w", err)
	}
	if c.opts.Mode == ModePixelCopy {
		ready, err := c.ns.OpenEvent(c.opts.Names.FrameReady)
		if err != nil {
			header.Close()
			return fmt.Errorf("open ready event: %w", err)
		}
		consumed, err := c.ns.OpenEvent(c.opts.Names.FrameConsumed)
		if err != nil {
			ready.Close()
			header.Close()
			return fmt.Errorf("open consumed event: %w", err)
		}
		c.ready, c.consumed = ready, consumed
	}
	c.header = header
	return nil
}

func (c *Channel) pollShared() {
	h, err := ParseSharedHeader(c.header.Bytes(), c.opts.MaxDimension)
	if err != nil {
		if c.cache.Snapshot().Ready() {
			c.opts.Metrics.InvalidHeader()
		}
		c.cache.Invalidate()
		c.notReady(err, false)
		return
	}
	if c.cache.SetShared(h) {
		c.opts.Metrics.TransportFrame(string(ModeSharedHandle))
		log.Debug("shared frame", "width", h.Width, "height", h.Height, "index", h.Index)
	}
	c.markReady()
}

// receivePixels handles at most one frame. The ready wait already paces
// the loop, so it returns 0 unless the channel must back off.
func (c *Channel) receivePixels() time.Duration {
	if _, err := c.ready.Wait(c.opts.WaitTimeout); err != nil {
		if why := err.Error(); why != c.waitErr {
			log.Warn("frame ready wait failed", "error", why)
			c.waitErr = why
		}
		c.opts.Health.Update(health.Transport, health.Degraded, "ready event unusable")
		return c.opts.RetryInterval
	}
	if c.waitErr != "" {
		log.Info("frame ready wait recovered")
		c.waitErr = ""
	}

	hb := c.header.Bytes()
	h, err := ParsePixelHeader(hb, c.opts.MaxDimension)
	if err != nil {
		if h.Ready {
			c.opts.Metrics.InvalidHeader()
			c.cache.Invalidate()
			acknowledge(hb)
			c.consumed.Set()
		}
		c.notReady(err, false)
		return 0
	}
	if !h.Ready {
		return 0
	}

	if err := c.openBody(h.Width, h.Height); err != nil {
		c.notReady(err, false)
		return c.opts.RetryInterval
	}
	if err := c.cache.ApplyRects(h.Width, h.Height, c.body.Bytes(), h.Rects); err != nil {
		c.notReady(err, false)
		return 0
	}
	acknowledge(hb)
	if err := c.consumed.Set(); err != nil {
		log.Warn("signal frame consumed failed", "error", err.Error())
	}
	c.opts.Metrics.TransportFrame(string(ModePixelCopy))
	c.markReady()
	return 0
}

func (c *Channel) openBody(w, h uint32) error {
	if c.body != nil && c.bodyW == w && c.bodyH == h {
		return nil
	}
	body, err := c.ns.OpenRegion(BodyName(c.opts.Names.Body, w, h), int(w)*int(h)*4)
	if err != nil {
		return fmt.Errorf("open body: %w", err)
	}
	if c.body != nil {
		c.body.Close()
	}
	c.body, c.bodyW, c.bodyH = body, w, h
	log.Info("producer body opened", logging.KeyWidth, w, logging.KeyHeight, h)
	return nil
}

func (c *Channel) flushResize() {
	c.resizeMu.Lock()
	want := c.resizeWant
	pending := want != c.resizeSent && want.Width != 0
	c.resizeMu.Unlock()
	if !pending || c.opts.Names.Resize == "" {
		return
	}

	if c.resize == nil {
		r, err := c.ns.OpenRegion(c.opts.Names.Resize, ResizeRequestSize)
		if err != nil {
			log.Debug("resize mapping unavailable", "error", err.Error())
			return
		}
		c.resize = r
		if c.opts.Names.ResizeSignal != "" {
			if e, err := c.ns.OpenEvent(c.opts.Names.ResizeSignal); err == nil {
				c.resizeEvt = e
			}
		}
	}

	want.Encode(c.resize.Bytes())
	if c.resizeEvt != nil {
		c.resizeEvt.Set()
	}
	c.resizeMu.Lock()
	c.resizeSent = want
	c.resizeMu.Unlock()
	log.Info("resize requested", logging.KeyWidth, want.Width, logging.KeyHeight, want.Height, "seq", want.Seq)
}

func (c *Channel) producerLost() {
	log.Warn("producer lost, releasing shared resources")
	if c.header != nil {
		clear(c.header.Bytes())
	}
	c.release()
	c.cache.Reset()
	c.opts.Metrics.ProducerExited()

	c.lostMu.Lock()
	fns := append([]func(){}, c.onLost...)
	c.lostMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *Channel) release() {
	for _, r := range []Region{c.body, c.header, c.resize} {
		if r != nil {
			r.Close()
		}
	}
	for _, e := range []Event{c.ready, c.consumed, c.resizeEvt} {
		if e != nil {
			e.Close()
		}
	}
	c.header, c.body, c.resize = nil, nil, nil
	c.ready, c.consumed, c.resizeEvt = nil, nil, nil
	c.bodyW, c.bodyH = 0, 0
	c.connected.Store(false)

	// A reconnecting producer has lost any earlier request.
	c.resizeMu.Lock()
	c.resizeSent = ResizeRequest{}
	c.resizeMu.Unlock()
}

// Connected reports whether the header is mapped.
func (c *Channel) Connected() bool {
	return c.connected.Load()
}
