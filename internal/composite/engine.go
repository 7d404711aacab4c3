// Package composite draws the producer's frame over the host's back buffer
// from inside the hooked present call.
//
// The Engine owns every GPU object it creates. Device-wide state (shaders,
// sampler, blend state) is built the first time a swap chain presents and
// rebuilt after device loss. The overlay texture follows the frame size
// published by the transport, and a render target view over the current
// back buffer is created for each drawn frame. Failures skip the overlay
// for that frame; the original present always runs.
package composite

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/breeze-rmm/overlay/internal/clock"
	"github.com/breeze-rmm/overlay/internal/health"
	"github.com/breeze-rmm/overlay/internal/logging"
	"github.com/breeze-rmm/overlay/internal/metrics"
	"github.com/breeze-rmm/overlay/internal/transport"
)

var log = logging.L("composite")

// ErrDeviceLost marks errors after which the device state must be rebuilt.
var ErrDeviceLost = errors.New("composite: device lost")

// Diagnostics panel placement on the back buffer.
const (
	PanelX = 4
	PanelY = 0
)

// Rect is a viewport in back-buffer pixels.
type Rect struct {
	X, Y, W, H int
}

// Texture is a GPU texture with a shader resource view.
type Texture interface {
	Size() (w, h int)
	Release()
}

// Device is the host's GPU device as reached from one swap chain, with the
// overlay pipeline already created on it.
type Device interface {
	// Removed reports device removal or reset.
	Removed() error
	BackBufferSize() (w, h int, err error)
	CreateUploadTexture(w, h int) (Texture, error)
	OpenSharedTexture(handle uint64) (Texture, error)
	// Upload maps tex for writing. fill receives rows rowPitch bytes apart.
	Upload(tex Texture, fill func(dst []byte, rowPitch int) error) error
	// Begin creates the render target view over the current back buffer.
	Begin() error
	// Draw alpha-blends tex into vp with a single full-viewport triangle.
	Draw(tex Texture, vp Rect) error
	// End releases per-frame objects.
	End()
	Release()
}

// Backend opens a Device for the swap chain passed to present.
type Backend interface {
	Open(swapchain uintptr) (Device, error)
}

// Source is where frames come from.
type Source interface {
	Mode() transport.Mode
	Cache() *transport.FrameCache
	RequestResize(w, h uint32)
}

// Toggles are the runtime feature switches the engine honors.
type Toggles interface {
	Rendering() bool
	DiagnosticsOverlay() bool
}

// Panel supplies the diagnostics image.
type Panel interface {
	// Frame returns tightly packed RGBA pixels and a version that changes
	// whenever the pixels do.
	Frame() (pix []byte, w, h int, version uint64)
}

type Options struct {
	Backend Backend
	Source  Source
	Toggles Toggles
	Panel   Panel
	// Original calls the hooked present.
	Original func(args ...uintptr) uintptr
	Clock    clock.Clock
	Metrics  *metrics.Metrics
	Health   *health.Monitor
}

type gpuState struct {
	swapchain uintptr
	dev       Device

	backW, backH int

	gen uint64

	// pixel-copy
	upload      Texture
	uploadedSeq uint64

	// shared-handle
	handles [2]uint64
	shared  [2]Texture

	texW, texH uint32

	panel        Texture
	panelVersion uint64
	panelLoaded  bool
}

func (s *gpuState) releaseFrame() {
	if s.upload != nil {
		s.upload.Release()
		s.upload = nil
	}
	for i, t := range s.shared {
		if t != nil {
			t.Release()
			s.shared[i] = nil
		}
	}
	s.handles = [2]uint64{}
	s.texW, s.texH = 0, 0
	s.uploadedSeq = 0
}

func (s *gpuState) release() {
	s.releaseFrame()
	if s.panel != nil {
		s.panel.Release()
		s.panel = nil
	}
	s.dev.Release()
}

// Engine composites one overlay layer, plus the optional diagnostics panel,
// onto every presented frame.
type Engine struct {
	opts Options

	mu          sync.Mutex
	st          *gpuState
	lastPresent time.Time
	lastErr     string
}

func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Engine{opts: opts}
}

// Present is the body of the present detour. args are the arguments of
// the hooked call, the swap chain first; they reach Original unchanged and
// its result is returned unchanged.
func (e *Engine) Present(args ...uintptr) uintptr {
	if len(args) > 0 && (e.opts.Toggles == nil || e.opts.Toggles.Rendering()) {
		e.compose(args[0])
	} else {
		e.opts.Metrics.FrameSkipped(metrics.SkipDisabled)
	}
	return e.opts.Original(args...)
}

func (e *Engine) compose(swapchain uintptr) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("composite panicked", "panic", r, "stack", string(debug.Stack()))
			e.Reset()
		}
	}()

	start := e.opts.Clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	var interval time.Duration
	if !e.lastPresent.IsZero() {
		interval = start.Sub(e.lastPresent)
	}
	e.lastPresent = start

	drew, reason, err := e.composeLocked(swapchain)
	if err != nil {
		e.failLocked(err)
	}
	if !drew {
		e.opts.Metrics.FrameSkipped(reason)
		return
	}
	if e.lastErr != "" {
		log.Info("overlay drawing again")
		e.lastErr = ""
	}
	e.opts.Health.Update(health.GPU, health.Healthy, "")
	e.opts.Metrics.FrameDrawn(e.opts.Clock.Now().Sub(start), interval)
}

// failLocked logs err once per distinct message and drops the device state
// when the device is gone.
func (e *Engine) failLocked(err error) {
	if msg := err.Error(); msg != e.lastErr {
		log.Warn("overlay skipped", "error", msg)
		e.lastErr = msg
	}
	e.opts.Health.Update(health.GPU, health.Degraded, err.Error())
	if errors.Is(err, ErrDeviceLost) {
		e.releaseLocked()
	}
}

func (e *Engine) composeLocked(swapchain uintptr) (bool, string, error) {
	if e.st != nil && e.st.swapchain != swapchain {
		log.Info("swap chain changed, rebuilding overlay state")
		e.releaseLocked()
	}
	if e.st != nil {
		if err := e.st.dev.Removed(); err != nil {
			return false, metrics.SkipDeviceLost, fmt.Errorf("%w: %v", ErrDeviceLost, err)
		}
	}
	if e.st == nil {
		dev, err := e.opts.Backend.Open(swapchain)
		if err != nil {
			return false, metrics.SkipGPUError, fmt.Errorf("build device state: %w", err)
		}
		e.st = &gpuState{swapchain: swapchain, dev: dev}
		e.opts.Metrics.Rebuilt(metrics.RebuildDevice)
		log.Info("overlay device state built", "swapchain", fmt.Sprintf("%#x", swapchain))
	}
	st := e.st

	bw, bh, err := st.dev.BackBufferSize()
	if err != nil {
		return false, metrics.SkipGPUError, fmt.Errorf("back buffer size: %w", err)
	}
	if bw != st.backW || bh != st.backH {
		st.backW, st.backH = bw, bh
		e.opts.Metrics.Rebuilt(metrics.RebuildTarget)
		log.Info("back buffer resized", logging.KeyWidth, bw, logging.KeyHeight, bh)
		if bw > 0 && bh > 0 {
			e.opts.Source.RequestResize(uint32(bw), uint32(bh))
		}
	}

	frame := e.opts.Source.Cache().Snapshot()
	if frame.Gen != st.gen {
		st.releaseFrame()
		st.gen = frame.Gen
	}

	type layer struct {
		tex Texture
		vp  Rect
	}
	var layers []layer

	reason := metrics.SkipNotReady
	if frame.Ready() {
		tex, err := e.frameTexture(st, frame)
		switch {
		case err == nil:
			layers = append(layers, layer{tex, Rect{W: int(frame.Width), H: int(frame.Height)}})
		case errors.Is(err, transport.ErrNotReady), errors.Is(err, transport.ErrSizeChanged):
		default:
			return false, gpuReason(err), err
		}
	}
	if e.opts.Panel != nil && e.opts.Toggles != nil && e.opts.Toggles.DiagnosticsOverlay() {
		tex, w, h, err := e.panelTexture(st)
		if err != nil {
			return false, gpuReason(err), err
		}
		layers = append(layers, layer{tex, Rect{X: PanelX, Y: PanelY, W: w, H: h}})
	}
	if len(layers) == 0 {
		return false, reason, nil
	}

	if err := st.dev.Begin(); err != nil {
		return false, gpuReason(err), fmt.Errorf("bind render target: %w", err)
	}
	defer st.dev.End()
	for _, l := range layers {
		if err := st.dev.Draw(l.tex, l.vp); err != nil {
			return false, gpuReason(err), fmt.Errorf("draw: %w", err)
		}
	}
	return true, "", nil
}

func gpuReason(err error) string {
	if errors.Is(err, ErrDeviceLost) {
		return metrics.SkipDeviceLost
	}
	return metrics.SkipGPUError
}

// frameTexture returns the texture holding frame, rebuilding it when the
// frame size or shared handles changed.
func (e *Engine) frameTexture(st *gpuState, frame transport.Frame) (Texture, error) {
	if e.opts.Source.Mode() == transport.ModeSharedHandle {
		return e.sharedTexture(st, frame)
	}

	if st.upload == nil || st.texW != frame.Width || st.texH != frame.Height {
		st.releaseFrame()
		tex, err := st.dev.CreateUploadTexture(int(frame.Width), int(frame.Height))
		if err != nil {
			return nil, fmt.Errorf("create overlay texture: %w", err)
		}
		st.upload, st.texW, st.texH = tex, frame.Width, frame.Height
		e.opts.Metrics.Rebuilt(metrics.RebuildSize)
		log.Info("overlay texture rebuilt", logging.KeyWidth, frame.Width, logging.KeyHeight, frame.Height)
	}

	if st.uploadedSeq != frame.Seq {
		var copied transport.Frame
		cache := e.opts.Source.Cache()
		err := st.dev.Upload(st.upload, func(dst []byte, rowPitch int) error {
			var err error
			copied, err = cache.CopyTo(dst, rowPitch, st.texW, st.texH)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("upload overlay: %w", err)
		}
		st.uploadedSeq = copied.Seq
	}
	return st.upload, nil
}

func (e *Engine) sharedTexture(st *gpuState, frame transport.Frame) (Texture, error) {
	h := frame.Shared
	if st.handles != [2]uint64{h.HandleA, h.HandleB} || st.texW != frame.Width || st.texH != frame.Height {
		hadAny := st.handles != [2]uint64{}
		st.releaseFrame()
		st.handles = [2]uint64{h.HandleA, h.HandleB}
		st.texW, st.texH = frame.Width, frame.Height
		if hadAny {
			e.opts.Metrics.Rebuilt(metrics.RebuildShared)
		}
		log.Info("shared textures changed", logging.KeyWidth, frame.Width, logging.KeyHeight, frame.Height)
	}

	i := h.Index % 2
	if st.shared[i] == nil {
		tex, err := st.dev.OpenSharedTexture(st.handles[i])
		if err != nil {
			return nil, fmt.Errorf("open shared texture %#x: %w", st.handles[i], err)
		}
		st.shared[i] = tex
	}
	return st.shared[i], nil
}

func (e *Engine) panelTexture(st *gpuState) (Texture, int, int, error) {
	pix, w, h, version := e.opts.Panel.Frame()
	if w <= 0 || h <= 0 || len(pix) < w*h*4 {
		return nil, 0, 0, fmt.Errorf("diagnostics panel is %dx%d with %d bytes", w, h, len(pix))
	}
	if st.panel != nil {
		if pw, ph := st.panel.Size(); pw != w || ph != h {
			st.panel.Release()
			st.panel = nil
		}
	}
	if st.panel == nil {
		tex, err := st.dev.CreateUploadTexture(w, h)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("create panel texture: %w", err)
		}
		st.panel = tex
		st.panelLoaded = false
	}
	if !st.panelLoaded || st.panelVersion != version {
		err := st.dev.Upload(st.panel, func(dst []byte, rowPitch int) error {
			return copyRows(dst, rowPitch, pix, w, h)
		})
		if err != nil {
			return nil, 0, 0, fmt.Errorf("upload panel: %w", err)
		}
		st.panelVersion, st.panelLoaded = version, true
	}
	return st.panel, w, h, nil
}

func copyRows(dst []byte, rowPitch int, src []byte, w, h int) error {
	stride := w * 4
	if rowPitch < stride || len(dst) < rowPitch*(h-1)+stride {
		return fmt.Errorf("mapped panel too small: pitch %d for %dx%d", rowPitch, w, h)
	}
	for y := 0; y < h; y++ {
		copy(dst[y*rowPitch:y*rowPitch+stride], src[y*stride:(y+1)*stride])
	}
	return nil
}

// Reset drops all GPU state; it is rebuilt on the next present.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releaseLocked()
}

// DropFrame releases textures derived from the producer's frame, for
// example after the producer exited and its shared handles died with it.
func (e *Engine) DropFrame() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st != nil {
		e.st.releaseFrame()
	}
}

func (e *Engine) releaseLocked() {
	if e.st == nil {
		return
	}
	e.st.release()
	e.st = nil
	log.Info("overlay device state released")
}

// Status describes the GPU state for diagnostics dumps.
type Status struct {
	State          string   `yaml:"state" json:"state"`
	Swapchain      string   `yaml:"swapchain,omitempty" json:"swapchain,omitempty"`
	BackBuffer     string   `yaml:"backBuffer,omitempty" json:"backBuffer,omitempty"`
	Overlay        string   `yaml:"overlay,omitempty" json:"overlay,omitempty"`
	UploadedSeq    uint64   `yaml:"uploadedSeq" json:"uploadedSeq"`
	SharedHandles  []string `yaml:"sharedHandles,omitempty" json:"sharedHandles,omitempty"`
	PanelLoaded    bool     `yaml:"panelLoaded" json:"panelLoaded"`
	LastError      string   `yaml:"lastError,omitempty" json:"lastError,omitempty"`
	CacheGen       uint64   `yaml:"cacheGeneration" json:"cacheGeneration"`
	LastPresentAgo string   `yaml:"lastPresentAgo,omitempty" json:"lastPresentAgo,omitempty"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Status{State: "uninitialized", LastError: e.lastErr}
	if !e.lastPresent.IsZero() {
		s.LastPresentAgo = e.opts.Clock.Now().Sub(e.lastPresent).Round(time.Millisecond).String()
	}
	if e.st == nil {
		return s
	}
	st := e.st
	s.State = "ready"
	s.Swapchain = fmt.Sprintf("%#x", st.swapchain)
	s.BackBuffer = fmt.Sprintf("%dx%d", st.backW, st.backH)
	if st.texW != 0 {
		s.Overlay = fmt.Sprintf("%dx%d", st.texW, st.texH)
	}
	s.UploadedSeq = st.uploadedSeq
	for _, h := range st.handles {
		if h != 0 {
			s.SharedHandles = append(s.SharedHandles, fmt.Sprintf("%#x", h))
		}
	}
	s.PanelLoaded = st.panelLoaded
	s.CacheGen = st.gen
	return s
}
