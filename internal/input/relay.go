// Package input wraps the host window procedure. It forwards pointer
// positions to the producer, swallows pointer events that land on opaque
// overlay pixels, mirrors focus onto the host window and dispatches key
// chords to overlay actions.
package input

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/breeze-rmm/overlay/internal/clock"
	"github.com/breeze-rmm/overlay/internal/keybind"
	"github.com/breeze-rmm/overlay/internal/logging"
)

var log = logging.L("input")

// Window messages handled by the relay.
const (
	WM_ACTIVATE      = 0x0006
	WM_SETFOCUS      = 0x0007
	WM_KILLFOCUS     = 0x0008
	WM_ACTIVATEAPP   = 0x001C
	WM_KEYDOWN       = 0x0100
	WM_KEYUP         = 0x0101
	WM_SYSKEYDOWN    = 0x0104
	WM_SYSKEYUP      = 0x0105
	WM_MOUSEMOVE     = 0x0200
	WM_LBUTTONDOWN   = 0x0201
	WM_LBUTTONUP     = 0x0202
	WM_LBUTTONDBLCLK = 0x0203
	WM_RBUTTONDOWN   = 0x0204
	WM_RBUTTONUP     = 0x0205
	WM_RBUTTONDBLCLK = 0x0206
	WM_MBUTTONDOWN   = 0x0207
	WM_MBUTTONUP     = 0x0208
	WM_MBUTTONDBLCLK = 0x0209
	WM_MOUSEWHEEL    = 0x020A
	WM_XBUTTONDOWN   = 0x020B
	WM_XBUTTONUP     = 0x020C
	WM_XBUTTONDBLCLK = 0x020D
	WM_MOUSEHOVER    = 0x02A1
	WM_MOUSELEAVE    = 0x02A3
)

// Modifier virtual-key codes.
const (
	VK_SHIFT    = 0x10
	VK_CONTROL  = 0x11
	VK_MENU     = 0x12
	VK_LSHIFT   = 0xA0
	VK_RSHIFT   = 0xA1
	VK_LCONTROL = 0xA2
	VK_RCONTROL = 0xA3
	VK_LMENU    = 0xA4
	VK_RMENU    = 0xA5
)

// Handled is returned for pointer events swallowed over the overlay.
const Handled uintptr = 1

// DefaultDebounce is how long after a modifier release a key-down of a
// different modifier is treated as a spurious toggle.
const DefaultDebounce = 50 * time.Millisecond

// keyRepeatBit is set in lParam of WM_KEYDOWN when the key was already down.
const keyRepeatBit = 1 << 30

// Message is one window message.
type Message struct {
	HWnd   uintptr
	Msg    uint32
	WParam uintptr
	LParam uintptr
}

// Point decodes the signed client coordinates packed into LParam.
func (m Message) Point() (x, y int) {
	return int(int16(m.LParam & 0xFFFF)), int(int16((m.LParam >> 16) & 0xFFFF))
}

// WindowProc is the procedure messages are forwarded to.
type WindowProc func(Message) uintptr

// HitTester reports overlay opacity at a client coordinate.
type HitTester interface {
	Alpha(x, y int) uint8
}

// Focus mirrors focus state onto the host window.
type Focus interface {
	Grab(hwnd uintptr)
	Release(hwnd uintptr)
}

// Keyboard reports the physical state of a virtual key.
type Keyboard interface {
	Down(vk uint32) bool
}

// Toggles gates the relay's processing. Key chords are dispatched even when
// input processing is off so the toggle can be turned back on.
type Toggles interface {
	InputProcessing() bool
}

type Options struct {
	Bindings keybind.Table
	// Dispatch runs a bound action. It must not block.
	Dispatch func(action string)
	HitTest  HitTester
	Sender   *Sender
	Focus    Focus
	Keyboard Keyboard
	Toggles  Toggles
	Clock    clock.Clock
	Debounce time.Duration
}

type modifierState struct {
	ctrl, alt, shift bool
}

// Relay is the body of the replacement window procedure.
type Relay struct {
	opts Options

	mu          sync.Mutex
	mods        modifierState
	lastRelease uint32
	releasedAt  time.Time
}

func NewRelay(opts Options) *Relay {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Relay{opts: opts}
}

func (r *Relay) processing() bool {
	return r.opts.Toggles == nil || r.opts.Toggles.InputProcessing()
}

// Handle processes m and either returns a result for a consumed message or
// forwards it to next. Panics are recovered and the message forwarded.
func (r *Relay) Handle(m Message, next WindowProc) (result uintptr) {
	consumed := false
	func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error("window procedure panicked", "msg", m.Msg, "panic", p, "stack", string(debug.Stack()))
				consumed = false
			}
		}()
		result, consumed = r.handle(m)
	}()
	if consumed {
		return result
	}
	return next(m)
}

func (r *Relay) handle(m Message) (uintptr, bool) {
	switch m.Msg {
	case WM_KEYDOWN, WM_SYSKEYDOWN:
		return r.keyDown(m)
	case WM_KEYUP, WM_SYSKEYUP:
		r.keyUp(uint32(m.WParam))
		return 0, false
	}

	if !r.processing() {
		return 0, false
	}

	switch m.Msg {
	case WM_MOUSEMOVE:
		x, y := m.Point()
		if r.opts.Sender != nil {
			r.opts.Sender.Send(Packet{Kind: KindMove, X: int32(x), Y: int32(y)})
		}
		return r.swallow(x, y)
	case WM_MOUSEHOVER,
		WM_LBUTTONDOWN, WM_LBUTTONDBLCLK,
		WM_RBUTTONDOWN, WM_RBUTTONDBLCLK,
		WM_MBUTTONDOWN, WM_MBUTTONDBLCLK,
		WM_XBUTTONDOWN, WM_XBUTTONDBLCLK:
		return r.swallow(m.Point())
	case WM_SETFOCUS:
		r.grab(m.HWnd)
	case WM_KILLFOCUS:
		r.release(m.HWnd)
	case WM_ACTIVATE:
		// The low word is WA_INACTIVE (0) or an activation kind.
		if m.WParam&0xFFFF != 0 {
			r.grab(m.HWnd)
		} else {
			r.release(m.HWnd)
		}
	case WM_ACTIVATEAPP:
		if m.WParam != 0 {
			r.grab(m.HWnd)
		} else {
			r.release(m.HWnd)
		}
	}
	return 0, false
}

// swallow consumes the event when (x, y) is an opaque overlay pixel.
func (r *Relay) swallow(x, y int) (uintptr, bool) {
	if r.opts.HitTest == nil || r.opts.HitTest.Alpha(x, y) == 0 {
		return 0, false
	}
	return Handled, true
}

func (r *Relay) grab(hwnd uintptr) {
	r.resync()
	if r.opts.Focus != nil {
		r.opts.Focus.Grab(hwnd)
	}
}

func (r *Relay) release(hwnd uintptr) {
	if r.opts.Focus != nil {
		r.opts.Focus.Release(hwnd)
	}
}

// resync reloads modifier state from the keyboard. Key-ups delivered while
// the window was unfocused never reach the relay.
func (r *Relay) resync() {
	if r.opts.Keyboard == nil {
		return
	}
	kb := r.opts.Keyboard
	r.mu.Lock()
	r.mods = modifierState{
		ctrl:  kb.Down(VK_CONTROL),
		alt:   kb.Down(VK_MENU),
		shift: kb.Down(VK_SHIFT),
	}
	r.mu.Unlock()
}

// modifiers returns the modifier state for a chord. The keyboard is the
// source of truth when present; tracked messages are the fallback.
func (r *Relay) modifiers() modifierState {
	r.resync()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mods
}

func normalizeModifier(vk uint32) (uint32, bool) {
	switch vk {
	case VK_CONTROL, VK_LCONTROL, VK_RCONTROL:
		return VK_CONTROL, true
	case VK_MENU, VK_LMENU, VK_RMENU:
		return VK_MENU, true
	case VK_SHIFT, VK_LSHIFT, VK_RSHIFT:
		return VK_SHIFT, true
	}
	return vk, false
}

func (s *modifierState) set(vk uint32, down bool) {
	switch vk {
	case VK_CONTROL:
		s.ctrl = down
	case VK_MENU:
		s.alt = down
	case VK_SHIFT:
		s.shift = down
	}
}

func (r *Relay) keyDown(m Message) (uintptr, bool) {
	vk := uint32(m.WParam)
	if mod, ok := normalizeModifier(vk); ok {
		r.modifierDown(mod)
		return 0, false
	}
	if m.LParam&keyRepeatBit != 0 || len(r.opts.Bindings) == 0 {
		return 0, false
	}

	mods := r.modifiers()
	chord := keybind.KeyBind{Key: vk, Ctrl: mods.ctrl, Alt: mods.alt, Shift: mods.shift}

	action, ok := r.opts.Bindings.Lookup(chord)
	if !ok {
		return 0, false
	}
	log.Info("key chord matched", "chord", chord.String(), "action", action)
	if r.opts.Dispatch != nil {
		r.opts.Dispatch(action)
	}
	return 0, true
}

func (r *Relay) modifierDown(vk uint32) {
	now := r.opts.Clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastRelease != 0 && r.lastRelease != vk && now.Sub(r.releasedAt) < r.opts.Debounce {
		log.Debug("ignoring modifier toggle after release", "vk", vk, "released", r.lastRelease)
		return
	}
	r.mods.set(vk, true)
}

func (r *Relay) keyUp(vk uint32) {
	mod, ok := normalizeModifier(vk)
	if !ok {
		return
	}
	now := r.opts.Clock.Now()
	r.mu.Lock()
	r.mods.set(mod, false)
	r.lastRelease, r.releasedAt = mod, now
	r.mu.Unlock()
}
