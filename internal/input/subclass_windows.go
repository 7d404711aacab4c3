//go:build windows

package input

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")

	procSetWindowLongPtrW = user32.NewProc("SetWindowLongPtrW")
	procGetWindowLongPtrW = user32.NewProc("GetWindowLongPtrW")
	procCallWindowProcW   = user32.NewProc("CallWindowProcW")
	procDefWindowProcW    = user32.NewProc("DefWindowProcW")
	procSetForeground     = user32.NewProc("SetForegroundWindow")
	procSetFocus          = user32.NewProc("SetFocus")
	procSetCapture        = user32.NewProc("SetCapture")
	procReleaseCapture    = user32.NewProc("ReleaseCapture")
	procGetKeyState       = user32.NewProc("GetKeyState")
	procIsWindowEnabled   = user32.NewProc("IsWindowEnabled")
	procGetWindow         = user32.NewProc("GetWindow")
	procGetParent         = user32.NewProc("GetParent")
)

const (
	gwlpWndProc    = ^uintptr(3)  // GWLP_WNDPROC (-4)
	gwlExStyle     = ^uintptr(19) // GWL_EXSTYLE (-20)
	gwOwner        = 4
	wsExToolWindow = 0x00000080
)

// The window procedure has a fixed signature, so the installed subclass is
// process-wide. Callbacks are created once; the runtime never frees them.
var (
	active         atomic.Pointer[Subclass]
	wndProcAddr    = syscall.NewCallback(wndProc)
	enumWindowAddr = syscall.NewCallback(enumWindow)
)

// Subclass is an installed replacement window procedure.
type Subclass struct {
	hwnd     uintptr
	relay    *Relay
	original atomic.Uintptr
	detached atomic.Bool
}

// Install replaces the window procedure of hwnd with one that runs relay.
func Install(hwnd uintptr, relay *Relay) (*Subclass, error) {
	s := &Subclass{hwnd: hwnd, relay: relay}
	if !active.CompareAndSwap(nil, s) {
		return nil, errors.New("window procedure already subclassed")
	}
	prev, _, err := procSetWindowLongPtrW.Call(hwnd, gwlpWndProc, wndProcAddr)
	if prev == 0 {
		active.Store(nil)
		return nil, fmt.Errorf("SetWindowLongPtrW: %w", err)
	}
	s.original.Store(prev)
	log.Info("window procedure subclassed", "hwnd", fmt.Sprintf("%#x", hwnd))
	return s, nil
}

// Restore puts the original window procedure back. When another module has
// subclassed the window since, the chain is left intact and the relay only
// forwards from then on.
func (s *Subclass) Restore() error {
	s.detached.Store(true)
	current, _, _ := procGetWindowLongPtrW.Call(s.hwnd, gwlpWndProc)
	if current != wndProcAddr {
		return fmt.Errorf("window procedure of %#x was replaced after install; leaving it chained", s.hwnd)
	}
	if r, _, err := procSetWindowLongPtrW.Call(s.hwnd, gwlpWndProc, s.original.Load()); r == 0 {
		return fmt.Errorf("restore window procedure: %w", err)
	}
	active.CompareAndSwap(s, nil)
	log.Info("window procedure restored")
	return nil
}

func (s *Subclass) forward(m Message) uintptr {
	if orig := s.original.Load(); orig != 0 {
		r, _, _ := procCallWindowProcW.Call(orig, m.HWnd, uintptr(m.Msg), m.WParam, m.LParam)
		return r
	}
	r, _, _ := procDefWindowProcW.Call(m.HWnd, uintptr(m.Msg), m.WParam, m.LParam)
	return r
}

func wndProc(hwnd, msg, wparam, lparam uintptr) uintptr {
	m := Message{HWnd: hwnd, Msg: uint32(msg), WParam: wparam, LParam: lparam}
	s := active.Load()
	if s == nil {
		r, _, _ := procDefWindowProcW.Call(hwnd, msg, wparam, lparam)
		return r
	}
	if s.detached.Load() {
		return s.forward(m)
	}
	return s.relay.Handle(m, s.forward)
}

// WinFocus mirrors focus with the user32 focus and capture calls.
type WinFocus struct{}

func (WinFocus) Grab(hwnd uintptr) {
	procSetForeground.Call(hwnd)
	procSetFocus.Call(hwnd)
	procSetCapture.Call(hwnd)
}

func (WinFocus) Release(uintptr) {
	procReleaseCapture.Call()
}

// WinKeyboard reads key state for the calling thread.
type WinKeyboard struct{}

func (WinKeyboard) Down(vk uint32) bool {
	r, _, _ := procGetKeyState.Call(uintptr(vk))
	return uint16(r)&0x8000 != 0
}

var (
	enumMu  sync.Mutex
	enumOut []WindowInfo
)

func enumWindow(hwnd, _ uintptr) uintptr {
	var pid uint32
	windows.GetWindowThreadProcessId(windows.HWND(hwnd), &pid)
	enabled, _, _ := procIsWindowEnabled.Call(hwnd)
	owner, _, _ := procGetWindow.Call(hwnd, gwOwner)
	parent, _, _ := procGetParent.Call(hwnd)
	exStyle, _, _ := procGetWindowLongPtrW.Call(hwnd, gwlExStyle)
	enumOut = append(enumOut, WindowInfo{
		HWnd:       hwnd,
		PID:        pid,
		Visible:    windows.IsWindowVisible(windows.HWND(hwnd)),
		Enabled:    enabled != 0,
		ToolWindow: exStyle&wsExToolWindow != 0,
		Owner:      owner,
		Parent:     parent,
	})
	return 1
}

// MainWindow finds the main top-level window of the current process.
func MainWindow() (uintptr, error) {
	enumMu.Lock()
	defer enumMu.Unlock()
	enumOut = enumOut[:0]
	if err := windows.EnumWindows(enumWindowAddr, unsafe.Pointer(nil)); err != nil {
		return 0, fmt.Errorf("EnumWindows: %w", err)
	}
	return PickMainWindow(enumOut, windows.GetCurrentProcessId())
}
