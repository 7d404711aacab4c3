//go:build windows

package overlay

import (
	"sync/atomic"
	"syscall"

	"github.com/breeze-rmm/overlay/internal/composite"
	"github.com/breeze-rmm/overlay/internal/diag"
	"github.com/breeze-rmm/overlay/internal/hook"
	"github.com/breeze-rmm/overlay/internal/input"
	"github.com/breeze-rmm/overlay/internal/ipc"
	"github.com/breeze-rmm/overlay/internal/liveness"
	"github.com/breeze-rmm/overlay/internal/locator"
	"github.com/breeze-rmm/overlay/internal/transport"
)

// presentAddr is created once; callbacks are never freed by the runtime.
var presentAddr = syscall.NewCallback(presentDetour)

// detourHook is the most recent process hook; every one of them patches
// the same Present, so any initialized one reaches the original.
var detourHook atomic.Pointer[hook.Hook]

// presentDetour has the IDXGISwapChain::Present signature.
func presentDetour(swapchain, syncInterval, flags uintptr) uintptr {
	var fallback Hook
	if h := detourHook.Load(); h != nil {
		fallback = h
	}
	return present(fallback, swapchain, syncInterval, flags)
}

// DefaultPlatform is the Win32 and Direct3D 11 implementation.
func DefaultPlatform() Platform {
	h := hook.NewProcess()
	detourHook.Store(h)
	return Platform{
		Namespace: transport.Win32Namespace{},
		Prober:    liveness.MutexProber{},
		Locate: func(strategy, pattern string) (locator.TargetAddress, error) {
			return locator.Locate(locator.PlatformOptions(strategy, pattern))
		},
		Hook:    h,
		Detour:  func() uintptr { return presentAddr },
		Backend: composite.D3DBackend{},
		Subclass: func(relay *input.Relay) (Window, error) {
			hwnd, err := input.MainWindow()
			if err != nil {
				return nil, err
			}
			return input.Install(hwnd, relay)
		},
		Focus:    input.WinFocus{},
		Keyboard: input.WinKeyboard{},
		Listen:   ipc.Listen,
		Procs:    diag.HostProcesses{},
	}
}
