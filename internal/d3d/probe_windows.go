//go:build windows

package d3d

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32              = windows.NewLazySystemDLL("user32.dll")
	procCreateWindowExW = user32.NewProc("CreateWindowExW")
	procDestroyWindow   = user32.NewProc("DestroyWindow")
)

// ProbePresent creates a throwaway window, device and swap chain and reads
// IDXGISwapChain::Present out of its vtable. DXGI shares one vtable across
// swap chains of the same type, so the address is the one the host calls.
func ProbePresent() (uintptr, error) {
	class, _ := windows.UTF16PtrFromString("STATIC")
	title, _ := windows.UTF16PtrFromString("overlay-probe")
	hwnd, _, err := procCreateWindowExW.Call(0,
		uintptr(unsafe.Pointer(class)),
		uintptr(unsafe.Pointer(title)),
		0, 0, 0, 8, 8, 0, 0, 0, 0)
	if hwnd == 0 {
		return 0, fmt.Errorf("CreateWindowExW: %w", err)
	}
	defer procDestroyWindow.Call(hwnd)

	desc := swapChainDesc{
		BufferDesc: modeDesc{
			Width:       8,
			Height:      8,
			RefreshRate: rational{Numerator: 60, Denominator: 1},
			Format:      FormatR8G8B8A8UNorm,
		},
		SampleCount:  1,
		BufferUsage:  dxgiUsageRenderTargetOutput,
		BufferCount:  1,
		OutputWindow: hwnd,
		Windowed:     1,
		SwapEffect:   swapEffectDiscard,
	}

	level := uint32(featureLevel11_0)
	var sc, dev, ctx uintptr
	var actual uint32
	hr, _, _ := procD3D11CreateDeviceAndSwapChain.Call(
		0,
		uintptr(driverTypeHardware),
		0,
		0,
		uintptr(unsafe.Pointer(&level)),
		1,
		uintptr(sdkVersion),
		uintptr(unsafe.Pointer(&desc)),
		uintptr(unsafe.Pointer(&sc)),
		uintptr(unsafe.Pointer(&dev)),
		uintptr(unsafe.Pointer(&actual)),
		uintptr(unsafe.Pointer(&ctx)),
	)
	if int32(hr) < 0 {
		return 0, &HRESULTError{Op: "D3D11CreateDeviceAndSwapChain", HR: uint32(hr)}
	}
	defer comRelease(dev)
	defer comRelease(ctx)
	defer comRelease(sc)

	return comVtblFn(sc, SwapChainPresent), nil
}
