//go:build windows

package locator

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/breeze-rmm/overlay/internal/d3d"
)

// MainModule returns the image of the process executable.
func MainModule() (ModuleImage, []byte, error) {
	var module windows.Handle
	if err := windows.GetModuleHandleEx(0, nil, &module); err != nil {
		return ModuleImage{}, nil, fmt.Errorf("GetModuleHandleEx: %w", err)
	}

	var info windows.ModuleInfo
	if err := windows.GetModuleInformation(windows.CurrentProcess(), module, &info, uint32(unsafe.Sizeof(info))); err != nil {
		return ModuleImage{}, nil, fmt.Errorf("GetModuleInformation: %w", err)
	}
	if info.BaseOfDll == 0 || info.SizeOfImage == 0 {
		return ModuleImage{}, nil, fmt.Errorf("main module has no mapped image")
	}

	img := ModuleImage{Base: info.BaseOfDll, Size: uintptr(info.SizeOfImage)}
	span := unsafe.Slice((*byte)(unsafe.Pointer(img.Base)), img.Size)
	return img, span, nil
}

// PlatformOptions wires the device probe and main-module scan into Options.
func PlatformOptions(strategy, pattern string) Options {
	return Options{
		Strategy: strategy,
		Pattern:  pattern,
		Probe:    d3d.ProbePresent,
		Module:   MainModule,
	}
}
