//go:build windows

package d3d

import "unsafe"

// SwapChain wraps an IDXGISwapChain pointer borrowed from the host. It holds
// no reference of its own.
type SwapChain struct {
	ptr uintptr
}

// WrapSwapChain wraps the swap chain passed to the present hook.
func WrapSwapChain(ptr uintptr) *SwapChain {
	return &SwapChain{ptr: ptr}
}

// Size returns the back buffer dimensions.
func (sc *SwapChain) Size() (int, int, error) {
	var desc swapChainDesc
	if err := comCall("IDXGISwapChain::GetDesc", sc.ptr, scGetDesc, uintptr(unsafe.Pointer(&desc))); err != nil {
		return 0, 0, err
	}
	return int(desc.BufferDesc.Width), int(desc.BufferDesc.Height), nil
}

// Device returns the D3D11 device that owns the swap chain and its
// immediate context. The caller releases it.
func (sc *SwapChain) Device() (*Device, error) {
	var dev uintptr
	if err := comCall("IDXGISwapChain::GetDevice", sc.ptr, scGetDevice,
		guidPtr(iidID3D11Device), uintptr(unsafe.Pointer(&dev)),
	); err != nil {
		return nil, err
	}
	var ctx uintptr
	comCallRaw(dev, devGetImmediateContext, uintptr(unsafe.Pointer(&ctx)))
	return &Device{dev: dev, ctx: ctx}, nil
}

func (sc *SwapChain) backBuffer() (uintptr, error) {
	var buf uintptr
	if err := comCall("IDXGISwapChain::GetBuffer", sc.ptr, scGetBuffer,
		0, guidPtr(iidID3D11Texture2D), uintptr(unsafe.Pointer(&buf)),
	); err != nil {
		return 0, err
	}
	return buf, nil
}
