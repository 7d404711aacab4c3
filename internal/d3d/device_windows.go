//go:build windows

package d3d

import (
	"fmt"
	"syscall"
	"unsafe"
)

var (
	d3d11DLL = syscall.NewLazyDLL("d3d11.dll")

	procD3D11CreateDevice             = d3d11DLL.NewProc("D3D11CreateDevice")
	procD3D11CreateDeviceAndSwapChain = d3d11DLL.NewProc("D3D11CreateDeviceAndSwapChain")
)

// Device is an ID3D11Device with its immediate context.
type Device struct {
	dev uintptr
	ctx uintptr
}

// NewDevice creates a hardware device. Used by the producer simulator.
func NewDevice() (*Device, error) {
	var dev, ctx uintptr
	level := uint32(featureLevel11_0)
	var actual uint32
	hr, _, _ := procD3D11CreateDevice.Call(
		0,
		uintptr(driverTypeHardware),
		0,
		0,
		uintptr(unsafe.Pointer(&level)),
		1,
		uintptr(sdkVersion),
		uintptr(unsafe.Pointer(&dev)),
		uintptr(unsafe.Pointer(&actual)),
		uintptr(unsafe.Pointer(&ctx)),
	)
	if int32(hr) < 0 {
		return nil, &HRESULTError{Op: "D3D11CreateDevice", HR: uint32(hr)}
	}
	return &Device{dev: dev, ctx: ctx}, nil
}

// ID identifies the device for change detection. It is the raw interface
// pointer and is only compared, never dereferenced by callers.
func (d *Device) ID() uintptr {
	return d.dev
}

// Removed returns a non-nil error once the device has been removed or reset.
func (d *Device) Removed() error {
	hr := comCallRaw(d.dev, devGetDeviceRemovedReason)
	if int32(hr) < 0 {
		return &HRESULTError{Op: "GetDeviceRemovedReason", HR: uint32(hr)}
	}
	return nil
}

// Release drops the device and context references.
func (d *Device) Release() {
	if d == nil {
		return
	}
	comRelease(d.ctx)
	comRelease(d.dev)
	d.ctx, d.dev = 0, 0
}

// Texture is an ID3D11Texture2D with an optional shader resource view.
type Texture struct {
	Object
	srv    Object
	Width  int
	Height int
}

// SRV returns the shader resource view pointer, or 0.
func (t *Texture) SRV() uintptr {
	return t.srv.Ptr()
}

// Release drops the view and the texture.
func (t *Texture) Release() {
	if t == nil {
		return
	}
	t.srv.Release()
	t.Object.Release()
}

func (d *Device) createTexture(desc *texture2DDesc, initial *subresourceData) (*Texture, error) {
	var tex uintptr
	if err := comCall("CreateTexture2D", d.dev, devCreateTexture2D,
		uintptr(unsafe.Pointer(desc)),
		uintptr(unsafe.Pointer(initial)),
		uintptr(unsafe.Pointer(&tex)),
	); err != nil {
		return nil, err
	}
	return &Texture{Object: Object{ptr: tex}, Width: int(desc.Width), Height: int(desc.Height)}, nil
}

func (d *Device) attachSRV(t *Texture) error {
	var srv uintptr
	if err := comCall("CreateShaderResourceView", d.dev, devCreateShaderResourceView,
		t.ptr, 0, uintptr(unsafe.Pointer(&srv)),
	); err != nil {
		return err
	}
	t.srv = Object{ptr: srv}
	return nil
}

// CreateUploadTexture creates a CPU-writable RGBA texture with a view, for
// per-frame pixel uploads.
func (d *Device) CreateUploadTexture(width, height int) (*Texture, error) {
	desc := texture2DDesc{
		Width:          uint32(width),
		Height:         uint32(height),
		MipLevels:      1,
		ArraySize:      1,
		Format:         FormatR8G8B8A8UNorm,
		SampleCount:    1,
		Usage:          usageDynamic,
		BindFlags:      bindShaderResource,
		CPUAccessFlags: cpuAccessWrite,
	}
	t, err := d.createTexture(&desc, nil)
	if err != nil {
		return nil, err
	}
	if err := d.attachSRV(t); err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

// CreateSharedTexture creates a GPU texture that other processes can open by
// the returned legacy shared handle.
func (d *Device) CreateSharedTexture(width, height int) (*Texture, uint64, error) {
	desc := texture2DDesc{
		Width:       uint32(width),
		Height:      uint32(height),
		MipLevels:   1,
		ArraySize:   1,
		Format:      FormatR8G8B8A8UNorm,
		SampleCount: 1,
		Usage:       usageDefault,
		BindFlags:   bindShaderResource | bindRenderTarget,
		MiscFlags:   miscShared,
	}
	t, err := d.createTexture(&desc, nil)
	if err != nil {
		return nil, 0, err
	}

	var res uintptr
	if err := comCall("QueryInterface IDXGIResource", t.ptr, vtblQueryInterface,
		guidPtr(iidIDXGIResource), uintptr(unsafe.Pointer(&res)),
	); err != nil {
		t.Release()
		return nil, 0, err
	}
	defer comRelease(res)

	var handle uintptr
	if err := comCall("GetSharedHandle", res, resGetSharedHandle, uintptr(unsafe.Pointer(&handle))); err != nil {
		t.Release()
		return nil, 0, err
	}
	return t, uint64(handle), nil
}

// OpenSharedTexture opens a texture created by another process and attaches
// a view to it.
func (d *Device) OpenSharedTexture(handle uint64) (*Texture, error) {
	var tex uintptr
	if err := comCall("OpenSharedResource", d.dev, devOpenSharedResource,
		uintptr(handle), guidPtr(iidID3D11Texture2D), uintptr(unsafe.Pointer(&tex)),
	); err != nil {
		return nil, err
	}

	var desc texture2DDesc
	comCallRaw(tex, texGetDesc, uintptr(unsafe.Pointer(&desc)))
	t := &Texture{Object: Object{ptr: tex}, Width: int(desc.Width), Height: int(desc.Height)}
	if err := d.attachSRV(t); err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

// Write maps t for discard-write and hands fill the mapped rows. fill gets
// the destination slice and its row pitch, which may exceed width*4.
func (d *Device) Write(t *Texture, fill func(dst []byte, rowPitch int)) error {
	var mapped mappedSubresource
	if err := comCall("Map", d.ctx, ctxMap,
		t.ptr, 0, mapWriteDiscard, 0, uintptr(unsafe.Pointer(&mapped)),
	); err != nil {
		return err
	}
	defer comCallRaw(d.ctx, ctxUnmap, t.ptr, 0)

	if mapped.Data == 0 {
		return fmt.Errorf("Map returned no data")
	}
	size := int(mapped.RowPitch) * t.Height
	dst := unsafe.Slice((*byte)(unsafe.Pointer(mapped.Data)), size)
	fill(dst, int(mapped.RowPitch))
	return nil
}

// Update replaces the contents of a default-usage texture from tightly
// packed RGBA pixels.
func (d *Device) Update(t *Texture, pixels []byte) {
	if len(pixels) < t.Width*t.Height*4 || len(pixels) == 0 {
		return
	}
	comCallRaw(d.ctx, ctxUpdateSubresource,
		t.ptr, 0, 0, uintptr(unsafe.Pointer(&pixels[0])), uintptr(t.Width*4), 0)
}

// Flush submits queued commands.
func (d *Device) Flush() {
	comCallRaw(d.ctx, ctxFlush)
}
