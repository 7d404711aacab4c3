//go:build windows

package d3d

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	compilerDLL    = windows.NewLazySystemDLL("d3dcompiler_47.dll")
	procD3DCompile = compilerDLL.NewProc("D3DCompile")
)

// Compile compiles HLSL source to bytecode for one entry point.
func Compile(source, name, entry, target string) ([]byte, error) {
	if err := procD3DCompile.Find(); err != nil {
		return nil, fmt.Errorf("d3dcompiler_47 unavailable: %w", err)
	}

	src := []byte(source)
	cName, _ := syscall.BytePtrFromString(name)
	cEntry, _ := syscall.BytePtrFromString(entry)
	cTarget, _ := syscall.BytePtrFromString(target)

	var code, errs uintptr
	hr, _, _ := procD3DCompile.Call(
		uintptr(unsafe.Pointer(&src[0])),
		uintptr(len(src)),
		uintptr(unsafe.Pointer(cName)),
		0,
		0,
		uintptr(unsafe.Pointer(cEntry)),
		uintptr(unsafe.Pointer(cTarget)),
		compileOptimizationLevel3,
		0,
		uintptr(unsafe.Pointer(&code)),
		uintptr(unsafe.Pointer(&errs)),
	)
	defer comRelease(errs)
	if int32(hr) < 0 {
		msg := blobBytes(errs)
		comRelease(code)
		return nil, fmt.Errorf("D3DCompile %s/%s: HRESULT 0x%08X: %s", entry, target, uint32(hr), msg)
	}
	defer comRelease(code)

	out := append([]byte(nil), blobBytes(code)...)
	if len(out) == 0 {
		return nil, fmt.Errorf("D3DCompile %s/%s: empty bytecode", entry, target)
	}
	return out, nil
}

// blobBytes views an ID3DBlob's contents. The slice is only valid until the
// blob is released.
func blobBytes(blob uintptr) []byte {
	if blob == 0 {
		return nil
	}
	ptr := comCallRaw(blob, blobGetBufferPointer)
	size := comCallRaw(blob, blobGetBufferSize)
	if ptr == 0 || size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size)
}
