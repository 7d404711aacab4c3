//go:build windows

package d3d

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	ole "github.com/go-ole/go-ole"
)

// IUnknown vtable indices.
const (
	vtblQueryInterface = 0
	vtblRelease        = 2
)

// Interface ids.
var (
	iidID3D11Device    = ole.NewGUID("{db6f6ddb-ac77-4e88-8253-819df9bbf140}")
	iidID3D11Texture2D = ole.NewGUID("{6f15aaf2-d208-4e89-9ab4-489535d34f9c}")
	iidIDXGIResource   = ole.NewGUID("{035f3ab4-482e-4e50-b41f-8a7f8bd8960b}")
)

// HRESULT codes that mean the device must be recreated.
const (
	dxgiErrDeviceRemoved = 0x887A0005
	dxgiErrDeviceHung    = 0x887A0006
	dxgiErrDeviceReset   = 0x887A0007
	dxgiErrDriverError   = 0x887A0020
)

// HRESULTError is a failed COM call.
type HRESULTError struct {
	Op string
	HR uint32
}

func (e *HRESULTError) Error() string {
	return fmt.Sprintf("%s: HRESULT 0x%08X", e.Op, e.HR)
}

// ErrDeviceLost is matched by errors.Is for device-removed style failures.
var ErrDeviceLost = errors.New("d3d: device lost")

func (e *HRESULTError) Is(target error) bool {
	if target != ErrDeviceLost {
		return false
	}
	switch e.HR {
	case dxgiErrDeviceRemoved, dxgiErrDeviceHung, dxgiErrDeviceReset, dxgiErrDriverError:
		return true
	}
	return false
}

// comVtblFn resolves a COM vtable function pointer by index.
func comVtblFn(obj uintptr, idx int) uintptr {
	vtablePtr := *(*uintptr)(unsafe.Pointer(obj))
	return *(*uintptr)(unsafe.Pointer(vtablePtr + uintptr(idx)*unsafe.Sizeof(uintptr(0))))
}

// comCall invokes a COM vtable method that returns an HRESULT.
func comCall(op string, obj uintptr, idx int, args ...uintptr) error {
	ret := comCallRaw(obj, idx, args...)
	if int32(ret) < 0 {
		return &HRESULTError{Op: op, HR: uint32(ret)}
	}
	return nil
}

// comCallRaw invokes a COM vtable method and returns its raw result. Used
// for void methods and for methods returning plain values.
func comCallRaw(obj uintptr, idx int, args ...uintptr) uintptr {
	all := make([]uintptr, 0, 1+len(args))
	all = append(all, obj)
	all = append(all, args...)
	ret, _, _ := syscall.SyscallN(comVtblFn(obj, idx), all...)
	return ret
}

// comRelease calls IUnknown::Release.
func comRelease(obj uintptr) {
	if obj != 0 {
		syscall.SyscallN(comVtblFn(obj, vtblRelease), obj)
	}
}

func guidPtr(g *ole.GUID) uintptr {
	return uintptr(unsafe.Pointer(g))
}

// Object is a referenced COM interface pointer.
type Object struct {
	ptr uintptr
}

// Ptr returns the raw interface pointer.
func (o *Object) Ptr() uintptr {
	if o == nil {
		return 0
	}
	return o.ptr
}

// Release drops the reference. Safe on nil and on repeated calls.
func (o *Object) Release() {
	if o == nil || o.ptr == 0 {
		return
	}
	comRelease(o.ptr)
	o.ptr = 0
}
