//go:build windows

package transport

import (
	"errors"
	"fmt"
	"io"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

const waitTimeout = 0x102

var (
	kernel32             = windows.NewLazySystemDLL("kernel32.dll")
	procOpenFileMappingW = kernel32.NewProc("OpenFileMappingW")
)

// Win32Namespace is the session-wide Windows object namespace.
type Win32Namespace struct{}

func wrapOpenErr(name string, err error) error {
	if errors.Is(err, windows.ERROR_FILE_NOT_FOUND) {
		return fmt.Errorf("%w: %s", ErrNoObject, name)
	}
	return fmt.Errorf("%s: %w", name, err)
}

func openFileMapping(access uint32, name *uint16) (windows.Handle, error) {
	r, _, err := procOpenFileMappingW.Call(uintptr(access), 0, uintptr(unsafe.Pointer(name)))
	if r == 0 {
		return 0, err
	}
	return windows.Handle(r), nil
}

func (Win32Namespace) OpenRegion(name string, size int) (Region, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	h, err := openFileMapping(windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, p)
	if err != nil {
		return nil, wrapOpenErr(name, err)
	}
	return mapView(name, h, size)
}

func (Win32Namespace) CreateRegion(name string, size int) (Region, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	h, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE,
		uint32(uint64(size)>>32), uint32(size), p)
	if h == 0 {
		return nil, fmt.Errorf("create mapping %s: %w", name, err)
	}
	return mapView(name, h, size)
}

func mapView(name string, h windows.Handle, size int) (Region, error) {
	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(h)
		return nil, fmt.Errorf("map %s: %w", name, err)
	}
	return &winRegion{handle: h, addr: addr, size: size}, nil
}

type winRegion struct {
	handle windows.Handle
	addr   uintptr
	size   int
}

func (r *winRegion) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(r.addr)), r.size)
}

func (r *winRegion) Close() error {
	if r.addr == 0 {
		return nil
	}
	err := windows.UnmapViewOfFile(r.addr)
	windows.CloseHandle(r.handle)
	r.addr, r.handle = 0, 0
	return err
}

func (Win32Namespace) OpenEvent(name string) (Event, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	h, err := windows.OpenEvent(windows.EVENT_MODIFY_STATE|windows.SYNCHRONIZE, false, p)
	if err != nil {
		return nil, wrapOpenErr(name, err)
	}
	return &winEvent{handle: h}, nil
}

func (Win32Namespace) CreateEvent(name string) (Event, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	h, err := windows.CreateEvent(nil, 0, 0, p)
	if h == 0 {
		return nil, fmt.Errorf("create event %s: %w", name, err)
	}
	return &winEvent{handle: h}, nil
}

type winEvent struct {
	handle windows.Handle
}

func (e *winEvent) Wait(timeout time.Duration) (bool, error) {
	ev, err := windows.WaitForSingleObject(e.handle, uint32(timeout.Milliseconds()))
	switch ev {
	case windows.WAIT_OBJECT_0:
		return true, nil
	case waitTimeout:
		return false, nil
	}
	return false, fmt.Errorf("wait: %w", err)
}

func (e *winEvent) Set() error { return windows.SetEvent(e.handle) }

func (e *winEvent) Close() error {
	if e.handle == 0 {
		return nil
	}
	err := windows.CloseHandle(e.handle)
	e.handle = 0
	return err
}

func (Win32Namespace) CreateMutex(name string) (io.Closer, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	h, err := windows.CreateMutex(nil, true, p)
	if h == 0 {
		return nil, fmt.Errorf("create mutex %s: %w", name, err)
	}
	return closerFunc(func() error { return windows.CloseHandle(h) }), nil
}
