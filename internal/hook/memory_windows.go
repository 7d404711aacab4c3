//go:build windows

package hook

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	memFree          = 0x10000
	allocGranularity = 0x10000
	// nearRange keeps the relay inside rel32 reach with room for the page.
	nearRange = 0x7FF00000
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

// ProcessMemory is the Memory of the current process.
type ProcessMemory struct{}

const execMask = windows.PAGE_EXECUTE | windows.PAGE_EXECUTE_READ |
	windows.PAGE_EXECUTE_READWRITE | windows.PAGE_EXECUTE_WRITECOPY

func (ProcessMemory) CheckCode(addr uintptr, n int) error {
	for end := addr + uintptr(n); addr < end; {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQuery(addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
			return fmt.Errorf("VirtualQuery %#x: %w", addr, err)
		}
		if mbi.State != windows.MEM_COMMIT {
			return fmt.Errorf("%#x is not committed", addr)
		}
		if mbi.Protect&execMask == 0 || mbi.Protect&windows.PAGE_GUARD != 0 {
			return fmt.Errorf("%#x is not executable (protect %#x)", addr, mbi.Protect)
		}
		addr = mbi.BaseAddress + mbi.RegionSize
	}
	return nil
}

// AllocNear walks free regions outward from addr, below first, and commits
// the first one that fits.
func (ProcessMemory) AllocNear(addr uintptr, size int) (uintptr, error) {
	base := addr &^ (allocGranularity - 1)
	lo := uintptr(allocGranularity)
	if base > nearRange {
		lo = base - nearRange
	}
	hi := base + nearRange

	try := func(p uintptr) uintptr {
		var mbi windows.MemoryBasicInformation
		if windows.VirtualQuery(p, &mbi, unsafe.Sizeof(mbi)) != nil || mbi.State != memFree {
			return 0
		}
		got, err := windows.VirtualAlloc(p, uintptr(size),
			windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
		if err != nil {
			return 0
		}
		return got
	}

	for p := base; p >= lo && p <= base; p -= allocGranularity {
		if got := try(p); got != 0 {
			return got, nil
		}
	}
	for p := base + allocGranularity; p < hi; p += allocGranularity {
		if got := try(p); got != 0 {
			return got, nil
		}
	}
	return 0, fmt.Errorf("no free region within 2GB of %#x", addr)
}

func (ProcessMemory) Read(addr uintptr, n int) ([]byte, error) {
	if addr == 0 {
		return nil, ErrZeroTarget
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
	return append([]byte(nil), src...), nil
}

func (ProcessMemory) Write(addr uintptr, b []byte) error {
	var old uint32
	if err := windows.VirtualProtect(addr, uintptr(len(b)), windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return fmt.Errorf("VirtualProtect %#x: %w", addr, err)
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(b)), b)

	var ignored uint32
	if err := windows.VirtualProtect(addr, uintptr(len(b)), old, &ignored); err != nil {
		log.Warn("restore page protection failed", "addr", fmt.Sprintf("%#x", addr), "error", err.Error())
	}
	procFlushInstructionCache.Call(uintptr(windows.CurrentProcess()), addr, uintptr(len(b)))
	return nil
}

// SyscallInvoker calls fn with the Windows x64 calling convention.
func SyscallInvoker(fn uintptr, args ...uintptr) uintptr {
	r, _, _ := syscall.SyscallN(fn, args...)
	return r
}

// NewProcess returns a Hook that patches the current process.
func NewProcess() *Hook {
	return New(ProcessMemory{}, SyscallInvoker)
}
