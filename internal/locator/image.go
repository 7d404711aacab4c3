package locator

import "fmt"

// ModuleImage is the mapped region of the host's main executable.
type ModuleImage struct {
	Base uintptr
	Size uintptr
}

func (m ModuleImage) Contains(addr uintptr) bool {
	return addr >= m.Base && addr-m.Base < m.Size
}

func (m ModuleImage) String() string {
	return fmt.Sprintf("[%#x, %#x)", m.Base, m.Base+m.Size)
}

// TargetAddress is a validated, non-zero function pointer.
type TargetAddress struct {
	addr   uintptr
	source string
}

// NewTargetAddress rejects the zero address.
func NewTargetAddress(addr uintptr, source string) (TargetAddress, error) {
	if addr == 0 {
		return TargetAddress{}, fmt.Errorf("%w (%s)", ErrNotFound, source)
	}
	return TargetAddress{addr: addr, source: source}, nil
}

func (t TargetAddress) Addr() uintptr  { return t.addr }
func (t TargetAddress) Source() string { return t.source }

func (t TargetAddress) String() string {
	return fmt.Sprintf("%#x (%s)", t.addr, t.source)
}
