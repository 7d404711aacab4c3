//go:build windows

package liveness

import (
	"golang.org/x/sys/windows"
)

const synchronize = 0x00100000

// MutexProber opens the named mutex with SYNCHRONIZE access.
type MutexProber struct{}

func (MutexProber) Probe(name string) error {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return err
	}
	h, err := windows.OpenMutex(synchronize, false, p)
	if err != nil {
		return err
	}
	windows.CloseHandle(h)
	return nil
}

// NewMutexMonitor returns a Monitor backed by OpenMutex.
func NewMutexMonitor(name string) *Monitor {
	return New(name, MutexProber{})
}
