// Package hook installs an inline detour on an x86-64 function and exposes
// the original behavior through a trampoline.
//
// The target's first instructions are replaced with a jmp rel32 into a relay
// page allocated within ±2GB of the target. The relay jumps absolutely to
// the detour. The trampoline, on the same page, replays the stolen
// instructions and jumps back past the patch.
package hook

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/overlay/internal/logging"
)

var log = logging.L("hook")

// State of a Hook.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateActive
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateActive:
		return "active"
	case StateDisabled:
		return "disabled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrZeroTarget     = errors.New("hook: target address is zero")
	ErrNotInitialized = errors.New("hook: not initialized")
	ErrBadState       = errors.New("hook: invalid state transition")
)

// Memory is the code-memory access a Hook needs.
type Memory interface {
	// CheckCode verifies [addr, addr+n) is committed executable memory.
	CheckCode(addr uintptr, n int) error
	// AllocNear allocates executable memory within rel32 reach of addr.
	AllocNear(addr uintptr, size int) (uintptr, error)
	Read(addr uintptr, n int) ([]byte, error)
	// Write patches code, restoring page protection and flushing the
	// instruction cache afterwards.
	Write(addr uintptr, b []byte) error
}

// Invoker calls the machine-code function at fn.
type Invoker func(fn uintptr, args ...uintptr) uintptr

// Hook is one detour. Enable and Disable must not race each other; callers
// own that ordering.
type Hook struct {
	mem  Memory
	call Invoker

	mu         sync.Mutex
	state      State
	target     uintptr
	detour     uintptr
	relay      uintptr
	stolen     []byte
	patch      []byte
	trampoline atomic.Uintptr
}

// New returns an uninitialized Hook.
func New(mem Memory, call Invoker) *Hook {
	return &Hook{mem: mem, call: call}
}

// Initialize prepares the relay and trampoline for target without patching
// it yet.
func (h *Hook) Initialize(target, detour uintptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateUninitialized {
		return fmt.Errorf("%w: initialize from %s", ErrBadState, h.state)
	}
	if target == 0 {
		return ErrZeroTarget
	}
	if detour == 0 {
		return fmt.Errorf("hook: detour address is zero")
	}
	if err := h.mem.CheckCode(target, maxSteal); err != nil {
		return fmt.Errorf("hook: target %#x: %w", target, err)
	}

	code, err := h.mem.Read(target, maxSteal)
	if err != nil {
		return fmt.Errorf("hook: read prologue: %w", err)
	}
	steal, body, err := prologue(code, target)
	if err != nil {
		return err
	}

	// Relay jump at the start of the page, trampoline right after it.
	tramOff := absJmpLen + 3
	relay, err := h.mem.AllocNear(target, tramOff+len(body))
	if err != nil {
		return fmt.Errorf("hook: allocate relay: %w", err)
	}
	if err := h.mem.Write(relay, encodeAbsJmp(detour)); err != nil {
		return fmt.Errorf("hook: write relay: %w", err)
	}
	tramp := relay + uintptr(tramOff)
	if err := h.mem.Write(tramp, body); err != nil {
		return fmt.Errorf("hook: write trampoline: %w", err)
	}

	patch, err := encodeRelJmp(target, relay, steal)
	if err != nil {
		return err
	}

	h.target = target
	h.detour = detour
	h.relay = relay
	h.stolen = append([]byte(nil), code[:steal]...)
	h.patch = patch
	h.trampoline.Store(tramp)
	h.state = StateInitialized

	log.Info("hook initialized",
		"target", fmt.Sprintf("%#x", target),
		"relay", fmt.Sprintf("%#x", relay),
		"trampoline", fmt.Sprintf("%#x", tramp),
		"stolen", steal)
	return nil
}

// Enable writes the jump into the target. Enabling an already active hook
// is an error.
func (h *Hook) Enable() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateInitialized && h.state != StateDisabled {
		return fmt.Errorf("%w: enable from %s", ErrBadState, h.state)
	}
	if err := h.mem.Write(h.target, h.patch); err != nil {
		return fmt.Errorf("hook: patch target: %w", err)
	}
	h.state = StateActive
	log.Info("hook enabled", "target", fmt.Sprintf("%#x", h.target))
	return nil
}

// Disable restores the original prologue.
//
// A thread already inside the trampoline keeps running the stolen copy and
// returns normally, but a thread that is between the patched bytes while
// they are rewritten can fault. The relay page is never freed for the same
// reason. Disable is only meant for process detach.
func (h *Hook) Disable() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateActive {
		return fmt.Errorf("%w: disable from %s", ErrBadState, h.state)
	}
	if err := h.mem.Write(h.target, h.stolen); err != nil {
		return fmt.Errorf("hook: restore target: %w", err)
	}
	h.state = StateDisabled
	log.Info("hook disabled", "target", fmt.Sprintf("%#x", h.target))
	return nil
}

// CallOriginal runs the original function through the trampoline. It takes
// no lock and is safe from any thread, including from inside the detour.
func (h *Hook) CallOriginal(args ...uintptr) uintptr {
	tramp := h.trampoline.Load()
	if tramp == 0 {
		panic(ErrNotInitialized)
	}
	return h.call(tramp, args...)
}

func (h *Hook) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Target returns the hooked address, or 0 before Initialize.
func (h *Hook) Target() uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.target
}

// Trampoline returns the call-original address, or 0 before Initialize.
func (h *Hook) Trampoline() uintptr {
	return h.trampoline.Load()
}
