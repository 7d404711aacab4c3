package hook

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

const (
	// relJmpLen is "jmp rel32", the patch written over the target prologue.
	relJmpLen = 5
	// absJmpLen is "movabs r10, imm64; jmp r10".
	absJmpLen = 13
	// maxSteal bounds how far into the prologue we decode.
	maxSteal = 32
)

// ErrUnrelocatable means the prologue contains instructions that cannot be
// replayed from another address.
var ErrUnrelocatable = errors.New("hook: prologue cannot be relocated")

// encodeAbsJmp returns an absolute jump to dest that clobbers r10, which is
// volatile in the x64 calling convention.
func encodeAbsJmp(dest uintptr) []byte {
	b := []byte{
		0x49, 0xBA, 0, 0, 0, 0, 0, 0, 0, 0, // movabs r10, imm64
		0x41, 0xFF, 0xE2, // jmp r10
	}
	binary.LittleEndian.PutUint64(b[2:], uint64(dest))
	return b
}

// encodeRelJmp returns "jmp rel32" from at to dest, padded with NOPs to n
// bytes. The displacement must fit in 32 bits.
func encodeRelJmp(at, dest uintptr, n int) ([]byte, error) {
	if n < relJmpLen {
		return nil, fmt.Errorf("hook: patch length %d below %d", n, relJmpLen)
	}
	disp := int64(dest) - int64(at) - relJmpLen
	if disp != int64(int32(disp)) {
		return nil, fmt.Errorf("hook: relay %#x out of rel32 range of %#x", dest, at)
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = 0x90
	}
	b[0] = 0xE9
	binary.LittleEndian.PutUint32(b[1:], uint32(int32(disp)))
	return b, nil
}

// prologue decides how many bytes of code (mapped at addr) to steal and
// builds the trampoline body that replays them and jumps back.
//
// A leading "jmp rel32", typically another tool's hook, is chained: the
// trampoline jumps straight to its destination. Any other relative branch or
// RIP-relative operand inside the stolen range is rejected.
func prologue(code []byte, addr uintptr) (int, []byte, error) {
	off := 0
	for off < relJmpLen {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: decode at +%d: %v", ErrUnrelocatable, off, err)
		}

		if off == 0 && inst.Op == x86asm.JMP && inst.Len == relJmpLen {
			if rel, ok := inst.Args[0].(x86asm.Rel); ok {
				dest := uintptr(int64(addr) + int64(inst.Len) + int64(rel))
				return relJmpLen, encodeAbsJmp(dest), nil
			}
		}

		switch inst.Op {
		case x86asm.RET, x86asm.INT, x86asm.UD2:
			return 0, nil, fmt.Errorf("%w: function ends after %d bytes", ErrUnrelocatable, off+inst.Len)
		}
		for _, arg := range inst.Args {
			switch a := arg.(type) {
			case x86asm.Rel:
				return 0, nil, fmt.Errorf("%w: relative branch %v at +%d", ErrUnrelocatable, inst, off)
			case x86asm.Mem:
				if a.Base == x86asm.RIP {
					return 0, nil, fmt.Errorf("%w: rip-relative operand %v at +%d", ErrUnrelocatable, inst, off)
				}
			}
		}

		off += inst.Len
		if off > maxSteal-absJmpLen {
			return 0, nil, fmt.Errorf("%w: prologue too long", ErrUnrelocatable)
		}
	}

	body := make([]byte, 0, off+absJmpLen)
	body = append(body, code[:off]...)
	body = append(body, encodeAbsJmp(addr+uintptr(off))...)
	return off, body, nil
}
