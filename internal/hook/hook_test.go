package hook

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fakeMemory is a sparse byte store. Unwritten bytes read as int3.
type fakeMemory struct {
	bytes    map[uintptr]byte
	relay    uintptr
	checkErr error
	writes   int
}

func newFakeMemory(target uintptr, code []byte) *fakeMemory {
	m := &fakeMemory{bytes: make(map[uintptr]byte), relay: target + 0x10000}
	for i, b := range code {
		m.bytes[target+uintptr(i)] = b
	}
	return m
}

func (m *fakeMemory) CheckCode(uintptr, int) error { return m.checkErr }

func (m *fakeMemory) AllocNear(uintptr, int) (uintptr, error) { return m.relay, nil }

func (m *fakeMemory) Read(addr uintptr, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := range out {
		b, ok := m.bytes[addr+uintptr(i)]
		if !ok {
			b = 0xCC
		}
		out[i] = b
	}
	return out, nil
}

func (m *fakeMemory) Write(addr uintptr, b []byte) error {
	m.writes++
	for i, v := range b {
		m.bytes[addr+uintptr(i)] = v
	}
	return nil
}

func (m *fakeMemory) at(addr uintptr, n int) []byte {
	b, _ := m.Read(addr, n)
	return b
}

func absJmpTarget(t *testing.T, b []byte) uintptr {
	t.Helper()
	if len(b) < absJmpLen || b[0] != 0x49 || b[1] != 0xBA || !bytes.Equal(b[10:13], []byte{0x41, 0xFF, 0xE2}) {
		t.Fatalf("not an absolute jump: % x", b)
	}
	return uintptr(binary.LittleEndian.Uint64(b[2:10]))
}

const (
	testTarget = uintptr(0x140001000)
	testDetour = uintptr(0x7FF600000000)
)

func TestInitializeEnableDisable(t *testing.T) {
	code := []byte{0x48, 0x89, 0x5C, 0x24, 0x08, 0x57, 0x48, 0x83, 0xEC, 0x20} // mov [rsp+8],rbx; push rdi; sub rsp,20h
	mem := newFakeMemory(testTarget, code)
	h := New(mem, nil)

	if err := h.Initialize(testTarget, testDetour); err != nil {
		t.Fatalf("Initialize(): %v", err)
	}
	if h.State() != StateInitialized {
		t.Fatalf("State() = %v, want initialized", h.State())
	}
	if got := mem.at(testTarget, len(code)); !bytes.Equal(got, code) {
		t.Fatalf("Initialize patched the target: % x", got)
	}
	if got := absJmpTarget(t, mem.at(mem.relay, absJmpLen)); got != testDetour {
		t.Fatalf("relay jumps to %#x, want %#x", got, testDetour)
	}

	tramp := h.Trampoline()
	if tramp != mem.relay+16 {
		t.Fatalf("Trampoline() = %#x, want %#x", tramp, mem.relay+16)
	}
	if got := mem.at(tramp, 5); !bytes.Equal(got, code[:5]) {
		t.Fatalf("trampoline prefix = % x, want % x", got, code[:5])
	}
	if got := absJmpTarget(t, mem.at(tramp+5, absJmpLen)); got != testTarget+5 {
		t.Fatalf("trampoline returns to %#x, want %#x", got, testTarget+5)
	}

	if err := h.Enable(); err != nil {
		t.Fatalf("Enable(): %v", err)
	}
	patched := mem.at(testTarget, 5)
	if patched[0] != 0xE9 {
		t.Fatalf("patch opcode = %#x, want 0xE9", patched[0])
	}
	disp := int32(binary.LittleEndian.Uint32(patched[1:]))
	if dest := uintptr(int64(testTarget) + 5 + int64(disp)); dest != mem.relay {
		t.Fatalf("patch jumps to %#x, want relay %#x", dest, mem.relay)
	}
	if diff := cmp.Diff(code[5:], mem.at(testTarget+5, len(code)-5)); diff != "" {
		t.Fatalf("bytes past the patch changed (-want +got):\n%s", diff)
	}

	if err := h.Disable(); err != nil {
		t.Fatalf("Disable(): %v", err)
	}
	if got := mem.at(testTarget, len(code)); !bytes.Equal(got, code) {
		t.Fatalf("Disable() left % x, want % x", got, code)
	}
	if h.State() != StateDisabled {
		t.Fatalf("State() = %v, want disabled", h.State())
	}
	if err := h.Enable(); err != nil {
		t.Fatalf("re-Enable(): %v", err)
	}
}

func TestPatchPadsWithNops(t *testing.T) {
	code := []byte{0x55, 0x48, 0x89, 0xE5, 0x48, 0x83, 0xEC, 0x20} // push rbp; mov rbp,rsp; sub rsp,20h
	mem := newFakeMemory(testTarget, code)
	h := New(mem, nil)
	if err := h.Initialize(testTarget, testDetour); err != nil {
		t.Fatalf("Initialize(): %v", err)
	}
	if err := h.Enable(); err != nil {
		t.Fatalf("Enable(): %v", err)
	}
	patched := mem.at(testTarget, len(code))
	if !bytes.Equal(patched[5:], []byte{0x90, 0x90, 0x90}) {
		t.Fatalf("patch tail = % x, want NOP padding", patched[5:])
	}
	if got := mem.at(h.Trampoline(), 4); !bytes.Equal(got, code[:4]) {
		t.Fatalf("trampoline prefix = % x, want % x", got, code[:4])
	}
}

func TestChainsExistingJump(t *testing.T) {
	code := []byte{0xE9, 0x00, 0x01, 0x00, 0x00, 0xCC}
	mem := newFakeMemory(testTarget, code)
	h := New(mem, nil)
	if err := h.Initialize(testTarget, testDetour); err != nil {
		t.Fatalf("Initialize(): %v", err)
	}
	want := testTarget + 5 + 0x100
	if got := absJmpTarget(t, mem.at(h.Trampoline(), absJmpLen)); got != want {
		t.Fatalf("chained trampoline jumps to %#x, want %#x", got, want)
	}
}

func TestInitializeRejects(t *testing.T) {
	tests := []struct {
		name    string
		code    []byte
		target  uintptr
		check   error
		wantErr error
	}{
		{"zero target", nil, 0, nil, ErrZeroTarget},
		{"rip relative", []byte{0x48, 0x8B, 0x05, 0x10, 0x00, 0x00, 0x00}, testTarget, nil, ErrUnrelocatable},
		{"short branch", []byte{0x74, 0x05, 0x90, 0x90, 0x90, 0x90}, testTarget, nil, ErrUnrelocatable},
		{"tiny function", []byte{0x31, 0xC0, 0xC3}, testTarget, nil, ErrUnrelocatable},
		{"not executable", []byte{0x90, 0x90, 0x90, 0x90, 0x90}, testTarget, errNoExec, errNoExec},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := newFakeMemory(tt.target, tt.code)
			mem.checkErr = tt.check
			h := New(mem, nil)
			err := h.Initialize(tt.target, testDetour)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Initialize() error = %v, want %v", err, tt.wantErr)
			}
			if h.State() != StateUninitialized {
				t.Fatalf("State() = %v after failure, want uninitialized", h.State())
			}
			if mem.writes != 0 {
				t.Fatalf("failed Initialize wrote %d times", mem.writes)
			}
		})
	}
}

var errNoExec = errors.New("page not executable")

func TestStateTransitions(t *testing.T) {
	code := []byte{0x48, 0x89, 0x5C, 0x24, 0x08}
	mem := newFakeMemory(testTarget, code)
	h := New(mem, nil)

	if err := h.Enable(); !errors.Is(err, ErrBadState) {
		t.Fatalf("Enable() before Initialize error = %v, want ErrBadState", err)
	}
	if err := h.Disable(); !errors.Is(err, ErrBadState) {
		t.Fatalf("Disable() before Initialize error = %v, want ErrBadState", err)
	}
	if err := h.Initialize(testTarget, testDetour); err != nil {
		t.Fatalf("Initialize(): %v", err)
	}
	if err := h.Initialize(testTarget, testDetour); !errors.Is(err, ErrBadState) {
		t.Fatalf("second Initialize() error = %v, want ErrBadState", err)
	}
	if err := h.Enable(); err != nil {
		t.Fatalf("Enable(): %v", err)
	}
	if err := h.Enable(); !errors.Is(err, ErrBadState) {
		t.Fatalf("double Enable() error = %v, want ErrBadState", err)
	}
}

func TestCallOriginal(t *testing.T) {
	defer func() {
		if r := recover(); r != ErrNotInitialized {
			t.Fatalf("CallOriginal() before Initialize panicked with %v, want ErrNotInitialized", r)
		}
	}()

	var gotFn uintptr
	var gotArgs []uintptr
	invoke := func(fn uintptr, args ...uintptr) uintptr {
		gotFn, gotArgs = fn, args
		return 0x887A0005
	}
	mem := newFakeMemory(testTarget, []byte{0x48, 0x89, 0x5C, 0x24, 0x08})
	h := New(mem, invoke)
	if err := h.Initialize(testTarget, testDetour); err != nil {
		t.Fatalf("Initialize(): %v", err)
	}
	if ret := h.CallOriginal(1, 2, 3); ret != 0x887A0005 {
		t.Fatalf("CallOriginal() = %#x, want %#x", ret, 0x887A0005)
	}
	if gotFn != h.Trampoline() {
		t.Fatalf("invoked %#x, want trampoline %#x", gotFn, h.Trampoline())
	}
	if diff := cmp.Diff([]uintptr{1, 2, 3}, gotArgs); diff != "" {
		t.Fatalf("args (-want +got):\n%s", diff)
	}

	New(mem, invoke).CallOriginal()
}

func TestEncodeRelJmpRange(t *testing.T) {
	if _, err := encodeRelJmp(0x1000, 0x1000+1<<33, 5); err == nil {
		t.Fatalf("encodeRelJmp() accepted an 8GB displacement")
	}
	b, err := encodeRelJmp(0x2000, 0x1000, 5)
	if err != nil {
		t.Fatalf("encodeRelJmp(): %v", err)
	}
	if disp := int32(binary.LittleEndian.Uint32(b[1:])); disp != -0x1005 {
		t.Fatalf("backward displacement = %d, want %d", disp, -0x1005)
	}
}
