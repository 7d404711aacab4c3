package input

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/breeze-rmm/overlay/internal/clock"
	"github.com/breeze-rmm/overlay/internal/keybind"
)

// opaqueAt is a HitTester with a single opaque pixel.
type opaqueAt struct{ x, y int }

func (o opaqueAt) Alpha(x, y int) uint8 {
	if x == o.x && y == o.y {
		return 255
	}
	return 0
}

type recordingFocus struct{ events []string }

func (f *recordingFocus) Grab(uintptr)    { f.events = append(f.events, "grab") }
func (f *recordingFocus) Release(uintptr) { f.events = append(f.events, "release") }

type heldKeys map[uint32]bool

func (k heldKeys) Down(vk uint32) bool { return k[vk] }

type inputToggle bool

func (t inputToggle) InputProcessing() bool { return bool(t) }

type forwarder struct {
	got []Message
	ret uintptr
}

func (f *forwarder) proc(m Message) uintptr {
	f.got = append(f.got, m)
	return f.ret
}

func lparam(x, y int) uintptr {
	return uintptr(uint16(int16(x))) | uintptr(uint16(int16(y)))<<16
}

func TestMessagePoint(t *testing.T) {
	tests := []struct{ x, y int }{{0, 0}, {100, 200}, {-5, 7}, {1919, -1}}
	for _, tt := range tests {
		x, y := Message{LParam: lparam(tt.x, tt.y)}.Point()
		if x != tt.x || y != tt.y {
			t.Errorf("Point() = (%d, %d), want (%d, %d)", x, y, tt.x, tt.y)
		}
	}
}

func TestSwallowOverOpaquePixels(t *testing.T) {
	tests := []struct {
		name    string
		msg     uint32
		x, y    int
		swallow bool
	}{
		{"move over opaque", WM_MOUSEMOVE, 10, 20, true},
		{"move over transparent", WM_MOUSEMOVE, 11, 20, false},
		{"hover over opaque", WM_MOUSEHOVER, 10, 20, true},
		{"left down over opaque", WM_LBUTTONDOWN, 10, 20, true},
		{"right down over opaque", WM_RBUTTONDOWN, 10, 20, true},
		{"double click over opaque", WM_LBUTTONDBLCLK, 10, 20, true},
		{"left down over transparent", WM_LBUTTONDOWN, 0, 0, false},
		{"left up over opaque", WM_LBUTTONUP, 10, 20, false},
		{"right up over opaque", WM_RBUTTONUP, 10, 20, false},
		{"middle up over opaque", WM_MBUTTONUP, 10, 20, false},
		{"x up over opaque", WM_XBUTTONUP, 10, 20, false},
		{"wheel over opaque", WM_MOUSEWHEEL, 10, 20, false},
		{"leave", WM_MOUSELEAVE, 10, 20, false},
		{"hit test", 0x0084, 10, 20, false},
		{"set cursor", 0x0020, 10, 20, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRelay(Options{HitTest: opaqueAt{10, 20}})
			fw := &forwarder{ret: 42}
			m := Message{HWnd: 1, Msg: tt.msg, LParam: lparam(tt.x, tt.y)}

			got := r.Handle(m, fw.proc)
			if tt.swallow {
				if got != Handled || len(fw.got) != 0 {
					t.Fatalf("Handle() = %d with %d forwards, want Handled and none", got, len(fw.got))
				}
				return
			}
			if got != 42 || len(fw.got) != 1 || fw.got[0] != m {
				t.Fatalf("Handle() = %d with forwards %+v, want the original result and one forward", got, fw.got)
			}
		})
	}
}

func TestInputProcessingDisabledForwardsEverything(t *testing.T) {
	focus := &recordingFocus{}
	r := NewRelay(Options{HitTest: opaqueAt{1, 1}, Focus: focus, Toggles: inputToggle(false)})
	fw := &forwarder{}
	for _, msg := range []uint32{WM_MOUSEMOVE, WM_LBUTTONDOWN, WM_SETFOCUS} {
		r.Handle(Message{Msg: msg, LParam: lparam(1, 1)}, fw.proc)
	}
	if len(fw.got) != 3 {
		t.Fatalf("forwarded %d messages, want 3", len(fw.got))
	}
	if len(focus.events) != 0 {
		t.Fatalf("focus mirrored while input processing is off: %v", focus.events)
	}
}

func TestFocusMirroring(t *testing.T) {
	focus := &recordingFocus{}
	keys := heldKeys{VK_CONTROL: true}
	r := NewRelay(Options{Focus: focus, Keyboard: keys})
	fw := &forwarder{}

	msgs := []Message{
		{Msg: WM_SETFOCUS},
		{Msg: WM_KILLFOCUS},
		{Msg: WM_ACTIVATE, WParam: 1},
		{Msg: WM_ACTIVATE, WParam: 0},
		{Msg: WM_ACTIVATEAPP, WParam: 1},
		{Msg: WM_ACTIVATEAPP, WParam: 0},
	}
	for _, m := range msgs {
		r.Handle(m, fw.proc)
	}
	want := []string{"grab", "release", "grab", "release", "grab", "release"}
	if diff := cmp.Diff(want, focus.events); diff != "" {
		t.Fatalf("focus events (-want +got):\n%s", diff)
	}
	if len(fw.got) != len(msgs) {
		t.Fatalf("forwarded %d focus messages, want %d", len(fw.got), len(msgs))
	}
	if !r.mods.ctrl {
		t.Fatalf("modifier state not resynced on focus")
	}
}

func chordRelay(t *testing.T, clk clock.Clock) (*Relay, *[]string) {
	t.Helper()
	table, err := keybind.Parse(strings.NewReader("Ctrl+Alt+P dump-diagnostics\nCtrl+B toggle-rendering\n"), nil)
	if err != nil {
		t.Fatalf("Parse(): %v", err)
	}
	var fired []string
	r := NewRelay(Options{
		Bindings: table,
		Dispatch: func(a string) { fired = append(fired, a) },
		Clock:    clk,
		Toggles:  inputToggle(false),
	})
	return r, &fired
}

func key(msg uint32, vk uint32) Message {
	return Message{Msg: msg, WParam: uintptr(vk)}
}

func TestKeyChordDispatch(t *testing.T) {
	r, fired := chordRelay(t, clock.NewFake(time.Unix(0, 0)))
	fw := &forwarder{ret: 7}

	r.Handle(key(WM_KEYDOWN, VK_LCONTROL), fw.proc)
	r.Handle(key(WM_SYSKEYDOWN, VK_MENU), fw.proc)
	if got := r.Handle(key(WM_KEYDOWN, 'P'), fw.proc); got != 0 {
		t.Fatalf("Handle(chord) = %d, want 0", got)
	}
	if len(fw.got) != 2 {
		t.Fatalf("forwarded %d messages, want the two modifiers only", len(fw.got))
	}

	// Auto-repeat does not fire again.
	repeat := key(WM_KEYDOWN, 'P')
	repeat.LParam = keyRepeatBit
	r.Handle(repeat, fw.proc)

	// Unbound key and partial chords pass through.
	r.Handle(key(WM_KEYDOWN, 'Q'), fw.proc)
	r.Handle(key(WM_KEYUP, VK_MENU), fw.proc)
	r.Handle(key(WM_KEYDOWN, 'P'), fw.proc)
	r.Handle(key(WM_KEYDOWN, 'B'), fw.proc)

	want := []string{keybind.ActionDumpDiagnostics, keybind.ActionToggleRendering}
	if diff := cmp.Diff(want, *fired); diff != "" {
		t.Fatalf("dispatched actions (-want +got):\n%s", diff)
	}
}

func TestModifierDebounce(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	r, fired := chordRelay(t, clk)
	fw := &forwarder{}

	// A spurious Alt press right after Ctrl is released must not turn Ctrl+P
	// presses into Alt chords.
	r.Handle(key(WM_KEYDOWN, VK_CONTROL), fw.proc)
	r.Handle(key(WM_KEYUP, VK_CONTROL), fw.proc)
	clk.Advance(10 * time.Millisecond)
	r.Handle(key(WM_KEYDOWN, VK_MENU), fw.proc)
	if r.mods.alt {
		t.Fatalf("Alt registered %v after a Ctrl release", 10*time.Millisecond)
	}

	// The same modifier pressed again is a real press.
	r.Handle(key(WM_KEYDOWN, VK_CONTROL), fw.proc)
	if !r.mods.ctrl {
		t.Fatalf("Ctrl re-press ignored")
	}
	r.Handle(key(WM_KEYDOWN, 'B'), fw.proc)

	// After the window a different modifier registers normally.
	r.Handle(key(WM_KEYUP, VK_CONTROL), fw.proc)
	clk.Advance(DefaultDebounce)
	r.Handle(key(WM_KEYDOWN, VK_MENU), fw.proc)
	if !r.mods.alt {
		t.Fatalf("Alt ignored after the debounce window")
	}
	if diff := cmp.Diff([]string{keybind.ActionToggleRendering}, *fired); diff != "" {
		t.Fatalf("dispatched actions (-want +got):\n%s", diff)
	}
	// Every key message reaches the host except the consumed chord.
	if len(fw.got) != 6 {
		t.Fatalf("forwarded %d key messages, want 6", len(fw.got))
	}
}

func TestChordUsesKeyboardState(t *testing.T) {
	table, err := keybind.Parse(strings.NewReader("Ctrl+B toggle-rendering\n"), nil)
	if err != nil {
		t.Fatalf("Parse(): %v", err)
	}
	var fired []string
	keys := heldKeys{}
	r := NewRelay(Options{
		Bindings: table,
		Dispatch: func(a string) { fired = append(fired, a) },
		Keyboard: keys,
		Clock:    clock.NewFake(time.Unix(0, 0)),
		Toggles:  inputToggle(false),
	})
	fw := &forwarder{}

	// Ctrl went up while another window had focus, so no key-up arrived.
	r.Handle(key(WM_KEYDOWN, VK_CONTROL), fw.proc)
	r.Handle(key(WM_KEYDOWN, 'B'), fw.proc)
	if len(fired) != 0 {
		t.Fatalf("dispatched %v with Ctrl released, want nothing", fired)
	}

	// Held without a key-down reaching the window.
	keys[VK_CONTROL] = true
	if got := r.Handle(key(WM_KEYDOWN, 'B'), fw.proc); got != 0 {
		t.Fatalf("Handle(Ctrl+B) = %d, want 0", got)
	}
	if diff := cmp.Diff([]string{keybind.ActionToggleRendering}, fired); diff != "" {
		t.Fatalf("dispatched actions (-want +got):\n%s", diff)
	}
}

type panicky struct{}

func (panicky) Alpha(int, int) uint8 { panic("boom") }

func TestHandleRecoversAndForwards(t *testing.T) {
	r := NewRelay(Options{HitTest: panicky{}})
	fw := &forwarder{ret: 9}
	if got := r.Handle(Message{Msg: WM_MOUSEMOVE}, fw.proc); got != 9 || len(fw.got) != 1 {
		t.Fatalf("Handle() after panic = %d with %d forwards, want 9 and 1", got, len(fw.got))
	}
}
