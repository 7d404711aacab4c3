package input

import (
	"errors"
	"testing"
)

func TestPickMainWindow(t *testing.T) {
	const pid = 100
	main := WindowInfo{HWnd: 0x50, PID: pid, Visible: true, Enabled: true}
	tests := []struct {
		name    string
		windows []WindowInfo
		want    uintptr
	}{
		{"only candidate", []WindowInfo{main}, 0x50},
		{"other process first", []WindowInfo{{HWnd: 0x10, PID: 7, Visible: true, Enabled: true}, main}, 0x50},
		{"hidden skipped", []WindowInfo{{HWnd: 0x11, PID: pid, Enabled: true}, main}, 0x50},
		{"disabled skipped", []WindowInfo{{HWnd: 0x12, PID: pid, Visible: true}, main}, 0x50},
		{"tool window skipped", []WindowInfo{{HWnd: 0x13, PID: pid, Visible: true, Enabled: true, ToolWindow: true}, main}, 0x50},
		{"owned skipped", []WindowInfo{{HWnd: 0x14, PID: pid, Visible: true, Enabled: true, Owner: 0x50}, main}, 0x50},
		{"child skipped", []WindowInfo{{HWnd: 0x15, PID: pid, Visible: true, Enabled: true, Parent: 0x50}, main}, 0x50},
		{"first match wins", []WindowInfo{main, {HWnd: 0x60, PID: pid, Visible: true, Enabled: true}}, 0x50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PickMainWindow(tt.windows, pid)
			if err != nil {
				t.Fatalf("PickMainWindow(): %v", err)
			}
			if got != tt.want {
				t.Fatalf("PickMainWindow() = %#x, want %#x", got, tt.want)
			}
		})
	}

	if _, err := PickMainWindow([]WindowInfo{{HWnd: 1, PID: pid}}, pid); !errors.Is(err, ErrNoWindow) {
		t.Fatalf("PickMainWindow() without candidates error = %v, want ErrNoWindow", err)
	}
}
