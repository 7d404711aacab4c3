package input

import "errors"

// ErrNoWindow is returned when the process has no main window yet.
var ErrNoWindow = errors.New("input: no main window")

// WindowInfo is what main-window discovery needs to know about a top-level
// window.
type WindowInfo struct {
	HWnd       uintptr
	PID        uint32
	Visible    bool
	Enabled    bool
	ToolWindow bool
	Owner      uintptr
	Parent     uintptr
}

// PickMainWindow returns the first window of pid, in enumeration order,
// that is visible, enabled, not a tool window and has neither owner nor
// parent.
func PickMainWindow(windows []WindowInfo, pid uint32) (uintptr, error) {
	for _, w := range windows {
		if w.PID != pid || !w.Visible || !w.Enabled || w.ToolWindow {
			continue
		}
		if w.Owner == 0 && w.Parent == 0 {
			return w.HWnd, nil
		}
	}
	return 0, ErrNoWindow
}
