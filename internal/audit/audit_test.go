package audit

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/breeze-rmm/overlay/internal/clock"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l, err := NewLogger(t.TempDir(), 1, 3, "sess-1", clk)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestNilLogger(t *testing.T) {
	var l *Logger
	l.Log(EventAttach, SourceOverlay, map[string]any{"target": "x"})
	if err := l.Close(); err != nil {
		t.Fatalf("nil Close() = %v, want nil", err)
	}
	if got := l.DroppedCount(); got != -1 {
		t.Fatalf("nil DroppedCount() = %d, want -1", got)
	}
	if got := l.Path(); got != "" {
		t.Fatalf("nil Path() = %q, want empty", got)
	}
}

func TestLogWritesEntry(t *testing.T) {
	l := newTestLogger(t)
	l.Log(EventActionRequested, SourceKeybind, map[string]any{"action": "dump-diagnostics"})
	l.Close()

	entries, err := ReadFile(l.Path())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	got := entries[0]
	got.EntryHash = ""
	want := Entry{
		Timestamp: "2026-03-01T12:00:00Z",
		Event:     EventActionRequested,
		Session:   "sess-1",
		Source:    SourceKeybind,
		Details:   map[string]any{"action": "dump-diagnostics"},
		PrevHash:  genesis,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("entry mismatch (-want +got):\n%s", diff)
	}
	if l.DroppedCount() != 0 {
		t.Fatalf("DroppedCount() = %d, want 0", l.DroppedCount())
	}
}

func TestHashChainVerifies(t *testing.T) {
	l := newTestLogger(t)
	l.Log(EventAttach, SourceOverlay, map[string]any{"target": "dxgi.dll+0x1234"})
	l.Log(EventActionRequested, SourceControl, map[string]any{"action": "restart-producer"})
	l.Log(EventActionCompleted, SourceControl, map[string]any{"action": "restart-producer", "result": "ok"})
	l.Log(EventDetach, SourceOverlay, nil)
	l.Close()

	n, err := Verify(l.Path())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if n != 4 {
		t.Fatalf("Verify() = %d, want 4", n)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	l := newTestLogger(t)
	l.Log(EventFeatureChanged, SourceControl, map[string]any{"feature": "rendering", "enabled": false})
	l.Log(EventFeatureChanged, SourceControl, map[string]any{"feature": "rendering", "enabled": true})
	l.Close()

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), `"enabled":false`, `"enabled":true`, 1)
	if err := os.WriteFile(l.Path(), []byte(tampered), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Verify(l.Path()); !errors.Is(err, ErrChainBroken) {
		t.Fatalf("Verify() error = %v, want ErrChainBroken", err)
	}
}

func TestReopenContinuesChain(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	first, err := NewLogger(dir, 1, 3, "one", clk)
	if err != nil {
		t.Fatal(err)
	}
	first.Log(EventAttach, SourceOverlay, nil)
	first.Close()

	second, err := NewLogger(dir, 1, 3, "two", clk)
	if err != nil {
		t.Fatal(err)
	}
	second.Log(EventAttach, SourceOverlay, nil)
	second.Close()

	if n, err := Verify(filepath.Join(dir, FileName)); err != nil || n != 2 {
		t.Fatalf("Verify() = %d, %v, want 2, nil", n, err)
	}
}

func TestRotationWritesMarker(t *testing.T) {
	l := newTestLogger(t)
	l.maxSize = 300

	for i := 0; i < 10; i++ {
		l.Log(EventActionRequested, SourceKeybind, map[string]any{"i": i})
	}
	l.Close()

	entries, err := ReadFile(l.Path())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no entries after rotation")
	}
	if entries[0].Event != EventJournalRotated {
		t.Fatalf("first event = %q, want %q", entries[0].Event, EventJournalRotated)
	}
	if entries[0].PrevHash == genesis {
		t.Fatalf("rotation marker does not link to the previous file")
	}
	if _, err := os.Stat(l.Path() + ".1"); err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if _, err := Verify(l.Path()); err != nil {
		t.Fatalf("Verify() after rotation error = %v", err)
	}
}
