package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("transport")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("header opened", "name", `Local\OverlayHeader`)

	out := buf.String()
	if !strings.Contains(out, `msg="header opened"`) {
		t.Fatalf("expected header opened message, got: %s", out)
	}
	if !strings.Contains(out, "component=transport") {
		t.Fatalf("expected component field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("transport")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestRingHandlerIncludesLoggerAttrs(t *testing.T) {
	ring := NewRing(4)
	handler := &ringHandler{
		base: slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug}),
		ring: ring,
	}

	logger := slog.New(handler).With(slog.String(KeyComponent, "composite"))
	logger.Info("rebuilt resources", KeyWidth, 1920, KeyHeight, 1080)

	lines := ring.Lines()
	if len(lines) != 1 {
		t.Fatalf("Lines() len = %d, want 1", len(lines))
	}
	for _, want := range []string{"INFO", "[composite]", "rebuilt resources", "width=1920", "height=1080"} {
		if !strings.Contains(lines[0], want) {
			t.Fatalf("line %q missing %q", lines[0], want)
		}
	}
}

func TestRingHandlerSkipsFilteredLevels(t *testing.T) {
	ring := NewRing(4)
	logger := slog.New(&ringHandler{
		base: slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}),
		ring: ring,
	})

	logger.Info("quiet")
	logger.Error("loud")

	lines := ring.Lines()
	if len(lines) != 1 || !strings.Contains(lines[0], "loud") {
		t.Fatalf("Lines() = %v, want only the error line", lines)
	}
}

func TestSetupWritesSessionMarker(t *testing.T) {
	dir := t.TempDir()
	s, err := Setup(Options{Format: "text", Level: "info", Dir: dir})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	L("test").Info("after setup")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "new session "+s.ID) {
		t.Fatalf("log missing session marker: %s", out)
	}
	if !strings.Contains(out, "after setup") {
		t.Fatalf("log missing record: %s", out)
	}
}
