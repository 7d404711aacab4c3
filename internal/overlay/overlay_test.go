package overlay

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/breeze-rmm/overlay/internal/audit"
	"github.com/breeze-rmm/overlay/internal/composite"
	"github.com/breeze-rmm/overlay/internal/config"
	"github.com/breeze-rmm/overlay/internal/diag"
	"github.com/breeze-rmm/overlay/internal/hook"
	"github.com/breeze-rmm/overlay/internal/input"
	"github.com/breeze-rmm/overlay/internal/ipc"
	"github.com/breeze-rmm/overlay/internal/keybind"
	"github.com/breeze-rmm/overlay/internal/locator"
	"github.com/breeze-rmm/overlay/internal/transport"
)

const (
	testTarget = 0x7ff6_1000
	testDetour = 0x7ff6_d000
	originalHR = 0x887a0005
)

type fakeHook struct {
	mu        sync.Mutex
	state     hook.State
	target    uintptr
	detour    uintptr
	enableErr error
	calls     int
}

func (h *fakeHook) Initialize(target, detour uintptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.target, h.detour, h.state = target, detour, hook.StateInitialized
	return nil
}

func (h *fakeHook) Enable() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.enableErr != nil {
		return h.enableErr
	}
	h.state = hook.StateActive
	return nil
}

func (h *fakeHook) Disable() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = hook.StateDisabled
	return nil
}

func (h *fakeHook) CallOriginal(...uintptr) uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	return originalHR
}

func (h *fakeHook) State() hook.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

type noGPU struct{}

func (noGPU) Open(uintptr) (composite.Device, error) { return nil, errors.New("no device") }

type fakeWindow struct {
	mu       sync.Mutex
	restored bool
}

func (w *fakeWindow) Restore() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.restored = true
	return nil
}

type fakeProcs struct {
	mu       sync.Mutex
	launched []string
}

func (p *fakeProcs) Kill(context.Context, string) (int, error)     { return 0, nil }
func (p *fakeProcs) Running(context.Context, string) (bool, error) { return false, nil }
func (p *fakeProcs) Launch(exe string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.launched = append(p.launched, exe)
	return nil
}

func (p *fakeProcs) Launched() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.launched...)
}

type fixture struct {
	cfg      *config.Config
	hook     *fakeHook
	window   *fakeWindow
	procs    *fakeProcs
	platform Platform
	listener net.Listener
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.LogDir = dir
	cfg.KeybindsFile = filepath.Join(dir, "keybinds.conf")
	cfg.InputAddr = "127.0.0.1:9"
	cfg.ControlPipe = "test"
	cfg.ProducerExe = filepath.Join(dir, "Producer.exe")

	f := &fixture{
		cfg:    cfg,
		hook:   &fakeHook{},
		window: &fakeWindow{},
		procs:  &fakeProcs{},
	}
	ns := transport.NewMemoryNamespace()
	f.platform = Platform{
		Namespace: ns,
		Prober:    ns,
		Locate: func(string, string) (locator.TargetAddress, error) {
			return locator.NewTargetAddress(testTarget, "test")
		},
		Hook:     f.hook,
		Detour:   func() uintptr { return testDetour },
		Backend:  noGPU{},
		Subclass: func(*input.Relay) (Window, error) { return f.window, nil },
		Listen: func(string) (net.Listener, error) {
			l, err := net.Listen("tcp", "127.0.0.1:0")
			f.listener = l
			return l, err
		},
		Procs: f.procs,
	}
	return f
}

func (f *fixture) attach(t *testing.T) *Overlay {
	t.Helper()
	o, err := Attach(Options{Config: f.cfg, Platform: f.platform, Session: "test-session"})
	if err != nil {
		t.Fatalf("Attach(): %v", err)
	}
	t.Cleanup(func() { detach(t, o) })
	return o
}

func detach(t *testing.T, o *Overlay) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Detach(ctx); err != nil {
		t.Errorf("Detach(): %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAttachInstallsEverything(t *testing.T) {
	f := newFixture(t)
	o := f.attach(t)

	if f.hook.target != testTarget || f.hook.detour != testDetour {
		t.Fatalf("hook initialized with (%#x, %#x), want (%#x, %#x)", f.hook.target, f.hook.detour, testTarget, testDetour)
	}
	if got := f.hook.State(); got != hook.StateActive {
		t.Fatalf("hook state = %v, want active", got)
	}
	if o.Relay() == nil {
		t.Fatalf("Relay() = nil after attach")
	}
	if _, err := os.Stat(f.cfg.KeybindsFile); err != nil {
		t.Fatalf("default keybinds not written: %v", err)
	}

	s := o.status()
	if s.Hook != "active" || s.Session != "test-session" || s.Transport.Mode != config.TransportSharedHandle {
		t.Fatalf("status() = %+v, want active hook, session and transport mode", s)
	}
}

func TestDetachRestoresAndDisables(t *testing.T) {
	f := newFixture(t)
	o, err := Attach(Options{Config: f.cfg, Platform: f.platform})
	if err != nil {
		t.Fatalf("Attach(): %v", err)
	}
	detach(t, o)

	if got := f.hook.State(); got != hook.StateDisabled {
		t.Fatalf("hook state after Detach() = %v, want disabled", got)
	}
	if !f.window.restored {
		t.Fatalf("window procedure not restored")
	}
	if err := o.RunAction(keybind.ActionToggleRendering); !errors.Is(err, ErrBusy) {
		t.Fatalf("RunAction() after Detach() = %v, want ErrBusy", err)
	}
	// Detach is idempotent and a fresh attach is allowed.
	detach(t, o)
	o2, err := Attach(Options{Config: f.cfg, Platform: f.platform})
	if err != nil {
		t.Fatalf("Attach() after Detach(): %v", err)
	}
	detach(t, o2)
}

func TestAttachTwiceFails(t *testing.T) {
	f := newFixture(t)
	f.attach(t)
	if _, err := Attach(Options{Config: f.cfg, Platform: f.platform}); !errors.Is(err, ErrAttached) {
		t.Fatalf("second Attach() = %v, want ErrAttached", err)
	}
}

func TestAttachFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{"unsupported platform", func(f *fixture) { f.platform.Hook = nil }},
		{"invalid config", func(f *fixture) { f.cfg.Transport = "carrier-pigeon" }},
		{"unknown keybind action", func(f *fixture) {
			os.WriteFile(f.cfg.KeybindsFile, []byte("Ctrl+Alt+X launch-missiles\n"), 0o644)
		}},
		{"locate fails", func(f *fixture) {
			f.platform.Locate = func(string, string) (locator.TargetAddress, error) {
				return locator.TargetAddress{}, locator.ErrNotFound
			}
		}},
		{"hook enable fails", func(f *fixture) { f.hook.enableErr = errors.New("page locked") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			subclassed := false
			f.platform.Subclass = func(*input.Relay) (Window, error) {
				subclassed = true
				return f.window, nil
			}
			tt.setup(f)
			before := runtime.NumGoroutine()

			var (
				o   *Overlay
				err error
			)
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.Fatalf("Attach() panicked: %v", r)
					}
				}()
				o, err = Attach(Options{Config: f.cfg, Platform: f.platform})
			}()
			if err == nil {
				detach(t, o)
				t.Fatalf("Attach() succeeded, want an error")
			}
			if o != nil {
				t.Fatalf("Attach() = %p with error, want nil", o)
			}
			if cur := active.Load(); cur != nil && !cur.detached.Load() {
				t.Fatalf("failed attach left a live overlay registered")
			}
			waitFor(t, "background goroutines to stop", func() bool {
				return runtime.NumGoroutine() <= before
			})
			if subclassed {
				t.Fatalf("window subclassed by a failed attach")
			}
			if f.hook.State() == hook.StateActive {
				t.Fatalf("hook left active by a failed attach")
			}
		})
	}

	// The failed attaches left nothing behind.
	f := newFixture(t)
	f.attach(t)
}

func TestPresentReturnsOriginalResult(t *testing.T) {
	f := newFixture(t)
	o := f.attach(t)
	if got := o.Present(0x1234, 1, 0); got != originalHR {
		t.Fatalf("Present() = %#x, want %#x", got, originalHR)
	}
	if f.hook.calls != 1 {
		t.Fatalf("original called %d times, want 1", f.hook.calls)
	}
}

func TestToggleActions(t *testing.T) {
	f := newFixture(t)
	o := f.attach(t)

	tests := []struct {
		action, feature string
		want            bool
	}{
		{keybind.ActionToggleRendering, diag.FeatureRendering, false},
		{keybind.ActionToggleInputProcessing, diag.FeatureInputProcessing, false},
		{keybind.ActionToggleDiagnosticsOverlay, diag.FeatureDiagnosticsOverlay, true},
	}
	for _, tt := range tests {
		if err := o.RunAction(tt.action); err != nil {
			t.Fatalf("RunAction(%q): %v", tt.action, err)
		}
		waitFor(t, tt.action, func() bool { return o.Features()[tt.feature] == tt.want })
	}

	if err := o.RunAction(keybind.ActionCycleDiagnosticsMode); err != nil {
		t.Fatalf("RunAction(cycle): %v", err)
	}
	waitFor(t, "stats mode", func() bool { return o.panel.Mode() == diag.ModeStats })
}

func TestRunActionUnknown(t *testing.T) {
	f := newFixture(t)
	o := f.attach(t)
	if err := o.RunAction("launch-missiles"); !errors.Is(err, keybind.ErrUnknownAction) {
		t.Fatalf("RunAction() = %v, want ErrUnknownAction", err)
	}
}

func TestActionsCoverBuiltins(t *testing.T) {
	for _, name := range Actions() {
		if !keybind.IsBuiltin(name) {
			t.Errorf("registered action %q is not a keybind action", name)
		}
	}
	want := []string{
		keybind.ActionCycleDiagnosticsMode,
		keybind.ActionDumpDiagnostics,
		keybind.ActionRestartProducer,
		keybind.ActionToggleDiagnosticsOverlay,
		keybind.ActionToggleInputProcessing,
		keybind.ActionToggleRendering,
	}
	if diff := cmp.Diff(want, Actions()); diff != "" {
		t.Fatalf("Actions() (-want +got):\n%s", diff)
	}
}

func TestKeyChordRunsAction(t *testing.T) {
	f := newFixture(t)
	o := f.attach(t)
	next := func(input.Message) uintptr { return 0 }

	o.Relay().Handle(input.Message{Msg: input.WM_KEYDOWN, WParam: input.VK_CONTROL}, next)
	o.Relay().Handle(input.Message{Msg: input.WM_SYSKEYDOWN, WParam: input.VK_MENU}, next)
	o.Relay().Handle(input.Message{Msg: input.WM_SYSKEYDOWN, WParam: 'B'}, next)

	waitFor(t, "rendering off", func() bool { return !o.Features()[diag.FeatureRendering] })
}

func TestDumpDiagnostics(t *testing.T) {
	f := newFixture(t)
	o := f.attach(t)
	if err := o.RunAction(keybind.ActionDumpDiagnostics); err != nil {
		t.Fatalf("RunAction(): %v", err)
	}
	waitFor(t, "diagnostics file", func() bool {
		matches, _ := filepath.Glob(filepath.Join(f.cfg.DataDir, "diagnostics-*.yaml"))
		return len(matches) == 1
	})
}

func TestRestartProducerAction(t *testing.T) {
	f := newFixture(t)
	o := f.attach(t)
	if err := o.RunAction(keybind.ActionRestartProducer); err != nil {
		t.Fatalf("RunAction(): %v", err)
	}
	waitFor(t, "producer relaunch", func() bool { return len(f.procs.Launched()) == 1 })
	if got := f.procs.Launched()[0]; got != f.cfg.ProducerExe {
		t.Fatalf("launched %q, want %q", got, f.cfg.ProducerExe)
	}
}

func TestLaunchProducerOnAttach(t *testing.T) {
	f := newFixture(t)
	f.cfg.LaunchProducerOnAttach = true
	f.attach(t)
	waitFor(t, "producer launch", func() bool { return len(f.procs.Launched()) == 1 })
}

func TestControlPipe(t *testing.T) {
	f := newFixture(t)
	o := f.attach(t)

	raw, err := net.Dial("tcp", f.listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c := ipc.NewClient(raw)
	defer c.Close()
	ctx := context.Background()

	pong, err := c.Ping(ctx)
	if err != nil || pong.Session != "test-session" {
		t.Fatalf("Ping() = %+v, %v, want the attach session", pong, err)
	}
	if err := c.Action(ctx, keybind.ActionToggleDiagnosticsOverlay); err != nil {
		t.Fatalf("Action(): %v", err)
	}
	waitFor(t, "diagnostics overlay on", func() bool { return o.Features()[diag.FeatureDiagnosticsOverlay] })

	features, err := c.SetFeature(ctx, diag.FeatureInputProcessing, false)
	if err != nil || features[diag.FeatureInputProcessing] {
		t.Fatalf("SetFeature() = %v, %v, want input processing off", features, err)
	}

	var s Status
	if err := c.Status(ctx, &s); err != nil {
		t.Fatalf("Status(): %v", err)
	}
	if s.Hook != "active" || s.Features[diag.FeatureInputProcessing] {
		t.Fatalf("Status() = %+v, want active hook and input processing off", s)
	}
}

func TestJournalRecordsOperations(t *testing.T) {
	f := newFixture(t)
	o, err := Attach(Options{Config: f.cfg, Platform: f.platform, Session: "s-1"})
	if err != nil {
		t.Fatalf("Attach(): %v", err)
	}
	path := filepath.Join(f.cfg.DataDir, audit.FileName)
	if err := o.RunAction(keybind.ActionToggleRendering); err != nil {
		t.Fatalf("RunAction(): %v", err)
	}
	waitFor(t, "action completed", func() bool {
		entries, _ := audit.ReadFile(path)
		return len(entries) == 3
	})
	if err := o.SetFeature(diag.FeatureRendering, true); err != nil {
		t.Fatalf("SetFeature(): %v", err)
	}
	detach(t, o)

	if _, err := audit.Verify(path); err != nil {
		t.Fatalf("Verify(): %v", err)
	}
	entries, err := audit.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(): %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Event+"/"+e.Source)
		if e.Session != "s-1" {
			t.Fatalf("entry session = %q, want s-1", e.Session)
		}
	}
	want := []string{
		"attach/overlay",
		"action_requested/control",
		"action_completed/control",
		"feature_changed/control",
		"detach/overlay",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("journal events mismatch (-want +got):\n%s", diff)
	}
}

func TestPresentWithoutOverlayCallsOriginal(t *testing.T) {
	prev := active.Swap(nil)
	t.Cleanup(func() { active.Store(prev) })

	h := &fakeHook{}
	if got := present(h, 0x1234, 1, 0); got != 0 {
		t.Fatalf("present() before Initialize = %#x, want 0", got)
	}
	if h.calls != 0 {
		t.Fatalf("uninitialized hook called %d times, want 0", h.calls)
	}

	if err := h.Initialize(testTarget, testDetour); err != nil {
		t.Fatal(err)
	}
	if got := present(h, 0x1234, 1, 0); got != originalHR {
		t.Fatalf("present() = %#x, want %#x", got, originalHR)
	}
	if h.calls != 1 {
		t.Fatalf("original called %d times, want 1", h.calls)
	}
	if got := present(nil, 0x1234, 1, 0); got != 0 {
		t.Fatalf("present(nil) = %#x, want 0", got)
	}
}
