// Package overlay wires the overlay components together inside the host
// process: it attaches the present hook, the producer transport, the
// window-procedure relay and the control pipe, and tears them down again on
// detach.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/overlay/internal/audit"
	"github.com/breeze-rmm/overlay/internal/clock"
	"github.com/breeze-rmm/overlay/internal/composite"
	"github.com/breeze-rmm/overlay/internal/config"
	"github.com/breeze-rmm/overlay/internal/diag"
	"github.com/breeze-rmm/overlay/internal/health"
	"github.com/breeze-rmm/overlay/internal/hook"
	"github.com/breeze-rmm/overlay/internal/input"
	"github.com/breeze-rmm/overlay/internal/ipc"
	"github.com/breeze-rmm/overlay/internal/keybind"
	"github.com/breeze-rmm/overlay/internal/liveness"
	"github.com/breeze-rmm/overlay/internal/locator"
	"github.com/breeze-rmm/overlay/internal/logging"
	"github.com/breeze-rmm/overlay/internal/metrics"
	"github.com/breeze-rmm/overlay/internal/transport"
	"github.com/breeze-rmm/overlay/internal/workerpool"
)

var log = logging.L("overlay")

var (
	ErrAttached    = errors.New("overlay: already attached")
	ErrUnsupported = errors.New("overlay: platform not supported")
)

// active is the attached overlay the present detour forwards to.
var active atomic.Pointer[Overlay]

// Hook is the detour on the present entry point.
type Hook interface {
	Initialize(target, detour uintptr) error
	Enable() error
	Disable() error
	CallOriginal(args ...uintptr) uintptr
	State() hook.State
}

// Window is an installed window-procedure replacement.
type Window interface {
	Restore() error
}

// Platform supplies the operating-system pieces. Namespace, Prober, Locate,
// Hook, Detour and Backend are required.
type Platform struct {
	Namespace transport.Namespace
	Prober    liveness.Prober
	Locate    func(strategy, pattern string) (locator.TargetAddress, error)
	Hook      Hook
	// Detour returns the machine address the hook jumps to.
	Detour  func() uintptr
	Backend composite.Backend
	// Subclass finds the host's main window and routes its messages
	// through relay.
	Subclass func(relay *input.Relay) (Window, error)
	Focus    input.Focus
	Keyboard input.Keyboard
	Listen   func(path string) (net.Listener, error)
	Procs    diag.ProcessControl
}

func (p Platform) validate() error {
	if p.Namespace == nil || p.Prober == nil || p.Locate == nil || p.Hook == nil || p.Detour == nil || p.Backend == nil {
		return ErrUnsupported
	}
	return nil
}

type Options struct {
	Config   *config.Config
	Platform Platform
	// Session identifies this attach in logs and dumps.
	Session string
	Clock   clock.Clock
}

// Overlay is one attached overlay instance.
type Overlay struct {
	cfg      *config.Config
	platform Platform
	clock    clock.Clock
	session  string

	metrics    *metrics.Metrics
	health     *health.Monitor
	features   *diag.Features
	panel      *diag.Panel
	live       *liveness.Monitor
	channel    *transport.Channel
	engine     *composite.Engine
	pool       *workerpool.Pool
	supervisor *diag.Supervisor
	journal    *audit.Logger
	target     locator.TargetAddress
	hooked     bool

	sender  *input.Sender
	relay   *input.Relay
	window  Window
	control *ipc.Server

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	detached   atomic.Bool
	detachOnce sync.Once
}

// Attach starts every component in order. Any fatal step unwinds what was
// already started before the error is returned.
func Attach(opts Options) (_ *Overlay, err error) {
	if err := opts.Platform.validate(); err != nil {
		return nil, err
	}
	if cur := active.Load(); cur != nil && !cur.detached.Load() {
		return nil, ErrAttached
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if r := cfg.ValidateTiered(); r.HasFatals() {
		return nil, fmt.Errorf("config: %w", errors.Join(r.Fatals...))
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	table, err := keybind.LoadFile(cfg.KeybindsFile, keybind.IsBuiltin)
	if err != nil {
		return nil, fmt.Errorf("keybinds: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ov := &Overlay{
		cfg:      cfg,
		platform: opts.Platform,
		clock:    clk,
		session:  opts.Session,
		metrics:  metrics.New(),
		health:   health.NewMonitor(),
		features: diag.NewFeatures(),
		ctx:      ctx,
		cancel:   cancel,
	}
	journal, jerr := audit.NewLogger(cfg.DataDir, cfg.JournalMaxSizeMB, cfg.JournalMaxBackups, opts.Session, clk)
	if jerr != nil {
		log.Warn("journal unavailable", "error", jerr.Error())
	}
	ov.journal = journal
	defer func() {
		if err != nil {
			log.Error("attach failed, unwinding", "error", err.Error())
			ov.journal.Log(audit.EventAttach, audit.SourceOverlay, map[string]any{"error": err.Error()})
			ov.shutdown(context.Background())
			ov.closeJournal()
			active.CompareAndSwap(ov, nil)
		}
	}()

	ov.panel = diag.NewPanel(logging.Recent(), ov.metrics.Snapshot, clk)
	ov.live = liveness.New(cfg.Names.Liveness, opts.Platform.Prober)
	ov.channel = transport.New(opts.Platform.Namespace, ov.live, transport.Options{
		Mode: transport.Mode(cfg.Transport),
		Names: transport.Names{
			Header:        cfg.Names.Header,
			Body:          cfg.Names.Body,
			Resize:        cfg.Names.ResizeRequest,
			FrameReady:    cfg.Names.FrameReady,
			FrameConsumed: cfg.Names.FrameConsumed,
			ResizeSignal:  cfg.Names.ResizeSignaled,
		},
		MaxDimension:  uint32(cfg.MaxDimension),
		PollInterval:  cfg.PollInterval(),
		RetryInterval: cfg.RetryInterval(),
		WaitTimeout:   cfg.WaitTimeout(),
		Clock:         clk,
		Metrics:       ov.metrics,
		Health:        ov.health,
	})
	ov.engine = composite.New(composite.Options{
		Backend:  opts.Platform.Backend,
		Source:   ov.channel,
		Toggles:  ov.features,
		Panel:    ov.panel,
		Original: opts.Platform.Hook.CallOriginal,
		Clock:    clk,
		Metrics:  ov.metrics,
		Health:   ov.health,
	})
	ov.channel.OnProducerLost(ov.engine.DropFrame)
	ov.pool = workerpool.New(cfg.ActionWorkers, cfg.ActionQueueSize, ov.metrics)
	ov.supervisor = diag.NewSupervisor(cfg.ProducerExe, cfg.ProducerProcessName, opts.Platform.Procs, clk)

	ov.goRun("transport", ov.channel.Run)

	target, err := opts.Platform.Locate(cfg.LocateStrategy, cfg.PresentPattern)
	if err != nil {
		ov.health.Update(health.Hook, health.Unhealthy, err.Error())
		return nil, fmt.Errorf("locate present: %w", err)
	}
	ov.target = target

	active.Store(ov)
	if err := opts.Platform.Hook.Initialize(target.Addr(), opts.Platform.Detour()); err != nil {
		ov.health.Update(health.Hook, health.Unhealthy, err.Error())
		return nil, fmt.Errorf("initialize hook: %w", err)
	}
	if err := opts.Platform.Hook.Enable(); err != nil {
		ov.health.Update(health.Hook, health.Unhealthy, err.Error())
		return nil, fmt.Errorf("enable hook: %w", err)
	}
	ov.hooked = true
	ov.health.Update(health.Hook, health.Healthy, target.String())

	if cfg.MetricsAddr != "" {
		ov.goRun("metrics", func(ctx context.Context) {
			if err := ov.metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Warn("metrics endpoint stopped", "error", err.Error())
			}
		})
	}
	ov.startControl()
	ov.startInput(table)

	if cfg.LaunchProducerOnAttach {
		ov.pool.Submit(workerpool.Task{Name: "launch-producer", Run: func(ctx context.Context) error {
			_, err := ov.supervisor.EnsureRunning(ctx)
			return err
		}})
	}

	ov.journal.Log(audit.EventAttach, audit.SourceOverlay, map[string]any{
		"target":    target.String(),
		"transport": cfg.Transport,
		"bindings":  len(table),
	})
	log.Info("overlay attached",
		logging.KeySession, ov.session,
		"target", target.String(),
		"transport", cfg.Transport,
		"bindings", len(table))
	return ov, nil
}

func (o *Overlay) goRun(name string, fn func(ctx context.Context)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error("background task panicked", "task", name, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		fn(o.ctx)
	}()
}

func (o *Overlay) startControl() {
	if o.platform.Listen == nil || o.cfg.ControlPipe == "" {
		return
	}
	l, err := o.platform.Listen(o.cfg.ControlPipe)
	if err != nil {
		log.Warn("control pipe unavailable", "pipe", o.cfg.ControlPipe, "error", err.Error())
		o.health.Update(health.Control, health.Degraded, err.Error())
		return
	}
	o.control = ipc.NewServer(l, o, nil, o.session)
	o.health.Update(health.Control, health.Healthy, o.cfg.ControlPipe)
	o.goRun("control", func(ctx context.Context) {
		if err := o.control.Serve(ctx); err != nil {
			log.Warn("control pipe stopped", "error", err.Error())
		}
	})
}

func (o *Overlay) startInput(table keybind.Table) {
	sender, err := input.Dial(o.ctx, o.cfg.InputAddr, o.cfg.InputQueueSize, o.metrics)
	if err != nil {
		log.Warn("input forwarding disabled", "error", err.Error())
		o.health.Update(health.Input, health.Degraded, err.Error())
	} else {
		o.sender = sender
		o.goRun("input-sender", sender.Run)
	}

	o.relay = input.NewRelay(input.Options{
		Bindings: table,
		Dispatch: o.dispatch,
		HitTest:  o.channel.Cache(),
		Sender:   o.sender,
		Focus:    o.platform.Focus,
		Keyboard: o.platform.Keyboard,
		Toggles:  o.features,
		Clock:    o.clock,
		Debounce: o.cfg.ModifierDebounce(),
	})
	if o.platform.Subclass == nil {
		return
	}
	w, err := o.platform.Subclass(o.relay)
	if err != nil {
		log.Warn("window relay not installed", "error", err.Error())
		o.health.Update(health.Input, health.Degraded, err.Error())
		return
	}
	o.window = w
	if o.sender != nil {
		o.health.Update(health.Input, health.Healthy, "")
	}
}

// Present runs the composite engine for one hooked present call.
func (o *Overlay) Present(args ...uintptr) uintptr {
	return o.engine.Present(args...)
}

// present forwards one hooked present call to the registered overlay. With
// none registered it goes straight to the original through fallback.
func present(fallback Hook, args ...uintptr) uintptr {
	if o := active.Load(); o != nil {
		return o.Present(args...)
	}
	if fallback != nil && fallback.State() != hook.StateUninitialized {
		return fallback.CallOriginal(args...)
	}
	return 0
}

// Relay returns the window-procedure relay.
func (o *Overlay) Relay() *input.Relay { return o.relay }

// Detach stops every component. The hook is disabled but its trampoline
// stays mapped; a thread already inside the detour finishes through it.
func (o *Overlay) Detach(ctx context.Context) error {
	var err error
	o.detachOnce.Do(func() {
		log.Info("overlay detaching", logging.KeySession, o.session)
		err = o.shutdown(ctx)
		o.journal.Log(audit.EventDetach, audit.SourceOverlay, map[string]any{"clean": err == nil})
		o.closeJournal()
		log.Info("overlay detached")
	})
	return err
}

func (o *Overlay) shutdown(ctx context.Context) error {
	var errs []error
	if o.window != nil {
		if err := o.window.Restore(); err != nil {
			log.Warn("restore window procedure failed", "error", err.Error())
			errs = append(errs, err)
		}
		o.window = nil
	}
	if o.hooked {
		if err := o.platform.Hook.Disable(); err != nil {
			log.Warn("disable hook failed", "error", err.Error())
		}
		o.hooked = false
	}
	if o.control != nil {
		o.control.Close()
	}
	if o.pool != nil {
		o.pool.Shutdown(ctx)
	}
	o.cancel()
	if o.sender != nil {
		o.sender.Close()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("background goroutines did not stop in time")
		errs = append(errs, ctx.Err())
	}
	if o.engine != nil {
		o.engine.Reset()
	}
	o.detached.Store(true)
	return errors.Join(errs...)
}

func (o *Overlay) closeJournal() {
	if err := o.journal.Close(); err != nil {
		log.Warn("close journal failed", "error", err.Error())
	}
}
