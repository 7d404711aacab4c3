package overlay

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/breeze-rmm/overlay/internal/audit"
	"github.com/breeze-rmm/overlay/internal/diag"
	"github.com/breeze-rmm/overlay/internal/keybind"
	"github.com/breeze-rmm/overlay/internal/logging"
	"github.com/breeze-rmm/overlay/internal/workerpool"
)

// ErrBusy is returned when the action queue is full or shutting down.
var ErrBusy = errors.New("overlay: action queue full")

// actionFunc runs one named action on the worker pool.
type actionFunc func(o *Overlay, ctx context.Context) error

// actionRegistry maps action names, as bound in the keybind file or sent
// over the control pipe, to their handlers.
var actionRegistry = map[string]actionFunc{
	keybind.ActionDumpDiagnostics:          (*Overlay).dumpDiagnostics,
	keybind.ActionRestartProducer:          (*Overlay).restartProducer,
	keybind.ActionToggleRendering:          toggle(diag.FeatureRendering),
	keybind.ActionToggleInputProcessing:    toggle(diag.FeatureInputProcessing),
	keybind.ActionToggleDiagnosticsOverlay: toggle(diag.FeatureDiagnosticsOverlay),
	keybind.ActionCycleDiagnosticsMode:     (*Overlay).cycleDiagnosticsMode,
}

// Actions lists the registered action names.
func Actions() []string {
	names := make([]string, 0, len(actionRegistry))
	for name := range actionRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunAction queues a named action requested over the control pipe.
func (o *Overlay) RunAction(name string) error {
	return o.runAction(name, audit.SourceControl)
}

// runAction never blocks, so it is safe on the window-procedure thread.
func (o *Overlay) runAction(name, source string) error {
	fn, ok := actionRegistry[name]
	if !ok {
		return fmt.Errorf("%w: %s", keybind.ErrUnknownAction, name)
	}
	task := workerpool.Task{Name: name, Run: func(ctx context.Context) error {
		err := fn(o, ctx)
		details := map[string]any{"action": name, "result": "ok"}
		if err != nil {
			details["result"] = "error"
			details["error"] = err.Error()
		}
		o.journal.Log(audit.EventActionCompleted, source, details)
		return err
	}}
	o.journal.Log(audit.EventActionRequested, source, map[string]any{"action": name})
	if !o.pool.Submit(task) {
		o.journal.Log(audit.EventActionCompleted, source, map[string]any{"action": name, "result": "rejected"})
		return fmt.Errorf("%w: %s", ErrBusy, name)
	}
	return nil
}

func (o *Overlay) dispatch(name string) {
	if err := o.runAction(name, audit.SourceKeybind); err != nil {
		log.Warn("action not queued", "action", name, "error", err.Error())
	}
}

func toggle(feature string) actionFunc {
	return func(o *Overlay, _ context.Context) error {
		_, err := o.features.Toggle(feature)
		return err
	}
}

func (o *Overlay) cycleDiagnosticsMode(context.Context) error {
	o.panel.CycleMode()
	return nil
}

func (o *Overlay) restartProducer(ctx context.Context) error {
	return o.supervisor.Restart(ctx)
}

// dumpDiagnostics writes the diagnostics document, then drops every GPU
// resource so the next present rebuilds them from scratch.
func (o *Overlay) dumpDiagnostics(ctx context.Context) error {
	d := diag.Dump{
		Time:      o.clock.Now(),
		Session:   o.session,
		Features:  o.features.Snapshot(),
		PanelMode: o.panel.Mode().String(),
		Transport: o.transportStatus(),
		GPU:       o.engine.Status(),
		Health:    o.health.All(),
		Metrics:   o.metrics.Snapshot(),
		Process:   diag.HostProcess(ctx),
		Logs:      logging.Recent().Lines(),
	}
	if _, err := diag.Write(o.cfg.DataDir, d); err != nil {
		return err
	}
	o.engine.Reset()
	log.Info("GPU state reset")
	return nil
}
