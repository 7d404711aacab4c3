// Package diag holds the runtime feature switches, the diagnostics panel
// drawn over the host, the diagnostics dump and producer supervision.
package diag

import (
	"fmt"
	"sync/atomic"

	"github.com/breeze-rmm/overlay/internal/logging"
)

var log = logging.L("diag")

// Feature names, as used by toggle actions and the control pipe.
const (
	FeatureRendering          = "rendering"
	FeatureInputProcessing    = "input-processing"
	FeatureDiagnosticsOverlay = "diagnostics-overlay"
)

// Features are the process-wide runtime switches. Rendering and input
// processing start enabled, the diagnostics overlay disabled.
type Features struct {
	rendering atomic.Bool
	input     atomic.Bool
	overlay   atomic.Bool
}

func NewFeatures() *Features {
	f := &Features{}
	f.rendering.Store(true)
	f.input.Store(true)
	return f
}

func (f *Features) Rendering() bool          { return f.rendering.Load() }
func (f *Features) InputProcessing() bool    { return f.input.Load() }
func (f *Features) DiagnosticsOverlay() bool { return f.overlay.Load() }

func (f *Features) flag(name string) (*atomic.Bool, error) {
	switch name {
	case FeatureRendering:
		return &f.rendering, nil
	case FeatureInputProcessing:
		return &f.input, nil
	case FeatureDiagnosticsOverlay:
		return &f.overlay, nil
	}
	return nil, fmt.Errorf("unknown feature %q", name)
}

// Set switches a feature on or off.
func (f *Features) Set(name string, on bool) error {
	b, err := f.flag(name)
	if err != nil {
		return err
	}
	if b.Swap(on) != on {
		log.Info("feature switched", "feature", name, "enabled", on)
	}
	return nil
}

// Toggle flips a feature and returns its new state.
func (f *Features) Toggle(name string) (bool, error) {
	b, err := f.flag(name)
	if err != nil {
		return false, err
	}
	for {
		old := b.Load()
		if b.CompareAndSwap(old, !old) {
			log.Info("feature switched", "feature", name, "enabled", !old)
			return !old, nil
		}
	}
}

// Snapshot returns every feature's state by name.
func (f *Features) Snapshot() map[string]bool {
	return map[string]bool{
		FeatureRendering:          f.Rendering(),
		FeatureInputProcessing:    f.InputProcessing(),
		FeatureDiagnosticsOverlay: f.DiagnosticsOverlay(),
	}
}
