package locator

import (
	"fmt"

	"github.com/breeze-rmm/overlay/internal/logging"
)

var log = logging.L("locator")

// Strategies accepted by Locate.
const (
	StrategyAuto  = "auto"
	StrategyProbe = "probe"
	StrategyScan  = "scan"
)

// Options configures Locate. Probe and Module are supplied by the platform
// layer; either may be nil when unavailable.
type Options struct {
	Strategy string
	Pattern  string
	// Probe reads the present entry point out of a throwaway swap chain's
	// virtual function table.
	Probe func() (uintptr, error)
	// Module returns the host image and a readable span over it.
	Module func() (ModuleImage, []byte, error)
}

// Locate resolves the present entry point. The probe is preferred because it
// does not depend on the host binary's code layout; the signature scan is the
// fallback under StrategyAuto.
func Locate(opts Options) (TargetAddress, error) {
	switch opts.Strategy {
	case StrategyProbe:
		return probe(opts)
	case StrategyScan:
		return scan(opts)
	case StrategyAuto, "":
		t, err := probe(opts)
		if err == nil {
			return t, nil
		}
		log.Warn("device probe failed, falling back to signature scan", "error", err)
		return scan(opts)
	default:
		return TargetAddress{}, fmt.Errorf("locator: unknown strategy %q", opts.Strategy)
	}
}

func probe(opts Options) (TargetAddress, error) {
	if opts.Probe == nil {
		return TargetAddress{}, fmt.Errorf("%w: device probe unavailable", ErrNotFound)
	}
	addr, err := opts.Probe()
	if err != nil {
		return TargetAddress{}, fmt.Errorf("device probe: %w", err)
	}
	t, err := NewTargetAddress(addr, "device probe")
	if err != nil {
		return TargetAddress{}, err
	}
	log.Info("present entry point resolved", "address", t.String())
	return t, nil
}

func scan(opts Options) (TargetAddress, error) {
	if opts.Pattern == "" {
		return TargetAddress{}, fmt.Errorf("%w: no signature configured", ErrNotFound)
	}
	if opts.Module == nil {
		return TargetAddress{}, fmt.Errorf("%w: module image unavailable", ErrNotFound)
	}
	p, err := ParsePattern(opts.Pattern)
	if err != nil {
		return TargetAddress{}, err
	}
	img, span, err := opts.Module()
	if err != nil {
		return TargetAddress{}, fmt.Errorf("module image: %w", err)
	}
	if uintptr(len(span)) > img.Size {
		span = span[:img.Size]
	}

	t, err := NewTargetAddress(Scan(span, img.Base, p), "signature scan")
	if err != nil {
		return TargetAddress{}, fmt.Errorf("scan %s for %s: %w", img, p, err)
	}
	log.Info("present entry point resolved", "address", t.String(), "image", img.String())
	return t, nil
}
