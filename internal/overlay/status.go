package overlay

import (
	"github.com/breeze-rmm/overlay/internal/audit"
	"github.com/breeze-rmm/overlay/internal/composite"
	"github.com/breeze-rmm/overlay/internal/health"
)

// TransportStatus describes the producer channel.
type TransportStatus struct {
	Mode      string `json:"mode" yaml:"mode"`
	Connected bool   `json:"connected" yaml:"connected"`
	Width     uint32 `json:"width" yaml:"width"`
	Height    uint32 `json:"height" yaml:"height"`
	Seq       uint64 `json:"seq" yaml:"seq"`
	Gen       uint64 `json:"generation" yaml:"generation"`
}

// Status is the document answered on the control pipe.
type Status struct {
	Session   string           `json:"session,omitempty" yaml:"session,omitempty"`
	Health    health.Status    `json:"health" yaml:"health"`
	Checks    []health.Check   `json:"checks" yaml:"checks"`
	Features  map[string]bool  `json:"features" yaml:"features"`
	PanelMode string           `json:"panelMode" yaml:"panelMode"`
	Target    string           `json:"target,omitempty" yaml:"target,omitempty"`
	Hook      string           `json:"hook" yaml:"hook"`
	Transport TransportStatus  `json:"transport" yaml:"transport"`
	GPU       composite.Status `json:"gpu" yaml:"gpu"`
}

func (o *Overlay) transportStatus() TransportStatus {
	f := o.channel.Cache().Snapshot()
	return TransportStatus{
		Mode:      string(o.channel.Mode()),
		Connected: o.channel.Connected(),
		Width:     f.Width,
		Height:    f.Height,
		Seq:       f.Seq,
		Gen:       f.Gen,
	}
}

// Status returns the current state of every component.
func (o *Overlay) Status() any {
	return o.status()
}

func (o *Overlay) status() Status {
	s := Status{
		Session:   o.session,
		Health:    o.health.Overall(),
		Checks:    o.health.All(),
		Features:  o.features.Snapshot(),
		PanelMode: o.panel.Mode().String(),
		Hook:      o.platform.Hook.State().String(),
		Transport: o.transportStatus(),
		GPU:       o.engine.Status(),
	}
	if o.target.Addr() != 0 {
		s.Target = o.target.String()
	}
	return s
}

// SetFeature switches a feature by name.
func (o *Overlay) SetFeature(name string, on bool) error {
	if err := o.features.Set(name, on); err != nil {
		return err
	}
	o.journal.Log(audit.EventFeatureChanged, audit.SourceControl, map[string]any{"feature": name, "enabled": on})
	return nil
}

// Features returns every feature switch.
func (o *Overlay) Features() map[string]bool {
	return o.features.Snapshot()
}
