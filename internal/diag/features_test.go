package diag

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFeatureDefaults(t *testing.T) {
	f := NewFeatures()
	want := map[string]bool{
		FeatureRendering:          true,
		FeatureInputProcessing:    true,
		FeatureDiagnosticsOverlay: false,
	}
	if diff := cmp.Diff(want, f.Snapshot()); diff != "" {
		t.Fatalf("Snapshot() (-want +got):\n%s", diff)
	}
}

func TestFeatureToggle(t *testing.T) {
	tests := []struct {
		name string
		get  func(*Features) bool
	}{
		{FeatureRendering, (*Features).Rendering},
		{FeatureInputProcessing, (*Features).InputProcessing},
		{FeatureDiagnosticsOverlay, (*Features).DiagnosticsOverlay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFeatures()
			before := tt.get(f)
			got, err := f.Toggle(tt.name)
			if err != nil {
				t.Fatalf("Toggle(%q): %v", tt.name, err)
			}
			if got != !before || tt.get(f) != !before {
				t.Fatalf("Toggle(%q) = %v, want %v", tt.name, got, !before)
			}
			if got, _ := f.Toggle(tt.name); got != before {
				t.Fatalf("second Toggle(%q) = %v, want %v", tt.name, got, before)
			}
		})
	}
}

func TestFeatureSet(t *testing.T) {
	f := NewFeatures()
	if err := f.Set(FeatureRendering, false); err != nil {
		t.Fatalf("Set(): %v", err)
	}
	if f.Rendering() {
		t.Fatalf("Rendering() = true after Set(false)")
	}
	if err := f.Set(FeatureRendering, false); err != nil {
		t.Fatalf("Set() again: %v", err)
	}
	if err := f.Set("teleport", true); err == nil {
		t.Fatalf("Set(unknown) succeeded")
	}
	if _, err := f.Toggle("teleport"); err == nil {
		t.Fatalf("Toggle(unknown) succeeded")
	}
}
