package diag

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStatLines(t *testing.T) {
	snap := map[string]float64{
		"overlay_composite_last_overlay_seconds":                   0.002,
		"overlay_composite_last_frame_seconds":                     0.016,
		"overlay_composite_overlay_seconds_sum":                    1.5,
		"overlay_composite_frames_drawn_total":                     120,
		"overlay_composite_frames_skipped_total{reason=not_ready}": 3,
	}
	want := []string{
		"overlay 2.000 ms  frame 16.000 ms  host 14.000 ms",
		"composite_frames_drawn_total 120",
		"composite_frames_skipped_total{reason=not_ready} 3",
	}
	if diff := cmp.Diff(want, StatLines(snap)); diff != "" {
		t.Fatalf("StatLines() (-want +got):\n%s", diff)
	}
}

func TestStatLinesEmpty(t *testing.T) {
	got := StatLines(nil)
	if len(got) != 1 {
		t.Fatalf("StatLines(nil) = %q, want the timing line only", got)
	}
}
