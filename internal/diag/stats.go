package diag

import (
	"fmt"
	"sort"
	"strings"
)

const metricPrefix = "overlay_"

// StatLines renders a metrics snapshot as panel text. The frame timing
// figures come first, then every other series in name order.
func StatLines(snap map[string]float64) []string {
	cost := snap["overlay_composite_last_overlay_seconds"]
	frame := snap["overlay_composite_last_frame_seconds"]
	lines := []string{
		fmt.Sprintf("overlay %.3f ms  frame %.3f ms  host %.3f ms",
			cost*1e3, frame*1e3, (frame-cost)*1e3),
	}

	keys := make([]string, 0, len(snap))
	for k := range snap {
		switch k {
		case "overlay_composite_last_overlay_seconds", "overlay_composite_last_frame_seconds":
			continue
		}
		if strings.HasSuffix(k, "_sum") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s %g", strings.TrimPrefix(k, metricPrefix), snap[k]))
	}
	return lines
}
