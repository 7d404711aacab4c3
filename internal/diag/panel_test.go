package diag

import (
	"testing"
	"time"

	"github.com/breeze-rmm/overlay/internal/clock"
	"github.com/breeze-rmm/overlay/internal/logging"
)

func pixel(pix []byte, x, y int) (r, g, b, a byte) {
	i := (y*PanelWidth + x) * 4
	return pix[i], pix[i+1], pix[i+2], pix[i+3]
}

func near(got, want byte) bool {
	d := int(got) - int(want)
	return d >= -1 && d <= 1
}

func TestPanelFrameSize(t *testing.T) {
	p := NewPanel(logging.NewRing(4), nil, clock.NewFake(time.Unix(0, 0)))
	pix, w, h, v := p.Frame()
	if w != PanelWidth || h != PanelHeight {
		t.Fatalf("Frame() size = %dx%d, want %dx%d", w, h, PanelWidth, PanelHeight)
	}
	if len(pix) != PanelWidth*PanelHeight*4 {
		t.Fatalf("Frame() pixels = %d bytes, want %d", len(pix), PanelWidth*PanelHeight*4)
	}
	if v == 0 {
		t.Fatalf("Frame() version = 0, want a rendered frame")
	}

	// An empty line area shows the translucent background.
	_, _, b, a := pixel(pix, PanelWidth-10, PanelHeight-10)
	if !near(a, 200) {
		t.Fatalf("background alpha = %d, want about 200", a)
	}
	if b == 0 {
		t.Fatalf("background blue = 0, want a dark blue tint")
	}

	// The border is brighter and more opaque than the background.
	r, _, _, ba := pixel(pix, PanelWidth/2, 0)
	if r < 100 || ba <= a {
		t.Fatalf("border pixel = (r %d, a %d), want a light opaque edge", r, ba)
	}
}

func TestPanelRedrawsOnNewLog(t *testing.T) {
	ring := logging.NewRing(4)
	p := NewPanel(ring, nil, clock.NewFake(time.Unix(0, 0)))

	_, _, _, v1 := p.Frame()
	if _, _, _, v := p.Frame(); v != v1 {
		t.Fatalf("Frame() version = %d without new lines, want %d", v, v1)
	}
	ring.Add("producer connected")
	if _, _, _, v := p.Frame(); v == v1 {
		t.Fatalf("Frame() version unchanged after a new log line")
	}
}

func TestPanelStatsRefresh(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	calls := 0
	stats := func() map[string]float64 {
		calls++
		return map[string]float64{"overlay_composite_frames_drawn_total": float64(calls)}
	}
	p := NewPanel(logging.NewRing(4), stats, clk)
	if got := p.CycleMode(); got != ModeStats {
		t.Fatalf("CycleMode() = %v, want stats", got)
	}

	p.Frame()
	clk.Advance(StatsRefresh / 2)
	p.Frame()
	if calls != 1 {
		t.Fatalf("stats read %d times before the refresh interval, want 1", calls)
	}
	clk.Advance(StatsRefresh / 2)
	p.Frame()
	if calls != 2 {
		t.Fatalf("stats read %d times after the refresh interval, want 2", calls)
	}

	if got := p.CycleMode(); got != ModeLog {
		t.Fatalf("CycleMode() = %v, want log", got)
	}
}

func TestPanelWithoutStatsStaysOnLog(t *testing.T) {
	p := NewPanel(logging.NewRing(4), nil, nil)
	if got := p.CycleMode(); got != ModeLog {
		t.Fatalf("CycleMode() = %v, want log when no statistics are wired", got)
	}
}

func TestRenderTruncatesLines(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	lines := make([]string, MaxLines+5)
	for i := range lines {
		lines[i] = string(long)
	}
	if pix := render(lines); len(pix) != PanelWidth*PanelHeight*4 {
		t.Fatalf("render() = %d bytes, want %d", len(pix), PanelWidth*PanelHeight*4)
	}
}
