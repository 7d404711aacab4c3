package diag

import (
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"github.com/gogpu/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/breeze-rmm/overlay/internal/clock"
)

// Panel geometry and colors.
const (
	PanelWidth  = 600
	PanelHeight = 180
	MaxLines    = 12

	lineTop     = 12
	lineSpacing = 14
	textLeft    = 4
)

var (
	panelBackground = gg.RGBA2(0, 0, 20.0/255, 200.0/255)
	panelBorder     = gg.RGBA2(200.0/255, 200.0/255, 200.0/255, 1)
	panelText       = color.RGBA{R: 230, G: 230, B: 230, A: 255}
)

// StatsRefresh is how often the statistics view is redrawn.
const StatsRefresh = 500 * time.Millisecond

// Mode selects what the panel shows.
type Mode int

const (
	ModeLog Mode = iota
	ModeStats
)

func (m Mode) String() string {
	if m == ModeStats {
		return "stats"
	}
	return "log"
}

// LineSource supplies log lines, newest first, and a version that changes
// whenever the lines do.
type LineSource interface {
	Lines() []string
	Version() uint64
}

// Panel renders the diagnostics image on demand. Rendering happens in Frame
// and only when the content changed.
type Panel struct {
	logs  LineSource
	stats func() map[string]float64
	clk   clock.Clock

	mu         sync.Mutex
	mode       Mode
	pix        []byte
	version    uint64
	logVersion uint64
	renderedAt time.Time
	stale      bool
}

// NewPanel creates a panel showing logs. stats may be nil.
func NewPanel(logs LineSource, stats func() map[string]float64, clk clock.Clock) *Panel {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Panel{logs: logs, stats: stats, clk: clk, stale: true}
}

// Mode returns the current view.
func (p *Panel) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// CycleMode switches between the log and statistics views.
func (p *Panel) CycleMode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode == ModeLog && p.stats != nil {
		p.mode = ModeStats
	} else {
		p.mode = ModeLog
	}
	p.stale = true
	log.Info("diagnostics panel mode", "mode", p.mode.String())
	return p.mode
}

// Frame returns the panel's RGBA pixels, redrawing them first when the
// log or the statistics changed.
func (p *Panel) Frame() ([]byte, int, int, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clk.Now()
	switch p.mode {
	case ModeLog:
		if v := p.logs.Version(); v != p.logVersion {
			p.logVersion = v
			p.stale = true
		}
	case ModeStats:
		if now.Sub(p.renderedAt) >= StatsRefresh {
			p.stale = true
		}
	}

	if p.stale || p.pix == nil {
		var lines []string
		if p.mode == ModeStats {
			lines = StatLines(p.stats())
		} else {
			// Oldest at the top.
			recent := p.logs.Lines()
			for i := len(recent) - 1; i >= 0; i-- {
				lines = append(lines, recent[i])
			}
			if len(lines) > MaxLines {
				lines = lines[len(lines)-MaxLines:]
			}
		}
		p.pix = render(lines)
		p.version++
		p.renderedAt = now
		p.stale = false
	}
	return p.pix, PanelWidth, PanelHeight, p.version
}

// render draws the background, the border and up to MaxLines of text.
func render(lines []string) []byte {
	dc := gg.NewContext(PanelWidth, PanelHeight)
	defer dc.Close()
	dc.ClearWithColor(panelBackground)
	dc.SetColor(panelBorder.Color())
	dc.SetLineWidth(1)
	dc.DrawRectangle(0.5, 0.5, PanelWidth-1, PanelHeight-1)
	// Logging here would bump the log version and redraw every frame.
	_ = dc.Stroke()
	_ = dc.FlushGPU()

	src := dc.Image()
	img, ok := src.(*image.RGBA)
	if !ok {
		img = image.NewRGBA(src.Bounds())
		draw.Draw(img, img.Bounds(), src, image.Point{}, draw.Src)
	}

	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(panelText),
		Face: basicfont.Face7x13,
	}
	maxChars := (PanelWidth - 2*textLeft) / basicfont.Face7x13.Advance
	for i, line := range lines {
		if i == MaxLines {
			break
		}
		if r := []rune(line); len(r) > maxChars {
			line = string(r[:maxChars])
		}
		d.Dot = fixed.P(textLeft, lineTop+i*lineSpacing)
		d.DrawString(line)
	}
	return img.Pix
}
