// Command producer-sim stands in for the overlay producer. It holds the
// liveness mutex, creates the shared objects and publishes an animated test
// pattern so the overlay can be exercised without the real producer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/overlay/internal/config"
	"github.com/breeze-rmm/overlay/internal/logging"
	"github.com/breeze-rmm/overlay/internal/transport"
)

var log = logging.L("producer-sim")

var (
	cfgFile  string
	mode     string
	width    int
	height   int
	fps      int
	duration time.Duration
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "producer-sim",
	Short: "Overlay producer simulator",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Publish a test pattern until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Init("text", logLevel, os.Stdout)
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		m := transport.Mode(mode)
		if m != transport.ModePixelCopy && m != transport.ModeSharedHandle {
			return fmt.Errorf("unknown mode %q (use %s or %s)", mode, transport.ModePixelCopy, transport.ModeSharedHandle)
		}
		if width <= 0 || height <= 0 || fps <= 0 {
			return fmt.Errorf("width, height and fps must be positive")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}
		return run(ctx, cfg, m)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "overlay config file (default <data dir>/overlay.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level")
	runCmd.Flags().StringVar(&mode, "mode", string(transport.ModePixelCopy), "transport mode: pixel-copy or shared-handle")
	runCmd.Flags().IntVar(&width, "width", 1280, "initial frame width")
	runCmd.Flags().IntVar(&height, "height", 720, "initial frame height")
	runCmd.Flags().IntVar(&fps, "fps", 30, "frames per second")
	runCmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func names(cfg *config.Config) transport.Names {
	return transport.Names{
		Header:        cfg.Names.Header,
		Body:          cfg.Names.Body,
		Resize:        cfg.Names.ResizeRequest,
		FrameReady:    cfg.Names.FrameReady,
		FrameConsumed: cfg.Names.FrameConsumed,
		ResizeSignal:  cfg.Names.ResizeSignaled,
	}
}

// publisher pushes one rendered frame to the consumer.
type publisher interface {
	Publish(p *transport.Producer, w, h int, pix []byte, dirty []transport.Rect) error
	Close()
}

func run(ctx context.Context, cfg *config.Config, m transport.Mode) error {
	p := transport.NewProducer(namespace(), m, names(cfg), cfg.Names.Liveness)
	if err := p.Start(); err != nil {
		return err
	}
	defer p.Stop()

	var pub publisher
	if m == transport.ModeSharedHandle {
		sp, err := newSharedPublisher()
		if err != nil {
			return err
		}
		pub = sp
	} else {
		pub = &pixelPublisher{wait: cfg.WaitTimeout()}
	}
	defer pub.Close()

	log.Info("producer started", "mode", string(m), logging.KeyWidth, width, logging.KeyHeight, height, "fps", fps)
	pat := newPattern(width, height)
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("producer stopping", "frames", pat.frame)
			return nil
		case <-ticker.C:
		}

		req, ok, err := p.ResizeRequest(0)
		if err != nil {
			log.Warn("resize request unreadable", "error", err.Error())
		} else if ok && req.Width != 0 && req.Height != 0 {
			log.Info("resizing to host", logging.KeyWidth, req.Width, logging.KeyHeight, req.Height, "seq", req.Seq)
			pat = newPattern(int(req.Width), int(req.Height))
		}

		pix, dirty := pat.next()
		if err := pub.Publish(p, pat.w, pat.h, pix, dirty); err != nil {
			log.Warn("publish failed", "frame", pat.frame, "error", err.Error())
		}
	}
}

type pixelPublisher struct {
	wait   time.Duration
	missed int
}

func (pp *pixelPublisher) Publish(p *transport.Producer, w, h int, pix []byte, dirty []transport.Rect) error {
	if err := p.PublishPixels(uint32(w), uint32(h), pix, dirty); err != nil {
		return err
	}
	ok, err := p.WaitConsumed(pp.wait)
	if err != nil {
		return err
	}
	if !ok {
		pp.missed++
		if pp.missed == 1 || pp.missed%100 == 0 {
			log.Debug("frame not consumed yet", "missed", pp.missed)
		}
	}
	return nil
}

func (pp *pixelPublisher) Close() {}
