// Command overlayctl inspects and drives an attached overlay over its
// control pipe, and checks the files the overlay reads at attach.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/overlay/internal/config"
	"github.com/breeze-rmm/overlay/internal/ipc"
)

var (
	cfgFile string
	pipe    string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "overlayctl",
	Short:         "Overlay control and diagnostics tool",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "overlay config file (default <data dir>/overlay.yaml)")
	rootCmd.PersistentFlags().StringVar(&pipe, "pipe", "", "control pipe path (default from config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", ipc.DefaultTimeout, "request timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// withClient dials the control pipe and runs fn with a request context.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *ipc.Client) error) error {
	path := pipe
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.ControlPipe
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	c, err := ipc.Dial(ctx, path)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
