package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/overlay/internal/ipc"
	"github.com/breeze-rmm/overlay/internal/overlay"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check the overlay answers on its control pipe",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *ipc.Client) error {
			pong, err := c.Ping(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pong from pid %d session %s (protocol %d)\n", pong.PID, pong.Session, pong.ProtocolVersion)
			return nil
		})
	},
}

var actionCmd = &cobra.Command{
	Use:       "action <name>",
	Short:     "Queue a named overlay action",
	Args:      cobra.ExactArgs(1),
	ValidArgs: overlay.Actions(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *ipc.Client) error {
			if err := c.Action(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", args[0])
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of every overlay component",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *ipc.Client) error {
			var st overlay.Status
			if err := c.Status(ctx, &st); err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), st)
		})
	},
}

var featureCmd = &cobra.Command{
	Use:   "feature [name [on|off]]",
	Short: "List or switch feature toggles",
	Args:  cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *ipc.Client) error {
			var (
				features map[string]bool
				err      error
			)
			switch len(args) {
			case 0:
				features, err = c.Features(ctx)
			case 1:
				features, err = c.Features(ctx)
				if err == nil {
					if _, ok := features[args[0]]; !ok {
						return fmt.Errorf("unknown feature %q", args[0])
					}
					features = map[string]bool{args[0]: features[args[0]]}
				}
			default:
				on, perr := parseSwitch(args[1])
				if perr != nil {
					return perr
				}
				features, err = c.SetFeature(ctx, args[0], on)
			}
			if err != nil {
				return err
			}
			writeFeatures(cmd, features)
			return nil
		})
	},
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "enable":
		return true, nil
	case "off", "false", "0", "disable":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch %q (use on or off)", s)
}

func writeFeatures(cmd *cobra.Command, features map[string]bool) {
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		state := "off"
		if features[name] {
			state = "on"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", name, state)
	}
}

func init() {
	rootCmd.AddCommand(pingCmd, actionCmd, statusCmd, featureCmd)
}
