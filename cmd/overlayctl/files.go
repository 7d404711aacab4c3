package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/overlay/internal/audit"
	"github.com/breeze-rmm/overlay/internal/keybind"
	"github.com/breeze-rmm/overlay/internal/locator"
)

var scanCmd = &cobra.Command{
	Use:   "scan <exe> <pattern>",
	Short: "Search an executable on disk for a byte signature",
	Long: `Search the executable sections of a PE file for a byte signature.
The pattern is space-separated hex bytes with ? or ?? as wildcards,
for example "48 89 5C 24 ? 57 48 83 EC 30".`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := locator.ParsePattern(args[1])
		if err != nil {
			return err
		}
		m, err := locator.ScanPEFile(args[0], p)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "section %s  rva %#x  va %#x\n", m.Section, m.RVA, m.VA)
		return nil
	},
}

var keybindsCmd = &cobra.Command{
	Use:   "keybinds",
	Short: "Check or create a keybind file",
}

var keybindsCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Parse a keybind file and list its bindings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		table, err := keybind.Parse(f, keybind.IsBuiltin)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		for _, b := range table.Bindings() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", b.Chord, b.Action)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d bindings OK\n", len(table))
		return nil
	},
}

var keybindsDefaultsCmd = &cobra.Command{
	Use:   "defaults <file>",
	Short: "Write the default bindings to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := keybind.WriteDefaults(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bindings to %s\n", len(keybind.Defaults), args[0])
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the overlay configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration and any problems",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		r := cfg.ValidateTiered()
		if err := printYAML(cmd.OutOrStdout(), cfg); err != nil {
			return err
		}
		for _, w := range r.Warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", w)
		}
		for _, f := range r.Fatals {
			fmt.Fprintf(cmd.ErrOrStderr(), "fatal: %v\n", f)
		}
		if r.HasFatals() {
			return fmt.Errorf("config has %d fatal problems", len(r.Fatals))
		}
		return nil
	},
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the operation journal",
}

var journalVerifyCmd = &cobra.Command{
	Use:   "verify [file]",
	Short: "Check the journal hash chain",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := journalPath(args)
		if err != nil {
			return err
		}
		n, err := audit.Verify(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries, chain intact\n", path, n)
		return nil
	},
}

var journalShowCmd = &cobra.Command{
	Use:   "show [file]",
	Short: "Print journal entries",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := journalPath(args)
		if err != nil {
			return err
		}
		entries, err := audit.ReadFile(path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-17s %-8s %v\n", e.Timestamp, e.Event, e.Source, e.Details)
		}
		return nil
	},
}

func journalPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfg.DataDir, audit.FileName), nil
}

func init() {
	keybindsCmd.AddCommand(keybindsCheckCmd, keybindsDefaultsCmd)
	configCmd.AddCommand(configShowCmd)
	journalCmd.AddCommand(journalVerifyCmd, journalShowCmd)
	rootCmd.AddCommand(scanCmd, keybindsCmd, configCmd, journalCmd)
}
