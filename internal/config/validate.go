package config

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validTransports = map[string]bool{
	TransportSharedHandle: true,
	TransportPixelCopy:    true,
}

var validStrategies = map[string]bool{
	LocateAuto:  true,
	LocateProbe: true,
	LocateScan:  true,
}

// ValidationResult separates problems that must stop attach from values that
// were corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// Validate checks the config and returns every problem found, fatal or not.
func (c *Config) Validate() []error {
	r := c.ValidateTiered()
	out := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	out = append(out, r.Fatals...)
	return append(out, r.Warnings...)
}

// ValidateTiered checks the config. Dangerous numeric values are clamped to a
// safe range and reported as warnings; values the overlay cannot run with
// are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if !validTransports[c.Transport] {
		r.Fatals = append(r.Fatals, fmt.Errorf("transport %q is not valid (use %s or %s)", c.Transport, TransportSharedHandle, TransportPixelCopy))
	}
	if !validStrategies[c.LocateStrategy] {
		r.Fatals = append(r.Fatals, fmt.Errorf("locate_strategy %q is not valid (use auto, probe or scan)", c.LocateStrategy))
	}
	if c.LocateStrategy == LocateScan && strings.TrimSpace(c.PresentPattern) == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("locate_strategy scan requires present_pattern"))
	}
	if c.Names.Header == "" || c.Names.Liveness == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("names.header and names.liveness must be set"))
	}
	if c.Transport == TransportPixelCopy && c.Names.Body == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("names.body must be set for the pixel-copy transport"))
	}
	if _, _, err := net.SplitHostPort(c.InputAddr); err != nil {
		r.Fatals = append(r.Fatals, fmt.Errorf("input_addr %q is not host:port: %w", c.InputAddr, err))
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("metrics_addr %q is not host:port: %w", c.MetricsAddr, err))
		}
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	r.Warnings = append(r.Warnings, clamp("poll_interval_ms", &c.PollIntervalMs, 1, 1000)...)
	r.Warnings = append(r.Warnings, clamp("retry_interval_ms", &c.RetryIntervalMs, 100, 60000)...)
	r.Warnings = append(r.Warnings, clamp("wait_timeout_ms", &c.WaitTimeoutMs, 1, 1000)...)
	r.Warnings = append(r.Warnings, clamp("max_dimension", &c.MaxDimension, 64, 16384)...)
	r.Warnings = append(r.Warnings, clamp("modifier_debounce_ms", &c.ModifierDebounceMs, 0, 1000)...)
	r.Warnings = append(r.Warnings, clamp("input_queue_size", &c.InputQueueSize, 1, 65536)...)
	r.Warnings = append(r.Warnings, clamp("log_max_size_mb", &c.LogMaxSizeMB, 1, 1024)...)
	r.Warnings = append(r.Warnings, clamp("log_max_backups", &c.LogMaxBackups, 1, 100)...)
	r.Warnings = append(r.Warnings, clamp("journal_max_size_mb", &c.JournalMaxSizeMB, 1, 1024)...)
	r.Warnings = append(r.Warnings, clamp("journal_max_backups", &c.JournalMaxBackups, 1, 100)...)
	r.Warnings = append(r.Warnings, clamp("action_workers", &c.ActionWorkers, 1, 8)...)
	r.Warnings = append(r.Warnings, clamp("action_queue_size", &c.ActionQueueSize, 1, 1024)...)

	for _, err := range r.Fatals {
		slog.Error("config validation", "error", err)
	}
	for _, err := range r.Warnings {
		slog.Warn("config validation", "error", err)
	}

	return r
}

func clamp(name string, v *int, lo, hi int) []error {
	switch {
	case *v < lo:
		err := fmt.Errorf("%s %d is below minimum %d, clamping", name, *v, lo)
		*v = lo
		return []error{err}
	case *v > hi:
		err := fmt.Errorf("%s %d exceeds maximum %d, clamping", name, *v, hi)
		*v = hi
		return []error{err}
	}
	return nil
}
