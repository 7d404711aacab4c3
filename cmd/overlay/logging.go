package main

import (
	"github.com/breeze-rmm/overlay/internal/config"
	"github.com/breeze-rmm/overlay/internal/logging"
)

// logOptions maps cfg onto the session log. Output is mirrored to stdout so
// a host launched from a console shows it.
func logOptions(cfg *config.Config) logging.Options {
	return logging.Options{
		Format:     cfg.LogFormat,
		Level:      cfg.LogLevel,
		Dir:        cfg.LogDir,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		Stdout:     true,
	}
}
