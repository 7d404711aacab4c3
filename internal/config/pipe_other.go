//go:build !windows

package config

import (
	"os"
	"path/filepath"
)

func defaultControlPipe() string {
	return filepath.Join(os.TempDir(), "overlay-control.sock")
}
