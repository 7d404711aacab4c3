//go:build windows

package config

func defaultControlPipe() string {
	return `\\.\pipe\overlay-control`
}
