//go:build !windows

package locator

// PlatformOptions has no probe or live module on this platform, so Locate
// reports ErrNotFound.
func PlatformOptions(strategy, pattern string) Options {
	return Options{Strategy: strategy, Pattern: pattern}
}
