//go:build !windows

package overlay

// DefaultPlatform has no hook or GPU backend off Windows, so Attach
// reports ErrUnsupported.
func DefaultPlatform() Platform {
	return Platform{}
}
