//go:build !windows

package channel

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/justapithecus/edman/types"
)

// Transport names the platform transport in logs and metrics.
const Transport = "unix"

const socketFileName = "edman.sock"

// maxSocketPath is the smallest sun_path limit among supported systems
// (104 bytes on Darwin and the BSDs, including the terminating NUL).
const maxSocketPath = 103

// DefaultAddress returns the socket path for the current user.
// On Linux it lives under $XDG_RUNTIME_DIR/edman; elsewhere, and when no
// runtime directory is set, under the user cache directory.
func DefaultAddress() (string, error) {
	dir, err := socketDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, socketFileName), nil
}

func socketDir() (string, error) {
	if runtime.GOOS == "linux" {
		if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" && filepath.IsAbs(dir) {
			return filepath.Join(dir, "edman"), nil
		}
	}

	cache, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve socket directory: %w", err)
	}
	if runtime.GOOS == "linux" {
		return filepath.Join(cache, "edman"), nil
	}
	return filepath.Join(cache, types.UniqueName), nil
}
