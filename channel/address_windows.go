//go:build windows

package channel

import "github.com/justapithecus/edman/types"

// Transport names the platform transport in logs and metrics.
const Transport = "pipe"

// DefaultAddress returns the pipe name. Pipe names are machine-global, so
// the unique application name is the whole namespace.
func DefaultAddress() (string, error) {
	return `\\.\pipe\` + types.UniqueName, nil
}
