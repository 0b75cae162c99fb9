// Package channel provides the local transport between the native host and
// the service: a Unix domain socket on POSIX systems and a named pipe on
// Windows. Both carry the same length-prefixed frames as the browser's
// stdio stream.
package channel

import (
	"io"
	"os"

	"github.com/justapithecus/edman/log"
	"github.com/justapithecus/edman/metrics"
)

// EnvSocket names the environment variable overriding the channel address.
const EnvSocket = "EDMAN_SOCKET"

// Listener yields one connection per client. A fatal error is returned
// from Accept and from every later call; the listener cannot be restarted.
type Listener interface {
	// Accept blocks until the next client connects.
	// After Close it returns ErrListenerClosed.
	Accept() (io.ReadWriteCloser, error)
	// Close stops accepting and releases the address.
	Close() error
	// Addr returns the socket path or pipe name.
	Addr() string
}

// ListenConfig carries the optional collaborators of a Listener.
// The zero value is ready to use.
type ListenConfig struct {
	Logger    *log.Logger
	Collector *metrics.Collector
}

// Listen binds address with the zero ListenConfig.
func Listen(address string) (Listener, error) {
	return ListenConfig{}.Listen(address)
}

// ResolveAddress returns override if non-empty, then $EDMAN_SOCKET, then
// the platform default address.
func ResolveAddress(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if env := os.Getenv(EnvSocket); env != "" {
		return env, nil
	}
	return DefaultAddress()
}
