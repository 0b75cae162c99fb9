// Package iox provides I/O helpers for resource cleanup and stream relays.
package iox

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"
)

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(conn)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a cleanup function that closes c.
// Designed for t.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(listener))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and discards the returned error.
func DiscardErr(fn func() error) { _ = fn() }

// IsExpectedCloseError reports whether err is the normal result of a peer
// or local close rather than a real failure.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET || isPipeCloseErrno(errno)
	}
	return false
}

// Relay copies in to remote and remote to out, then closes remote.
//
// When in ends, the write side of remote is shut down if it supports
// CloseWrite, and Relay keeps copying remote to out for up to drain so
// answers to requests already sent are delivered. When remote ends first
// Relay returns at once: a blocked read of in cannot be interrupted
// portably, and callers exit right after.
//
// The first real failure is returned; expected close errors are not.
func Relay(in io.Reader, out io.Writer, remote io.ReadWriteCloser, drain time.Duration) error {
	inbound := make(chan error, 1)
	outbound := make(chan error, 1)

	go func() {
		_, err := io.Copy(remote, in)
		inbound <- err
	}()
	go func() {
		_, err := io.Copy(out, remote)
		outbound <- err
	}()

	direction, err := "outbound", error(nil)
	select {
	case err = <-outbound:
	case err = <-inbound:
		direction = "inbound"
		if err == nil {
			direction, err = drainRemote(remote, outbound, drain)
		}
	}
	_ = remote.Close()

	if err != nil && !IsExpectedCloseError(err) {
		return &RelayError{Direction: direction, Err: err}
	}
	return nil
}

// drainRemote waits up to drain for the outbound copy after the input
// ended.
func drainRemote(remote io.ReadWriteCloser, outbound <-chan error, drain time.Duration) (string, error) {
	if hc, ok := remote.(interface{ CloseWrite() error }); ok {
		_ = hc.CloseWrite()
	}

	timer := time.NewTimer(drain)
	defer timer.Stop()

	select {
	case err := <-outbound:
		return "outbound", err
	case <-timer.C:
		return "outbound", nil
	}
}

// RelayError reports which direction of a relay failed.
type RelayError struct {
	Direction string
	Err       error
}

func (e *RelayError) Error() string { return e.Direction + " relay: " + e.Err.Error() }

func (e *RelayError) Unwrap() error { return e.Err }
