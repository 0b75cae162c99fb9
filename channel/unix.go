//go:build !windows

package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// probeTimeout bounds the dial used to tell a live socket from a stale one.
const probeTimeout = 500 * time.Millisecond

// Waits between accept attempts after a temporary failure such as
// descriptor exhaustion.
const (
	acceptRetryInitialWait = 5 * time.Millisecond
	acceptRetryMaxWait     = time.Second
)

var probeDial = net.DialTimeout

func acceptBackOff() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(acceptRetryInitialWait),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(acceptRetryMaxWait),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
}

type unixListener struct {
	ln      *net.UnixListener
	address string
	cfg     ListenConfig

	// accept defaults to ln.Accept.
	accept     func() (net.Conn, error)
	newBackOff func() backoff.BackOff
	timer      backoff.Timer // nil uses real time

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	fatal     error
}

// Listen binds the Unix socket at address.
//
// A socket file left behind by a crashed service is detected with a probe
// dial: a refused dial means stale (the file is removed and the address
// rebound), a successful dial means another service owns the address and
// ErrAddressInUse is returned. Two services starting at the same instant
// can still race between the probe and the bind.
func (c ListenConfig) Listen(address string) (Listener, error) {
	if len(address) > maxSocketPath {
		return nil, &ListenError{
			Address: address,
			Err:     fmt.Errorf("socket path is %d bytes, limit is %d", len(address), maxSocketPath),
		}
	}

	if err := os.MkdirAll(filepath.Dir(address), 0o700); err != nil {
		return nil, &ListenError{Address: address, Err: fmt.Errorf("create socket directory: %w", err)}
	}

	if err := removeStaleSocket(address); err != nil {
		return nil, &ListenError{Address: address, Err: err}
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: address, Net: "unix"})
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			err = fmt.Errorf("%w: %w", ErrAddressInUse, err)
		}
		return nil, &ListenError{Address: address, Err: err}
	}
	// Close unlinks the path itself, after marking the listener closed.
	ln.SetUnlinkOnClose(false)

	if err := os.Chmod(address, 0o600); err != nil {
		_ = ln.Close()
		_ = os.Remove(address)
		return nil, &ListenError{Address: address, Err: fmt.Errorf("restrict socket permissions: %w", err)}
	}

	c.Logger.Info("listening", map[string]any{"address": address, "transport": Transport})

	return newUnixListener(ln, address, c), nil
}

func newUnixListener(ln *net.UnixListener, address string, cfg ListenConfig) *unixListener {
	ctx, cancel := context.WithCancel(context.Background())
	return &unixListener{
		ln:         ln,
		address:    address,
		cfg:        cfg,
		accept:     ln.Accept,
		newBackOff: acceptBackOff,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func removeStaleSocket(address string) error {
	info, err := os.Lstat(address)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat socket: %w", err)
	}
	if info.Mode().Type() != fs.ModeSocket {
		return fmt.Errorf("%s exists and is not a socket", address)
	}

	conn, err := probeDial("unix", address, probeTimeout)
	if err == nil {
		_ = conn.Close()
		return ErrAddressInUse
	}
	if errors.Is(err, syscall.ENOENT) {
		return nil
	}
	// A full backlog or a timeout still means someone is listening.
	if !errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: probe dial: %w", ErrAddressInUse, err)
	}

	if err := os.Remove(address); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}

// Accept waits for the next client. Temporary failures such as running
// out of file descriptors are retried with capped backoff; any other
// failure is fatal and returned from every later call.
func (l *unixListener) Accept() (io.ReadWriteCloser, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrListenerClosed
	}
	if l.fatal != nil {
		err := l.fatal
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	operation := func() (net.Conn, error) {
		conn, err := l.accept()
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, backoff.Permanent(ErrListenerClosed)
		}
		if isTemporaryAcceptError(err) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		l.cfg.Collector.IncAcceptRetry()
		l.cfg.Logger.Warn("accept failed, retrying", map[string]any{
			"address": l.address,
			"wait_ms": wait.Milliseconds(),
			"error":   err.Error(),
		})
	}

	conn, err := backoff.RetryNotifyWithTimerAndData(
		operation,
		backoff.WithContext(l.newBackOff(), l.ctx),
		notify,
		l.timer,
	)
	if err == nil {
		return conn, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || errors.Is(err, ErrListenerClosed) || l.ctx.Err() != nil {
		return nil, ErrListenerClosed
	}
	l.fatal = &ListenError{Address: l.address, Err: err}
	return nil, l.fatal
}

// isTemporaryAcceptError reports whether accept may succeed if retried.
func isTemporaryAcceptError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EMFILE, syscall.ENFILE, syscall.ENOBUFS, syscall.ENOMEM,
			syscall.ECONNABORTED, syscall.EINTR, syscall.EAGAIN:
			return true
		}
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (l *unixListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		l.cancel()

		err = l.ln.Close()
		if rmErr := os.Remove(l.address); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) && err == nil {
			err = rmErr
		}
		l.cfg.Logger.Info("listener closed", map[string]any{"address": l.address})
	})
	return err
}

func (l *unixListener) Addr() string {
	return l.address
}

// Dial connects to the service at address with a single attempt.
func Dial(address string) (io.ReadWriteCloser, error) {
	conn, err := net.Dial("unix", address)
	if err != nil {
		return nil, &ConnectError{
			Address:    address,
			NotRunning: errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED),
			Err:        err,
		}
	}
	return conn, nil
}

// Probe reports whether a service is accepting connections at address.
func Probe(address string) bool {
	conn, err := net.DialTimeout("unix", address, probeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
