//go:build !windows

package channel

import (
	"errors"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/justapithecus/edman/iox"
	"github.com/justapithecus/edman/metrics"
)

// shortSocketPath returns a socket path that fits sun_path on every platform.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "edman")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "run", "edman.sock")
}

func TestListen_AcceptAndDial(t *testing.T) {
	path := shortSocketPath(t)

	ln, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	if ln.Addr() != path {
		t.Errorf("Addr() = %q, want %q", ln.Addr(), path)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("socket perm = %o, want 600", perm)
	}

	accepted := make(chan io.ReadWriteCloser, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			t.Errorf("Accept failed: %v", err)
			accepted <- nil
			return
		}
		accepted <- conn
	}()

	client, err := Dial(path)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	server := <-accepted
	if server == nil {
		t.FailNow()
	}
	defer server.Close()

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(server, buf); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if string(buf) != "ping" {
		t.Errorf("server read %q, want %q", buf, "ping")
	}
}

func TestListen_RemovesStaleSocket(t *testing.T) {
	path := shortSocketPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}

	stale, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("create stale socket: %v", err)
	}
	stale.SetUnlinkOnClose(false)
	_ = stale.Close()

	if _, err := os.Lstat(path); err != nil {
		t.Fatalf("stale socket file missing: %v", err)
	}

	ln, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen over stale socket failed: %v", err)
	}
	_ = ln.Close()
}

func TestListen_LiveSocketInUse(t *testing.T) {
	path := shortSocketPath(t)

	first, err := Listen(path)
	if err != nil {
		t.Fatalf("first Listen failed: %v", err)
	}
	defer first.Close()

	// Drain the probe connection.
	go func() {
		for {
			conn, err := first.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	_, err = Listen(path)
	if !errors.Is(err, ErrAddressInUse) {
		t.Fatalf("second Listen err = %v, want ErrAddressInUse", err)
	}
	var listenErr *ListenError
	if !errors.As(err, &listenErr) {
		t.Fatalf("err = %T, want *ListenError", err)
	}

	if _, err := os.Lstat(path); err != nil {
		t.Errorf("live socket was removed: %v", err)
	}
}

func TestListen_KeepsSocketWhenProbeIsNotRefused(t *testing.T) {
	path := shortSocketPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	sock, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("create socket: %v", err)
	}
	sock.SetUnlinkOnClose(false)
	_ = sock.Close()

	orig := probeDial
	t.Cleanup(func() { probeDial = orig })
	probeDial = func(network, address string, timeout time.Duration) (net.Conn, error) {
		return nil, &net.OpError{Op: "dial", Net: network, Err: syscall.EAGAIN}
	}

	_, err = Listen(path)
	if !errors.Is(err, ErrAddressInUse) {
		t.Fatalf("Listen err = %v, want ErrAddressInUse", err)
	}
	if _, err := os.Lstat(path); err != nil {
		t.Errorf("socket was removed on a busy probe: %v", err)
	}
}

func TestListener_RetriesTemporaryAcceptErrors(t *testing.T) {
	path := shortSocketPath(t)
	collector := metrics.NewCollector(Transport, "fs", "")
	ln, err := ListenConfig{Collector: collector}.Listen(path)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(iox.CloseFunc(ln))

	ul := ln.(*unixListener)
	timer := newRecordingTimer()
	ul.timer = timer
	failures := []error{
		&net.OpError{Op: "accept", Net: "unix", Err: os.NewSyscallError("accept4", syscall.EMFILE)},
		&net.OpError{Op: "accept", Net: "unix", Err: os.NewSyscallError("accept4", syscall.ECONNABORTED)},
	}
	realAccept := ul.accept
	ul.accept = func() (net.Conn, error) {
		if len(failures) > 0 {
			err := failures[0]
			failures = failures[1:]
			return nil, err
		}
		return realAccept()
	}

	client, err := Dial(path)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept err = %v, want a connection after temporary failures", err)
	}
	_ = conn.Close()

	if got, want := timer.recorded(), []time.Duration{5 * time.Millisecond, 10 * time.Millisecond}; !slices.Equal(got, want) {
		t.Errorf("waits = %v, want %v", got, want)
	}
	if got := collector.Snapshot().AcceptRetries; got != 2 {
		t.Errorf("AcceptRetries = %d, want 2", got)
	}
}

func TestListener_NonTemporaryAcceptErrorIsSticky(t *testing.T) {
	path := shortSocketPath(t)
	ln, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(iox.CloseFunc(ln))

	ul := ln.(*unixListener)
	calls := 0
	ul.accept = func() (net.Conn, error) {
		calls++
		return nil, &net.OpError{Op: "accept", Net: "unix", Err: syscall.EBADF}
	}

	_, first := ln.Accept()
	var listenErr *ListenError
	if !errors.As(first, &listenErr) {
		t.Fatalf("Accept err = %v, want *ListenError", first)
	}
	if _, again := ln.Accept(); again != first {
		t.Errorf("second Accept err = %v, want the saved %v", again, first)
	}
	if calls != 1 {
		t.Errorf("accept calls = %d, want 1", calls)
	}
}

func TestListener_CloseInterruptsAcceptRetry(t *testing.T) {
	path := shortSocketPath(t)
	ln, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	ul := ln.(*unixListener)
	ul.accept = func() (net.Conn, error) {
		return nil, &net.OpError{Op: "accept", Net: "unix", Err: syscall.EMFILE}
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_ = ln.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrListenerClosed) {
			t.Fatalf("Accept err = %v, want ErrListenerClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Accept kept retrying after Close")
	}
}

func TestListen_RefusesNonSocketFile(t *testing.T) {
	path := shortSocketPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not a socket"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Listen(path); err == nil || !strings.Contains(err.Error(), "not a socket") {
		t.Fatalf("Listen err = %v, want not-a-socket error", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("regular file was removed: %v", err)
	}
}

func TestListen_PathTooLong(t *testing.T) {
	path := "/tmp/" + strings.Repeat("x", maxSocketPath) + "/edman.sock"
	var listenErr *ListenError
	if _, err := Listen(path); !errors.As(err, &listenErr) {
		t.Fatalf("Listen err = %v, want *ListenError", err)
	}
}

func TestListener_CloseUnblocksAcceptAndUnlinks(t *testing.T) {
	path := shortSocketPath(t)
	ln, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := ln.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrListenerClosed) {
			t.Fatalf("Accept err = %v, want ErrListenerClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Accept did not return after Close")
	}

	if _, err := os.Lstat(path); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("socket still present after Close: %v", err)
	}
	if _, err := ln.Accept(); !errors.Is(err, ErrListenerClosed) {
		t.Errorf("Accept after Close err = %v, want ErrListenerClosed", err)
	}
	if err := ln.Close(); err != nil {
		t.Errorf("second Close err = %v", err)
	}
}

func TestDial_ServiceNotRunning(t *testing.T) {
	path := shortSocketPath(t)

	_, err := Dial(path)
	if !errors.Is(err, ErrServiceNotRunning) {
		t.Fatalf("Dial err = %v, want ErrServiceNotRunning", err)
	}
	var connectErr *ConnectError
	if !errors.As(err, &connectErr) || connectErr.Address != path {
		t.Fatalf("err = %#v, want *ConnectError for %s", err, path)
	}
	if Probe(path) {
		t.Error("Probe reported a live service on a missing socket")
	}
}

func TestResolveAddress(t *testing.T) {
	t.Setenv(EnvSocket, "/tmp/from-env.sock")

	if got, _ := ResolveAddress("/tmp/flag.sock"); got != "/tmp/flag.sock" {
		t.Errorf("override: got %q", got)
	}
	if got, _ := ResolveAddress(""); got != "/tmp/from-env.sock" {
		t.Errorf("env: got %q", got)
	}

	t.Setenv(EnvSocket, "")
	got, err := ResolveAddress("")
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if filepath.Base(got) != socketFileName {
		t.Errorf("default address %q does not end in %s", got, socketFileName)
	}
}

func TestDefaultAddress_UsesRuntimeDir(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("runtime directory is only consulted on linux")
	}
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	got, err := DefaultAddress()
	if err != nil {
		t.Fatalf("DefaultAddress: %v", err)
	}
	if got != "/run/user/1000/edman/edman.sock" {
		t.Errorf("DefaultAddress() = %q", got)
	}
}
