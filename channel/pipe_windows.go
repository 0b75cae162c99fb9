//go:build windows

package channel

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/windows"
)

const (
	maxPipeInstances = 8
	pipeBufferSize   = 64 * 1024

	// Win32 named pipe flags.
	pipeAccessDuplex          = 0x00000003
	fileFlagFirstPipeInstance = 0x00080000
	pipeTypeByte              = 0x00000000
	pipeReadModeByte          = 0x00000000
	pipeWait                  = 0x00000000
	pipeRejectRemoteClients   = 0x00000008
)

type windowsPipeFactory struct {
	name   string
	name16 *uint16
}

func (f *windowsPipeFactory) Create(first bool) (pipeInstance, error) {
	openMode := uint32(pipeAccessDuplex)
	if first {
		openMode |= fileFlagFirstPipeInstance
	}
	pipeMode := uint32(pipeTypeByte | pipeReadModeByte | pipeWait | pipeRejectRemoteClients)

	h, err := windows.CreateNamedPipe(f.name16, openMode, pipeMode, maxPipeInstances, pipeBufferSize, pipeBufferSize, 0, nil)
	if err != nil {
		// Another process already created the first instance of this name.
		if first && errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return nil, fmt.Errorf("%w: %w", ErrAddressInUse, err)
		}
		return nil, err
	}
	return &windowsPipe{handle: h, file: os.NewFile(uintptr(h), f.name)}, nil
}

func (f *windowsPipeFactory) IsBusy(err error) bool {
	return errors.Is(err, windows.ERROR_PIPE_BUSY)
}

type windowsPipe struct {
	handle    windows.Handle
	file      *os.File
	connected bool

	closeOnce sync.Once
	closeErr  error
}

func (p *windowsPipe) WaitForClient() error {
	for {
		err := windows.ConnectNamedPipe(p.handle, nil)
		switch {
		case err == nil, errors.Is(err, windows.ERROR_PIPE_CONNECTED):
			p.connected = true
			return nil
		case errors.Is(err, windows.ERROR_NO_DATA):
			// The client came and went before we saw it; reset the instance.
			if err := windows.DisconnectNamedPipe(p.handle); err != nil {
				return fmt.Errorf("disconnect abandoned client: %w", err)
			}
		default:
			return err
		}
	}
}

func (p *windowsPipe) Read(b []byte) (int, error)  { return p.file.Read(b) }
func (p *windowsPipe) Write(b []byte) (int, error) { return p.file.Write(b) }

// Close waits for the client to read what was written, then disconnects.
func (p *windowsPipe) Close() error {
	return p.close(true)
}

// Abort disconnects without flushing. Pending output is discarded.
func (p *windowsPipe) Abort() error {
	return p.close(false)
}

func (p *windowsPipe) close(flush bool) error {
	p.closeOnce.Do(func() {
		if p.connected {
			if flush {
				_ = windows.FlushFileBuffers(p.handle)
			}
			_ = windows.DisconnectNamedPipe(p.handle)
		}
		p.closeErr = p.file.Close()
	})
	return p.closeErr
}

// Listen creates the first pipe instance eagerly so that a name owned by
// another process is reported here rather than from Accept.
func (c ListenConfig) Listen(address string) (Listener, error) {
	name16, err := windows.UTF16PtrFromString(address)
	if err != nil {
		return nil, &ListenError{Address: address, Err: err}
	}

	acceptor := newPipeAcceptor(address, &windowsPipeFactory{name: address, name16: name16}, c)
	acceptor.wake = func() {
		if conn, err := Dial(address); err == nil {
			_ = conn.Close()
		}
	}

	acceptor.arm()
	if acceptor.state == acceptorFailed {
		return nil, acceptor.err
	}

	c.Logger.Info("listening", map[string]any{"address": address, "transport": Transport})
	return acceptor, nil
}

// Dial connects to the pipe with a single attempt.
func Dial(address string) (io.ReadWriteCloser, error) {
	name16, err := windows.UTF16PtrFromString(address)
	if err != nil {
		return nil, &ConnectError{Address: address, Err: err}
	}

	h, err := windows.CreateFile(
		name16,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0,
		nil,
		windows.OPEN_EXISTING,
		0,
		0,
	)
	if err != nil {
		return nil, &ConnectError{
			Address:    address,
			NotRunning: errors.Is(err, windows.ERROR_FILE_NOT_FOUND),
			Err:        err,
		}
	}
	return os.NewFile(uintptr(h), address), nil
}

// Probe reports whether a service is accepting connections at address.
func Probe(address string) bool {
	conn, err := Dial(address)
	if err != nil {
		// Every instance busy still means a live service.
		return errors.Is(err, windows.ERROR_PIPE_BUSY)
	}
	_ = conn.Close()
	return true
}
