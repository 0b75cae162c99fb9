package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrListenerClosed is returned by Accept after Close.
	ErrListenerClosed = errors.New("listener closed")
	// ErrAddressInUse means another live process owns the address.
	ErrAddressInUse = errors.New("address in use by a running service")
	// ErrServiceNotRunning means nothing is listening on the address.
	ErrServiceNotRunning = errors.New("service not running")
)

// ListenError is a fatal error binding or serving the channel address.
type ListenError struct {
	Address string
	Err     error
}

func (e *ListenError) Error() string {
	return fmt.Sprintf("listen on %s: %v", e.Address, e.Err)
}

func (e *ListenError) Unwrap() error {
	return e.Err
}

// ConnectError is returned by Dial.
// errors.Is(err, ErrServiceNotRunning) holds when the address is absent
// or refused the connection.
type ConnectError struct {
	Address    string
	NotRunning bool
	Err        error
}

func (e *ConnectError) Error() string {
	if e.NotRunning {
		return fmt.Sprintf("connect to %s: %v (is `edman serve` running?)", e.Address, e.Err)
	}
	return fmt.Sprintf("connect to %s: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Is matches ErrServiceNotRunning when the dial found no live service.
func (e *ConnectError) Is(target error) bool {
	return target == ErrServiceNotRunning && e.NotRunning
}
