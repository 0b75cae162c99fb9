//go:build windows

package iox

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// isPipeCloseErrno matches the errors a named pipe reports once the other
// end has gone.
func isPipeCloseErrno(errno syscall.Errno) bool {
	switch errno {
	case windows.ERROR_BROKEN_PIPE, windows.ERROR_PIPE_NOT_CONNECTED, windows.ERROR_NO_DATA:
		return true
	}
	return false
}
