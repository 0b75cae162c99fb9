//go:build !windows

package iox

import "syscall"

func isPipeCloseErrno(syscall.Errno) bool { return false }
