package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Exit statuses for startup failures.
const (
	exitLogged    = -1
	exitNotLogged = -2
)

// startupError is a failure before the relay started.
type startupError struct {
	err error
}

func (e *startupError) Error() string { return e.err.Error() }

func (e *startupError) Unwrap() error { return e.err }

func startupFailure(format string, args ...any) error {
	return &startupError{err: fmt.Errorf(format, args...)}
}

func hostLogPath(cacheDir string) string {
	return filepath.Join(cacheDir, "edman", "host.log")
}

// reportStartupFailure appends "<unix millis> <message>" to path and returns
// the exit status: exitLogged, or exitNotLogged when the log is unwritable.
func reportStartupFailure(path string, now time.Time, message string) int {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return exitNotLogged
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return exitNotLogged
	}
	line := fmt.Sprintf("%d %s\n", now.UnixMilli(), strings.ReplaceAll(message, "\n", " "))
	_, werr := f.WriteString(line)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		return exitNotLogged
	}
	return exitLogged
}
