// Package main provides edman-host, the native messaging host the browser
// launches for the extension.
//
// Usage:
//
//	edman-host [--socket path] <origin> [--parent-window=N]
//	edman-host [--socket path] <manifest.json> <extension id>
//
// The host dials the running edman service, checks the caller against the
// service's allowed origins, then relays stdin and stdout to the service
// unchanged. Stdout carries the message stream; nothing else is written
// to it.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/edman/types"
)

var (
	osExit           = os.Exit
	stderr io.Writer = os.Stderr
)

func main() {
	app := &cli.App{
		Name:      "edman-host",
		Usage:     "Native messaging host relaying the browser extension to edman serve",
		Version:   types.Version,
		ArgsUsage: "<origin> | <manifest.json> <extension id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "socket",
				Usage: "Socket path or pipe name (overrides $EDMAN_SOCKET)",
			},
		},
		HideHelpCommand: true,
		// stdout belongs to the browser.
		Writer:         stderr,
		ExitErrHandler: exitErrHandler,
		Action:         hostAction,
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// exitErrHandler reports startup failures to the host log, since the
// browser usually discards stderr, and exits.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var startup *startupError
	if errors.As(err, &startup) {
		dir, dirErr := os.UserCacheDir()
		if dirErr != nil {
			fmt.Fprintln(stderr, err)
			osExit(exitNotLogged)
			return
		}
		osExit(reportStartupFailure(hostLogPath(dir), time.Now(), err.Error()))
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(stderr, msg)
		}
		osExit(code)
		return
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	osExit(1)
}
