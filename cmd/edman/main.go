// Package main provides the edman CLI entrypoint.
//
// Usage:
//
//	edman [--config edman.yaml] <command> [subcommand] [options]
//
// `serve` runs the bridge service; every other command is read-only
// except `reconcile`, which needs the service stopped.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/edman/cli/cmd"
	"github.com/justapithecus/edman/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

var (
	osExit           = os.Exit
	stderr io.Writer = os.Stderr
)

func main() {
	app := &cli.App{
		Name:           "edman",
		Usage:          "Browser native-messaging bridge for saving downloaded files",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:          []cli.Flag{cmd.ConfigFlag},
		ExitErrHandler: exitErrHandler,
		Commands:       cmd.Commands(commit),
	}

	if err := app.Run(os.Args); err != nil {
		// Only reached for errors ExitErrHandler did not exit on.
		os.Exit(1)
	}
}

// exitErrHandler exits with the code of a cli.Exit error, or 1 for any
// other error.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(stderr, msg)
	}
	osExit(code)
}

// exitStatus maps err to a process exit code and the message to print.
// cli.Exit("", N) prints nothing.
func exitStatus(err error) (int, string) {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg
	}
	return 1, "Error: " + err.Error()
}
