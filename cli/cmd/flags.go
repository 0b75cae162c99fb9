// Package cmd provides CLI commands for the edman binary.
package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/edman/cli/config"
)

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode. Only stats supports it.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (stats only)",
	}
)

// ConfigFlag points at edman.yaml. It is a global flag on the edman app.
var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to edman.yaml (default: <user config dir>/edman/edman.yaml)",
	EnvVars: []string{"EDMAN_CONFIG"},
}

// SocketFlag overrides listener.socket.
var SocketFlag = &cli.StringFlag{
	Name:  "socket",
	Usage: "Socket path or pipe name (overrides listener.socket and $EDMAN_SOCKET)",
}

// ReadOnlyFlags returns the shared flags for all read-only commands.
// --tui is included everywhere so unsupported commands can refuse it
// explicitly instead of failing on an undefined flag.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// loadConfig reads the file named by --config (or the default path),
// applies defaults and CLI overrides, and validates the result.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String(ConfigFlag.Name)
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if socket := c.String(SocketFlag.Name); socket != "" {
		cfg.Listener.Socket = socket
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s:\n%w", path, err)
	}
	return cfg, nil
}

// refuseTUI rejects --tui on commands without an interactive view.
func refuseTUI(c *cli.Context) error {
	if c.Bool(TUIFlag.Name) {
		return cli.Exit(fmt.Sprintf("--tui is not supported for %s", c.Command.FullName()), 1)
	}
	return nil
}

// Commands returns every edman subcommand.
func Commands(commit string) []*cli.Command {
	return []*cli.Command{
		ServeCommand(),
		FilesCommand(),
		StatsCommand(),
		ReconcileCommand(),
		ConfigCommand(),
		VersionCommand(commit),
	}
}
