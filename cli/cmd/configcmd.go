package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/edman/cli/config"
)

// ConfigCommand returns the config command with subcommands.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect edman.yaml",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the effective configuration, defaults applied",
				Flags:  []cli.Flag{SocketFlag},
				Action: configShowAction,
			},
			{
				Name:  "path",
				Usage: "Print the default config file path",
				Action: func(c *cli.Context) error {
					path, err := config.DefaultPath()
					if err != nil {
						return err
					}
					_, err = c.App.Writer.Write([]byte(path + "\n"))
					return err
				},
			},
		},
	}
}

func configShowAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	out, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(out)
	return err
}
