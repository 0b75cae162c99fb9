package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/edman/cli/render"
	"github.com/justapithecus/edman/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version         string `json:"version"`
	ProtocolVersion string `json:"protocol_version"`
	Commit          string `json:"commit"`
}

// VersionCommand returns the version command. It never contacts the service.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: ReadOnlyFlags(),
		Action: func(c *cli.Context) error {
			if err := refuseTUI(c); err != nil {
				return err
			}
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}
			return r.Render(VersionResponse{
				Version:         types.Version,
				ProtocolVersion: types.ProtocolVersion,
				Commit:          commit,
			})
		},
	}
}
