package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/edman/cli/reader"
	"github.com/justapithecus/edman/cli/render"
	"github.com/justapithecus/edman/cli/tui"
)

// StatsCommand returns the stats command. It shows the metrics snapshot
// `edman serve` persisted when it last stopped.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Show bridge metrics from the last service run",
		Flags:  ReadOnlyFlags(),
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	store, err := openStore(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = store.Close() }()
	rd := reader.New(store)

	load := func() (any, error) {
		ctx, cancel := context.WithTimeout(c.Context, readTimeout)
		defer cancel()
		return rd.Stats(ctx)
	}

	stats, err := load()
	if errors.Is(err, reader.ErrNoStats) {
		return cli.Exit(err.Error(), 1)
	}
	if err != nil {
		return fmt.Errorf("read metrics: %w", err)
	}

	if c.Bool(TUIFlag.Name) {
		return r.RenderTUI(tui.ViewStatsBridge, stats, tui.WithReload(load))
	}
	return r.Render(stats)
}
