package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/edman/cli/reader"
	"github.com/justapithecus/edman/cli/render"
)

// readTimeout bounds storage reads made by read-only commands.
const readTimeout = 30 * time.Second

// FilesCommand returns the files command with subcommands.
func FilesCommand() *cli.Command {
	return &cli.Command{
		Name:  "files",
		Usage: "Query registered files",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List registered files in id order",
				Flags: append(ReadOnlyFlags(),
					&cli.StringFlag{Name: "key-prefix", Usage: "Only keys starting with this prefix"},
					&cli.StringFlag{Name: "since", Usage: "Only files registered since a duration ago (24h) or a date (2006-01-02 or RFC3339)"},
					&cli.IntFlag{Name: "limit", Usage: "Show only the newest N files"},
				),
				Action: filesListAction,
			},
		},
	}
}

func filesListAction(c *cli.Context) error {
	if err := refuseTUI(c); err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	since, err := parseSince(c.String("since"), time.Now())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if c.Int("limit") < 0 {
		return cli.Exit("--limit must be >= 0", 1)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ctx, cancel := context.WithTimeout(c.Context, readTimeout)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	items, err := reader.New(store).ListFiles(ctx, reader.ListFilesOptions{
		KeyPrefix: c.String("key-prefix"),
		Since:     since,
		Limit:     c.Int("limit"),
	})
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}
	return r.Render(items)
}

// parseSince accepts a duration before now, a calendar date in local
// time, or an RFC3339 timestamp. The empty string means no bound.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("--since duration must be positive, got %s", s)
		}
		return now.Add(-d), nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: want a duration (24h), a date (2006-01-02) or RFC3339", s)
}
