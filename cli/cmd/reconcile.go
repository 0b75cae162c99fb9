package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/edman/channel"
	"github.com/justapithecus/edman/cli/render"
	"github.com/justapithecus/edman/iox"
	"github.com/justapithecus/edman/journal"
	"github.com/justapithecus/edman/log"
	"github.com/justapithecus/edman/registry"
	"github.com/justapithecus/edman/types"
)

// Reconcile outcomes, one per journal record.
const (
	outcomeRegistered = "registered"
	outcomeKnown      = "already_registered"
	outcomeMissing    = "file_missing"
	outcomeFailed     = "failed"
)

// ReconcileItem reports what happened to one orphaned move.
type ReconcileItem struct {
	Key     string `json:"key" yaml:"key"`
	Path    string `json:"path" yaml:"path"`
	Outcome string `json:"outcome" yaml:"outcome"`
	ID      int64  `json:"id,omitempty" yaml:"id,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// ReconcileCommand returns the reconcile command.
func ReconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Register files that were moved but whose registration failed",
		Description: "Replays the orphan journal against the registry. The service must be\n" +
			"stopped: the registry is opened directly. Records that still fail stay\n" +
			"in the journal.",
		Flags:  append(ReadOnlyFlags(), SocketFlag),
		Action: reconcileAction,
	}
}

func reconcileAction(c *cli.Context) error {
	if err := refuseTUI(c); err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logger, err := newLogger("reconcile", cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer iox.DiscardErr(logger.Sync)

	address, err := channel.ResolveAddress(cfg.Listener.Socket)
	if err != nil {
		return fmt.Errorf("resolve channel address: %w", err)
	}
	if channel.Probe(address) {
		return cli.Exit(fmt.Sprintf("edman serve is running on %s; stop it before reconciling", address), 1)
	}

	j := journal.InDir(cfg.DataDirectory)
	ctx := c.Context

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	notifier, err := buildAdapter(cfg)
	if err != nil {
		return fmt.Errorf("build adapter: %w", err)
	}
	reg := registry.New(registry.Config{
		Files:   cfg.Files(),
		Store:   store,
		Adapter: notifier,
		Logger:  logger,
	})
	if err := reg.Start(ctx); err != nil {
		_ = reg.Close()
		return fmt.Errorf("start registry: %w", err)
	}

	items, err := reconcile(ctx, j, reg, cfg.SaveFileDirectory, logger.Sugar())
	closeErr := reg.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		logger.Warn("registry close failed", map[string]any{"error": closeErr.Error()})
	}
	return r.Render(items)
}

// reconcileBackend is the part of the registry reconcile needs.
type reconcileBackend interface {
	GetFileStates(ctx context.Context, keys []string) ([]bool, error)
	RegisterFile(ctx context.Context, path, key string) (types.RegisterFileResult, error)
}

// reconcile registers each journaled move whose key is still unknown and
// rewrites the journal with the records that failed again. Records whose
// destination no longer exists are dropped.
func reconcile(ctx context.Context, j *journal.Journal, backend reconcileBackend, saveDir string, logger *log.SugaredLogger) ([]ReconcileItem, error) {
	records, err := j.ReadAll()
	if err != nil && !errors.Is(err, journal.ErrTruncated) {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	if errors.Is(err, journal.ErrTruncated) {
		logger.Warnf("%s ends in a partial record; replaying the %d complete ones", j.Path(), len(records))
	}
	if len(records) == 0 {
		return []ReconcileItem{}, nil
	}

	keys := make([]string, len(records))
	for i, rec := range records {
		keys[i] = rec.Key
	}
	known, err := backend.GetFileStates(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("query registry: %w", err)
	}

	items := make([]ReconcileItem, 0, len(records))
	var remaining []types.OrphanRecord
	for i, rec := range records {
		item := ReconcileItem{Key: rec.Key, Path: rec.Path}

		switch {
		case known[i]:
			item.Outcome = outcomeKnown
			logger.Debugf("%s already registered", rec.Key)
		case !destinationExists(rec, saveDir):
			item.Outcome = outcomeMissing
			logger.Warnf("%s: %s no longer exists, dropping", rec.Key, rec.Path)
		default:
			res, err := backend.RegisterFile(ctx, rec.Path, rec.Key)
			switch {
			case errors.Is(err, registry.ErrDuplicateKey):
				// An earlier record in this journal claimed the key.
				item.Outcome = outcomeKnown
				logger.Debugf("%s already registered", rec.Key)
			case err != nil:
				item.Outcome = outcomeFailed
				item.Error = err.Error()
				rec.Error = err.Error()
				remaining = append(remaining, rec)
				logger.Warnf("%s: registration failed again, kept in journal: %v", rec.Key, err)
			default:
				item.Outcome = outcomeRegistered
				item.ID = res.ID
				logger.Infof("%s registered as file %d", rec.Key, res.ID)
			}
		}
		items = append(items, item)
	}

	if err := j.Rewrite(remaining); err != nil {
		return items, fmt.Errorf("rewrite journal: %w", err)
	}
	return items, nil
}

func destinationExists(rec types.OrphanRecord, saveDir string) bool {
	dest := rec.Destination
	if dest == "" {
		dest = filepath.Join(saveDir, filepath.FromSlash(rec.Path))
	}
	_, err := os.Stat(dest)
	return !errors.Is(err, fs.ErrNotExist)
}
