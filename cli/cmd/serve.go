package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/edman/bridge"
	"github.com/justapithecus/edman/channel"
	"github.com/justapithecus/edman/iox"
	"github.com/justapithecus/edman/journal"
	"github.com/justapithecus/edman/lode"
	"github.com/justapithecus/edman/log"
	"github.com/justapithecus/edman/metrics"
	"github.com/justapithecus/edman/registry"
)

// metricsWriteTimeout bounds the final metrics write after shutdown.
const metricsWriteTimeout = 30 * time.Second

// ServeCommand returns the serve command, the only command that accepts
// connections and writes records.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the bridge service until SIGINT or SIGTERM",
		Flags: []cli.Flag{
			SocketFlag,
			&cli.DurationFlag{
				Name:  "drain-timeout",
				Usage: "How long shutdown waits for open connections (overrides listener.drain_timeout)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error (overrides log.level)",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if c.IsSet("drain-timeout") {
		cfg.Listener.DrainTimeout.Duration = c.Duration("drain-timeout")
	}
	if level := c.String("log-level"); level != "" {
		cfg.Log.Level = level
	}

	logger, err := newLogger("serve", cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer iox.DiscardErr(logger.Sync)

	address, err := channel.ResolveAddress(cfg.Listener.Socket)
	if err != nil {
		return fmt.Errorf("resolve channel address: %w", err)
	}
	logger = logger.With(map[string]any{"socket": address})

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	notifier, err := buildAdapter(cfg)
	if err != nil {
		return fmt.Errorf("build adapter: %w", err)
	}

	collector := metrics.NewCollector(channel.Transport, store.Backend(), cfg.Adapter.Type)
	reg := registry.New(registry.Config{
		Files:     cfg.Files(),
		Store:     lode.NewInstrumentedStore(store, collector),
		Adapter:   notifier,
		Logger:    logger,
		Collector: collector,
	})
	if err := reg.Start(ctx); err != nil {
		_ = reg.Close()
		return fmt.Errorf("start registry: %w", err)
	}

	orphans := journal.InDir(cfg.DataDirectory)
	warnPendingOrphans(orphans, logger)

	dispatcher := bridge.NewDispatcher(reg, bridge.DispatcherConfig{
		Orphans:    orphans,
		Logger:     logger,
		Collector:  collector,
		MaxPayload: cfg.Listener.MaxFrameSize,
	})

	listener, err := channel.ListenConfig{Logger: logger, Collector: collector}.Listen(address)
	if err != nil {
		_ = reg.Close()
		return err
	}

	server := bridge.NewServer(listener, dispatcher, bridge.ServerConfig{
		DrainTimeout: cfg.Listener.DrainTimeout.Duration,
		Logger:       logger,
		Collector:    collector,
	})

	logger.Info("serving", map[string]any{
		"address":       listener.Addr(),
		"transport":     channel.Transport,
		"storage":       store.Backend(),
		"adapter":       cfg.Adapter.Type,
		"save_dir":      cfg.SaveFileDirectory,
		"journal":       orphans.Path(),
		"max_frame":     cfg.Listener.MaxFrameSize,
		"drain_timeout": cfg.Listener.DrainTimeout.String(),
	})

	serveErr := server.Serve(ctx)
	closeErr := reg.Close()

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsWriteTimeout)
	defer cancel()
	snap := collector.Snapshot()
	if err := store.WriteMetrics(writeCtx, snap, time.Now()); err != nil {
		logger.Warn("failed to persist metrics", map[string]any{"error": err.Error()})
	}

	logger.Info("stopped", map[string]any{
		"connections": snap.ConnectionsAccepted,
		"requests":    snap.Requests(),
		"registered":  snap.FilesRegistered,
	})

	if serveErr != nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	return closeErr
}

// warnPendingOrphans logs the journal's backlog so it is not forgotten.
func warnPendingOrphans(j *journal.Journal, logger *log.Logger) {
	records, err := j.ReadAll()
	if err != nil && !errors.Is(err, journal.ErrTruncated) {
		logger.Warn("orphan journal unreadable", map[string]any{"path": j.Path(), "error": err.Error()})
		return
	}
	if len(records) > 0 {
		logger.Warn("orphaned moves pending; run `edman reconcile` while the service is stopped", map[string]any{
			"path":  j.Path(),
			"count": len(records),
		})
	}
}
