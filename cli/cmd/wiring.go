package cmd

import (
	"context"
	"fmt"

	"github.com/justapithecus/edman/adapter"
	"github.com/justapithecus/edman/adapter/redis"
	"github.com/justapithecus/edman/adapter/webhook"
	"github.com/justapithecus/edman/cli/config"
	"github.com/justapithecus/edman/lode"
	"github.com/justapithecus/edman/log"
)

// openStore opens the configured Lode dataset.
func openStore(ctx context.Context, cfg *config.Config) (*lode.Store, error) {
	switch cfg.Storage.Backend {
	case "fs", "":
		return lode.NewFSStore(cfg.Storage.Dataset, cfg.Storage.Path)
	case "s3":
		bucket, prefix := lode.ParseS3Path(cfg.Storage.Path)
		return lode.NewS3Store(ctx, cfg.Storage.Dataset, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Storage.Region,
			Endpoint:     cfg.Storage.Endpoint,
			UsePathStyle: cfg.Storage.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (must be fs or s3)", cfg.Storage.Backend)
	}
}

// buildAdapter returns the configured notification adapter, or nil when
// notifications are disabled.
func buildAdapter(cfg *config.Config) (adapter.Adapter, error) {
	retries := config.DefaultAdapterRetries
	if cfg.Adapter.Retries != nil {
		retries = *cfg.Adapter.Retries
	}

	switch cfg.Adapter.Type {
	case "":
		return nil, nil
	case "webhook":
		a, err := webhook.New(webhook.Config{
			URL:     cfg.Adapter.URL,
			Headers: cfg.Adapter.Headers,
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case "redis":
		a, err := redis.New(redis.Config{
			URL:     cfg.Adapter.URL,
			Channel: cfg.Adapter.Channel,
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unsupported adapter type: %s (must be webhook or redis)", cfg.Adapter.Type)
	}
}

// newLogger returns a stderr logger at the configured level.
func newLogger(component string, cfg *config.Config) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return log.NewLogger(component).WithLevel(level), nil
}
