// Package redis publishes registration events on a Redis pub/sub channel.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/edman/adapter"
	"github.com/justapithecus/edman/types"
)

// DefaultChannel is used when Config.Channel is empty.
const DefaultChannel = "edman:file_registered"

// DefaultTimeout bounds each PUBLISH.
const DefaultTimeout = 5 * time.Second

// Config configures the Redis adapter.
type Config struct {
	// URL is redis://[:password@]host:port[/db]; required.
	URL     string
	Channel string
	Timeout time.Duration
	// Retries counts attempts after the first.
	Retries        int
	InitialBackoff time.Duration
}

// Adapter publishes events with PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New validates cfg and builds the adapter. No connection is made until
// the first Publish.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Channel returns the channel events are published on.
func (a *Adapter) Channel() string {
	return a.config.Channel
}

// Publish sends event, retrying any failure.
func (a *Adapter) Publish(ctx context.Context, event *types.FileRegisteredEvent) error {
	body, err := adapter.Encode(event)
	if err != nil {
		return fmt.Errorf("redis: encode event: %w", err)
	}

	err = adapter.Retry(ctx, a.config.Retries, a.config.InitialBackoff, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.client.Publish(publishCtx, a.config.Channel, body).Err()
	})
	if err != nil {
		return fmt.Errorf("redis: publish to %s: %w", a.config.Channel, err)
	}
	return nil
}

// Close closes the connection pool.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
