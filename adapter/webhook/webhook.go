// Package webhook posts registration events as JSON to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/justapithecus/edman/adapter"
	"github.com/justapithecus/edman/iox"
	"github.com/justapithecus/edman/types"
)

// DefaultTimeout bounds each HTTP request.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is used by callers that leave retries unset in config.
const DefaultRetries = 3

// Config configures the webhook adapter.
type Config struct {
	// URL is required.
	URL     string
	Headers map[string]string
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
	// Retries counts attempts after the first.
	Retries int
	// InitialBackoff defaults to adapter.DefaultInitialBackoff.
	InitialBackoff time.Duration
}

// Adapter publishes events with HTTP POST.
type Adapter struct {
	config Config
	client *http.Client
}

// New validates cfg and builds the adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{config: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Publish posts event. 5xx responses and transport errors are retried;
// a 4xx response fails at once.
func (a *Adapter) Publish(ctx context.Context, event *types.FileRegisteredEvent) error {
	body, err := adapter.Encode(event)
	if err != nil {
		return fmt.Errorf("webhook: encode event: %w", err)
	}

	attempts := 0
	err = adapter.Retry(ctx, a.config.Retries, a.config.InitialBackoff, func(ctx context.Context) error {
		attempts++
		err := a.post(ctx, body)
		var status *StatusError
		if errors.As(err, &status) && status.Code >= 400 && status.Code < 500 {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("webhook: publish failed after %d attempt(s): %w", attempts, err)
	}
	return nil
}

func (a *Adapter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "edman/"+types.Version)
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(resp.Body)
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close drops idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
