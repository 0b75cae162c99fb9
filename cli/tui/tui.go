package tui

import (
	"fmt"
	"slices"
)

// ViewStatsBridge is the `edman stats` view.
const ViewStatsBridge = "stats_bridge"

// ReloadFunc fetches a fresh payload for the current view.
type ReloadFunc func() (any, error)

// Option configures Run.
type Option func(*options)

type options struct {
	reload ReloadFunc
}

// WithReload enables the refresh key. Without it the view is static.
func WithReload(fn ReloadFunc) Option {
	return func(o *options) { o.reload = fn }
}

// Run starts the TUI for viewType over data.
func Run(viewType string, data any, opts ...Option) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return RunStatsTUI(viewType, data, o.reload)
}

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews returns the view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewStatsBridge}
}
