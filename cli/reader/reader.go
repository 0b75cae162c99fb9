// Package reader is the read side of the edman CLI: it turns what the
// service persisted into the payloads `files list` and `stats` render.
// It never writes.
package reader

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/justapithecus/edman/lode"
	"github.com/justapithecus/edman/types"
)

// ErrNoStats is returned by Stats when the service never persisted metrics.
var ErrNoStats = errors.New("no metrics recorded yet; metrics are written when `edman serve` shuts down")

// Source is the persisted data a Reader reads. *lode.Store satisfies it.
type Source interface {
	LoadFiles(ctx context.Context) ([]types.FileRecord, error)
	LatestMetrics(ctx context.Context) (lode.MetricsRecord, error)
}

// Reader answers CLI queries from a Source.
type Reader struct {
	src Source
}

// New returns a Reader over src.
func New(src Source) *Reader {
	return &Reader{src: src}
}

// ListFiles returns registered files in id order after applying opts.
func (r *Reader) ListFiles(ctx context.Context, opts ListFilesOptions) ([]FileItem, error) {
	records, err := r.src.LoadFiles(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]FileItem, 0, len(records))
	for _, rec := range records {
		if opts.KeyPrefix != "" && !strings.HasPrefix(rec.Key, opts.KeyPrefix) {
			continue
		}
		if !opts.Since.IsZero() && rec.RegisteredAt.Before(opts.Since) {
			continue
		}
		items = append(items, FileItem{
			ID:           rec.ID,
			Key:          rec.Key,
			Path:         rec.Path,
			RegisteredAt: rec.RegisteredAt,
		})
	}
	slices.SortFunc(items, func(a, b FileItem) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[len(items)-opts.Limit:]
	}
	return items, nil
}

// Stats returns the most recent persisted metrics snapshot.
func (r *Reader) Stats(ctx context.Context) (*BridgeStats, error) {
	rec, err := r.src.LatestMetrics(ctx)
	if errors.Is(err, lode.ErrNoMetricsFound) {
		return nil, ErrNoStats
	}
	if err != nil {
		return nil, err
	}

	s := rec.Snapshot
	stats := &BridgeStats{
		RecordedAt:          rec.RecordedAt,
		StartedAt:           s.StartedAt,
		Transport:           s.Transport,
		StorageBackend:      s.StorageBackend,
		Adapter:             s.Adapter,
		ConnectionsAccepted: s.ConnectionsAccepted,
		ConnectionsClosed:   s.ConnectionsClosed,
		ConnectionsForced:   s.ConnectionsForced,
		Requests:            s.Requests(),
		RequestsByType:      s.RequestsByType,
		Errors:              s.Errors(),
		ErrorsByKind:        s.ErrorsByKind,
		FramesTooLarge:      s.FramesTooLarge,
		FramesPartial:       s.FramesPartial,
		ResponsesTooLarge:   s.ResponsesTooLarge,
		PipeBusyRetries:     s.PipeBusyRetries,
		AcceptRetries:       s.AcceptRetries,
		FilesRegistered:     s.FilesRegistered,
		OrphanedMoves:       s.OrphanedMoves,
		StoreWriteSuccess:   s.StoreWriteSuccess,
		StoreWriteFailure:   s.StoreWriteFailure,
		PublishSuccess:      s.PublishSuccess,
		PublishFailure:      s.PublishFailure,
	}
	if !s.StartedAt.IsZero() && rec.RecordedAt.After(s.StartedAt) {
		stats.Uptime = rec.RecordedAt.Sub(s.StartedAt).Round(time.Second).String()
	}
	return stats, nil
}
