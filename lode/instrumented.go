package lode

import (
	"context"

	"github.com/justapithecus/edman/metrics"
	"github.com/justapithecus/edman/types"
)

// InstrumentedStore counts AppendFile outcomes on a metrics collector.
type InstrumentedStore struct {
	inner     FileStore
	collector *metrics.Collector
}

// NewInstrumentedStore wraps inner.
func NewInstrumentedStore(inner FileStore, collector *metrics.Collector) *InstrumentedStore {
	return &InstrumentedStore{inner: inner, collector: collector}
}

func (s *InstrumentedStore) LoadFiles(ctx context.Context) ([]types.FileRecord, error) {
	return s.inner.LoadFiles(ctx)
}

func (s *InstrumentedStore) AppendFile(ctx context.Context, rec types.FileRecord) error {
	err := s.inner.AppendFile(ctx, rec)
	if err != nil {
		s.collector.IncStoreWriteFailure()
	} else {
		s.collector.IncStoreWriteSuccess()
	}
	return err
}

var _ FileStore = (*InstrumentedStore)(nil)
