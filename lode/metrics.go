package lode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/edman/metrics"
)

// ErrNoMetricsFound is returned when the dataset holds no metrics record.
var ErrNoMetricsFound = errors.New("no metrics records found")

// MetricsRecord is a persisted metrics snapshot.
type MetricsRecord struct {
	Snapshot   metrics.Snapshot
	RecordedAt time.Time
}

// LatestMetrics returns the most recently written metrics record.
func (s *Store) LatestMetrics(ctx context.Context) (MetricsRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return QueryLatestMetrics(ctx, s.dataset)
}

// QueryLatestMetrics scans ds newest snapshot first for a metrics record.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset) (MetricsRecord, error) {
	snapshots, err := listSnapshots(ctx, ds)
	if err != nil {
		return MetricsRecord{}, err
	}

	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotHasPartition(snap, PartitionRecordKind, RecordKindMetrics) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return MetricsRecord{}, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}
		// The manifest path is a coarse filter; record_kind is authoritative.
		for j := len(data) - 1; j >= 0; j-- {
			m, ok := data[j].(map[string]any)
			if ok && m["record_kind"] == RecordKindMetrics {
				return metricsFromMap(m), nil
			}
		}
	}
	return MetricsRecord{}, ErrNoMetricsFound
}
