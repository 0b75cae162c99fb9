package lode

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/edman/metrics"
	"github.com/justapithecus/edman/types"
)

// FileStore persists file records. The registry rebuilds its index from
// LoadFiles and appends through AppendFile.
type FileStore interface {
	LoadFiles(ctx context.Context) ([]types.FileRecord, error)
	AppendFile(ctx context.Context, rec types.FileRecord) error
}

// Store is the Lode-backed FileStore. It also records metrics snapshots.
type Store struct {
	dataset lode.Dataset
	name    string
	backend string

	// Lode datasets are not documented as safe for concurrent writers.
	mu sync.Mutex
}

// NewStore opens the dataset on factory. backend names the storage for
// metrics dimensions ("fs", "s3", "memory").
func NewStore(dataset string, factory lode.StoreFactory, backend string) (*Store, error) {
	ds, err := NewDataset(dataset, factory)
	if err != nil {
		return nil, err
	}
	if dataset == "" {
		dataset = DefaultDataset
	}
	return &Store{dataset: ds, name: dataset, backend: backend}, nil
}

// NewFSStore opens the dataset under the directory root.
func NewFSStore(dataset, root string) (*Store, error) {
	factory, err := NewFSFactory(root)
	if err != nil {
		return nil, err
	}
	return NewStore(dataset, factory, "fs")
}

// Backend returns the storage backend name.
func (s *Store) Backend() string {
	return s.backend
}

// AppendFile writes rec as one snapshot in its day partition.
func (s *Store) AppendFile(ctx context.Context, rec types.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.dataset.Write(ctx, []any{fileRecordMap(rec)}, lode.Metadata{})
	return WrapWriteError(err, fmt.Sprintf("%s/%s=%s", s.name, PartitionRecordKind, RecordKindFile))
}

// LoadFiles reads every file record, ordered by id. A record id seen in
// more than one snapshot is returned once.
func (s *Store) LoadFiles(ctx context.Context) ([]types.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshots, err := listSnapshots(ctx, s.dataset)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]types.FileRecord)
	for _, snap := range snapshots {
		if !snapshotHasPartition(snap, PartitionRecordKind, RecordKindFile) {
			continue
		}
		data, err := s.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", s.name, snap.ID))
		}
		for _, item := range data {
			m, ok := item.(map[string]any)
			if !ok || m["record_kind"] != RecordKindFile {
				continue
			}
			rec, err := fileRecordFromMap(m)
			if err != nil {
				return nil, fmt.Errorf("snapshot %s: %w", snap.ID, err)
			}
			byID[rec.ID] = rec
		}
	}

	out := make([]types.FileRecord, 0, len(byID))
	for _, rec := range byID {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b types.FileRecord) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

// WriteMetrics persists snap as the metrics record for recordedAt.
func (s *Store) WriteMetrics(ctx context.Context, snap metrics.Snapshot, recordedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.dataset.Write(ctx, []any{metricsRecordMap(snap, recordedAt)}, lode.Metadata{})
	return WrapWriteError(err, fmt.Sprintf("%s/%s=%s", s.name, PartitionRecordKind, RecordKindMetrics))
}

// Close releases the store. Lode datasets hold no resources today.
func (s *Store) Close() error {
	return nil
}

// listSnapshots treats a dataset that was never written as empty.
func listSnapshots(ctx context.Context, ds lode.Dataset) ([]*lode.DatasetSnapshot, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err == nil {
		return snapshots, nil
	}
	err = WrapReadError(err, string(ds.ID())+"/snapshots")
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return nil, err
}

var _ FileStore = (*Store)(nil)
