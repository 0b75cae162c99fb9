// Package lode persists edman's file records and metrics snapshots in a
// Lode dataset.
//
// Records are JSONL, partitioned Hive-style by record_kind and day:
//
//	<root>/edman/record_kind=file/day=2026-03-01/...
//	<root>/edman/record_kind=metrics/day=2026-03-01/...
package lode

import (
	"os"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"
)

// DefaultDataset is the dataset id used when none is configured.
const DefaultDataset = "edman"

// Partition keys, outermost first.
const (
	PartitionRecordKind = "record_kind"
	PartitionDay        = "day"
)

// NewDataset opens dataset on factory with edman's layout and codec.
// Reads and writes must agree on both, so every caller goes through here.
func NewDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	ds, err := lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(PartitionRecordKind, PartitionDay),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, WrapInitError(err, dataset)
	}
	return ds, nil
}

// NewFSFactory returns a filesystem store factory rooted at root,
// creating the directory if needed.
func NewFSFactory(root string) (lode.StoreFactory, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, WrapInitError(err, root)
	}
	return lode.NewFSFactory(root), nil
}

// DeriveDay returns the day partition value for t (YYYY-MM-DD, UTC).
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// snapshotHasPartition reports whether any file of snap lies in the
// key=value partition.
func snapshotHasPartition(snap *lode.DatasetSnapshot, key, value string) bool {
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue matches whole path segments, so day=2026-03-1
// does not match day=2026-03-10.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for part := range strings.SplitSeq(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
