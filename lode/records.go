package lode

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/justapithecus/edman/metrics"
	"github.com/justapithecus/edman/types"
)

// Record kind discriminators; also the record_kind partition values.
const (
	RecordKindFile    = "file"
	RecordKindMetrics = "metrics"
)

// Lode's Hive layout partitions records given as map[string]any.
func fileRecordMap(rec types.FileRecord) map[string]any {
	return map[string]any{
		"record_kind":   RecordKindFile,
		"day":           DeriveDay(rec.RegisteredAt),
		"id":            rec.ID,
		"key":           rec.Key,
		"path":          rec.Path,
		"registered_at": rec.RegisteredAt.UTC().Format(time.RFC3339Nano),
	}
}

func fileRecordFromMap(m map[string]any) (types.FileRecord, error) {
	id := toInt64(m["id"])
	key := toString(m["key"])
	if id <= 0 || key == "" {
		return types.FileRecord{}, fmt.Errorf("file record missing id or key: %v", m)
	}
	rec := types.FileRecord{ID: id, Key: key, Path: toString(m["path"])}
	if s := toString(m["registered_at"]); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return types.FileRecord{}, fmt.Errorf("file record %d: registered_at: %w", id, err)
		}
		rec.RegisteredAt = t
	}
	return rec, nil
}

func metricsRecordMap(s metrics.Snapshot, recordedAt time.Time) map[string]any {
	return map[string]any{
		"record_kind":                RecordKindMetrics,
		"day":                        DeriveDay(recordedAt),
		"recorded_at":                recordedAt.UTC().Format(time.RFC3339Nano),
		"started_at":                 s.StartedAt.UTC().Format(time.RFC3339Nano),
		"connections_accepted_total": s.ConnectionsAccepted,
		"connections_closed_total":   s.ConnectionsClosed,
		"connections_forced_total":   s.ConnectionsForced,
		"requests_by_type":           s.RequestsByType,
		"errors_by_kind":             s.ErrorsByKind,
		"frames_too_large_total":     s.FramesTooLarge,
		"frames_partial_total":       s.FramesPartial,
		"responses_too_large_total":  s.ResponsesTooLarge,
		"pipe_busy_retries_total":    s.PipeBusyRetries,
		"accept_retries_total":       s.AcceptRetries,
		"files_registered_total":     s.FilesRegistered,
		"orphaned_moves_total":       s.OrphanedMoves,
		"store_write_success_total":  s.StoreWriteSuccess,
		"store_write_failure_total":  s.StoreWriteFailure,
		"publish_success_total":      s.PublishSuccess,
		"publish_failure_total":      s.PublishFailure,
		"transport":                  s.Transport,
		"storage_backend":            s.StorageBackend,
		"adapter":                    s.Adapter,
	}
}

func metricsFromMap(m map[string]any) MetricsRecord {
	s := metrics.Snapshot{
		ConnectionsAccepted: toInt64(m["connections_accepted_total"]),
		ConnectionsClosed:   toInt64(m["connections_closed_total"]),
		ConnectionsForced:   toInt64(m["connections_forced_total"]),
		RequestsByType:      toCounterMap(m["requests_by_type"]),
		ErrorsByKind:        toCounterMap(m["errors_by_kind"]),
		FramesTooLarge:      toInt64(m["frames_too_large_total"]),
		FramesPartial:       toInt64(m["frames_partial_total"]),
		ResponsesTooLarge:   toInt64(m["responses_too_large_total"]),
		PipeBusyRetries:     toInt64(m["pipe_busy_retries_total"]),
		AcceptRetries:       toInt64(m["accept_retries_total"]),
		FilesRegistered:     toInt64(m["files_registered_total"]),
		OrphanedMoves:       toInt64(m["orphaned_moves_total"]),
		StoreWriteSuccess:   toInt64(m["store_write_success_total"]),
		StoreWriteFailure:   toInt64(m["store_write_failure_total"]),
		PublishSuccess:      toInt64(m["publish_success_total"]),
		PublishFailure:      toInt64(m["publish_failure_total"]),
		Transport:           toString(m["transport"]),
		StorageBackend:      toString(m["storage_backend"]),
		Adapter:             toString(m["adapter"]),
	}
	s.StartedAt, _ = time.Parse(time.RFC3339Nano, toString(m["started_at"]))
	recordedAt, _ := time.Parse(time.RFC3339Nano, toString(m["recorded_at"]))
	return MetricsRecord{Snapshot: s, RecordedAt: recordedAt}
}

// toInt64 accepts the numeric types a record may hold before and after a
// JSON round trip.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toCounterMap(v any) map[string]int64 {
	out := make(map[string]int64)
	switch m := v.(type) {
	case map[string]int64:
		for k, n := range m {
			out[k] = n
		}
	case map[string]any:
		for k, n := range m {
			out[k] = toInt64(n)
		}
	}
	return out
}
