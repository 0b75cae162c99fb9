// Package journal records file moves that reached the save directory but
// were never registered, so they can be replayed later.
//
// The journal is an append-only file of frames, each a 4-byte big-endian
// length followed by a msgpack-encoded types.OrphanRecord.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/edman/ipc"
	"github.com/justapithecus/edman/types"
)

// FileName is the journal's name inside the data directory.
const FileName = "orphans.journal"

// maxRecordSize bounds a single record; anything larger is corruption.
const maxRecordSize = 1 << 20

// ErrTruncated reports a journal whose last record was cut short, typically
// by a crash during Append. Records before it are intact.
var ErrTruncated = errors.New("journal ends with a truncated record")

// Journal is safe for concurrent use.
type Journal struct {
	path string
	mu   sync.Mutex
}

// New returns a journal stored at path. Nothing is created until the first
// Append.
func New(path string) *Journal {
	return &Journal{path: path}
}

// InDir returns the journal stored in dir under FileName.
func InDir(dir string) *Journal {
	return New(filepath.Join(dir, FileName))
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Append adds rec to the end of the journal and syncs it to disk.
func (j *Journal) Append(rec types.OrphanRecord) error {
	payload, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode orphan record: %w", err)
	}
	frame := ipc.AppendFrame(nil, binary.BigEndian, payload)

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if _, err := f.Write(frame); err != nil {
		_ = f.Close()
		return fmt.Errorf("append to journal: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync journal: %w", err)
	}
	return f.Close()
}

// ReadAll returns every record in append order. A missing journal has no
// records. When the final record is incomplete, the intact records are
// returned together with ErrTruncated.
func (j *Journal) ReadAll() ([]types.OrphanRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := ipc.NewFrameDecoder(f, ipc.WithByteOrder(binary.BigEndian), ipc.WithMaxPayload(maxRecordSize))
	var records []types.OrphanRecord
	for {
		payload, err := dec.ReadFrame()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		var frameErr *ipc.FrameError
		if errors.As(err, &frameErr) && frameErr.Kind == ipc.FrameErrorPartial {
			return records, ErrTruncated
		}
		if err != nil {
			return records, fmt.Errorf("read journal record %d: %w", len(records), err)
		}

		var rec types.OrphanRecord
		if err := msgpack.Unmarshal(payload, &rec); err != nil {
			return records, fmt.Errorf("decode journal record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
}

// Rewrite atomically replaces the journal with records. An empty slice
// removes the journal.
func (j *Journal) Rewrite(records []types.OrphanRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(records) == 0 {
		if err := os.Remove(j.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove journal: %w", err)
		}
		return nil
	}

	var buf []byte
	for i := range records {
		payload, err := msgpack.Marshal(&records[i])
		if err != nil {
			return fmt.Errorf("encode orphan record: %w", err)
		}
		buf = ipc.AppendFrame(buf, binary.BigEndian, payload)
	}

	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp journal: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(buf); err != nil {
		cleanup()
		return fmt.Errorf("write temp journal: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp journal: %w", err)
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace journal: %w", err)
	}
	return nil
}
