// Package bridge serves native messages arriving on local-channel
// connections: it decodes each frame, routes the request to the backend
// (moving files on disk for register_file), and writes one response frame
// per request, in order.
package bridge

import (
	"context"
	"io/fs"
	"os"

	"github.com/justapithecus/edman/types"
)

// Backend is the file registry the dispatcher forwards requests to.
type Backend interface {
	GetConfig(ctx context.Context) (types.Config, error)
	// GetFileStates reports, index-aligned with keys, whether each key is
	// already registered.
	GetFileStates(ctx context.Context, keys []string) ([]bool, error)
	// RegisterFile records the file now stored at path (relative to the
	// save directory, slash-separated) under key.
	RegisterFile(ctx context.Context, path, key string) (types.RegisterFileResult, error)
}

// FileSystem is the subset of filesystem operations register_file needs.
type FileSystem interface {
	MkdirAll(path string, perm fs.FileMode) error
	Rename(oldpath, newpath string) error
}

// OSFileSystem is the FileSystem backed by package os.
type OSFileSystem struct{}

func (OSFileSystem) MkdirAll(path string, perm fs.FileMode) error { return os.MkdirAll(path, perm) }

func (OSFileSystem) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

// OrphanJournal records files that were moved but never registered.
type OrphanJournal interface {
	Append(record types.OrphanRecord) error
}
