// Package registry is the service-side file registry. It implements
// bridge.Backend on top of a persistent FileStore and announces each new
// registration through an optional notification adapter.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justapithecus/edman/adapter"
	"github.com/justapithecus/edman/log"
	"github.com/justapithecus/edman/metrics"
	"github.com/justapithecus/edman/types"
)

// DefaultPublishTimeout bounds one notification, retries included.
const DefaultPublishTimeout = 30 * time.Second

var (
	// ErrDuplicateKey rejects a second registration under the same key.
	ErrDuplicateKey = errors.New("Unique key violation")
	// ErrNotStarted is returned by calls made before Start.
	ErrNotStarted = errors.New("registry not started")
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("registry closed")
)

// Store persists file records.
type Store interface {
	LoadFiles(ctx context.Context) ([]types.FileRecord, error)
	AppendFile(ctx context.Context, rec types.FileRecord) error
}

// Config wires a Registry. Files and Store are required.
type Config struct {
	Files types.Config
	Store Store
	// Adapter, when set, receives a FileRegisteredEvent per registration.
	// The registry closes it on Close.
	Adapter        adapter.Adapter
	PublishTimeout time.Duration
	Logger         *log.Logger
	Collector      *metrics.Collector
	// Now defaults to time.Now.
	Now func() time.Time
}

// Registry serializes every index and store access on one worker
// goroutine; public methods submit closures to it and wait.
type Registry struct {
	cfg Config

	requests chan request
	quit     chan struct{}
	stopped  chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
	publishes sync.WaitGroup

	// Owned by the worker after Start.
	index  map[string]int64
	nextID int64
}

type request struct {
	op   func()
	done chan struct{}
}

// New builds a registry. Call Start before use.
func New(cfg Config) *Registry {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		cfg:      cfg,
		requests: make(chan request),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		index:    make(map[string]int64),
		nextID:   1,
	}
}

// Start rebuilds the key index from the store and starts the worker.
// Ids continue after the highest stored id.
func (r *Registry) Start(ctx context.Context) error {
	if r.cfg.Store == nil {
		return errors.New("registry requires a store")
	}

	err := errors.New("registry already started")
	r.startOnce.Do(func() {
		select {
		case <-r.quit:
			err = ErrClosed
			return
		default:
		}

		var files []types.FileRecord
		files, err = r.cfg.Store.LoadFiles(ctx)
		if err != nil {
			err = fmt.Errorf("load file records: %w", err)
			return
		}
		for _, f := range files {
			r.index[f.Key] = f.ID
			if f.ID >= r.nextID {
				r.nextID = f.ID + 1
			}
		}

		go r.run()
		r.started.Store(true)
		r.cfg.Logger.Info("registry started", map[string]any{
			"files":   len(files),
			"next_id": r.nextID,
		})
	})
	return err
}

func (r *Registry) run() {
	defer close(r.stopped)
	for {
		select {
		case req := <-r.requests:
			req.op()
			close(req.done)
		case <-r.quit:
			return
		}
	}
}

// call runs op on the worker. Once submitted, op runs to completion even
// if ctx ends; op itself observes ctx.
func (r *Registry) call(ctx context.Context, op func()) error {
	if !r.started.Load() {
		return ErrNotStarted
	}
	req := request{op: op, done: make(chan struct{})}
	select {
	case r.requests <- req:
	case <-r.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-req.done
	return nil
}

// GetConfig returns the configured directories and allow-lists.
func (r *Registry) GetConfig(context.Context) (types.Config, error) {
	select {
	case <-r.stopped:
		return types.Config{}, ErrClosed
	default:
	}
	return r.cfg.Files, nil
}

// GetFileStates reports, index-aligned with keys, whether each key is
// registered.
func (r *Registry) GetFileStates(ctx context.Context, keys []string) ([]bool, error) {
	states := make([]bool, len(keys))
	err := r.call(ctx, func() {
		for i, k := range keys {
			_, states[i] = r.index[k]
		}
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

// RegisterFile persists a record for key and returns its id. A key that
// is already registered is rejected with ErrDuplicateKey. If the store
// write fails nothing changes.
func (r *Registry) RegisterFile(ctx context.Context, path, key string) (types.RegisterFileResult, error) {
	var (
		rec   types.FileRecord
		opErr error
	)
	err := r.call(ctx, func() {
		if _, exists := r.index[key]; exists {
			opErr = ErrDuplicateKey
			return
		}
		rec = types.FileRecord{ID: r.nextID, Key: key, Path: path, RegisteredAt: r.cfg.Now().UTC()}
		if err := r.cfg.Store.AppendFile(ctx, rec); err != nil {
			opErr = fmt.Errorf("persist file record: %w", err)
			return
		}
		r.index[key] = rec.ID
		r.nextID++
	})
	if err == nil {
		err = opErr
	}
	if err != nil {
		return types.RegisterFileResult{}, err
	}

	r.cfg.Collector.IncFileRegistered()
	r.publish(&types.FileRegisteredEvent{
		ID:           rec.ID,
		Key:          rec.Key,
		Path:         rec.Path,
		RegisteredAt: rec.RegisteredAt,
	})
	return types.RegisterFileResult{ID: rec.ID}, nil
}

func (r *Registry) publish(event *types.FileRegisteredEvent) {
	if r.cfg.Adapter == nil {
		return
	}
	r.publishes.Add(1)
	go func() {
		defer r.publishes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.PublishTimeout)
		defer cancel()

		if err := r.cfg.Adapter.Publish(ctx, event); err != nil {
			r.cfg.Collector.IncPublishFailure()
			r.cfg.Logger.Warn("notification dropped", map[string]any{
				"id":    event.ID,
				"key":   event.Key,
				"error": err.Error(),
			})
			return
		}
		r.cfg.Collector.IncPublishSuccess()
	}()
}

// Close stops the worker, waits for pending notifications and closes the
// adapter. It is safe to call more than once.
func (r *Registry) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.quit)
		if r.started.Load() {
			<-r.stopped
		} else {
			close(r.stopped)
		}
		r.publishes.Wait()
		if r.cfg.Adapter != nil {
			err = r.cfg.Adapter.Close()
		}
	})
	return err
}
