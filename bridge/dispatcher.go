package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/justapithecus/edman/ipc"
	"github.com/justapithecus/edman/log"
	"github.com/justapithecus/edman/metrics"
	"github.com/justapithecus/edman/types"
)

// invalidRequestType is the request counter for payloads that did not
// decode to a known request.
const invalidRequestType = "invalid"

// DispatcherConfig carries the optional collaborators of a Dispatcher.
type DispatcherConfig struct {
	// FileSystem defaults to OSFileSystem.
	FileSystem FileSystem
	// Orphans receives moves whose registration failed. When nil they
	// are only logged.
	Orphans    OrphanJournal
	Logger     *log.Logger
	Collector  *metrics.Collector
	MaxPayload uint32
}

// Dispatcher serves one connection at a time per Serve call. It holds no
// per-connection state and may serve many connections concurrently.
type Dispatcher struct {
	backend    Backend
	fs         FileSystem
	orphans    OrphanJournal
	logger     *log.Logger
	collector  *metrics.Collector
	maxPayload uint32
}

// NewDispatcher creates a dispatcher forwarding to backend.
func NewDispatcher(backend Backend, cfg DispatcherConfig) *Dispatcher {
	fsys := cfg.FileSystem
	if fsys == nil {
		fsys = OSFileSystem{}
	}
	return &Dispatcher{
		backend:    backend,
		fs:         fsys,
		orphans:    cfg.Orphans,
		logger:     cfg.Logger,
		collector:  cfg.Collector,
		maxPayload: cfg.MaxPayload,
	}
}

// WithLogger returns a copy of d logging to logger.
func (d *Dispatcher) WithLogger(logger *log.Logger) *Dispatcher {
	cp := *d
	cp.logger = logger
	return &cp
}

// Serve reads requests from conn and writes one response per request, in
// order, until the stream ends. A clean end of stream returns nil. Only
// transport failures (read, framing or write errors) end the loop; every
// per-request failure becomes an err response. ctx bounds backend calls.
func (d *Dispatcher) Serve(ctx context.Context, conn io.ReadWriter) error {
	decoder := ipc.NewFrameDecoder(conn, ipc.WithMaxPayload(d.maxPayload))
	encoder := ipc.NewFrameEncoder(conn, ipc.WithMaxPayload(d.maxPayload))

	for {
		payload, err := decoder.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var frameErr *ipc.FrameError
			if errors.As(err, &frameErr) {
				switch frameErr.Kind {
				case ipc.FrameErrorTooLarge:
					d.collector.IncFrameTooLarge()
				case ipc.FrameErrorPartial:
					d.collector.IncFramePartial()
				}
			}
			return fmt.Errorf("read request: %w", err)
		}

		out := d.encode(d.Handle(ctx, payload))
		if err := encoder.WriteFrame(out); err != nil {
			var frameErr *ipc.FrameError
			if !errors.As(err, &frameErr) || frameErr.Kind != ipc.FrameErrorTooLarge {
				return fmt.Errorf("write response: %w", err)
			}
			// The response alone was too big; the stream is still in sync.
			d.collector.IncResponseTooLarge()
			d.logger.Warn("response exceeds the maximum frame size", map[string]any{"bytes": len(out)})
			fallback := d.encode(types.Response{Type: types.MessageErr, Data: "response exceeds the maximum frame size"})
			if err := encoder.WriteFrame(fallback); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
		}
	}
}

func (d *Dispatcher) encode(resp types.Response) []byte {
	out, err := json.Marshal(resp)
	if err != nil {
		d.logger.Error("failed to encode response", map[string]any{"type": resp.Type, "error": err.Error()})
		out, _ = json.Marshal(types.Response{Type: types.MessageErr, Data: "internal error encoding response", ID: resp.ID})
	}
	return out
}

// Handle processes one request payload and returns its response.
func (d *Dispatcher) Handle(ctx context.Context, payload []byte) types.Response {
	start := time.Now()

	env, err := decodeEnvelope(payload)
	if err != nil {
		d.collector.IncRequest(invalidRequestType)
		return d.failure(env, err)
	}
	d.collector.IncRequest(string(env.Type))

	data, err := d.route(ctx, env)
	if err != nil {
		return d.failure(env, err)
	}

	d.logger.Debug("request served", map[string]any{
		"type":        env.Type,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return types.Response{Type: env.Type, Data: data, ID: env.ID}
}

func (d *Dispatcher) route(ctx context.Context, env types.Envelope) (any, error) {
	switch env.Type {
	case types.MessageConfig:
		cfg, err := d.backend.GetConfig(ctx)
		if err != nil {
			return nil, backendError(err)
		}
		if cfg.AllowedOrigins == nil {
			cfg.AllowedOrigins = []string{}
		}
		if cfg.AllowedExtensions == nil {
			cfg.AllowedExtensions = []string{}
		}
		return cfg, nil

	case types.MessageFetchFileStates:
		var req types.FetchFileStatesRequest
		if err := decodeData(env, &req); err != nil {
			return nil, err
		}
		if req.Query == nil {
			return nil, protocolErrorf("fetch_file_states request has no query")
		}
		return d.fetchFileStates(ctx, req.Query)

	case types.MessageRegisterFile:
		var req types.RegisterFileRequest
		if err := decodeData(env, &req); err != nil {
			return nil, err
		}
		return d.registerFile(ctx, req)

	default:
		return nil, protocolErrorf("unknown message type %q", env.Type)
	}
}

func (d *Dispatcher) fetchFileStates(ctx context.Context, query []string) (types.FileStatesResult, error) {
	if len(query) == 0 {
		return types.FileStatesResult{Result: []bool{}}, nil
	}

	states, err := d.backend.GetFileStates(ctx, query)
	if err != nil {
		return types.FileStatesResult{}, backendError(err)
	}
	if len(states) != len(query) {
		return types.FileStatesResult{}, backendError(
			fmt.Errorf("backend returned %d states for %d keys", len(states), len(query)))
	}
	return types.FileStatesResult{Result: states}, nil
}

// registerFile moves the download into the save directory, then records it.
// The two steps are not atomic: when the backend call fails after the move,
// the move is journaled so `edman reconcile` can finish the registration.
func (d *Dispatcher) registerFile(ctx context.Context, req types.RegisterFileRequest) (types.RegisterFileResult, error) {
	if err := ValidateRegisterFile(req); err != nil {
		return types.RegisterFileResult{}, err
	}

	cfg, err := d.backend.GetConfig(ctx)
	if err != nil {
		return types.RegisterFileResult{}, backendError(err)
	}

	joined := strings.Join(req.SavePath, "/")
	source := filepath.Join(cfg.DownloadDirectory, filepath.FromSlash(req.DownloadPath))
	destination := filepath.Join(cfg.SaveFileDirectory, filepath.FromSlash(joined))

	if err := d.fs.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return types.RegisterFileResult{}, filesystemError("create destination directory", err)
	}
	if err := d.fs.Rename(source, destination); err != nil {
		return types.RegisterFileResult{}, filesystemError("move file", err)
	}

	result, err := d.backend.RegisterFile(ctx, joined, req.Key)
	if err != nil {
		d.recordOrphan(types.OrphanRecord{
			Path:        joined,
			Key:         req.Key,
			Source:      source,
			Destination: destination,
			Error:       err.Error(),
			At:          time.Now().UTC(),
		})
		return types.RegisterFileResult{}, backendError(err)
	}

	d.logger.Info("file registered", map[string]any{
		"id":   result.ID,
		"key":  req.Key,
		"path": joined,
	})
	return result, nil
}

func (d *Dispatcher) recordOrphan(rec types.OrphanRecord) {
	d.collector.IncOrphanedMove()
	fields := map[string]any{
		"key":         rec.Key,
		"path":        rec.Path,
		"destination": rec.Destination,
		"error":       rec.Error,
	}
	if d.orphans == nil {
		d.logger.Error("file moved but not registered", fields)
		return
	}
	if err := d.orphans.Append(rec); err != nil {
		fields["journal_error"] = err.Error()
		d.logger.Error("file moved but not registered and journal append failed", fields)
		return
	}
	d.logger.Warn("file moved but not registered, journaled for reconcile", fields)
}

func (d *Dispatcher) failure(env types.Envelope, err error) types.Response {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		reqErr = backendError(err)
	}
	d.collector.IncError(reqErr.Kind.String())
	d.logger.Warn("request failed", map[string]any{
		"type":  env.Type,
		"kind":  reqErr.Kind.String(),
		"error": reqErr.Message,
	})
	return types.Response{Type: types.MessageErr, Data: reqErr.Message, ID: env.ID}
}
