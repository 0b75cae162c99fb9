package bridge

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net"
	"sync"
	"testing"

	"github.com/justapithecus/edman/channel"
	"github.com/justapithecus/edman/ipc"
	"github.com/justapithecus/edman/types"
)

type registerCall struct {
	Path string
	Key  string
}

// fakeBackend is an in-memory Backend.
type fakeBackend struct {
	mu          sync.Mutex
	config      types.Config
	known       map[string]bool
	registered  []registerCall
	nextID      int64
	registerErr error
	configErr   error
	// block, when set, makes GetFileStates wait for it or ctx.
	block chan struct{}
	// entered receives once per GetFileStates call when non-nil.
	entered chan struct{}
}

func newFakeBackend(cfg types.Config, known ...string) *fakeBackend {
	b := &fakeBackend{config: cfg, known: make(map[string]bool), nextID: 1}
	for _, k := range known {
		b.known[k] = true
	}
	return b
}

func (b *fakeBackend) GetConfig(context.Context) (types.Config, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config, b.configErr
}

func (b *fakeBackend) GetFileStates(ctx context.Context, keys []string) ([]bool, error) {
	if b.entered != nil {
		b.entered <- struct{}{}
	}
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bool, len(keys))
	for i, k := range keys {
		out[i] = b.known[k]
	}
	return out, nil
}

func (b *fakeBackend) RegisterFile(_ context.Context, path, key string) (types.RegisterFileResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registered = append(b.registered, registerCall{path, key})
	if b.registerErr != nil {
		return types.RegisterFileResult{}, b.registerErr
	}
	id := b.nextID
	b.nextID++
	b.known[key] = true
	return types.RegisterFileResult{ID: id}, nil
}

func (b *fakeBackend) calls() []registerCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]registerCall(nil), b.registered...)
}

// recordingFS records every call and performs none.
type recordingFS struct {
	mu        sync.Mutex
	ops       []string
	mkdirErr  error
	renameErr error
}

func (f *recordingFS) MkdirAll(path string, _ fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "mkdir "+path)
	return f.mkdirErr
}

func (f *recordingFS) Rename(oldpath, newpath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "rename "+oldpath+" "+newpath)
	return f.renameErr
}

func (f *recordingFS) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

type memJournal struct {
	mu      sync.Mutex
	records []types.OrphanRecord
}

func (j *memJournal) Append(rec types.OrphanRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

// peer is the client side of a framed connection.
type peer struct {
	t    *testing.T
	conn io.ReadWriteCloser
	dec  *ipc.FrameDecoder
	enc  *ipc.FrameEncoder
}

func newPeer(t *testing.T, conn io.ReadWriteCloser) *peer {
	return &peer{t: t, conn: conn, dec: ipc.NewFrameDecoder(conn), enc: ipc.NewFrameEncoder(conn)}
}

func (p *peer) sendRaw(payload []byte) {
	p.t.Helper()
	if err := p.enc.WriteFrame(payload); err != nil {
		p.t.Fatalf("send: %v", err)
	}
}

func (p *peer) send(msg any) {
	p.t.Helper()
	payload, err := json.Marshal(msg)
	if err != nil {
		p.t.Fatalf("marshal request: %v", err)
	}
	p.sendRaw(payload)
}

// response is the decoded shape of an outbound message.
type response struct {
	Type types.MessageType `json:"type"`
	Data json.RawMessage   `json:"data"`
	ID   json.RawMessage   `json:"id"`
}

func (p *peer) recv() response {
	p.t.Helper()
	payload, err := p.dec.ReadFrame()
	if err != nil {
		p.t.Fatalf("recv: %v", err)
	}
	var resp response
	if err := json.Unmarshal(payload, &resp); err != nil {
		p.t.Fatalf("response %q is not JSON: %v", payload, err)
	}
	return resp
}

func (r response) errMessage(t *testing.T) string {
	t.Helper()
	if r.Type != types.MessageErr {
		t.Fatalf("response type = %q (data %s), want err", r.Type, r.Data)
	}
	var msg string
	if err := json.Unmarshal(r.Data, &msg); err != nil {
		t.Fatalf("err data %s is not a string: %v", r.Data, err)
	}
	return msg
}

// servePipe runs d.Serve on one end of a net.Pipe and returns the other.
func servePipe(t *testing.T, d *Dispatcher) (*peer, <-chan error) {
	t.Helper()
	client, server := net.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- d.Serve(t.Context(), server)
		_ = server.Close()
	}()
	t.Cleanup(func() { _ = client.Close() })
	return newPeer(t, client), done
}

func nativeFrame(payload []byte) []byte {
	return ipc.AppendFrame(nil, binary.NativeEndian, payload)
}

// memListener is a channel.Listener over in-memory pipes.
type memListener struct {
	conns     chan net.Conn
	closeOnce sync.Once
	closed    chan struct{}
}

func newMemListener() *memListener {
	return &memListener{conns: make(chan net.Conn), closed: make(chan struct{})}
}

func (l *memListener) Accept() (io.ReadWriteCloser, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, channel.ErrListenerClosed
	}
}

func (l *memListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *memListener) Addr() string { return "mem" }

func (l *memListener) Dial() (net.Conn, error) {
	client, server := net.Pipe()
	select {
	case l.conns <- server:
		return client, nil
	case <-l.closed:
		return nil, errors.New("listener closed")
	}
}

var _ channel.Listener = (*memListener)(nil)
