package bridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/edman/channel"
	"github.com/justapithecus/edman/iox"
	"github.com/justapithecus/edman/log"
	"github.com/justapithecus/edman/metrics"
)

// DefaultDrainTimeout bounds how long shutdown waits for open connections.
const DefaultDrainTimeout = 5 * time.Second

// ServerConfig carries the optional settings of a Server.
type ServerConfig struct {
	// DrainTimeout defaults to DefaultDrainTimeout.
	DrainTimeout time.Duration
	Logger       *log.Logger
	Collector    *metrics.Collector
}

// Server accepts channel connections and serves each on its own goroutine.
type Server struct {
	listener     channel.Listener
	dispatcher   *Dispatcher
	drainTimeout time.Duration
	logger       *log.Logger
	collector    *metrics.Collector

	mu    sync.Mutex
	conns map[string]*trackedConn
	wg    sync.WaitGroup
}

// NewServer creates a server. It takes ownership of listener.
func NewServer(listener channel.Listener, dispatcher *Dispatcher, cfg ServerConfig) *Server {
	drain := cfg.DrainTimeout
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}
	return &Server{
		listener:     listener,
		dispatcher:   dispatcher,
		drainTimeout: drain,
		logger:       cfg.Logger,
		collector:    cfg.Collector,
		conns:        make(map[string]*trackedConn),
	}
}

// Serve accepts connections until ctx is cancelled or the listener fails.
//
// On the way out the listener is closed and open connections drain: an
// idle connection is closed at once, a connection with a request in flight
// is closed after its response. Connections still open after the drain
// timeout are closed and their backend calls cancelled.
//
// Serve returns nil after a cancellation and the listener's error after a
// fatal accept failure.
func (s *Server) Serve(ctx context.Context) error {
	requestCtx, abortRequests := context.WithCancel(context.WithoutCancel(ctx))
	defer abortRequests()

	stop := context.AfterFunc(ctx, func() { _ = s.listener.Close() })
	defer stop()

	var acceptErr error
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, channel.ErrListenerClosed) {
				acceptErr = err
				s.logger.Error("accept failed, shutting down", map[string]any{"error": err.Error()})
			}
			break
		}

		s.collector.IncConnectionAccepted()
		tc := &trackedConn{ReadWriteCloser: conn, id: uuid.NewString()}
		s.track(tc)
		s.wg.Add(1)
		go s.handle(requestCtx, tc)
	}

	_ = s.listener.Close()
	s.drain(abortRequests)
	return acceptErr
}

func (s *Server) handle(ctx context.Context, tc *trackedConn) {
	defer s.wg.Done()
	defer s.untrack(tc)
	defer iox.DiscardClose(tc)

	logger := s.logger.With(map[string]any{"connection_id": tc.id})
	logger.Debug("connection accepted", nil)

	err := s.dispatcher.WithLogger(logger).Serve(ctx, tc)
	s.collector.IncConnectionClosed()

	if err != nil && !iox.IsExpectedCloseError(err) {
		logger.Warn("connection ended with error", map[string]any{"error": err.Error()})
		return
	}
	logger.Debug("connection closed", nil)
}

func (s *Server) track(tc *trackedConn) {
	s.mu.Lock()
	s.conns[tc.id] = tc
	s.mu.Unlock()
}

func (s *Server) untrack(tc *trackedConn) {
	s.mu.Lock()
	delete(s.conns, tc.id)
	s.mu.Unlock()
}

func (s *Server) snapshotConns() []*trackedConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*trackedConn, 0, len(s.conns))
	for _, tc := range s.conns {
		out = append(out, tc)
	}
	return out
}

func (s *Server) drain(abortRequests context.CancelFunc) {
	open := s.snapshotConns()
	if len(open) > 0 {
		s.logger.Info("draining connections", map[string]any{
			"open":       len(open),
			"timeout_ms": s.drainTimeout.Milliseconds(),
		})
	}
	for _, tc := range open {
		tc.beginDrain()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.drainTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
	}

	abortRequests()
	for _, tc := range s.snapshotConns() {
		s.collector.IncConnectionForced()
		s.logger.Warn("force-closing connection at drain deadline", map[string]any{"connection_id": tc.id})
		_ = tc.abort()
	}
	<-done
}

// trackedConn records whether a request is in flight. Reading any byte of
// a frame marks the connection busy; writing the response frame marks it
// idle again.
type trackedConn struct {
	io.ReadWriteCloser
	id string

	mu       sync.Mutex
	busy     bool
	draining bool
}

func (c *trackedConn) Read(p []byte) (int, error) {
	n, err := c.ReadWriteCloser.Read(p)
	if n > 0 {
		c.mu.Lock()
		c.busy = true
		c.mu.Unlock()
	}
	return n, err
}

func (c *trackedConn) Write(p []byte) (int, error) {
	n, err := c.ReadWriteCloser.Write(p)

	c.mu.Lock()
	c.busy = false
	draining := c.draining
	c.mu.Unlock()

	if draining {
		_ = c.ReadWriteCloser.Close()
	}
	return n, err
}

// aborter is implemented by connections whose Close waits for the peer to
// read pending output.
type aborter interface {
	Abort() error
}

// abort closes the connection without waiting on the peer.
func (c *trackedConn) abort() error {
	if a, ok := c.ReadWriteCloser.(aborter); ok {
		return a.Abort()
	}
	return c.ReadWriteCloser.Close()
}

// beginDrain closes the connection now if idle, otherwise after the
// response to the request in flight.
func (c *trackedConn) beginDrain() {
	c.mu.Lock()
	c.draining = true
	idle := !c.busy
	c.mu.Unlock()

	if idle {
		_ = c.ReadWriteCloser.Close()
	}
}
