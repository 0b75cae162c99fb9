package channel

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/justapithecus/edman/log"
	"github.com/justapithecus/edman/metrics"
)

// Pipe-busy retry policy. Attempts are unbounded; only Close stops them.
const (
	pipeBusyInitialWait = 50 * time.Millisecond
	pipeBusyMultiplier  = 2
	pipeBusyMaxWait     = 10 * time.Second
)

func pipeBusyBackOff() backoff.BackOff {
	return backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(pipeBusyInitialWait),
		backoff.WithMultiplier(pipeBusyMultiplier),
		backoff.WithMaxInterval(pipeBusyMaxWait),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
}

// pipeInstance is one server end of a named pipe. It serves one client.
type pipeInstance interface {
	io.ReadWriteCloser
	// WaitForClient blocks until a client has connected to this instance.
	WaitForClient() error
}

// pipeFactory creates pipe instances for one pipe name.
type pipeFactory interface {
	// Create makes a new instance. first is true only for the very first
	// instance of a listener.
	Create(first bool) (pipeInstance, error)
	// IsBusy reports whether err is the transient "all instances busy"
	// condition.
	IsBusy(err error) bool
}

type acceptorState int

const (
	// acceptorCreate: no armed instance; the next step creates one.
	acceptorCreate acceptorState = iota
	// acceptorAwait: an armed instance is waiting for a client.
	acceptorAwait
	// acceptorHandoff: the armed instance has a client; the next step
	// re-arms and hands it to the caller.
	acceptorHandoff
	// acceptorFailed is terminal. Every Accept returns the recorded error.
	acceptorFailed
	// acceptorClosed is terminal. Every Accept returns ErrListenerClosed.
	acceptorClosed
)

func (s acceptorState) String() string {
	switch s {
	case acceptorCreate:
		return "create"
	case acceptorAwait:
		return "await"
	case acceptorHandoff:
		return "handoff"
	case acceptorFailed:
		return "failed"
	case acceptorClosed:
		return "closed"
	default:
		return fmt.Sprintf("acceptorState(%d)", int(s))
	}
}

// pipeAcceptor turns single-client pipe instances into an accept loop.
//
// The next instance is created as soon as a client is handed off, so a
// client arriving while the previous one is being served finds an
// instance to connect to.
type pipeAcceptor struct {
	factory    pipeFactory
	address    string
	newBackOff func() backoff.BackOff
	timer      backoff.Timer // nil uses real time
	logger     *log.Logger
	collector  *metrics.Collector
	// wake unblocks a WaitForClient in progress. Called once by Close.
	wake func()

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   acceptorState
	armed   pipeInstance
	created bool
	waiting bool
	err     error
}

func newPipeAcceptor(address string, factory pipeFactory, cfg ListenConfig) *pipeAcceptor {
	ctx, cancel := context.WithCancel(context.Background())
	return &pipeAcceptor{
		factory:    factory,
		address:    address,
		newBackOff: pipeBusyBackOff,
		logger:     cfg.Logger,
		collector:  cfg.Collector,
		ctx:        ctx,
		cancel:     cancel,
		state:      acceptorCreate,
	}
}

// Accept runs the state machine until a client is handed off or a terminal
// state is reached.
func (a *pipeAcceptor) Accept() (io.ReadWriteCloser, error) {
	for {
		conn, done, err := a.step()
		if done {
			return conn, err
		}
	}
}

// step performs one transition.
func (a *pipeAcceptor) step() (io.ReadWriteCloser, bool, error) {
	a.mu.Lock()
	state, err := a.state, a.err
	a.mu.Unlock()

	switch state {
	case acceptorCreate:
		a.arm()
		return nil, false, nil
	case acceptorAwait:
		a.await()
		return nil, false, nil
	case acceptorHandoff:
		return a.handoff(), true, nil
	case acceptorFailed:
		return nil, true, err
	default:
		return nil, true, ErrListenerClosed
	}
}

// arm creates the next instance: create -> await, or create -> failed.
func (a *pipeAcceptor) arm() {
	a.mu.Lock()
	first := !a.created
	a.mu.Unlock()

	inst, err := a.createWithRetry(first)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == acceptorClosed {
		if inst != nil {
			_ = inst.Close()
		}
		return
	}
	if err != nil {
		a.state = acceptorFailed
		a.err = &ListenError{Address: a.address, Err: err}
		a.logger.Error("pipe instance creation failed", map[string]any{
			"address": a.address,
			"error":   err.Error(),
		})
		return
	}
	a.created = true
	a.armed = inst
	a.state = acceptorAwait
}

// await blocks on the armed instance: await -> handoff, or await -> failed.
func (a *pipeAcceptor) await() {
	a.mu.Lock()
	inst := a.armed
	a.waiting = true
	a.mu.Unlock()

	err := inst.WaitForClient()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.waiting = false

	if a.state == acceptorClosed {
		a.armed = nil
		_ = inst.Close()
		return
	}
	if err != nil {
		a.armed = nil
		_ = inst.Close()
		a.state = acceptorFailed
		a.err = &ListenError{Address: a.address, Err: fmt.Errorf("wait for client: %w", err)}
		return
	}
	a.state = acceptorHandoff
}

// handoff releases the connected instance and re-arms before returning it.
// A fatal re-arm error is recorded for the next Accept; the client already
// connected is still handed off.
func (a *pipeAcceptor) handoff() io.ReadWriteCloser {
	a.mu.Lock()
	conn := a.armed
	a.armed = nil
	a.state = acceptorCreate
	a.mu.Unlock()

	a.arm()
	return conn
}

func (a *pipeAcceptor) createWithRetry(first bool) (pipeInstance, error) {
	operation := func() (pipeInstance, error) {
		inst, err := a.factory.Create(first)
		if err == nil {
			return inst, nil
		}
		if a.factory.IsBusy(err) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		a.collector.IncPipeBusyRetry()
		a.logger.Warn("all pipe instances busy, retrying", map[string]any{
			"address": a.address,
			"wait_ms": wait.Milliseconds(),
			"error":   err.Error(),
		})
	}

	inst, err := backoff.RetryNotifyWithTimerAndData(
		operation,
		backoff.WithContext(a.newBackOff(), a.ctx),
		notify,
		a.timer,
	)
	if err != nil && a.ctx.Err() != nil {
		return nil, ErrListenerClosed
	}
	return inst, err
}

// Close moves the acceptor to the closed state. A blocked Accept returns
// ErrListenerClosed.
func (a *pipeAcceptor) Close() error {
	a.mu.Lock()
	if a.state == acceptorClosed {
		a.mu.Unlock()
		return nil
	}
	a.state = acceptorClosed
	inst, waiting := a.armed, a.waiting
	if !waiting {
		a.armed = nil
	}
	a.mu.Unlock()

	a.cancel()

	if inst == nil {
		return nil
	}
	if waiting {
		// await owns the instance and closes it once woken.
		if a.wake != nil {
			a.wake()
		}
		return nil
	}
	return inst.Close()
}

func (a *pipeAcceptor) Addr() string {
	return a.address
}
