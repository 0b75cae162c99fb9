// Package metrics provides in-process counters for the bridge service.
//
// The Collector accumulates counters for the lifetime of one `edman serve`
// process. It is a leaf package with no internal dependencies; request types
// and error kinds are recorded as plain strings.
package metrics

import (
	"sync"
	"time"
)

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Connections
	ConnectionsAccepted int64
	ConnectionsClosed   int64
	ConnectionsForced   int64

	// Requests
	RequestsByType map[string]int64
	ErrorsByKind   map[string]int64
	FramesTooLarge    int64
	FramesPartial     int64
	ResponsesTooLarge int64

	// Listener
	PipeBusyRetries int64
	AcceptRetries   int64

	// Registry
	FilesRegistered int64
	OrphanedMoves   int64

	// Storage
	StoreWriteSuccess int64
	StoreWriteFailure int64

	// Notifications
	PublishSuccess int64
	PublishFailure int64

	// Dimensions (informational, set at construction)
	StartedAt      time.Time
	Transport      string
	StorageBackend string
	Adapter        string
}

// Requests returns the total number of requests across all types.
func (s Snapshot) Requests() int64 {
	var n int64
	for _, v := range s.RequestsByType {
		n += v
	}
	return n
}

// Errors returns the total number of error responses across all kinds.
func (s Snapshot) Errors() int64 {
	var n int64
	for _, v := range s.ErrorsByKind {
		n += v
	}
	return n
}

// Collector accumulates service counters.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	connectionsAccepted int64
	connectionsClosed   int64
	connectionsForced   int64

	requestsByType map[string]int64
	errorsByKind   map[string]int64
	framesTooLarge    int64
	framesPartial     int64
	responsesTooLarge int64

	pipeBusyRetries int64
	acceptRetries   int64

	filesRegistered int64
	orphanedMoves   int64

	storeWriteSuccess int64
	storeWriteFailure int64

	publishSuccess int64
	publishFailure int64

	startedAt      time.Time
	transport      string
	storageBackend string
	adapter        string
}

// NewCollector creates a Collector with dimension labels.
// transport is "unix" or "pipe"; adapter may be empty when notifications
// are disabled.
func NewCollector(transport, storageBackend, adapter string) *Collector {
	return &Collector{
		requestsByType: make(map[string]int64),
		errorsByKind:   make(map[string]int64),
		startedAt:      time.Now().UTC(),
		transport:      transport,
		storageBackend: storageBackend,
		adapter:        adapter,
	}
}

func (c *Collector) add(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Connections ---

// IncConnectionAccepted records an accepted connection.
func (c *Collector) IncConnectionAccepted() {
	if c == nil {
		return
	}
	c.add(&c.connectionsAccepted)
}

// IncConnectionClosed records a connection whose serve loop ended.
func (c *Collector) IncConnectionClosed() {
	if c == nil {
		return
	}
	c.add(&c.connectionsClosed)
}

// IncConnectionForced records a connection force-closed at the drain deadline.
func (c *Collector) IncConnectionForced() {
	if c == nil {
		return
	}
	c.add(&c.connectionsForced)
}

// --- Requests ---

// IncRequest records a request of the given message type.
// Undecodable requests are recorded as "invalid".
func (c *Collector) IncRequest(messageType string) {
	if c == nil {
		return
	}
	if messageType == "" {
		messageType = "invalid"
	}
	c.mu.Lock()
	c.requestsByType[messageType]++
	c.mu.Unlock()
}

// IncError records an error response of the given kind.
func (c *Collector) IncError(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.errorsByKind[kind]++
	c.mu.Unlock()
}

// IncFrameTooLarge records a connection ended by an oversized frame.
func (c *Collector) IncFrameTooLarge() {
	if c == nil {
		return
	}
	c.add(&c.framesTooLarge)
}

// IncFramePartial records a connection ended inside a frame.
func (c *Collector) IncFramePartial() {
	if c == nil {
		return
	}
	c.add(&c.framesPartial)
}

// IncResponseTooLarge records a response replaced because it exceeded the
// frame limit.
func (c *Collector) IncResponseTooLarge() {
	if c == nil {
		return
	}
	c.add(&c.responsesTooLarge)
}

// --- Listener ---

// IncPipeBusyRetry records one pipe-busy backoff wait.
func (c *Collector) IncPipeBusyRetry() {
	if c == nil {
		return
	}
	c.add(&c.pipeBusyRetries)
}

// IncAcceptRetry records one wait after a temporary accept failure.
func (c *Collector) IncAcceptRetry() {
	if c == nil {
		return
	}
	c.add(&c.acceptRetries)
}

// --- Registry ---

// IncFileRegistered records a successful registration.
func (c *Collector) IncFileRegistered() {
	if c == nil {
		return
	}
	c.add(&c.filesRegistered)
}

// IncOrphanedMove records a move whose registration failed.
func (c *Collector) IncOrphanedMove() {
	if c == nil {
		return
	}
	c.add(&c.orphanedMoves)
}

// --- Storage ---

// IncStoreWriteSuccess records a successful storage write.
func (c *Collector) IncStoreWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.storeWriteSuccess)
}

// IncStoreWriteFailure records a failed storage write.
func (c *Collector) IncStoreWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.storeWriteFailure)
}

// --- Notifications ---

// IncPublishSuccess records a delivered notification.
func (c *Collector) IncPublishSuccess() {
	if c == nil {
		return
	}
	c.add(&c.publishSuccess)
}

// IncPublishFailure records a notification dropped after retries.
func (c *Collector) IncPublishFailure() {
	if c == nil {
		return
	}
	c.add(&c.publishFailure)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		ConnectionsAccepted: c.connectionsAccepted,
		ConnectionsClosed:   c.connectionsClosed,
		ConnectionsForced:   c.connectionsForced,

		RequestsByType: copyCounts(c.requestsByType),
		ErrorsByKind:   copyCounts(c.errorsByKind),
		FramesTooLarge:    c.framesTooLarge,
		FramesPartial:     c.framesPartial,
		ResponsesTooLarge: c.responsesTooLarge,

		PipeBusyRetries: c.pipeBusyRetries,
		AcceptRetries:   c.acceptRetries,

		FilesRegistered: c.filesRegistered,
		OrphanedMoves:   c.orphanedMoves,

		StoreWriteSuccess: c.storeWriteSuccess,
		StoreWriteFailure: c.storeWriteFailure,

		PublishSuccess: c.publishSuccess,
		PublishFailure: c.publishFailure,

		StartedAt:      c.startedAt,
		Transport:      c.transport,
		StorageBackend: c.storageBackend,
		Adapter:        c.adapter,
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
