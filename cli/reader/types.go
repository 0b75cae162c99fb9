package reader

import "time"

// FileItem is one row of `edman files list`.
type FileItem struct {
	ID           int64     `json:"id" yaml:"id"`
	Key          string    `json:"key" yaml:"key"`
	Path         string    `json:"path" yaml:"path"`
	RegisteredAt time.Time `json:"registered_at" yaml:"registered_at"`
}

// ListFilesOptions filters ListFiles.
type ListFilesOptions struct {
	// KeyPrefix keeps only keys starting with it.
	KeyPrefix string
	// Since keeps files registered at or after it.
	Since time.Time
	// Limit keeps the newest Limit files; 0 keeps all.
	Limit int
}

// BridgeStats is the payload of `edman stats`: the metrics snapshot the
// service persisted when it last shut down.
type BridgeStats struct {
	RecordedAt time.Time `json:"recorded_at" yaml:"recorded_at"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	Uptime     string    `json:"uptime" yaml:"uptime"`

	Transport      string `json:"transport" yaml:"transport"`
	StorageBackend string `json:"storage_backend" yaml:"storage_backend"`
	Adapter        string `json:"adapter,omitempty" yaml:"adapter,omitempty"`

	ConnectionsAccepted int64 `json:"connections_accepted" yaml:"connections_accepted"`
	ConnectionsClosed   int64 `json:"connections_closed" yaml:"connections_closed"`
	ConnectionsForced   int64 `json:"connections_forced" yaml:"connections_forced"`

	Requests          int64            `json:"requests" yaml:"requests"`
	RequestsByType    map[string]int64 `json:"requests_by_type" yaml:"requests_by_type"`
	Errors            int64            `json:"errors" yaml:"errors"`
	ErrorsByKind      map[string]int64 `json:"errors_by_kind" yaml:"errors_by_kind"`
	FramesTooLarge    int64            `json:"frames_too_large" yaml:"frames_too_large"`
	FramesPartial     int64            `json:"frames_partial" yaml:"frames_partial"`
	ResponsesTooLarge int64            `json:"responses_too_large" yaml:"responses_too_large"`

	PipeBusyRetries int64 `json:"pipe_busy_retries" yaml:"pipe_busy_retries"`
	AcceptRetries   int64 `json:"accept_retries" yaml:"accept_retries"`
	FilesRegistered int64 `json:"files_registered" yaml:"files_registered"`
	OrphanedMoves   int64 `json:"orphaned_moves" yaml:"orphaned_moves"`

	StoreWriteSuccess int64 `json:"store_write_success" yaml:"store_write_success"`
	StoreWriteFailure int64 `json:"store_write_failure" yaml:"store_write_failure"`
	PublishSuccess    int64 `json:"publish_success" yaml:"publish_success"`
	PublishFailure    int64 `json:"publish_failure" yaml:"publish_failure"`
}
