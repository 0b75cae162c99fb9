package types

import "time"

// FileRecord is one registered file as persisted by the registry.
type FileRecord struct {
	ID           int64     `json:"id"`
	Key          string    `json:"key"`
	Path         string    `json:"path"`
	RegisteredAt time.Time `json:"registered_at"`
}

// OrphanRecord describes a file that was moved into place but whose
// registration did not complete. Path and Key are exactly the arguments
// the registration would have been retried with.
type OrphanRecord struct {
	Path        string    `msgpack:"path"`
	Key         string    `msgpack:"key"`
	Source      string    `msgpack:"source"`
	Destination string    `msgpack:"destination"`
	Error       string    `msgpack:"error"`
	At          time.Time `msgpack:"at"`
}

// FileRegisteredEvent is published to the notification adapter after a
// successful registration.
type FileRegisteredEvent struct {
	ID           int64     `json:"id"`
	Key          string    `json:"key"`
	Path         string    `json:"path"`
	RegisteredAt time.Time `json:"registered_at"`
}
