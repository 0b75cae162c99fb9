package types

import "encoding/json"

// MessageType is the discriminant carried in the "type" field of every
// native message.
type MessageType string

const (
	// MessageRegisterFile moves a downloaded file and records its key.
	MessageRegisterFile MessageType = "register_file"
	// MessageFetchFileStates asks which keys are already registered.
	MessageFetchFileStates MessageType = "fetch_file_states"
	// MessageConfig asks for the effective backend configuration.
	MessageConfig MessageType = "config"
	// MessageErr is only ever sent as a response. Its data is a string.
	MessageErr MessageType = "err"
)

// IsRequest reports whether t may appear in a request.
func (t MessageType) IsRequest() bool {
	switch t {
	case MessageRegisterFile, MessageFetchFileStates, MessageConfig:
		return true
	default:
		return false
	}
}

// Envelope is the outer shape of an inbound message. Data and ID are kept
// raw so the payload can be decoded per type and the id echoed verbatim.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	ID   json.RawMessage `json:"id,omitempty"`
}

// Response is the outer shape of an outbound message.
// Data is always present on the wire, including for an empty result.
type Response struct {
	Type MessageType     `json:"type"`
	Data any             `json:"data"`
	ID   json.RawMessage `json:"id,omitempty"`
}

// RegisterFileRequest is the payload of a register_file request.
type RegisterFileRequest struct {
	// DownloadPath is relative to the configured download directory.
	DownloadPath string `json:"downloadPath"`
	// SavePath is the destination, split into segments, under the
	// configured save directory.
	SavePath []string `json:"savePath"`
	// Key is the deduplication key recorded by the backend.
	Key string `json:"key"`
}

// FetchFileStatesRequest is the payload of a fetch_file_states request.
type FetchFileStatesRequest struct {
	Query []string `json:"query"`
}

// RegisterFileResult is the payload of a successful register_file response.
type RegisterFileResult struct {
	ID int64 `json:"id"`
}

// FileStatesResult is the payload of a fetch_file_states response.
// Result[i] corresponds to Query[i] of the request.
type FileStatesResult struct {
	Result []bool `json:"result"`
}

// Config is the backend configuration as exposed to the extension.
type Config struct {
	DownloadDirectory    string `json:"downloadDirectory"`
	DownloadSubdirectory string `json:"downloadSubdirectory"`
	SaveFileDirectory    string `json:"saveFileDirectory"`
	// AllowedOrigins lists the extension origins the host relays for.
	AllowedOrigins []string `json:"allowedOrigins"`
	// AllowedExtensions lists Firefox extension ids the host relays for.
	AllowedExtensions []string `json:"allowedExtensions"`
}
