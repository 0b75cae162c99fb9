package bridge

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/justapithecus/edman/types"
)

var jsonNull = []byte("null")

// decodeEnvelope parses the outer message. The returned envelope carries
// the id whenever the payload was a JSON object, so that errors about the
// type or data can still be correlated.
func decodeEnvelope(payload []byte) (types.Envelope, error) {
	if !utf8.Valid(payload) {
		return types.Envelope{}, protocolErrorf("message is not valid UTF-8")
	}

	var env types.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return types.Envelope{}, protocolErrorf("malformed message: %v", err)
	}
	if bytes.Equal(env.ID, jsonNull) {
		env.ID = nil
	}

	if env.Type == "" {
		return env, protocolErrorf("message has no type")
	}
	if !env.Type.IsRequest() {
		return env, protocolErrorf("unknown message type %q", env.Type)
	}
	return env, nil
}

// decodeData unmarshals the request payload for env.Type into v.
func decodeData(env types.Envelope, v any) error {
	if len(env.Data) == 0 || bytes.Equal(env.Data, jsonNull) {
		return protocolErrorf("%s request has no data", env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return protocolErrorf("invalid %s data: %v", env.Type, err)
	}
	return nil
}

const savePathMessage = "savePath must not contain slashes or dots."

// ValidateRegisterFile checks a register_file request before any
// filesystem access.
func ValidateRegisterFile(req types.RegisterFileRequest) error {
	if len(req.SavePath) == 0 {
		return validationError("savePath must not be empty.")
	}
	for _, segment := range req.SavePath {
		if segment == "" {
			return validationError("savePath must not contain empty segments.")
		}
		if segment == "." || strings.ContainsAny(segment, `/\`) || strings.Contains(segment, "..") {
			return validationError(savePathMessage)
		}
	}
	if req.Key == "" {
		return validationError("key must not be empty.")
	}
	if req.DownloadPath == "" {
		return validationError("downloadPath must not be empty.")
	}
	if !filepath.IsLocal(filepath.FromSlash(req.DownloadPath)) {
		return validationError("downloadPath must stay inside the download directory.")
	}
	return nil
}
