package bridge

import "fmt"

// ErrorKind classifies a per-request failure.
type ErrorKind int

const (
	// KindProtocol: the frame was not a well-formed request.
	KindProtocol ErrorKind = iota
	// KindValidation: the request was well-formed but its arguments were
	// rejected before any side effect.
	KindValidation
	// KindFilesystem: creating the destination or moving the file failed.
	KindFilesystem
	// KindBackend: the backend call failed. Never retried.
	KindBackend
)

func (k ErrorKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindValidation:
		return "validation"
	case KindFilesystem:
		return "filesystem"
	case KindBackend:
		return "backend"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// RequestError is a failure scoped to one request. Message is what the
// peer receives in the err response; the connection stays open.
type RequestError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	return e.Message
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func protocolErrorf(format string, args ...any) *RequestError {
	return &RequestError{Kind: KindProtocol, Message: fmt.Sprintf(format, args...)}
}

func validationError(msg string) *RequestError {
	return &RequestError{Kind: KindValidation, Message: msg}
}

func filesystemError(op string, err error) *RequestError {
	return &RequestError{Kind: KindFilesystem, Message: fmt.Sprintf("%s: %v", op, err), Err: err}
}

func backendError(err error) *RequestError {
	return &RequestError{Kind: KindBackend, Message: err.Error(), Err: err}
}
