// Package ipc implements the length-prefixed framing shared by the
// browser's stdio stream and the local channel.
//
// A frame is a 4-byte unsigned length followed by exactly that many
// payload bytes. Both peers of every leg run on the same machine, so the
// length is encoded in host byte order unless configured otherwise.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
)

const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
	// DefaultMaxPayloadSize is the largest payload accepted by default (64 MiB).
	DefaultMaxPayloadSize = 64 * 1024 * 1024
)

// FrameErrorKind classifies frame errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates the stream ended inside a frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a declared length above the maximum.
	FrameErrorTooLarge
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorPartial:
		return "partial"
	case FrameErrorTooLarge:
		return "too_large"
	default:
		return fmt.Sprintf("FrameErrorKind(%d)", int(k))
	}
}

// FrameError represents a framing error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

type options struct {
	order      binary.ByteOrder
	maxPayload uint32
}

func defaultOptions() options {
	return options{
		order:      binary.NativeEndian,
		maxPayload: DefaultMaxPayloadSize,
	}
}

// Option configures a FrameDecoder or FrameEncoder.
type Option func(*options)

// WithByteOrder overrides the length prefix byte order.
func WithByteOrder(order binary.ByteOrder) Option {
	return func(o *options) {
		if order != nil {
			o.order = order
		}
	}
}

// WithMaxPayload overrides the payload size limit. Zero keeps the default.
func WithMaxPayload(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPayload = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// FrameDecoder reads length-prefixed frames from a stream.
// It is not safe for concurrent use.
type FrameDecoder struct {
	reader io.Reader
	opts   options
}

// NewFrameDecoder creates a new frame decoder.
func NewFrameDecoder(r io.Reader, opts ...Option) *FrameDecoder {
	return &FrameDecoder{reader: r, opts: buildOptions(opts)}
}

// ReadFrame blocks until one complete frame is available and returns its
// payload.
//
// Errors:
//   - io.EOF: stream ended cleanly on a frame boundary
//   - *FrameError with Kind=FrameErrorPartial: stream ended mid-frame
//   - *FrameError with Kind=FrameErrorTooLarge: declared length over the limit
//
// Any other error is the underlying reader's, wrapped.
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.reader, lengthBuf[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, &FrameError{
				Kind: FrameErrorPartial,
				Msg:  "stream ended inside length prefix",
				Err:  err,
			}
		default:
			return nil, fmt.Errorf("read length prefix: %w", err)
		}
	}

	payloadSize := d.opts.order.Uint32(lengthBuf[:])

	// Checked before allocating so a hostile prefix cannot force a large buffer.
	if payloadSize > d.opts.maxPayload {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, d.opts.maxPayload),
		}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &FrameError{
				Kind: FrameErrorPartial,
				Msg:  fmt.Sprintf("stream ended inside %d byte payload", payloadSize),
				Err:  err,
			}
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}

	return payload, nil
}

type flusher interface {
	Flush() error
}

// FrameEncoder writes length-prefixed frames to a stream. Each frame is
// handed to the writer in a single Write and flushed before WriteFrame
// returns. It is safe for concurrent use.
type FrameEncoder struct {
	mu     sync.Mutex
	writer io.Writer
	opts   options
}

// NewFrameEncoder creates a new frame encoder.
func NewFrameEncoder(w io.Writer, opts ...Option) *FrameEncoder {
	return &FrameEncoder{writer: w, opts: buildOptions(opts)}
}

// WriteFrame writes payload as a single frame.
func (e *FrameEncoder) WriteFrame(payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 || uint32(len(payload)) > e.opts.maxPayload {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), e.opts.maxPayload),
		}
	}

	buf := make([]byte, LengthPrefixSize+len(payload))
	e.opts.order.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.writer.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if f, ok := e.writer.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush frame: %w", err)
		}
	}
	return nil
}

// AppendFrame appends payload to dst as an encoded frame using the given
// byte order.
func AppendFrame(dst []byte, order binary.AppendByteOrder, payload []byte) []byte {
	dst = order.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}
