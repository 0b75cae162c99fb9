package ipc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// encodeFrame encodes a payload with a host-order length prefix.
func encodeFrame(payload []byte) []byte {
	return AppendFrame(nil, binary.NativeEndian, payload)
}

func TestFrameDecoder_SingleFrame(t *testing.T) {
	payload := []byte(`{"type":"config","id":"1"}`)

	decoder := NewFrameDecoder(bytes.NewReader(encodeFrame(payload)))
	got, err := decoder.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}

	if _, err := decoder.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Errorf("second ReadFrame err = %v, want io.EOF", err)
	}
}

func TestFrameDecoder_MultipleFrames(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{"type":"config"}`),
		{},
		[]byte(`{"type":"fetch_file_states","data":{"query":["a"]}}`),
	}

	var stream []byte
	for _, p := range payloads {
		stream = AppendFrame(stream, binary.NativeEndian, p)
	}

	decoder := NewFrameDecoder(bytes.NewReader(stream))
	for i, want := range payloads {
		got, err := decoder.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: ReadFrame failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d: payload = %q, want %q", i, got, want)
		}
	}
	if _, err := decoder.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Errorf("trailing ReadFrame err = %v, want io.EOF", err)
	}
}

func TestFrameDecoder_EmptyStream(t *testing.T) {
	decoder := NewFrameDecoder(bytes.NewReader(nil))
	if _, err := decoder.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestFrameDecoder_Errors(t *testing.T) {
	full := encodeFrame([]byte("hello world"))

	tests := []struct {
		name     string
		stream   []byte
		max      uint32
		wantKind FrameErrorKind
	}{
		{"one prefix byte", full[:1], 0, FrameErrorPartial},
		{"three prefix bytes", full[:3], 0, FrameErrorPartial},
		{"prefix only", full[:LengthPrefixSize], 0, FrameErrorPartial},
		{"truncated payload", full[:len(full)-1], 0, FrameErrorPartial},
		{"over custom max", full, 4, FrameErrorTooLarge},
		{"over default max", binary.NativeEndian.AppendUint32(nil, DefaultMaxPayloadSize+1), 0, FrameErrorTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoder := NewFrameDecoder(bytes.NewReader(tt.stream), WithMaxPayload(tt.max))
			_, err := decoder.ReadFrame()

			var frameErr *FrameError
			if !errors.As(err, &frameErr) {
				t.Fatalf("err = %v (%T), want *FrameError", err, err)
			}
			if frameErr.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", frameErr.Kind, tt.wantKind)
			}
		})
	}
}

func TestFrameDecoder_MaxPayloadBoundary(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 16)

	decoder := NewFrameDecoder(bytes.NewReader(encodeFrame(payload)), WithMaxPayload(16))
	got, err := decoder.ReadFrame()
	if err != nil {
		t.Fatalf("payload at limit rejected: %v", err)
	}
	if len(got) != 16 {
		t.Errorf("len = %d, want 16", len(got))
	}
}

func TestFrameDecoder_TransportError(t *testing.T) {
	boom := errors.New("connection reset")
	decoder := NewFrameDecoder(errReader{err: boom})

	_, err := decoder.ReadFrame()
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		t.Errorf("transport error classified as frame error: %v", frameErr)
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// TestFrameDecoder_BlocksOnPartialPayload verifies a reader waits for the
// rest of a frame and only fails once the stream closes mid-frame.
func TestFrameDecoder_BlocksOnPartialPayload(t *testing.T) {
	pr, pw := io.Pipe()
	frame := encodeFrame([]byte(`{"type":"config"}`))

	type result struct {
		payload []byte
		err     error
	}
	done := make(chan result, 1)
	go func() {
		payload, err := NewFrameDecoder(pr).ReadFrame()
		done <- result{payload, err}
	}()

	if _, err := pw.Write(frame[:LengthPrefixSize+3]); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case r := <-done:
		t.Fatalf("ReadFrame returned early: payload=%q err=%v", r.payload, r.err)
	case <-time.After(50 * time.Millisecond):
	}

	_ = pw.Close()

	select {
	case r := <-done:
		var frameErr *FrameError
		if !errors.As(r.err, &frameErr) || frameErr.Kind != FrameErrorPartial {
			t.Fatalf("err = %v, want partial frame error", r.err)
		}
	case <-time.After(time.Second):
		t.Fatal("ReadFrame did not return after close")
	}
}

func TestFrameDecoder_ByteOrder(t *testing.T) {
	payload := []byte("abc")
	stream := AppendFrame(nil, binary.BigEndian, payload)

	got, err := NewFrameDecoder(bytes.NewReader(stream), WithByteOrder(binary.BigEndian)).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}

	if stream[0] != 0 || stream[3] != 3 {
		t.Errorf("prefix = % x, want big-endian 3", stream[:4])
	}
}

func TestFrameEncoder_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewFrameEncoder(&buf)

	messages := []string{`{"type":"config","data":{}}`, `{"type":"err","data":"boom"}`, ""}
	for _, m := range messages {
		if err := encoder.WriteFrame([]byte(m)); err != nil {
			t.Fatalf("WriteFrame(%q) failed: %v", m, err)
		}
	}

	decoder := NewFrameDecoder(&buf)
	for _, want := range messages {
		got, err := decoder.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		if string(got) != want {
			t.Errorf("payload = %q, want %q", got, want)
		}
	}
}

func TestFrameEncoder_FlushesEveryFrame(t *testing.T) {
	var sink bytes.Buffer
	bw := bufio.NewWriterSize(&sink, 4096)
	encoder := NewFrameEncoder(bw)

	if err := encoder.WriteFrame([]byte("ping")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if sink.Len() != LengthPrefixSize+4 {
		t.Errorf("underlying writer has %d bytes, want %d (frame not flushed)", sink.Len(), LengthPrefixSize+4)
	}
}

func TestFrameEncoder_RejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewFrameEncoder(&buf, WithMaxPayload(8))

	err := encoder.WriteFrame([]byte(strings.Repeat("x", 9)))
	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorTooLarge {
		t.Fatalf("err = %v, want too-large frame error", err)
	}
	if buf.Len() != 0 {
		t.Errorf("wrote %d bytes for rejected frame", buf.Len())
	}
}

func TestFrameEncoder_ConcurrentWritesStayWhole(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewFrameEncoder(&buf)

	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte('a' + w)}, 100+w)
			for range perWriter {
				if err := encoder.WriteFrame(payload); err != nil {
					t.Errorf("WriteFrame failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	decoder := NewFrameDecoder(&buf)
	for i := range writers * perWriter {
		got, err := decoder.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if len(bytes.Trim(got, string(got[:1]))) != 0 {
			t.Fatalf("frame %d interleaved: %q", i, got)
		}
	}
}

func TestFrameErrorKind_String(t *testing.T) {
	if FrameErrorTooLarge.String() != "too_large" {
		t.Errorf("String() = %q", FrameErrorTooLarge.String())
	}
	if FrameErrorPartial.String() != "partial" {
		t.Errorf("String() = %q", FrameErrorPartial.String())
	}
}
