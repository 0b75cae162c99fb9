package ipc

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

// buildStream encodes n copies of payload into a contiguous byte buffer.
func buildStream(n int, payload []byte) []byte {
	var out []byte
	for range n {
		out = AppendFrame(out, binary.NativeEndian, payload)
	}
	return out
}

func BenchmarkFrameDecoder_SmallFrames(b *testing.B) {
	stream := buildStream(1000, []byte(`{"type":"fetch_file_states","data":{"query":["a","b","c"]},"id":"1-1"}`))
	b.SetBytes(int64(len(stream)))
	b.ResetTimer()

	for b.Loop() {
		decoder := NewFrameDecoder(bytes.NewReader(stream))
		for {
			if _, err := decoder.ReadFrame(); err == io.EOF {
				break
			} else if err != nil {
				b.Fatal(err)
			}
		}
	}
}

func BenchmarkFrameEncoder_1MiB(b *testing.B) {
	payload := bytes.Repeat([]byte("x"), 1<<20)
	encoder := NewFrameEncoder(io.Discard)
	b.SetBytes(int64(len(payload)))

	for b.Loop() {
		if err := encoder.WriteFrame(payload); err != nil {
			b.Fatal(err)
		}
	}
}
