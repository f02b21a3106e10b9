package codec

import (
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

// TestFrameCodecDecode tests NUL framing with various chunkings
func TestFrameCodecDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{
			name:   "single frame",
			chunks: []string{"CONNECT\nlogin:bob\npasscode:x\n\n\x00"},
			want:   []string{"CONNECT\nlogin:bob\npasscode:x\n\n"},
		},
		{
			name:   "two frames in one read",
			chunks: []string{"SEND\ndestination:/a\n\nhi\x00DISCONNECT\n\n\x00"},
			want:   []string{"SEND\ndestination:/a\n\nhi", "DISCONNECT\n\n"},
		},
		{
			name:   "frame split across reads",
			chunks: []string{"SUBSCR", "IBE\nid:1\n", "destination:/t\n\n", "\x00"},
			want:   []string{"SUBSCRIBE\nid:1\ndestination:/t\n\n"},
		},
		{
			name:   "heart-beats between frames are dropped",
			chunks: []string{"\n\r\nSEND\n\nx\x00\n\n", "\nDISCONNECT\n\n\x00"},
			want:   []string{"SEND\n\nx", "DISCONNECT\n\n"},
		},
		{
			name:   "incomplete frame yields nothing",
			chunks: []string{"SEND\n\nno terminator"},
			want:   nil,
		},
		{
			name:   "body keeps inner newlines",
			chunks: []string{"SEND\n\nline1\n\nline2\n\x00"},
			want:   []string{"SEND\n\nline1\n\nline2\n"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewFrameCodec(0)
			var got []string
			for _, chunk := range tt.chunks {
				msgs, err := c.Decode([]byte(chunk))
				if err != nil {
					t.Fatalf("Decode() error = %v", err)
				}
				got = append(got, msgs...)
			}

			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Decode() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestFrameCodecByteAtATime verifies partial reads of a single byte each
func TestFrameCodecByteAtATime(t *testing.T) {
	t.Parallel()

	c := NewFrameCodec(0)
	raw := "SEND\ndestination:/chat\n\nhello\x00"
	var got []string
	for i := 0; i < len(raw); i++ {
		msgs, err := c.Decode([]byte{raw[i]})
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if i < len(raw)-1 && len(msgs) != 0 {
			t.Fatalf("message completed early at byte %d", i)
		}
		got = append(got, msgs...)
	}

	if len(got) != 1 || got[0] != "SEND\ndestination:/chat\n\nhello" {
		t.Errorf("got %q", got)
	}
	if c.Buffered() != 0 {
		t.Errorf("Buffered() = %d, want 0", c.Buffered())
	}
}

// TestFrameCodecMaxSize verifies oversize frames are rejected
func TestFrameCodecMaxSize(t *testing.T) {
	t.Parallel()

	c := NewFrameCodec(8)

	if _, err := c.Decode([]byte("SEND\n\n12\x00")); err != nil {
		t.Fatalf("frame at limit rejected: %v", err)
	}

	_, err := c.Decode([]byte("SEND\n\n123456789"))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Decode() error = %v, want ErrFrameTooLarge", err)
	}
}

// TestEncode verifies transport terminators
func TestEncode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		codec EncoderDecoder
		msg   string
		want  string
	}{
		{"frame codec", NewFrameCodec(0), "RECEIPT\nreceipt-id:1\n\n", "RECEIPT\nreceipt-id:1\n\n\x00"},
		{"frame codec empty", NewFrameCodec(0), "", "\x00"},
		{"line codec", NewLineCodec(0), "hello", "hello\n"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := string(tt.codec.Encode(tt.msg)); got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestEncodeDecodeRoundTrip verifies that Encode and Decode are inverses
func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	msgs := []string{"CONNECTED\nversion:1.2\n\n", "MESSAGE\nsubscription:1\nmessage-id:0\ndestination:/chat\n\nhello"}
	enc := NewFrameCodec(0)
	dec := NewFrameCodec(0)

	var wire []byte
	for _, m := range msgs {
		wire = append(wire, enc.Encode(m)...)
	}

	got, err := dec.Decode(wire)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !reflect.DeepEqual(got, msgs) {
		t.Errorf("round trip = %q, want %q", got, msgs)
	}
}

// TestLineCodecDecode tests newline framing
func TestLineCodecDecode(t *testing.T) {
	t.Parallel()

	c := NewLineCodec(0)
	got, err := c.Decode([]byte("one\ntwo\n\nthr"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"one", "two", ""}) {
		t.Errorf("Decode() = %q", got)
	}

	got, _ = c.Decode([]byte("ee\n"))
	if !reflect.DeepEqual(got, []string{"three"}) {
		t.Errorf("Decode() = %q, want [three]", got)
	}
}

type chunkedReader struct {
	chunks []string
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

// TestReader verifies blocking reads across chunk boundaries and EOF
func TestReader(t *testing.T) {
	t.Parallel()

	src := &chunkedReader{chunks: []string{"CONNECT\n", "\n\x00SEND\n\nhi\x00DISC", "ONNECT\n\n\x00partial"}}
	r := NewReader(src, NewFrameCodec(0), 4)

	want := []string{"CONNECT\n\n", "SEND\n\nhi", "DISCONNECT\n\n"}
	for _, w := range want {
		msg, err := r.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if msg != w {
			t.Errorf("Next() = %q, want %q", msg, w)
		}
	}

	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() error = %v, want io.EOF", err)
	}
}

// TestReaderDeliversBeforeError verifies completed frames precede a decode error
func TestReaderDeliversBeforeError(t *testing.T) {
	t.Parallel()

	src := strings.NewReader("A\x00" + strings.Repeat("x", 64))
	r := NewReader(src, NewFrameCodec(16), 128)

	msg, err := r.Next()
	if err != nil || msg != "A" {
		t.Fatalf("Next() = %q, %v", msg, err)
	}
	if _, err := r.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Next() error = %v, want ErrFrameTooLarge", err)
	}
}

// BenchmarkDecode benchmarks the framing operation
func BenchmarkDecode(b *testing.B) {
	data := []byte("MESSAGE\nsubscription:1\nmessage-id:0\ndestination:/chat\n\nbenchmark payload\x00")
	c := NewFrameCodec(0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Decode(data)
	}
}
