// Package codec splits a byte stream into whole protocol messages and
// encodes outgoing messages with their transport terminator.
//
// A Decoder is stateful and owned by exactly one connection: it buffers the
// bytes of a partially received message across reads and never blocks.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxMessageSize bounds a single buffered message.
const DefaultMaxMessageSize = 1 << 20

// ErrFrameTooLarge is returned when a message exceeds the decoder's limit.
var ErrFrameTooLarge = errors.New("codec: message exceeds maximum size")

// EncoderDecoder is the per-connection framing contract.
type EncoderDecoder interface {
	// Decode consumes data and returns every message it completes, in order.
	// Bytes of an incomplete trailing message stay buffered for the next call.
	// The returned error is terminal for the connection.
	Decode(data []byte) ([]string, error)

	// Encode appends the transport terminator to msg.
	Encode(msg string) []byte
}

// Factory creates a fresh EncoderDecoder for a new connection.
type Factory func() EncoderDecoder

// delimited implements terminator-based framing shared by both codecs.
type delimited struct {
	delim   byte
	skip    func(b byte) bool
	maxSize int
	buf     bytes.Buffer
	inFrame bool
}

func (d *delimited) Decode(data []byte) ([]string, error) {
	var out []string
	for len(data) > 0 {
		if !d.inFrame && d.skip != nil {
			i := 0
			for i < len(data) && d.skip(data[i]) {
				i++
			}
			data = data[i:]
			if len(data) == 0 {
				break
			}
		}
		d.inFrame = true

		idx := bytes.IndexByte(data, d.delim)
		if idx < 0 {
			if d.buf.Len()+len(data) > d.maxSize {
				return out, fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, d.buf.Len()+len(data))
			}
			d.buf.Write(data)
			break
		}
		if d.buf.Len()+idx > d.maxSize {
			return out, fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, d.buf.Len()+idx)
		}
		d.buf.Write(data[:idx])
		out = append(out, d.buf.String())
		d.buf.Reset()
		d.inFrame = false
		data = data[idx+1:]
	}
	return out, nil
}

// Buffered returns the number of bytes held for an incomplete message.
func (d *delimited) Buffered() int {
	return d.buf.Len()
}

// FrameCodec frames STOMP messages: each frame ends with a single NUL byte.
// End-of-line bytes received between frames are heart-beats and are dropped.
type FrameCodec struct {
	delimited
}

// NewFrameCodec returns a FrameCodec limited to maxSize bytes per frame.
// A non-positive maxSize selects DefaultMaxMessageSize.
func NewFrameCodec(maxSize int) *FrameCodec {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &FrameCodec{delimited{
		delim:   0,
		skip:    func(b byte) bool { return b == '\n' || b == '\r' },
		maxSize: maxSize,
	}}
}

// Encode returns msg followed by the NUL terminator.
func (c *FrameCodec) Encode(msg string) []byte {
	out := make([]byte, len(msg)+1)
	copy(out, msg)
	return out
}

// LineCodec frames newline-terminated text lines. A trailing carriage
// return is kept as part of the line.
type LineCodec struct {
	delimited
}

// NewLineCodec returns a LineCodec limited to maxSize bytes per line.
func NewLineCodec(maxSize int) *LineCodec {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &LineCodec{delimited{delim: '\n', maxSize: maxSize}}
}

// Encode returns msg followed by a newline.
func (c *LineCodec) Encode(msg string) []byte {
	out := make([]byte, len(msg)+1)
	copy(out, msg)
	out[len(msg)] = '\n'
	return out
}

// Reader pulls whole messages out of a blocking stream.
type Reader struct {
	r       io.Reader
	dec     EncoderDecoder
	buf     []byte
	pending []string
	err     error
}

// NewReader returns a Reader decoding r with dec. bufSize is the read
// chunk size; non-positive selects 4 KiB.
func NewReader(r io.Reader, dec EncoderDecoder, bufSize int) *Reader {
	if bufSize <= 0 {
		bufSize = 4096
	}
	return &Reader{r: r, dec: dec, buf: make([]byte, bufSize)}
}

// Next blocks until one complete message is available. It returns io.EOF
// once the stream is closed; a partially received message is discarded.
// Messages completed before a decode or read error are still delivered.
func (r *Reader) Next() (string, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return "", r.err
		}
		n, err := r.r.Read(r.buf)
		if n > 0 {
			msgs, decErr := r.dec.Decode(r.buf[:n])
			r.pending = append(r.pending, msgs...)
			if decErr != nil {
				r.err = decErr
			}
		}
		if err != nil && r.err == nil {
			r.err = err
		}
	}
	msg := r.pending[0]
	r.pending = r.pending[1:]
	return msg, nil
}
