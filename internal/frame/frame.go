package frame

import (
	"strings"

	"github.com/luciancaetano/stompnet"
)

// Headers is a header map that remembers first-insertion order so that
// serialized frames are reproducible. Setting an existing key replaces its
// value in place.
type Headers struct {
	keys   []string
	values map[string]string
}

// Set stores value under key, replacing any previous value.
func (h *Headers) Set(key, value string) {
	if h.values == nil {
		h.values = make(map[string]string)
	}
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = value
}

// Get returns the value stored under key.
func (h Headers) Get(key string) (string, bool) {
	v, ok := h.values[key]
	return v, ok
}

// Value returns the value stored under key, or "" when absent.
func (h Headers) Value(key string) string {
	return h.values[key]
}

// Has reports whether key is present.
func (h Headers) Has(key string) bool {
	_, ok := h.values[key]
	return ok
}

// Len returns the number of distinct keys.
func (h Headers) Len() int {
	return len(h.keys)
}

// Keys returns the keys in first-insertion order.
func (h Headers) Keys() []string {
	out := make([]string, len(h.keys))
	copy(out, h.keys)
	return out
}

// Map returns a copy of the headers as a plain map.
func (h Headers) Map() map[string]string {
	out := make(map[string]string, len(h.values))
	for k, v := range h.values {
		out[k] = v
	}
	return out
}

// Frame is one protocol message. An empty Body means the frame has no body.
type Frame struct {
	Command string
	Headers Headers
	Body    string
}

// New builds a frame from alternating key/value pairs. A trailing key
// without a value is ignored.
func New(command string, body string, kv ...string) Frame {
	f := Frame{Command: command, Body: body}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Headers.Set(kv[i], kv[i+1])
	}
	return f
}

// Header is shorthand for f.Headers.Get.
func (f Frame) Header(key string) (string, bool) {
	return f.Headers.Get(key)
}

// String serializes the frame without any transport terminator:
// the command line, one key:value line per header, a blank line and the body.
func (f Frame) String() string {
	var sb strings.Builder
	sb.Grow(len(f.Command) + len(f.Body) + 16*len(f.Headers.keys) + 2)
	sb.WriteString(f.Command)
	sb.WriteByte('\n')
	for _, k := range f.Headers.keys {
		sb.WriteString(k)
		sb.WriteByte(':')
		sb.WriteString(f.Headers.values[k])
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	sb.WriteString(f.Body)
	return sb.String()
}

// Parse decodes raw into a Frame. It never fails: input without a
// recognizable command yields a frame with an empty or unknown command,
// which callers route to their unknown-command path.
//
// The first line is the command (trimmed). Following lines up to the first
// empty line are headers split on the first colon; lines without a colon are
// skipped. Everything after the empty line is the body with its trailing
// newlines removed, so Parse(f.String()) reproduces f whenever f.Body does
// not end in a newline.
func Parse(raw string) Frame {
	lines := strings.Split(raw, "\n")

	var f Frame
	i := 0
	if i < len(lines) {
		f.Command = strings.TrimSpace(lines[i])
		i++
	}

	for i < len(lines) {
		line := lines[i]
		i++
		if line == "" {
			break
		}
		if idx := strings.IndexByte(line, ':'); idx >= 0 {
			f.Headers.Set(line[:idx], line[idx+1:])
		}
	}

	if i < len(lines) {
		f.Body = strings.TrimRight(strings.Join(lines[i:], "\n"), "\n")
	}
	return f
}

// Connected is the reply to a successful CONNECT.
func Connected() Frame {
	return New(stompnet.CmdConnected, "", stompnet.HeaderVersion, stompnet.ProtocolVersion)
}

// Receipt acknowledges the frame that carried receipt:id.
func Receipt(id string) Frame {
	return New(stompnet.CmdReceipt, "", stompnet.HeaderReceiptID, id)
}

// Message is the frame delivered to one subscriber of a broadcast.
func Message(subscriptionID string, messageID string, destination string, body string) Frame {
	return New(stompnet.CmdMessage, body,
		stompnet.HeaderSubscription, subscriptionID,
		stompnet.HeaderMessageID, messageID,
		stompnet.HeaderDestination, destination,
	)
}

// Error reports message to the client. When the offending frame carried a
// receipt header the reply carries the matching receipt-id. The body echoes
// the offending frame between dashed markers.
func Error(offending Frame, message string) Frame {
	var f Frame
	f.Command = stompnet.CmdError
	if receipt, ok := offending.Header(stompnet.HeaderReceipt); ok {
		f.Headers.Set(stompnet.HeaderReceiptID, receipt)
	}
	f.Headers.Set(stompnet.HeaderMessage, message)
	f.Body = "The message:\n-----\n" + offending.String() + "\n-----\n"
	return f
}
