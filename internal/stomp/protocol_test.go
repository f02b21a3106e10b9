package stomp

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/luciancaetano/stompnet"
	"github.com/luciancaetano/stompnet/internal/frame"
	"github.com/luciancaetano/stompnet/internal/logging"
	"github.com/luciancaetano/stompnet/internal/registry"
	"github.com/luciancaetano/stompnet/internal/store"
)

type wire struct {
	mu   sync.Mutex
	msgs []string
}

func (w *wire) Send(msg string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msg)
	return nil
}

func (w *wire) take() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.msgs
	w.msgs = nil
	return out
}

type harness struct {
	t     *testing.T
	st    *store.MemoryStore
	reg   *registry.Registry
	next  int64
	wires map[int64]*wire
}

func newHarness(t *testing.T) *harness {
	st := store.NewMemoryStore()
	return &harness{
		t:     t,
		st:    st,
		reg:   registry.New(st, logging.Discard()),
		wires: make(map[int64]*wire),
	}
}

func (h *harness) open() (*Protocol, *wire) {
	h.t.Helper()
	id := h.next
	h.next++
	p := New(h.reg, logging.Discard(), WithTracerProvider(noop.NewTracerProvider()))
	p.Start(context.Background(), id)
	w := &wire{}
	require.True(h.t, h.reg.Register(id, w))
	h.wires[id] = w
	return p, w
}

func (h *harness) login(name string) (*Protocol, *wire) {
	h.t.Helper()
	p, w := h.open()
	p.Process("CONNECT\nlogin:" + name + "\npasscode:pw\n\n")
	require.Equal(h.t, []string{"CONNECTED\nversion:1.2\n\n"}, w.take())
	require.Equal(h.t, Connected, p.State())
	return p, w
}

func TestScenario(t *testing.T) {
	h := newHarness(t)

	bob, bobWire := h.open()
	bob.Process("CONNECT\nlogin:bob\npasscode:x\n\n")
	assert.Equal(t, []string{"CONNECTED\nversion:1.2\n\n"}, bobWire.take())

	bob.Process("SUBSCRIBE\ndestination:/chat\nid:1\n\n")
	assert.Empty(t, bobWire.take())

	alice, _ := h.login("alice")
	// SEND requires the sender to be subscribed to the topic.
	alice.Process("SUBSCRIBE\ndestination:/chat\nid:9\n\n")
	alice.Process("SEND\ndestination:/chat\n\nhello")

	assert.Equal(t, []string{"MESSAGE\nsubscription:1\nmessage-id:0\ndestination:/chat\n\nhello"}, bobWire.take())
	assert.False(t, bob.ShouldTerminate())
	assert.False(t, alice.ShouldTerminate())
}

func TestConnectMissingHeaders(t *testing.T) {
	h := newHarness(t)
	p, w := h.open()

	p.Process("CONNECT\nlogin:bob\nreceipt:77\n\n")

	msgs := w.take()
	require.Len(t, msgs, 1)
	f := frame.Parse(msgs[0])
	assert.Equal(t, stompnet.CmdError, f.Command)
	assert.Equal(t, "77", f.Headers.Value(stompnet.HeaderReceiptID))
	assert.Equal(t, stompnet.ErrMalformedConnect, f.Headers.Value(stompnet.HeaderMessage))
	assert.Contains(t, msgs[0], "The message:\n-----\nCONNECT\nlogin:bob\nreceipt:77\n\n\n-----\n")
	assert.True(t, p.ShouldTerminate())
	assert.False(t, h.reg.Send(0, frame.Receipt("x")), "terminated connection must be released")
}

func TestConnectWrongPasswordAndDuplicate(t *testing.T) {
	h := newHarness(t)
	h.login("bob")

	dup, dupWire := h.open()
	dup.Process("CONNECT\nlogin:bob\npasscode:pw\n\n")
	msgs := dupWire.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, stompnet.ErrLoginFailed, frame.Parse(msgs[0]).Headers.Value(stompnet.HeaderMessage))
	assert.True(t, dup.ShouldTerminate())

	wrong, wrongWire := h.open()
	wrong.Process("CONNECT\nlogin:bob\npasscode:nope\n\n")
	msgs = wrongWire.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, stompnet.CmdError, frame.Parse(msgs[0]).Command)
	assert.True(t, wrong.ShouldTerminate())
}

func TestSubscribeReceiptAndMalformed(t *testing.T) {
	h := newHarness(t)
	p, w := h.login("bob")

	p.Process("SUBSCRIBE\ndestination:/a\nid:1\nreceipt:r1\n\n")
	assert.Equal(t, []string{"RECEIPT\nreceipt-id:r1\n\n"}, w.take())
	assert.True(t, h.reg.IsSubscribed("/a", 0))

	p.Process("SUBSCRIBE\ndestination:/b\n\n")
	msgs := w.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, stompnet.ErrMalformedSubscribe, frame.Parse(msgs[0]).Headers.Value(stompnet.HeaderMessage))
	assert.True(t, p.ShouldTerminate())
	assert.False(t, h.reg.IsSubscribed("/a", 0))
}

func TestUnsubscribe(t *testing.T) {
	h := newHarness(t)
	p, w := h.login("bob")

	p.Process("SUBSCRIBE\ndestination:/a\nid:1\n\n")
	p.Process("UNSUBSCRIBE\nid:1\nreceipt:u\n\n")
	assert.Equal(t, []string{"RECEIPT\nreceipt-id:u\n\n"}, w.take())
	assert.False(t, h.reg.IsSubscribed("/a", 0))

	p.Process("UNSUBSCRIBE\n\n")
	msgs := w.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, stompnet.ErrMalformedUnsubscribe, frame.Parse(msgs[0]).Headers.Value(stompnet.HeaderMessage))
	assert.True(t, p.ShouldTerminate())
}

func TestSendNotSubscribed(t *testing.T) {
	h := newHarness(t)
	p, w := h.login("bob")

	p.Process("SEND\ndestination:/secret\nreceipt:s\n\nhi")

	msgs := w.take()
	require.Len(t, msgs, 1)
	f := frame.Parse(msgs[0])
	assert.Equal(t, stompnet.ErrNotSubscribed, f.Headers.Value(stompnet.HeaderMessage))
	assert.Equal(t, "s", f.Headers.Value(stompnet.HeaderReceiptID))
	assert.True(t, p.ShouldTerminate())
}

func TestSendMissingDestination(t *testing.T) {
	h := newHarness(t)
	p, w := h.login("bob")

	p.Process("SEND\n\nhi")
	msgs := w.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, stompnet.ErrMalformedSend, frame.Parse(msgs[0]).Headers.Value(stompnet.HeaderMessage))
	assert.True(t, p.ShouldTerminate())
}

func TestSendReceiptAfterBroadcastAndAudit(t *testing.T) {
	h := newHarness(t)
	p, w := h.login("bob")

	p.Process("SUBSCRIBE\ndestination:/g\nid:s\n\n")
	p.Process("SEND\ndestination:/g\nfilename:events.json\nreceipt:9\n\nreport")

	msgs := w.take()
	require.Len(t, msgs, 2)
	assert.Equal(t, "MESSAGE\nsubscription:s\nmessage-id:0\ndestination:/g\n\nreport", msgs[0])
	assert.Equal(t, "RECEIPT\nreceipt-id:9\n\n", msgs[1])

	rep, err := h.st.Report(context.Background())
	require.NoError(t, err)
	require.Len(t, rep.Uploads, 1)
	assert.Equal(t, "bob", rep.Uploads[0].Username)
	assert.Equal(t, "events.json", rep.Uploads[0].Filename)
	assert.Equal(t, "/g", rep.Uploads[0].Topic)
}

func TestSendBeforeConnectSkipsAudit(t *testing.T) {
	h := newHarness(t)
	p, w := h.open()

	p.Process("SUBSCRIBE\ndestination:/g\nid:s\n\n")
	p.Process("SEND\ndestination:/g\nfilename:f.json\n\nx")
	assert.Len(t, w.take(), 1)
	assert.Equal(t, AwaitingConnect, p.State())

	rep, err := h.st.Report(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Uploads)
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t)
	p, w := h.login("bob")
	p.Process("SUBSCRIBE\ndestination:/a\nid:1\n\n")

	p.Process("DISCONNECT\nreceipt:bye\n\n")

	assert.Equal(t, []string{"RECEIPT\nreceipt-id:bye\n\n"}, w.take())
	assert.True(t, p.ShouldTerminate())
	assert.Equal(t, Terminated, p.State())
	assert.False(t, h.reg.IsSubscribed("/a", 0))

	// The username is free for a new connection.
	h.login("bob")
}

func TestUnknownCommandKeepsConnection(t *testing.T) {
	h := newHarness(t)
	p, w := h.login("bob")

	p.Process("NACK\nreceipt:n\n\n")
	msgs := w.take()
	require.Len(t, msgs, 1)
	f := frame.Parse(msgs[0])
	assert.Equal(t, stompnet.CmdError, f.Command)
	assert.Equal(t, stompnet.ErrUnknownCommand, f.Headers.Value(stompnet.HeaderMessage))
	assert.Equal(t, "n", f.Headers.Value(stompnet.HeaderReceiptID))
	assert.False(t, p.ShouldTerminate())

	p.Process("")
	assert.Len(t, w.take(), 1)
	assert.False(t, p.ShouldTerminate())
}

func TestFramesAfterTerminationDropped(t *testing.T) {
	h := newHarness(t)
	p, w := h.login("bob")

	p.Process("DISCONNECT\n\n")
	p.Process("SUBSCRIBE\ndestination:/a\nid:1\nreceipt:r\n\n")
	assert.Empty(t, w.take())
	assert.False(t, h.reg.IsSubscribed("/a", 0))
}

func TestAuthorizationInvariant(t *testing.T) {
	h := newHarness(t)

	topics := []string{"/a", "/b", "/c"}
	for i, topic := range topics {
		p, w := h.login("user" + strings.Repeat("x", i))
		p.Process("SUBSCRIBE\ndestination:" + topic + "\nid:1\n\n")
		for _, other := range topics {
			if other == topic {
				continue
			}
			p.Process("SEND\ndestination:" + other + "\n\nx")
			msgs := w.take()
			require.Len(t, msgs, 1)
			assert.Equal(t, stompnet.CmdError, frame.Parse(msgs[0]).Command)
			assert.True(t, p.ShouldTerminate())
			break
		}
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "AWAITING_CONNECT", AwaitingConnect.String())
	assert.Equal(t, "CONNECTED", Connected.String())
	assert.Equal(t, "TERMINATED", Terminated.String())
	assert.Equal(t, "UNKNOWN", State(7).String())
}
