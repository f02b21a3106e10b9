package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/stompnet/internal/codec"
	"github.com/luciancaetano/stompnet/internal/logging"
)

// pair returns a server-side Client and the peer connection dialed to it.
func pair(t *testing.T, rl *RateLimitConfig) (*Client, *websocket.Conn) {
	t.Helper()

	clientCh := make(chan *Client, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		clientCh <- NewClient(context.Background(), 42, conn, r.RemoteAddr, codec.NewFrameCodec(0), rl, logging.Discard())
	}))
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { peer.Close() })

	select {
	case c := <-clientCh:
		t.Cleanup(func() { c.Close() })
		return c, peer
	case <-time.After(5 * time.Second):
		t.Fatal("server side never upgraded")
		return nil, nil
	}
}

func TestClientSendEncodesFrames(t *testing.T) {
	t.Parallel()

	c, peer := pair(t, NoRateLimit())
	if c.ID() != 42 {
		t.Errorf("ID() = %d, want 42", c.ID())
	}

	if err := c.Send("RECEIPT\nreceipt-id:1\n\n"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	peer.SetReadDeadline(time.Now().Add(5 * time.Second))
	typ, data, err := peer.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if typ != websocket.TextMessage {
		t.Errorf("message type = %d, want text", typ)
	}
	if got, want := string(data), "RECEIPT\nreceipt-id:1\n\n\x00"; got != want {
		t.Errorf("payload = %q, want %q", got, want)
	}
}

func TestClientCloseFlushesQueuedFrames(t *testing.T) {
	t.Parallel()

	c, peer := pair(t, NoRateLimit())

	for i := 0; i < 10; i++ {
		if err := c.Send("MESSAGE\n\nx"); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	c.CloseWithCode(websocket.ClosePolicyViolation, "bye")

	peer.SetReadDeadline(time.Now().Add(5 * time.Second))
	got := 0
	for {
		_, _, err := peer.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				t.Errorf("close error = %v, want policy violation", err)
			}
			break
		}
		got++
	}
	if got != 10 {
		t.Errorf("received %d frames before close, want 10", got)
	}

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("write pump did not exit")
	}
	if c.Context().Err() == nil {
		t.Error("client context not cancelled after close")
	}
}

func TestClientSendAfterClose(t *testing.T) {
	t.Parallel()

	c, _ := pair(t, NoRateLimit())
	c.Close()
	c.Close()

	if c.IsAlive() {
		t.Error("IsAlive() = true after Close")
	}
	if err := c.Send("MESSAGE\n\n"); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Send() error = %v, want ErrConnectionClosed", err)
	}
}

func TestClientSendClosesSlowConsumer(t *testing.T) {
	t.Parallel()

	// No write pump: nothing drains the buffer.
	c := &Client{
		id:        7,
		codec:     codec.NewFrameCodec(0),
		logger:    logging.Discard(),
		sendCh:    make(chan []byte, 2),
		closeCode: websocket.CloseNormalClosure,
	}

	for i := 0; i < 2; i++ {
		if err := c.Send("MESSAGE\n\nx"); err != nil {
			t.Fatalf("Send() #%d error = %v", i, err)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- c.Send("MESSAGE\n\nx") }()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrSlowConsumer) {
			t.Fatalf("Send() on full buffer error = %v, want ErrSlowConsumer", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send() blocked on a full buffer")
	}

	if c.IsAlive() {
		t.Error("slow client still alive")
	}
	if c.closeCode != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want %d", c.closeCode, websocket.ClosePolicyViolation)
	}
	if err := c.Send("MESSAGE\n\nx"); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Send() after close error = %v, want ErrConnectionClosed", err)
	}
}

// TestRateLimiterCreation tests rate limiter creation with different configs
func TestRateLimiterCreation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  *RateLimitConfig
		wantNil bool
	}{
		{
			name:    "with rate limiting enabled",
			config:  DefaultRateLimitConfig(),
			wantNil: false,
		},
		{
			name:    "with rate limiting disabled",
			config:  NoRateLimit(),
			wantNil: true,
		},
		{
			name:    "with nil config",
			config:  nil,
			wantNil: true,
		},
		{
			name: "with custom config enabled",
			config: &RateLimitConfig{
				MessagesPerSecond: 10,
				Burst:             20,
				Enabled:           true,
			},
			wantNil: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, _ := pair(t, tt.config)
			if (c.rateLimiter == nil) != tt.wantNil {
				t.Errorf("rateLimiter nil = %v, want %v", c.rateLimiter == nil, tt.wantNil)
			}
			if tt.wantNil && !c.CheckRateLimit() {
				t.Error("CheckRateLimit() = false without a limiter")
			}
		})
	}
}

// TestCheckRateLimitBurst tests that the burst is honoured before throttling
func TestCheckRateLimitBurst(t *testing.T) {
	t.Parallel()

	c, _ := pair(t, &RateLimitConfig{MessagesPerSecond: rate.Limit(1), Burst: 3, Enabled: true})

	for i := 0; i < 3; i++ {
		if !c.CheckRateLimit() {
			t.Fatalf("message %d rejected inside burst", i)
		}
	}
	if c.CheckRateLimit() {
		t.Error("message beyond burst allowed")
	}
}
