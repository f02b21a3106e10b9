package echo

import (
	"context"
	"testing"

	"github.com/luciancaetano/stompnet/internal/logging"
)

func TestReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"hello", "hello .. lo .. lo .."},
		{"a", "a .. a .. a .."},
		{"", " ..  ..  .."},
		{"héé", "héé .. éé .. éé .."},
	}
	for _, tt := range tests {
		if got := Reply(tt.in); got != tt.want {
			t.Errorf("Reply(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProtocolTerminatesOnBye(t *testing.T) {
	t.Parallel()

	p := New(logging.Discard())
	p.Start(context.Background(), 1)

	if reply, ok := p.Process("ping"); !ok || reply != "ping .. ng .. ng .." {
		t.Fatalf("Process(ping) = %q, %v", reply, ok)
	}
	if p.ShouldTerminate() {
		t.Fatal("terminated before bye")
	}
	if _, ok := p.Process(Bye); !ok {
		t.Fatal("bye must still be echoed")
	}
	if !p.ShouldTerminate() {
		t.Fatal("not terminated after bye")
	}
}
