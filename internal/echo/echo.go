// Package echo is a line-based echo service used to smoke-test the dispatch
// strategies without the broker.
package echo

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/luciancaetano/stompnet/internal/logging"
)

// Bye ends the session.
const Bye = "bye"

// Protocol replies to every line with an echo of its tail.
type Protocol struct {
	logger    *slog.Logger
	terminate atomic.Bool
}

// New returns an echo Protocol.
func New(logger *slog.Logger) *Protocol {
	return &Protocol{logger: logging.OrDefault(logger)}
}

func (p *Protocol) Start(_ context.Context, connectionID int64) {
	p.logger = p.logger.With("conn_id", connectionID)
}

// Process returns the echo for msg. Receiving Bye also terminates.
func (p *Protocol) Process(msg string) (string, bool) {
	if msg == Bye {
		p.terminate.Store(true)
	}
	p.logger.Debug("echo", "line", msg)
	return Reply(msg), true
}

func (p *Protocol) ShouldTerminate() bool {
	return p.terminate.Load()
}

// Reply builds the echo for msg from its last two characters.
func Reply(msg string) string {
	r := []rune(msg)
	tail := string(r[max(len(r)-2, 0):])
	return msg + " .. " + tail + " .. " + tail + " .."
}
