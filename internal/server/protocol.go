package server

import (
	"context"

	"github.com/luciancaetano/stompnet"
)

// MessagingProtocol is the contract connection handlers drive. Unlike
// stompnet.Protocol it may answer a message directly: when Process returns
// ok the reply is written back on the same connection.
type MessagingProtocol interface {
	Start(ctx context.Context, connectionID int64)
	Process(msg string) (reply string, ok bool)
	ShouldTerminate() bool
}

// MessagingProtocolFactory creates a MessagingProtocol per connection.
type MessagingProtocolFactory func() MessagingProtocol

// ProtocolAdapter presents a stompnet.Protocol, which replies through the
// registry, as a MessagingProtocol with no direct replies.
type ProtocolAdapter struct {
	protocol stompnet.Protocol
}

var _ MessagingProtocol = (*ProtocolAdapter)(nil)

// NewProtocolAdapter wraps p.
func NewProtocolAdapter(p stompnet.Protocol) *ProtocolAdapter {
	return &ProtocolAdapter{protocol: p}
}

func (a *ProtocolAdapter) Start(ctx context.Context, connectionID int64) {
	a.protocol.Start(ctx, connectionID)
}

// Process forwards msg and never returns a reply.
func (a *ProtocolAdapter) Process(msg string) (string, bool) {
	a.protocol.Process(msg)
	return "", false
}

func (a *ProtocolAdapter) ShouldTerminate() bool {
	return a.protocol.ShouldTerminate()
}

// Adapt turns a stompnet.ProtocolFactory into a MessagingProtocolFactory.
func Adapt(f stompnet.ProtocolFactory) MessagingProtocolFactory {
	return func() MessagingProtocol { return NewProtocolAdapter(f()) }
}
