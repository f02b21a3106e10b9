// Package stomp implements the per-connection STOMP state machine.
//
// A Protocol interprets one decoded frame at a time, mutates the shared
// registry and replies through it. Malformed frames and authorization
// failures produce an ERROR frame followed by termination; unknown commands
// produce an ERROR frame and leave the connection open. Frames other than
// CONNECT are accepted before login.
package stomp

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/luciancaetano/stompnet"
	"github.com/luciancaetano/stompnet/internal/frame"
	"github.com/luciancaetano/stompnet/internal/logging"
	"github.com/luciancaetano/stompnet/internal/metrics"
	"github.com/luciancaetano/stompnet/internal/store"
)

const tracerName = "github.com/luciancaetano/stompnet/internal/stomp"

// Registry is the subset of the shared registry the protocol drives.
type Registry interface {
	Send(connID int64, f frame.Frame) bool
	Broadcast(topic, body string) (messageID int64, delivered int)
	Subscribe(topic string, connID int64, subID string) bool
	Unsubscribe(subID string, connID int64)
	IsSubscribed(topic string, connID int64) bool
	Login(ctx context.Context, connID int64, username, password string) (store.LoginResult, error)
	TrackFileUpload(ctx context.Context, username, filename, topic string) error
	Disconnect(connID int64)
}

// State is the connection's position in the protocol.
type State int32

const (
	AwaitingConnect State = iota
	Connected
	Terminated
)

func (s State) String() string {
	switch s {
	case AwaitingConnect:
		return "AWAITING_CONNECT"
	case Connected:
		return "CONNECTED"
	case Terminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Protocol is one connection's state machine. Process calls must not overlap;
// State and ShouldTerminate may be called from any goroutine.
type Protocol struct {
	reg     Registry
	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer

	ctx      context.Context
	connID   int64
	state    atomic.Int32
	username string
}

var _ stompnet.Protocol = (*Protocol)(nil)

// Option configures a Protocol.
type Option func(*Protocol)

// WithMetrics records processed frames and ERROR replies on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Protocol) { p.metrics = c }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Protocol) { p.tracer = tp.Tracer(tracerName) }
}

// New returns a Protocol bound to reg. Start must be called before Process.
func New(reg Registry, logger *slog.Logger, opts ...Option) *Protocol {
	p := &Protocol{
		reg:    reg,
		logger: logging.OrDefault(logger),
		tracer: otel.Tracer(tracerName),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Factory returns a stompnet.ProtocolFactory producing Protocols bound to reg.
func Factory(reg Registry, logger *slog.Logger, opts ...Option) stompnet.ProtocolFactory {
	return func() stompnet.Protocol { return New(reg, logger, opts...) }
}

func (p *Protocol) Start(ctx context.Context, connectionID int64) {
	if ctx != nil {
		p.ctx = ctx
	}
	p.connID = connectionID
	p.logger = p.logger.With("conn_id", connectionID)
	p.state.Store(int32(AwaitingConnect))
}

// State returns the current protocol state.
func (p *Protocol) State() State {
	return State(p.state.Load())
}

func (p *Protocol) ShouldTerminate() bool {
	return p.State() == Terminated
}

// Process handles one complete frame. Frames arriving after termination are
// dropped.
func (p *Protocol) Process(msg string) {
	if p.ShouldTerminate() {
		p.logger.Debug("frame after termination dropped")
		return
	}

	start := time.Now()
	f := frame.Parse(msg)
	label := commandLabel(f.Command)

	ctx, span := p.tracer.Start(p.ctx, "stomp."+label,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.Int64("stomp.connection_id", p.connID),
			attribute.String("stomp.command", f.Command),
		),
	)
	defer span.End()

	switch f.Command {
	case stompnet.CmdConnect:
		p.handleConnect(ctx, span, f)
	case stompnet.CmdSubscribe:
		p.handleSubscribe(span, f)
	case stompnet.CmdUnsubscribe:
		p.handleUnsubscribe(span, f)
	case stompnet.CmdSend:
		p.handleSend(ctx, span, f)
	case stompnet.CmdDisconnect:
		p.handleDisconnect(f)
	default:
		p.sendError(span, f, stompnet.ErrUnknownCommand)
	}

	p.metrics.FrameProcessed(label, time.Since(start))
}

func (p *Protocol) handleConnect(ctx context.Context, span trace.Span, f frame.Frame) {
	login, okLogin := f.Header(stompnet.HeaderLogin)
	passcode, okPass := f.Header(stompnet.HeaderPasscode)
	if !okLogin || !okPass {
		p.fail(span, f, stompnet.ErrMalformedConnect)
		return
	}

	res, err := p.reg.Login(ctx, p.connID, login, passcode)
	if err != nil {
		p.logger.Warn("login failed", "username", login, "error", err)
		span.RecordError(err)
		p.fail(span, f, stompnet.ErrLoginFailed)
		return
	}
	span.SetAttributes(attribute.String("stomp.login_result", res.String()))
	if !res.Success() {
		p.logger.Info("login rejected", "username", login, "result", res.String())
		p.fail(span, f, stompnet.ErrLoginFailed)
		return
	}

	p.username = login
	p.state.CompareAndSwap(int32(AwaitingConnect), int32(Connected))
	p.logger.Debug("logged in", "username", login, "result", res.String())
	p.reg.Send(p.connID, frame.Connected())
}

func (p *Protocol) handleSubscribe(span trace.Span, f frame.Frame) {
	topic, okDest := f.Header(stompnet.HeaderDestination)
	subID, okID := f.Header(stompnet.HeaderID)
	if !okDest || !okID {
		p.fail(span, f, stompnet.ErrMalformedSubscribe)
		return
	}

	p.reg.Subscribe(topic, p.connID, subID)
	p.receipt(f)
}

func (p *Protocol) handleUnsubscribe(span trace.Span, f frame.Frame) {
	subID, ok := f.Header(stompnet.HeaderID)
	if !ok {
		p.fail(span, f, stompnet.ErrMalformedUnsubscribe)
		return
	}

	p.reg.Unsubscribe(subID, p.connID)
	p.receipt(f)
}

func (p *Protocol) handleSend(ctx context.Context, span trace.Span, f frame.Frame) {
	topic, ok := f.Header(stompnet.HeaderDestination)
	if !ok {
		p.fail(span, f, stompnet.ErrMalformedSend)
		return
	}
	if !p.reg.IsSubscribed(topic, p.connID) {
		p.fail(span, f, stompnet.ErrNotSubscribed)
		return
	}

	if filename, ok := f.Header(stompnet.HeaderFilename); ok && p.username != "" {
		if err := p.reg.TrackFileUpload(ctx, p.username, filename, topic); err != nil {
			p.logger.Warn("file upload audit failed", "filename", filename, "topic", topic, "error", err)
		}
	}

	id, delivered := p.reg.Broadcast(topic, f.Body)
	span.SetAttributes(
		attribute.Int64("stomp.message_id", id),
		attribute.Int("stomp.delivered", delivered),
	)
	p.receipt(f)
}

func (p *Protocol) handleDisconnect(f frame.Frame) {
	p.receipt(f)
	p.reg.Disconnect(p.connID)
	p.terminate()
}

func (p *Protocol) receipt(f frame.Frame) {
	if id, ok := f.Header(stompnet.HeaderReceipt); ok {
		p.reg.Send(p.connID, frame.Receipt(id))
	}
}

// fail replies with an ERROR frame, releases the connection's registry state
// and terminates.
func (p *Protocol) fail(span trace.Span, f frame.Frame, message string) {
	p.sendError(span, f, message)
	p.reg.Disconnect(p.connID)
	p.terminate()
}

func (p *Protocol) sendError(span trace.Span, f frame.Frame, message string) {
	span.SetStatus(codes.Error, message)
	p.metrics.ErrorSent(commandLabel(f.Command))
	p.logger.Info("protocol error", "command", f.Command, "message", message)
	p.reg.Send(p.connID, frame.Error(f, message))
}

func (p *Protocol) terminate() {
	p.state.Store(int32(Terminated))
}

// commandLabel bounds metric and span name cardinality to known commands.
func commandLabel(cmd string) string {
	switch cmd {
	case stompnet.CmdConnect, stompnet.CmdSubscribe, stompnet.CmdUnsubscribe,
		stompnet.CmdSend, stompnet.CmdDisconnect:
		return cmd
	default:
		return "UNKNOWN"
	}
}
