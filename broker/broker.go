// Package broker assembles the pieces every transport shares: the session
// store, the connection registry and the STOMP protocol bound to them.
//
// A Broker is transport agnostic. Hand Protocol and Registry to any number
// of tcp and ws servers and they will deliver each other's messages.
//
//	b := broker.New(broker.MemoryStore(), broker.WithLogger(logger))
//	defer b.Close()
//	srv := tcp.ThreadPerClient(tcp.Config{Addr: ":7777", Protocol: b.Protocol(), Registry: b.Registry()})
package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/luciancaetano/stompnet"
	"github.com/luciancaetano/stompnet/internal/config"
	"github.com/luciancaetano/stompnet/internal/logging"
	"github.com/luciancaetano/stompnet/internal/metrics"
	"github.com/luciancaetano/stompnet/internal/registry"
	"github.com/luciancaetano/stompnet/internal/stomp"
	"github.com/luciancaetano/stompnet/internal/store"
)

type (
	// Store persists users, sessions and upload audits.
	Store = store.Store
	// StoreConfig selects and configures a Store driver.
	StoreConfig = config.StoreConfig
	// Report is a snapshot of users, their sessions and uploads.
	Report = store.Report
	// Metrics is a Prometheus collector shared by every component.
	Metrics = metrics.Collector
	// Registry is the connection registry as seen by transports.
	Registry = *registry.Registry
)

// MemoryStore returns an empty in-memory Store.
func MemoryStore() Store {
	return store.NewMemoryStore()
}

// OpenStore opens the Store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	return store.Open(ctx, cfg)
}

// NewMetrics registers the broker's collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return metrics.New(reg)
}

// Broker owns a Store and the Registry built on it.
type Broker struct {
	store    Store
	registry *registry.Registry
	logger   *slog.Logger
	metrics  *metrics.Collector
	tracer   trace.TracerProvider
	timeout  time.Duration
}

// Option configures a Broker.
type Option func(*Broker)

func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(b *Broker) { b.metrics = m }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(b *Broker) { b.tracer = tp }
}

// WithStoreTimeout bounds every store call made on behalf of a connection.
func WithStoreTimeout(d time.Duration) Option {
	return func(b *Broker) { b.timeout = d }
}

// New returns a Broker backed by st.
func New(st Store, opts ...Option) *Broker {
	b := &Broker{store: st, timeout: registry.DefaultStoreTimeout}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.OrDefault(b.logger)
	b.registry = registry.New(st, b.logger,
		registry.WithMetrics(b.metrics),
		registry.WithStoreTimeout(b.timeout),
	)
	return b
}

// Protocol returns a factory for STOMP protocols bound to the broker's registry.
func (b *Broker) Protocol() stompnet.ProtocolFactory {
	opts := []stomp.Option{stomp.WithMetrics(b.metrics)}
	if b.tracer != nil {
		opts = append(opts, stomp.WithTracerProvider(b.tracer))
	}
	return stomp.Factory(b.registry, b.logger, opts...)
}

func (b *Broker) Registry() Registry {
	return b.registry
}

// Report returns a snapshot of the store.
func (b *Broker) Report(ctx context.Context) (*Report, error) {
	return b.store.Report(ctx)
}

// Close closes the underlying store.
func (b *Broker) Close() error {
	return b.store.Close()
}
