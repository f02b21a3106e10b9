// Package registry is the process-wide table of live connections, topic
// subscriptions and authenticated identities shared by every connection
// handler.
//
// Locking is per connection and per topic; there is no global lock. When both
// are needed the connection lock is taken first. Every (topic, connection)
// subscription refers to a registered connection: Disconnect removes the
// connection and all of its subscriptions while holding the connection lock,
// and Subscribe refuses connections that are already gone.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luciancaetano/stompnet/internal/frame"
	"github.com/luciancaetano/stompnet/internal/logging"
	"github.com/luciancaetano/stompnet/internal/metrics"
	"github.com/luciancaetano/stompnet/internal/store"
)

// ErrUnknownConnection is returned by Login for a connection that is not
// registered or has already been disconnected.
var ErrUnknownConnection = errors.New("registry: unknown connection")

// DefaultStoreTimeout bounds every call into the store.
const DefaultStoreTimeout = 5 * time.Second

// Conn is the write side of a connection handler.
type Conn interface {
	// Send writes one serialized frame. It must be safe for concurrent use.
	Send(msg string) error
}

type connEntry struct {
	conn Conn

	mu       sync.Mutex
	closed   atomic.Bool // written under mu
	topics   map[string]struct{}
	username string
}

type topic struct {
	name string

	mu   sync.RWMutex
	dead bool             // removed from Registry.topics
	subs map[int64]string // connection id -> subscription id
}

// Registry maps connection ids to their handlers and topics to subscribers.
// It is safe for concurrent use.
type Registry struct {
	store        store.Store
	logger       *slog.Logger
	metrics      *metrics.Collector
	storeTimeout time.Duration

	conns  sync.Map // int64 -> *connEntry
	topics sync.Map // string -> *topic
	nextID atomic.Int64
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics records registry activity on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Registry) { r.metrics = c }
}

// WithStoreTimeout bounds every store call. Non-positive values are ignored.
func WithStoreTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.storeTimeout = d
		}
	}
}

// New returns an empty Registry backed by st.
func New(st store.Store, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:        st,
		logger:       logging.OrDefault(logger).With("component", "registry"),
		storeTimeout: DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a connection. It returns false, leaving the existing entry in
// place, if id is already registered.
func (r *Registry) Register(id int64, conn Conn) bool {
	e := &connEntry{conn: conn, topics: make(map[string]struct{})}
	if _, loaded := r.conns.LoadOrStore(id, e); loaded {
		r.logger.Error("connection id registered twice", "conn_id", id)
		return false
	}
	r.metrics.ConnectionRegistered()
	return true
}

func (r *Registry) entry(id int64) (*connEntry, bool) {
	v, ok := r.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*connEntry), true
}

// Send hands f to the connection's write path. It returns false when the
// connection is not registered; a failed write still counts as handed off
// and is left to the owning handler to notice.
func (r *Registry) Send(id int64, f frame.Frame) bool {
	e, ok := r.entry(id)
	if !ok || e.closed.Load() {
		return false
	}
	if err := e.conn.Send(f.String()); err != nil {
		r.logger.Debug("send failed", "conn_id", id, "command", f.Command, "error", err)
	}
	return true
}

// Broadcast delivers body to every current subscriber of name as a MESSAGE
// frame carrying the subscriber's own subscription id. One message id is
// allocated per call, even when nobody is subscribed. It returns that id and
// the number of connections the frame was handed to.
func (r *Registry) Broadcast(name, body string) (messageID int64, delivered int) {
	messageID = r.nextID.Add(1) - 1

	v, ok := r.topics.Load(name)
	if !ok {
		return messageID, 0
	}
	t := v.(*topic)

	type target struct {
		connID int64
		subID  string
	}
	t.mu.RLock()
	targets := make([]target, 0, len(t.subs))
	for connID, subID := range t.subs {
		targets = append(targets, target{connID, subID})
	}
	t.mu.RUnlock()

	id := strconv.FormatInt(messageID, 10)
	for _, tg := range targets {
		if r.Send(tg.connID, frame.Message(tg.subID, id, name, body)) {
			delivered++
		}
	}
	r.metrics.MessagesDelivered(delivered)
	return messageID, delivered
}

// Subscribe records subID as connID's subscription to name, replacing any
// previous subscription id for the same topic. It returns false when the
// connection is not registered.
func (r *Registry) Subscribe(name string, connID int64, subID string) bool {
	e, ok := r.entry(connID)
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return false
	}

	for {
		v, _ := r.topics.LoadOrStore(name, &topic{name: name, subs: make(map[int64]string)})
		t := v.(*topic)

		t.mu.Lock()
		if t.dead {
			t.mu.Unlock()
			continue
		}
		_, existed := t.subs[connID]
		t.subs[connID] = subID
		t.mu.Unlock()

		e.topics[name] = struct{}{}
		if !existed {
			r.metrics.SubscriptionsChanged(1)
		}
		return true
	}
}

// Unsubscribe removes connID's subscription whose id is subID. It is a no-op
// when no topic records that subscription id for the connection.
func (r *Registry) Unsubscribe(subID string, connID int64) {
	e, ok := r.entry(connID)
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name := range e.topics {
		if r.removeSubscriber(name, connID, subID, true) {
			delete(e.topics, name)
		}
	}
}

// removeSubscriber deletes connID from the topic, only when its subscription
// id equals subID if matchID is set. Empty topics are dropped. Caller holds
// the connection lock.
func (r *Registry) removeSubscriber(name string, connID int64, subID string, matchID bool) bool {
	v, ok := r.topics.Load(name)
	if !ok {
		return false
	}
	t := v.(*topic)

	t.mu.Lock()
	defer t.mu.Unlock()

	got, ok := t.subs[connID]
	if !ok || (matchID && got != subID) {
		return false
	}
	delete(t.subs, connID)
	if len(t.subs) == 0 {
		t.dead = true
		r.topics.CompareAndDelete(name, t)
	}
	r.metrics.SubscriptionsChanged(-1)
	return true
}

// IsSubscribed reports whether connID holds a subscription to name.
func (r *Registry) IsSubscribed(name string, connID int64) bool {
	v, ok := r.topics.Load(name)
	if !ok {
		return false
	}
	t := v.(*topic)

	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok = t.subs[connID]
	return ok
}

// Subscribers returns the connection ids subscribed to name.
func (r *Registry) Subscribers(name string) []int64 {
	v, ok := r.topics.Load(name)
	if !ok {
		return nil
	}
	t := v.(*topic)

	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]int64, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	return ids
}

// Login authenticates connID through the store and, on success, records the
// username against the connection.
func (r *Registry) Login(ctx context.Context, connID int64, username, password string) (store.LoginResult, error) {
	e, ok := r.entry(connID)
	if !ok {
		return store.WrongPassword, ErrUnknownConnection
	}

	// Holding the connection lock orders the store session against Disconnect.
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return store.WrongPassword, ErrUnknownConnection
	}

	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	res, err := r.store.Login(ctx, connID, username, password)
	if err != nil {
		r.metrics.Login("error")
		return res, err
	}
	r.metrics.Login(res.String())
	if res.Success() {
		e.username = username
	}
	return res, nil
}

// Username returns the identity connID authenticated as, if any.
func (r *Registry) Username(connID int64) (string, bool) {
	e, ok := r.entry(connID)
	if !ok {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.username, e.username != ""
}

// TrackFileUpload forwards a file-upload audit record to the store.
func (r *Registry) TrackFileUpload(ctx context.Context, username, filename, topic string) error {
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	if err := r.store.TrackFileUpload(ctx, username, filename, topic); err != nil {
		return err
	}
	r.metrics.FileUploaded()
	return nil
}

// Disconnect removes connID and all of its subscriptions and ends its store
// session. Calling it again, or for an unknown id, is a no-op.
func (r *Registry) Disconnect(connID int64) {
	e, ok := r.entry(connID)
	if !ok {
		return
	}

	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		return
	}
	e.closed.Store(true)
	for name := range e.topics {
		r.removeSubscriber(name, connID, "", false)
	}
	e.topics = nil
	username := e.username
	r.conns.CompareAndDelete(connID, e)
	e.mu.Unlock()

	r.metrics.ConnectionRemoved()

	ctx, cancel := context.WithTimeout(context.Background(), r.storeTimeout)
	defer cancel()
	if err := r.store.Logout(ctx, connID); err != nil {
		r.logger.Warn("store logout failed", "conn_id", connID, "username", username, "error", err)
	}
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	n := 0
	r.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
