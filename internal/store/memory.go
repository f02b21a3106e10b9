package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryUser struct {
	password     string
	registeredAt time.Time
	sessions     []Session
}

type activeSession struct {
	username  string
	sessionID string
}

// MemoryStore keeps everything in process memory. It is the default store
// and the one used by tests.
type MemoryStore struct {
	mu      sync.Mutex
	users   map[string]*memoryUser
	active  map[string]int64 // username -> connection id
	byConn  map[int64]activeSession
	uploads []Upload
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]*memoryUser),
		active: make(map[string]int64),
		byConn: make(map[int64]activeSession),
		now:    time.Now,
	}
}

// Login checks the password (registering unknown users) and opens a session.
func (s *MemoryStore) Login(ctx context.Context, connectionID int64, username, password string) (LoginResult, error) {
	if err := ctx.Err(); err != nil {
		return WrongPassword, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := LoggedInSuccessfully
	u, ok := s.users[username]
	if ok {
		if u.password != password {
			return WrongPassword, nil
		}
	}
	if _, busy := s.active[username]; busy {
		return AlreadyLoggedIn, nil
	}
	if _, busy := s.byConn[connectionID]; busy {
		return AlreadyLoggedIn, nil
	}
	now := s.now()
	if !ok {
		u = &memoryUser{password: password, registeredAt: now}
		s.users[username] = u
		result = AddedNewUser
	}

	id := uuid.NewString()
	u.sessions = append(u.sessions, Session{ID: id, ConnectionID: connectionID, LoginAt: now})
	s.active[username] = connectionID
	s.byConn[connectionID] = activeSession{username: username, sessionID: id}
	return result, nil
}

// Logout closes the session held by connectionID, if any.
func (s *MemoryStore) Logout(ctx context.Context, connectionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byConn[connectionID]
	if !ok {
		return nil
	}
	delete(s.byConn, connectionID)
	delete(s.active, sess.username)

	if u := s.users[sess.username]; u != nil {
		for i := range u.sessions {
			if u.sessions[i].ID == sess.sessionID {
				t := s.now()
				u.sessions[i].LogoutAt = &t
				break
			}
		}
	}
	return nil
}

// TrackFileUpload appends an audit record.
func (s *MemoryStore) TrackFileUpload(ctx context.Context, username, filename, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.uploads = append(s.uploads, Upload{
		ID:         uuid.NewString(),
		Username:   username,
		Filename:   filename,
		Topic:      topic,
		UploadedAt: s.now(),
	})
	return nil
}

// Report returns users sorted by name and uploads in arrival order.
func (s *MemoryStore) Report(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &Report{Uploads: append([]Upload(nil), s.uploads...)}
	for name, u := range s.users {
		_, online := s.active[name]
		r.Users = append(r.Users, User{
			Username:     name,
			RegisteredAt: u.registeredAt,
			Online:       online,
			Sessions:     append([]Session(nil), u.sessions...),
		})
	}
	sort.Slice(r.Users, func(i, j int) bool { return r.Users[i].Username < r.Users[j].Username })
	return r, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
