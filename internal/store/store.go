// Package store implements the persistence collaborator behind CONNECT:
// credential checks with auto-registration, the single-active-session rule,
// login/logout history and the file-upload audit log.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/luciancaetano/stompnet/internal/config"
)

// LoginResult is the outcome of a login attempt.
type LoginResult int

const (
	// LoggedInSuccessfully means an existing user presented the right password.
	LoggedInSuccessfully LoginResult = iota
	// AddedNewUser means the username was unknown and has been registered.
	AddedNewUser
	// WrongPassword means the username exists with a different password.
	WrongPassword
	// AlreadyLoggedIn means the user, or the connection, already holds an active session.
	AlreadyLoggedIn
)

// Success reports whether the result opens a session.
func (r LoginResult) Success() bool {
	return r == LoggedInSuccessfully || r == AddedNewUser
}

func (r LoginResult) String() string {
	switch r {
	case LoggedInSuccessfully:
		return "LOGGED_IN_SUCCESSFULLY"
	case AddedNewUser:
		return "ADDED_NEW_USER"
	case WrongPassword:
		return "WRONG_PASSWORD"
	case AlreadyLoggedIn:
		return "ALREADY_LOGGED_IN"
	default:
		return "UNKNOWN"
	}
}

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("store: unknown driver")

// Store is the persistence collaborator consumed by the registry.
// Implementations must be safe for concurrent use; in particular two
// concurrent logins for the same username must not both succeed.
type Store interface {
	Login(ctx context.Context, connectionID int64, username, password string) (LoginResult, error)
	// Logout ends the session held by connectionID. It is a no-op when the
	// connection holds none.
	Logout(ctx context.Context, connectionID int64) error
	TrackFileUpload(ctx context.Context, username, filename, topic string) error
	Report(ctx context.Context) (*Report, error)
	Close() error
}

// Report is a snapshot of everything the store has recorded.
type Report struct {
	Users   []User
	Uploads []Upload
}

// User is one registered user with its session history, oldest first.
type User struct {
	Username     string
	RegisteredAt time.Time
	Online       bool
	Sessions     []Session
}

// Session is one login, closed when LogoutAt is set.
type Session struct {
	ID           string
	ConnectionID int64
	LoginAt      time.Time
	LogoutAt     *time.Time
}

// Upload is one audited file report.
type Upload struct {
	ID         string
	Username   string
	Filename   string
	Topic      string
	UploadedAt time.Time
}

// Open constructs the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", config.DriverMemory:
		return NewMemoryStore(), nil
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.SQLite.Path)
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
