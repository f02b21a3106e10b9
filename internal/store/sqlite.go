package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	username      TEXT PRIMARY KEY,
	password      TEXT NOT NULL,
	registered_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS login_history (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL REFERENCES users(username),
	connection_id INTEGER NOT NULL,
	login_at      INTEGER NOT NULL,
	logout_at     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_login_history_user ON login_history(username, login_at);

CREATE TABLE IF NOT EXISTS active_sessions (
	username      TEXT PRIMARY KEY REFERENCES users(username),
	connection_id INTEGER NOT NULL UNIQUE,
	session_id    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS file_uploads (
	id          TEXT PRIMARY KEY,
	username    TEXT NOT NULL,
	filename    TEXT NOT NULL,
	topic       TEXT NOT NULL,
	uploaded_at INTEGER NOT NULL
);
`

// SQLiteStore persists users, sessions and uploads in a SQLite file.
// Timestamps are stored as Unix nanoseconds.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path, migrates it
// and closes any sessions left open by a previous process.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	if err := s.closeStaleSessions(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("close stale sessions: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) closeStaleSessions(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.now().UnixNano()
	if _, err := tx.ExecContext(ctx,
		`UPDATE login_history SET logout_at = ? WHERE logout_at IS NULL`, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM active_sessions`); err != nil {
		return err
	}
	return tx.Commit()
}

// Login checks the password (registering unknown users) and opens a session.
func (s *SQLiteStore) Login(ctx context.Context, connectionID int64, username, password string) (LoginResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return WrongPassword, fmt.Errorf("begin login: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UnixNano()
	result := LoggedInSuccessfully

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (username, password, registered_at) VALUES (?, ?, ?)`,
		username, password, now)
	if err != nil {
		return WrongPassword, fmt.Errorf("insert user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		result = AddedNewUser
	} else {
		var stored string
		if err := tx.QueryRowContext(ctx,
			`SELECT password FROM users WHERE username = ?`, username).Scan(&stored); err != nil {
			return WrongPassword, fmt.Errorf("select user: %w", err)
		}
		if stored != password {
			return WrongPassword, nil
		}
	}

	sessionID := uuid.NewString()
	res, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO active_sessions (username, connection_id, session_id) VALUES (?, ?, ?)`,
		username, connectionID, sessionID)
	if err != nil {
		return WrongPassword, fmt.Errorf("insert active session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return AlreadyLoggedIn, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO login_history (id, username, connection_id, login_at) VALUES (?, ?, ?, ?)`,
		sessionID, username, connectionID, now); err != nil {
		return WrongPassword, fmt.Errorf("insert login history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return WrongPassword, fmt.Errorf("commit login: %w", err)
	}
	return result, nil
}

// Logout closes the session held by connectionID, if any.
func (s *SQLiteStore) Logout(ctx context.Context, connectionID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin logout: %w", err)
	}
	defer tx.Rollback()

	var sessionID string
	err = tx.QueryRowContext(ctx,
		`SELECT session_id FROM active_sessions WHERE connection_id = ?`, connectionID).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select active session: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM active_sessions WHERE connection_id = ?`, connectionID); err != nil {
		return fmt.Errorf("delete active session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE login_history SET logout_at = ? WHERE id = ?`, s.now().UnixNano(), sessionID); err != nil {
		return fmt.Errorf("update login history: %w", err)
	}
	return tx.Commit()
}

// TrackFileUpload appends an audit record.
func (s *SQLiteStore) TrackFileUpload(ctx context.Context, username, filename, topic string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_uploads (id, username, filename, topic, uploaded_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), username, filename, topic, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("insert file upload: %w", err)
	}
	return nil
}

// Report returns users sorted by name and uploads in arrival order.
func (s *SQLiteStore) Report(ctx context.Context) (*Report, error) {
	b := newReportBuilder()

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.username, u.registered_at, a.username IS NOT NULL
		FROM users u LEFT JOIN active_sessions a ON a.username = u.username
		ORDER BY u.username`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	for rows.Next() {
		var (
			name   string
			regAt  int64
			online bool
		)
		if err := rows.Scan(&name, &regAt, &online); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan user: %w", err)
		}
		b.addUser(name, time.Unix(0, regAt), online)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, username, connection_id, login_at, logout_at
		FROM login_history ORDER BY login_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query login history: %w", err)
	}
	for rows.Next() {
		var (
			sess     Session
			name     string
			loginAt  int64
			logoutAt sql.NullInt64
		)
		if err := rows.Scan(&sess.ID, &name, &sess.ConnectionID, &loginAt, &logoutAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.LoginAt = time.Unix(0, loginAt)
		if logoutAt.Valid {
			t := time.Unix(0, logoutAt.Int64)
			sess.LogoutAt = &t
		}
		b.addSession(name, sess)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("query login history: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, username, filename, topic, uploaded_at
		FROM file_uploads ORDER BY uploaded_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query file uploads: %w", err)
	}
	for rows.Next() {
		var (
			up Upload
			at int64
		)
		if err := rows.Scan(&up.ID, &up.Username, &up.Filename, &up.Topic, &at); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		up.UploadedAt = time.Unix(0, at)
		b.addUpload(up)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("query file uploads: %w", err)
	}

	return b.report(), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}
