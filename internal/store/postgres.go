package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luciancaetano/stompnet/internal/config"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	username      TEXT PRIMARY KEY,
	password      TEXT NOT NULL,
	registered_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS login_history (
	id            UUID PRIMARY KEY,
	username      TEXT NOT NULL REFERENCES users(username),
	connection_id BIGINT NOT NULL,
	login_at      TIMESTAMPTZ NOT NULL,
	logout_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_login_history_user ON login_history(username, login_at);

CREATE TABLE IF NOT EXISTS active_sessions (
	username      TEXT PRIMARY KEY REFERENCES users(username),
	connection_id BIGINT NOT NULL UNIQUE,
	session_id    UUID NOT NULL
);

CREATE TABLE IF NOT EXISTS file_uploads (
	id          UUID PRIMARY KEY,
	username    TEXT NOT NULL,
	filename    TEXT NOT NULL,
	topic       TEXT NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL
);
`

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.PostgresConfig) string {
	// URL-encode password to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		escapedPassword,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}

// PostgresStore persists users, sessions and uploads in PostgreSQL.
// It assumes a single broker process owns the database.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// OpenPostgres connects, migrates and closes any sessions left open by a
// previous process.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	poolCfg.MinConns = int32(cfg.MinConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, now: time.Now}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	if err := s.closeStaleSessions(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("close stale sessions: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) closeStaleSessions(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE login_history SET logout_at = $1 WHERE logout_at IS NULL`, s.now()); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM active_sessions`)
		return err
	})
}

// Login checks the password (registering unknown users) and opens a session.
func (s *PostgresStore) Login(ctx context.Context, connectionID int64, username, password string) (LoginResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return WrongPassword, fmt.Errorf("begin login: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now()
	result := LoggedInSuccessfully

	tag, err := tx.Exec(ctx,
		`INSERT INTO users (username, password, registered_at) VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO NOTHING`,
		username, password, now)
	if err != nil {
		return WrongPassword, fmt.Errorf("insert user: %w", err)
	}
	if tag.RowsAffected() == 1 {
		result = AddedNewUser
	} else {
		var stored string
		if err := tx.QueryRow(ctx,
			`SELECT password FROM users WHERE username = $1`, username).Scan(&stored); err != nil {
			return WrongPassword, fmt.Errorf("select user: %w", err)
		}
		if stored != password {
			return WrongPassword, nil
		}
	}

	sessionID := uuid.New()
	tag, err = tx.Exec(ctx,
		`INSERT INTO active_sessions (username, connection_id, session_id) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`,
		username, connectionID, sessionID)
	if err != nil {
		return WrongPassword, fmt.Errorf("insert active session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return AlreadyLoggedIn, nil
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO login_history (id, username, connection_id, login_at) VALUES ($1, $2, $3, $4)`,
		sessionID, username, connectionID, now); err != nil {
		return WrongPassword, fmt.Errorf("insert login history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return WrongPassword, fmt.Errorf("commit login: %w", err)
	}
	return result, nil
}

// Logout closes the session held by connectionID, if any.
func (s *PostgresStore) Logout(ctx context.Context, connectionID int64) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var sessionID uuid.UUID
		err := tx.QueryRow(ctx,
			`DELETE FROM active_sessions WHERE connection_id = $1 RETURNING session_id`,
			connectionID).Scan(&sessionID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("delete active session: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE login_history SET logout_at = $1 WHERE id = $2`, s.now(), sessionID); err != nil {
			return fmt.Errorf("update login history: %w", err)
		}
		return nil
	})
}

// TrackFileUpload appends an audit record.
func (s *PostgresStore) TrackFileUpload(ctx context.Context, username, filename, topic string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO file_uploads (id, username, filename, topic, uploaded_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), username, filename, topic, s.now())
	if err != nil {
		return fmt.Errorf("insert file upload: %w", err)
	}
	return nil
}

// Report returns users sorted by name and uploads in arrival order.
func (s *PostgresStore) Report(ctx context.Context) (*Report, error) {
	b := newReportBuilder()

	rows, err := s.pool.Query(ctx, `
		SELECT u.username, u.registered_at, a.username IS NOT NULL
		FROM users u LEFT JOIN active_sessions a ON a.username = u.username
		ORDER BY u.username`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	var (
		name   string
		regAt  time.Time
		online bool
	)
	_, err = pgx.ForEachRow(rows, []any{&name, &regAt, &online}, func() error {
		b.addUser(name, regAt, online)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, username, connection_id, login_at, logout_at
		FROM login_history ORDER BY login_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query login history: %w", err)
	}
	var (
		sessID   uuid.UUID
		connID   int64
		loginAt  time.Time
		logoutAt *time.Time
	)
	_, err = pgx.ForEachRow(rows, []any{&sessID, &name, &connID, &loginAt, &logoutAt}, func() error {
		sess := Session{ID: sessID.String(), ConnectionID: connID, LoginAt: loginAt}
		if logoutAt != nil {
			t := *logoutAt
			sess.LogoutAt = &t
		}
		b.addSession(name, sess)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan login history: %w", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, username, filename, topic, uploaded_at
		FROM file_uploads ORDER BY uploaded_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query file uploads: %w", err)
	}
	var (
		upID uuid.UUID
		up   Upload
	)
	_, err = pgx.ForEachRow(rows, []any{&upID, &up.Username, &up.Filename, &up.Topic, &up.UploadedAt}, func() error {
		up.ID = upID.String()
		b.addUpload(up)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan file uploads: %w", err)
	}

	return b.report(), nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
