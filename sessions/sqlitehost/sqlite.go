// Package sqlitehost implements sessions.Host on a single SQLite database
// file, for single-node deployments that must survive restarts.
//
// All access goes through one connection, so every UpdateSession transaction
// is serialized and observes the previous writer's commit.
package sqlitehost

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ggoodman/mcp-toolhost/sessions"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	user_id    TEXT NOT NULL DEFAULT '',
	data       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
`

// Host stores sessions in SQLite.
type Host struct {
	db *sql.DB
}

var _ sessions.Host = (*Host)(nil)

// New opens (or creates) the database at path and ensures the schema exists.
// The special path ":memory:" yields a private in-memory database.
func New(path string) (*Host, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Host{db: db}, nil
}

// Close closes the underlying database.
func (h *Host) Close() error { return h.db.Close() }

func (h *Host) CreateSession(ctx context.Context, s *sessions.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	res, err := h.db.ExecContext(ctx,
		`INSERT INTO sessions (id, state, user_id, data, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		s.ID, string(s.State), s.UserID, string(data), s.UpdatedAt.UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if n == 0 {
		return sessions.ErrSessionExists
	}
	return nil
}

func (h *Host) GetSession(ctx context.Context, id string) (*sessions.Session, bool, error) {
	s, err := loadSession(ctx, h.db, id)
	if errors.Is(err, sessions.ErrSessionNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func (h *Host) UpdateSession(ctx context.Context, id string, fn sessions.UpdateFunc) (*sessions.Session, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cur, err := loadSession(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(cur); err != nil {
		return nil, err
	}
	cur.ID = id

	data, err := json.Marshal(cur)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET state = ?, user_id = ?, data = ?, updated_at = ? WHERE id = ?`,
		string(cur.State), cur.UserID, string(data), cur.UpdatedAt.UTC().Format(timeFormat), id); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return cur, nil
}

func (h *Host) DeleteSession(ctx context.Context, id string) error {
	res, err := h.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return sessions.ErrSessionNotFound
	}
	return nil
}

const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadSession(ctx context.Context, q querier, id string) (*sessions.Session, error) {
	var data string
	err := q.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sessions.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	var s sessions.Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}
