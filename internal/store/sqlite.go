package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/ansuz/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL DEFAULT '',
	payload       TEXT NOT NULL,
	last_modified INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT ''
);
`

const activeIDKey = "active_session_id"

// SQLite is a Provider backed by a single SQLite database file.
type SQLite struct {
	dsn  string
	conn *sql.DB
}

// NewSQLite creates a provider for the database at dsn. The database is not
// touched until Open.
func NewSQLite(dsn string) *SQLite {
	return &SQLite{dsn: dsn}
}

// Open opens (or creates) the database and applies the schema.
func (s *SQLite) Open() error {
	conn, err := sql.Open("sqlite3", s.dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return fmt.Errorf("store: apply schema: %w", err)
	}
	s.conn = conn
	return nil
}

// Flush is a no-op: every write commits durably.
func (s *SQLite) Flush() error { return nil }

// Close closes the underlying connection.
func (s *SQLite) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// SaveSessions replaces the stored collection in one transaction.
func (s *SQLite) SaveSessions(sessions []*models.Session) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("store: clear sessions: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO sessions (id, title, payload, last_modified) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, sess := range sessions {
		payload, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("store: marshal session %s: %w", sess.ID, err)
		}
		if _, err := stmt.Exec(sess.ID, sess.Title, string(payload), sess.LastModified); err != nil {
			return fmt.Errorf("store: insert session %s: %w", sess.ID, err)
		}
	}

	return tx.Commit()
}

// LoadSessions returns every stored session, most recently modified first.
func (s *SQLite) LoadSessions() ([]*models.Session, error) {
	rows, err := s.conn.Query(`SELECT payload FROM sessions ORDER BY last_modified DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: load sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var sess models.Session
		if err := json.Unmarshal([]byte(payload), &sess); err != nil {
			return nil, fmt.Errorf("store: unmarshal session: %w", err)
		}
		if sess.MessageMap == nil {
			sess.MessageMap = make(map[string]*models.Message)
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// SaveActiveID persists the focused session id; "" deletes the marker.
func (s *SQLite) SaveActiveID(id string) error {
	if id == "" {
		_, err := s.conn.Exec(`DELETE FROM settings WHERE key = ?`, activeIDKey)
		return err
	}
	return s.SaveSetting(activeIDKey, id)
}

// LoadActiveID returns the stored active session id, or "".
func (s *SQLite) LoadActiveID() (string, error) {
	return s.LoadSetting(activeIDKey)
}

// SaveSetting upserts one settings row.
func (s *SQLite) SaveSetting(key, value string) error {
	_, err := s.conn.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("store: save setting %s: %w", key, err)
	}
	return nil
}

// LoadSetting returns the value for key, or "" when absent.
func (s *SQLite) LoadSetting(key string) (string, error) {
	var value string
	err := s.conn.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: load setting %s: %w", key, err)
	}
	return value, nil
}

var _ Provider = (*SQLite)(nil)
