// Package store persists session bookkeeping rows in SQLite so sessions
// survive a process restart. Restored sessions necessarily come back with
// no live subprocess; only the resumption token and thread markers matter.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
const SchemaVersion = 1

// SessionRow is one persisted conversation.
type SessionRow struct {
	ConversationID string
	ChannelID      string
	Kind           string // "chat", "alert", "delay-alert"
	ResumeToken    string
	LastMarker     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DB wraps a SQLite database for session persistence. Thread-safe for
// concurrent use within one process; WAL mode + busy timeout cover
// cross-process access.
type DB struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at dbPath with WAL mode and
// busy timeout.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: busy timeout: %w", err)
	}

	return &DB{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *DB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Migrate creates tables if they don't exist.
func (s *DB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("store: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			conversation_id TEXT PRIMARY KEY,
			channel_id      TEXT NOT NULL,
			kind            TEXT NOT NULL DEFAULT 'chat',
			resume_token    TEXT NOT NULL DEFAULT '',
			last_marker     TEXT NOT NULL DEFAULT '',
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("store: create sessions: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("store: set schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit migrate: %w", err)
	}
	return nil
}

// UpsertSession inserts or replaces one session row.
func (s *DB) UpsertSession(row *SessionRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	row.UpdatedAt = time.Now()

	_, err := s.db.Exec(`
		INSERT INTO sessions (conversation_id, channel_id, kind, resume_token, last_marker, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			channel_id   = excluded.channel_id,
			kind         = excluded.kind,
			resume_token = excluded.resume_token,
			last_marker  = excluded.last_marker,
			updated_at   = excluded.updated_at
	`, row.ConversationID, row.ChannelID, row.Kind, row.ResumeToken, row.LastMarker,
		row.CreatedAt.Unix(), row.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("store: upsert session %s: %w", row.ConversationID, err)
	}
	return nil
}

// DeleteSession removes a session row. Deleting a missing row is not an error.
func (s *DB) DeleteSession(conversationID string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("store: delete session %s: %w", conversationID, err)
	}
	return nil
}

// ListSessionsByKind returns all rows of one kind, oldest first.
func (s *DB) ListSessionsByKind(kind string) ([]*SessionRow, error) {
	rows, err := s.db.Query(`
		SELECT conversation_id, channel_id, kind, resume_token, last_marker, created_at, updated_at
		FROM sessions WHERE kind = ? ORDER BY created_at ASC
	`, kind)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionRow
	for rows.Next() {
		var r SessionRow
		var created, updated int64
		if err := rows.Scan(&r.ConversationID, &r.ChannelID, &r.Kind, &r.ResumeToken,
			&r.LastMarker, &created, &updated); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		r.CreatedAt = time.Unix(created, 0)
		r.UpdatedAt = time.Unix(updated, 0)
		out = append(out, &r)
	}
	return out, rows.Err()
}
