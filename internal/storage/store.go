// Package storage is the live message store: recipients, threads, groups,
// messages and attachment records in a single SQLite database.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DatabaseFileName is the live store file under the data directory's
// databases/ subtree. The mirror copies it as an opaque blob.
const DatabaseFileName = "messages.db"

var ErrNoSelf = errors.New("storage: no self recipient registered")

const schema = `
CREATE TABLE IF NOT EXISTS recipients (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	address       TEXT NOT NULL UNIQUE,
	display_name  TEXT NOT NULL DEFAULT '',
	self          INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS threads (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	recipient_id  INTEGER NOT NULL UNIQUE REFERENCES recipients(id),
	snippet       TEXT NOT NULL DEFAULT '',
	date          INTEGER NOT NULL DEFAULT 0,
	message_count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS group_records (
	recipient_id  INTEGER PRIMARY KEY REFERENCES recipients(id),
	title         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS group_members (
	group_recipient_id  INTEGER NOT NULL REFERENCES group_records(recipient_id),
	member_recipient_id INTEGER NOT NULL REFERENCES recipients(id),
	PRIMARY KEY (group_recipient_id, member_recipient_id)
);
CREATE TABLE IF NOT EXISTS messages (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	from_recipient_id INTEGER NOT NULL REFERENCES recipients(id),
	to_recipient_id   INTEGER NOT NULL REFERENCES recipients(id),
	thread_id         INTEGER NOT NULL REFERENCES threads(id),
	date_sent         INTEGER NOT NULL,
	date_received     INTEGER NOT NULL,
	read              INTEGER NOT NULL DEFAULT 0,
	status            INTEGER NOT NULL DEFAULT -1,
	type              INTEGER NOT NULL,
	body              TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_messages_dedup
	ON messages(thread_id, date_sent, from_recipient_id);
CREATE TABLE IF NOT EXISTS attachments (
	id           TEXT PRIMARY KEY,
	message_id   INTEGER NOT NULL REFERENCES messages(id),
	content_type TEXT NOT NULL,
	file_name    TEXT NOT NULL DEFAULT '',
	path         TEXT NOT NULL,
	size         INTEGER NOT NULL DEFAULT 0,
	voice_note   INTEGER NOT NULL DEFAULT 0,
	caption      TEXT NOT NULL DEFAULT ''
);
`

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// directory lookups work both on the pool and inside an import transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the live store under dataDir/databases.
func Open(dataDir string) (*Store, error) {
	dbDir := filepath.Join(dataDir, "databases")
	if err := os.MkdirAll(dbDir, 0o700); err != nil {
		return nil, err
	}
	return OpenPath(filepath.Join(dbDir, DatabaseFileName))
}

// OpenPath opens the live store at an explicit file path (":memory:" works).
func OpenPath(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open live store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
