package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	. "github.com/roelfdiedericks/pagebot/internal/logging"
)

const sqliteOpenOptions = "?_busy_timeout=5000&_journal_mode=WAL"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS members (
	id         TEXT PRIMARY KEY,
	first_seen INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS subscribers (
	id TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS threads (
	id   TEXT PRIMARY KEY,
	meta BLOB NOT NULL
);`

// SQLiteStore keeps the same three mappings in SQLite. Every mutation is its
// own committed statement or transaction, so Flush has nothing to do.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path. If it cannot be
// opened the store starts empty in memory, mirroring FileStore.Load.
func OpenSQLite(path string) *SQLiteStore {
	s, err := openSQLite(path, path+sqliteOpenOptions)
	if err == nil {
		L_info("store: sqlite opened", "path", path, "members", s.MemberCount(), "subscribers", s.SubscriberCount())
		return s
	}
	L_warn("store: failed to open sqlite, starting empty in memory", "path", path, "error", err)

	s, err = openSQLite(path, ":memory:")
	if err != nil {
		// only reachable if the driver itself is broken
		L_fatal("store: in-memory sqlite unavailable", "error", err)
	}
	return s
}

func openSQLite(path, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// one connection serializes writers and keeps :memory: databases alive
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema creation failed: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Flush is a no-op: writes are committed as they happen.
func (s *SQLiteStore) Flush() error {
	return nil
}

// Member returns the member record for id.
func (s *SQLiteStore) Member(id string) (Member, bool) {
	var firstSeen int64
	err := s.db.QueryRow("SELECT first_seen FROM members WHERE id = ?", id).Scan(&firstSeen)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			L_warn("store: member lookup failed", "id", id, "error", err)
		}
		return Member{}, false
	}
	return Member{ID: id, FirstSeen: time.UnixMilli(firstSeen).UTC()}, true
}

// AddMember inserts id if absent and returns the member count after the call.
func (s *SQLiteStore) AddMember(id string, at time.Time) (int, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, false, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.Exec("INSERT OR IGNORE INTO members (id, first_seen) VALUES (?, ?)", id, at.UTC().UnixMilli())
	if err != nil {
		return 0, false, fmt.Errorf("store: insert member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("store: insert member: %w", err)
	}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM members").Scan(&count); err != nil {
		return 0, false, fmt.Errorf("store: count members: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("store: commit: %w", err)
	}
	return count, n == 1, nil
}

// MemberCount returns the number of registered members.
func (s *SQLiteStore) MemberCount() int {
	return s.count("members")
}

// Subscribe opts id into broadcasts.
func (s *SQLiteStore) Subscribe(id string) error {
	if _, err := s.db.Exec("INSERT OR IGNORE INTO subscribers (id) VALUES (?)", id); err != nil {
		return fmt.Errorf("store: subscribe %s: %w", id, err)
	}
	return nil
}

// Unsubscribe removes id from the subscriber set.
func (s *SQLiteStore) Unsubscribe(id string) error {
	if _, err := s.db.Exec("DELETE FROM subscribers WHERE id = ?", id); err != nil {
		return fmt.Errorf("store: unsubscribe %s: %w", id, err)
	}
	return nil
}

// IsSubscribed reports whether id receives broadcasts.
func (s *SQLiteStore) IsSubscribed(id string) bool {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM subscribers WHERE id = ?", id).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		L_warn("store: subscriber lookup failed", "id", id, "error", err)
	}
	return err == nil
}

// Subscribers returns a sorted snapshot of the subscriber set.
func (s *SQLiteStore) Subscribers() []string {
	rows, err := s.db.Query("SELECT id FROM subscribers ORDER BY id")
	if err != nil {
		L_warn("store: failed to list subscribers", "error", err)
		return []string{}
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			L_warn("store: failed to scan subscriber", "error", err)
			continue
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		L_warn("store: subscriber iteration failed", "error", err)
	}
	return ids
}

// SubscriberCount returns the size of the subscriber set.
func (s *SQLiteStore) SubscriberCount() int {
	return s.count("subscribers")
}

// Thread returns the stored metadata for a conversation.
func (s *SQLiteStore) Thread(id string) (json.RawMessage, bool) {
	var meta []byte
	err := s.db.QueryRow("SELECT meta FROM threads WHERE id = ?", id).Scan(&meta)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			L_warn("store: thread lookup failed", "id", id, "error", err)
		}
		return nil, false
	}
	return json.RawMessage(meta), true
}

// PutThread stores opaque metadata for a conversation.
func (s *SQLiteStore) PutThread(id string, meta json.RawMessage) error {
	if !json.Valid(meta) {
		return fmt.Errorf("thread %s: metadata is not valid JSON", id)
	}
	_, err := s.db.Exec(`INSERT INTO threads (id, meta) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET meta = excluded.meta`, id, []byte(meta))
	if err != nil {
		return fmt.Errorf("store: put thread %s: %w", id, err)
	}
	return nil
}

// count is only called with fixed table names.
func (s *SQLiteStore) count(table string) int {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		L_warn("store: count failed", "table", table, "error", err)
		return 0
	}
	return n
}
