package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists session records in a local SQLite database. Used
// when no DATABASE_URL is configured.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates) the database at dbPath.
// If dbPath is empty, defaults to "./data/relay.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/relay.db"
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		participants TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		last_activity TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		message_count INTEGER NOT NULL DEFAULT 0,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(active);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveSession inserts or replaces a session record. Timestamps are
// stored as ISO-8601 text.
func (s *SQLiteStore) SaveSession(ctx context.Context, rec *Record) error {
	participants, err := json.Marshal(rec.Participants)
	if err != nil {
		return err
	}
	var metadata *string
	if rec.Metadata != nil {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return err
		}
		str := string(data)
		metadata = &str
	}

	activeInt := 0
	if rec.Active {
		activeInt = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (id, kind, participants, created_at, last_activity, active, message_count, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Kind, string(participants),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.LastActivity.UTC().Format(time.RFC3339Nano),
		activeInt, rec.MessageCount, metadata)
	return err
}

// GetSession retrieves one record, or nil when absent.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, participants, created_at, last_activity, active, message_count, metadata
		FROM sessions WHERE id = ?
	`, id)

	rec, err := scanRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// ListSessions returns every stored record, most recently active first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, participants, created_at, last_activity, active, message_count, metadata
		FROM sessions
		ORDER BY last_activity DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// SetActive flips the active flag.
func (s *SQLiteStore) SetActive(ctx context.Context, id string, active bool) error {
	activeInt := 0
	if active {
		activeInt = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET active = ? WHERE id = ?`, activeInt, id)
	return err
}

func scanRecord(scan func(dest ...any) error) (*Record, error) {
	rec := &Record{}
	var participants string
	var createdAt, lastActivity string
	var activeInt int
	var metadata *string

	if err := scan(
		&rec.ID,
		&rec.Kind,
		&participants,
		&createdAt,
		&lastActivity,
		&activeInt,
		&rec.MessageCount,
		&metadata,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(participants), &rec.Participants); err != nil {
		return nil, err
	}
	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if rec.LastActivity, err = time.Parse(time.RFC3339Nano, lastActivity); err != nil {
		return nil, err
	}
	rec.Active = activeInt == 1
	if metadata != nil {
		if err := json.Unmarshal([]byte(*metadata), &rec.Metadata); err != nil {
			return nil, err
		}
	}
	return rec, nil
}
