package sessionstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists session records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool and initializes the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			participants JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL,
			last_activity TIMESTAMPTZ NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			message_count BIGINT NOT NULL DEFAULT 0,
			metadata JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(active);
		CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity);
	`)
	return err
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveSession inserts or replaces a session record.
func (s *PostgresStore) SaveSession(ctx context.Context, rec *Record) error {
	participants, err := json.Marshal(rec.Participants)
	if err != nil {
		return err
	}
	var metadata []byte
	if rec.Metadata != nil {
		if metadata, err = json.Marshal(rec.Metadata); err != nil {
			return err
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (id, kind, participants, created_at, last_activity, active, message_count, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			participants = EXCLUDED.participants,
			last_activity = EXCLUDED.last_activity,
			active = EXCLUDED.active,
			message_count = EXCLUDED.message_count,
			metadata = EXCLUDED.metadata
	`, rec.ID, rec.Kind, participants, rec.CreatedAt, rec.LastActivity, rec.Active, rec.MessageCount, metadata)
	return err
}

// GetSession retrieves one record, or nil when absent.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*Record, error) {
	rec := &Record{}
	var participants, metadata []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, kind, participants, created_at, last_activity, active, message_count, metadata
		FROM sessions WHERE id = $1
	`, id).Scan(
		&rec.ID,
		&rec.Kind,
		&participants,
		&rec.CreatedAt,
		&rec.LastActivity,
		&rec.Active,
		&rec.MessageCount,
		&metadata,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(participants, &rec.Participants); err != nil {
		return nil, err
	}
	if metadata != nil {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// ListSessions returns every stored record, most recently active first.
func (s *PostgresStore) ListSessions(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
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
		var rec Record
		var participants, metadata []byte
		if err := rows.Scan(
			&rec.ID,
			&rec.Kind,
			&participants,
			&rec.CreatedAt,
			&rec.LastActivity,
			&rec.Active,
			&rec.MessageCount,
			&metadata,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(participants, &rec.Participants); err != nil {
			return nil, err
		}
		if metadata != nil {
			if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
				return nil, err
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SetActive flips the active flag.
func (s *PostgresStore) SetActive(ctx context.Context, id string, active bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE sessions SET active = $2 WHERE id = $1`, id, active)
	return err
}
