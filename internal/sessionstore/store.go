// Package sessionstore persists one durable record per chat session so
// session state survives process restarts. The registry stays pure
// in-memory; the relay service writes through to this store best-effort.
package sessionstore

import (
	"context"
	"time"
)

// Record is the persisted session layout: timestamps are stored as
// ISO-8601, participants and metadata as JSON.
type Record struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"`
	Participants []string          `json:"participants"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastActivity time.Time         `json:"lastActivity"`
	Active       bool              `json:"active"`
	MessageCount int64             `json:"messageCount"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Store is the durable session contract. Both PostgresStore and
// SQLiteStore implement it; the implementation is chosen at construction
// from configuration.
type Store interface {
	SaveSession(ctx context.Context, rec *Record) error
	GetSession(ctx context.Context, id string) (*Record, error)
	ListSessions(ctx context.Context) ([]Record, error)
	SetActive(ctx context.Context, id string, active bool) error
	Ping(ctx context.Context) error
	Close()
}
