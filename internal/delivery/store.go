// Package delivery implements the reliable delivery store: main,
// priority, offline, and dead-letter queues with TTL and retry
// bookkeeping.
package delivery

import (
	"context"
	"errors"

	"github.com/agentmesh/relay/internal/models"
)

// ErrStoreUnavailable wraps failures of the backing store. The router
// logs these and keeps serving sessions that do not need persistence.
var ErrStoreUnavailable = errors.New("delivery store unavailable")

// Status reports per-queue depths.
type Status struct {
	Main       int `json:"main"`
	Priority   int `json:"priority"`
	Offline    int `json:"offline"`
	DeadLetter int `json:"dead_letter"`
	Total      int `json:"total"`
}

// Store is the reliable delivery contract. Messages with priority High
// or above land in the priority queue, which any dequeuer drains first.
// A message lives in exactly one queue at a time.
//
// Implementations are selected at construction time: MemoryStore when no
// backing service is configured, RedisStore otherwise.
type Store interface {
	// Enqueue places the message on the main or priority queue.
	Enqueue(ctx context.Context, msg *models.Message) error

	// Dequeue pops the oldest priority-queue message, falling back to
	// the main queue. Returns nil when both are empty.
	Dequeue(ctx context.Context) (*models.Message, error)

	// EnqueueOffline stores the message for a disconnected recipient,
	// stamped with an expiry.
	EnqueueOffline(ctx context.Context, msg *models.Message, recipientID string) error

	// GetOffline returns all non-expired messages for the recipient,
	// lazily purging expired entries.
	GetOffline(ctx context.Context, recipientID string) ([]*models.Message, error)

	// RemoveOffline deletes one offline message after delivery.
	RemoveOffline(ctx context.Context, messageID string) error

	// RecordFailure increments the retry count. Once retries are
	// exhausted the message moves to the dead-letter queue and true is
	// returned; dead-lettered messages are never retried automatically.
	RecordFailure(ctx context.Context, msg *models.Message) (deadLettered bool, err error)

	// DeadLetters returns the terminal queue contents, newest last.
	DeadLetters(ctx context.Context) ([]*models.Message, error)

	// ClearExpired sweeps expired messages from all queues and returns
	// how many were removed.
	ClearExpired(ctx context.Context) (int, error)

	// QueueStatus reports counts per queue plus their sum.
	QueueStatus(ctx context.Context) (Status, error)

	Ping(ctx context.Context) error
	Close() error
}
