package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/agentmesh/relay/internal/models"
)

// DefaultOfflineTTL is how long offline messages are held for a
// disconnected recipient before they expire.
const DefaultOfflineTTL = 24 * time.Hour

type offlineEntry struct {
	msg       *models.Message
	recipient string
	expiresAt time.Time
}

// MemoryStore is the in-process Store used when no Redis URL is
// configured. All four queues live behind a single mutex.
type MemoryStore struct {
	offlineTTL time.Duration

	mu         sync.Mutex
	main       []*models.Message
	priority   []*models.Message
	offline    map[string][]*offlineEntry // recipient id -> entries
	deadLetter []*models.Message
}

// NewMemoryStore creates an in-memory store. offlineTTL <= 0 selects
// DefaultOfflineTTL.
func NewMemoryStore(offlineTTL time.Duration) *MemoryStore {
	if offlineTTL <= 0 {
		offlineTTL = DefaultOfflineTTL
	}
	return &MemoryStore{
		offlineTTL: offlineTTL,
		offline:    make(map[string][]*offlineEntry),
	}
}

func (s *MemoryStore) Enqueue(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Priority >= models.PriorityHigh {
		s.priority = append(s.priority, msg)
	} else {
		s.main = append(s.main, msg)
	}
	return nil
}

func (s *MemoryStore) Dequeue(ctx context.Context) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.priority) > 0 {
		msg := s.priority[0]
		s.priority = s.priority[1:]
		return msg, nil
	}
	if len(s.main) > 0 {
		msg := s.main[0]
		s.main = s.main[1:]
		return msg, nil
	}
	return nil, nil
}

func (s *MemoryStore) EnqueueOffline(ctx context.Context, msg *models.Message, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offline[recipientID] = append(s.offline[recipientID], &offlineEntry{
		msg:       msg,
		recipient: recipientID,
		expiresAt: time.Now().Add(s.offlineTTL),
	})
	return nil
}

func (s *MemoryStore) GetOffline(ctx context.Context, recipientID string) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entries := s.offline[recipientID]
	kept := entries[:0]
	var out []*models.Message
	for _, e := range entries {
		if now.After(e.expiresAt) || e.msg.Expired(now) {
			continue
		}
		kept = append(kept, e)
		out = append(out, e.msg)
	}
	if len(kept) == 0 {
		delete(s.offline, recipientID)
	} else {
		s.offline[recipientID] = kept
	}
	return out, nil
}

func (s *MemoryStore) RemoveOffline(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for recipient, entries := range s.offline {
		for i, e := range entries {
			if e.msg.ID == messageID {
				entries = append(entries[:i], entries[i+1:]...)
				if len(entries) == 0 {
					delete(s.offline, recipient)
				} else {
					s.offline[recipient] = entries
				}
				return nil
			}
		}
	}
	return nil
}

func (s *MemoryStore) RecordFailure(ctx context.Context, msg *models.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.RetryCount++
	if msg.RetryCount > msg.MaxRetries {
		s.deadLetter = append(s.deadLetter, msg)
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) DeadLetters(ctx context.Context) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*models.Message(nil), s.deadLetter...), nil
}

func (s *MemoryStore) ClearExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0

	sweep := func(q []*models.Message) []*models.Message {
		kept := q[:0]
		for _, msg := range q {
			if msg.Expired(now) {
				removed++
				continue
			}
			kept = append(kept, msg)
		}
		return kept
	}
	s.main = sweep(s.main)
	s.priority = sweep(s.priority)
	s.deadLetter = sweep(s.deadLetter)

	for recipient, entries := range s.offline {
		kept := entries[:0]
		for _, e := range entries {
			if now.After(e.expiresAt) || e.msg.Expired(now) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(s.offline, recipient)
		} else {
			s.offline[recipient] = kept
		}
	}

	return removed, nil
}

func (s *MemoryStore) QueueStatus(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offline := 0
	for _, entries := range s.offline {
		offline += len(entries)
	}
	status := Status{
		Main:       len(s.main),
		Priority:   len(s.priority),
		Offline:    offline,
		DeadLetter: len(s.deadLetter),
	}
	status.Total = status.Main + status.Priority + status.Offline + status.DeadLetter
	return status, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
