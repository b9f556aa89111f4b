package models

import "time"

// SessionKind identifies the role of a chat session.
type SessionKind string

const (
	SessionCoordinator SessionKind = "coordinator"
	SessionAgent       SessionKind = "agent"
	SessionUser        SessionKind = "user"
)

// ChatSession is a named communication channel. Sessions are never
// physically deleted; closing a session only flips Active so history
// stays queryable.
type ChatSession struct {
	ID           string            `json:"id"`
	Kind         SessionKind       `json:"kind"`
	Participants []string          `json:"participants"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	Active       bool              `json:"active"`
	MessageCount int64             `json:"message_count"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy safe to hand to callers.
func (s *ChatSession) Clone() *ChatSession {
	out := *s
	out.Participants = append([]string(nil), s.Participants...)
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
