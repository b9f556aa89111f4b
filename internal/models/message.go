package models

import (
	"encoding/base64"
	"time"

	"github.com/oklog/ulid/v2"
)

// Priority orders messages for dispatch. Higher values are consumed first.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityUrgent
	PriorityCritical
)

// PriorityLevels is the number of distinct priority levels.
const PriorityLevels = 5

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the five defined levels.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// MessageType tags a message for handler dispatch.
type MessageType string

const (
	TypeText           MessageType = "text"
	TypeProjectUpdate  MessageType = "project_update"
	TypeAgentStatus    MessageType = "agent_status"
	TypeSprintUpdate   MessageType = "sprint_update"
	TypeCoordination   MessageType = "coordination"
	TypeKnowledgeShare MessageType = "knowledge_share"
	TypeSystem         MessageType = "system"
)

// SenderKind identifies what produced a message.
type SenderKind string

const (
	SenderAgent       SenderKind = "agent"
	SenderUser        SenderKind = "user"
	SenderCoordinator SenderKind = "coordinator"
)

// Message is the unit of communication moving through the relay.
// ID is a ULID, assigned once and never changed. TargetIDs is resolved
// against the session registry at enqueue time and never re-resolved.
type Message struct {
	ID             string      `json:"id"`
	Sender         string      `json:"sender"`
	SenderKind     SenderKind  `json:"senderKind"`
	Type           MessageType `json:"type"`
	Priority       Priority    `json:"priority"`
	Payload        []byte      `json:"-"`
	TargetIDs      []string    `json:"targetIds"`
	Timestamp      time.Time   `json:"timestamp"`
	TTLSeconds     int         `json:"ttl,omitempty"`
	Compression    string      `json:"compression"`
	OriginalSize   int         `json:"-"`
	CompressedSize int         `json:"-"`
	RetryCount     int         `json:"retryCount"`
	MaxRetries     int         `json:"maxRetries"`
}

// NewMessage builds a message with a fresh ULID and current timestamp.
func NewMessage(sender string, kind SenderKind, msgType MessageType, priority Priority, payload []byte, targets []string) *Message {
	return &Message{
		ID:          ulid.Make().String(),
		Sender:      sender,
		SenderKind:  kind,
		Type:        msgType,
		Priority:    priority,
		Payload:     payload,
		TargetIDs:   targets,
		Timestamp:   time.Now(),
		Compression: "none",
		MaxRetries:  3,
	}
}

// Expired reports whether the message has outlived its TTL at the given
// instant. Messages without a TTL never expire.
func (m *Message) Expired(now time.Time) bool {
	if m.TTLSeconds <= 0 {
		return false
	}
	return now.Sub(m.Timestamp) > time.Duration(m.TTLSeconds)*time.Second
}

// Body returns the payload as text. Compressed payloads must be
// decompressed before Body is meaningful.
func (m *Message) Body() string {
	return string(m.Payload)
}

// WireMessage is the flat JSON representation used on the network and in
// persistent queues. Payload is UTF-8 text, or base64 when the message
// carries a compressed (binary) payload.
type WireMessage struct {
	ID          string   `json:"id"`
	Sender      string   `json:"sender"`
	SenderKind  string   `json:"senderKind"`
	Type        string   `json:"type"`
	Priority    int      `json:"priority"`
	Payload     string   `json:"payload"`
	TargetIDs   []string `json:"targetIds"`
	Timestamp   string   `json:"timestamp"`
	TTL         int      `json:"ttl,omitempty"`
	RetryCount  int      `json:"retryCount"`
	MaxRetries  int      `json:"maxRetries"`
	Compression string   `json:"compression"`
}

// ToWire converts a message to its wire form.
func (m *Message) ToWire() *WireMessage {
	payload := string(m.Payload)
	if m.Compression != "none" && m.Compression != "" {
		payload = base64.StdEncoding.EncodeToString(m.Payload)
	}
	return &WireMessage{
		ID:          m.ID,
		Sender:      m.Sender,
		SenderKind:  string(m.SenderKind),
		Type:        string(m.Type),
		Priority:    int(m.Priority),
		Payload:     payload,
		TargetIDs:   m.TargetIDs,
		Timestamp:   m.Timestamp.UTC().Format(time.RFC3339Nano),
		TTL:         m.TTLSeconds,
		RetryCount:  m.RetryCount,
		MaxRetries:  m.MaxRetries,
		Compression: m.Compression,
	}
}

// FromWire converts a wire message back to the in-memory form.
func FromWire(w *WireMessage) (*Message, error) {
	payload := []byte(w.Payload)
	if w.Compression != "none" && w.Compression != "" {
		decoded, err := base64.StdEncoding.DecodeString(w.Payload)
		if err != nil {
			return nil, err
		}
		payload = decoded
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return nil, err
	}
	compression := w.Compression
	if compression == "" {
		compression = "none"
	}
	return &Message{
		ID:          w.ID,
		Sender:      w.Sender,
		SenderKind:  SenderKind(w.SenderKind),
		Type:        MessageType(w.Type),
		Priority:    Priority(w.Priority),
		Payload:     payload,
		TargetIDs:   w.TargetIDs,
		Timestamp:   ts,
		TTLSeconds:  w.TTL,
		RetryCount:  w.RetryCount,
		MaxRetries:  w.MaxRetries,
		Compression: compression,
	}, nil
}
