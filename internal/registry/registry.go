// Package registry tracks chat sessions, participants, and agent
// subscriptions. Pure in-memory state; no blocking operations.
package registry

import (
	"sync"
	"time"

	"github.com/agentmesh/relay/internal/models"
)

// TargetAll is the literal token that expands to every active session.
const TargetAll = "all"

// Registry holds sessions and the weak agent-to-session subscription
// relation. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*models.ChatSession
	subs     map[string]map[string]bool // agent id -> set of session ids
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]*models.ChatSession),
		subs:     make(map[string]map[string]bool),
	}
}

// Create registers a new session. Fails with DuplicateSessionError when
// the id is already taken, including by a closed session.
func (r *Registry) Create(id string, kind models.SessionKind, participants []string, metadata map[string]string) (*models.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return nil, &models.DuplicateSessionError{ID: id}
	}

	now := time.Now()
	session := &models.ChatSession{
		ID:           id,
		Kind:         kind,
		Participants: append([]string(nil), participants...),
		CreatedAt:    now,
		LastActivity: now,
		Active:       true,
		Metadata:     metadata,
	}
	r.sessions[id] = session
	return session.Clone(), nil
}

// Load inserts a fully-formed session, preserving its timestamps,
// counters, and active flag. Used to restore persisted sessions at
// startup; existing ids are left untouched.
func (r *Registry) Load(session *models.ChatSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return false
	}
	r.sessions[session.ID] = session.Clone()
	return true
}

// Close marks a session inactive. Idempotent; returns true only when the
// session was active, false for unknown or already-closed ids. Sessions
// are never deleted so history stays queryable.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[id]
	if !exists || !session.Active {
		return false
	}
	session.Active = false
	return true
}

// Get returns a copy of the session, active or not.
func (r *Registry) Get(id string) (*models.ChatSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	if !exists {
		return nil, false
	}
	return session.Clone(), true
}

// Subscribe adds the agent to the session's subscription set. The
// relation is lookup-only; sessions do not own agents.
func (r *Registry) Subscribe(agentID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[sessionID]
	if !exists || !session.Active {
		return &models.UnknownSessionError{ID: sessionID}
	}

	if r.subs[agentID] == nil {
		r.subs[agentID] = make(map[string]bool)
	}
	r.subs[agentID][sessionID] = true
	return nil
}

// Unsubscribe removes the relation. No-op if absent.
func (r *Registry) Unsubscribe(agentID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.subs[agentID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.subs, agentID)
		}
	}
}

// Subscriptions returns the session ids the agent is subscribed to.
func (r *Registry) Subscriptions(agentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.subs[agentID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// ResolveTargets expands the token "all" to every active session, or
// filters the given ids down to active ones. Unknown and inactive ids are
// dropped and reported, never fatal to the call.
func (r *Registry) ResolveTargets(ids []string) (resolved, dropped []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range ids {
		if id == TargetAll {
			for sid, session := range r.sessions {
				if session.Active {
					resolved = append(resolved, sid)
				}
			}
			continue
		}
		session, exists := r.sessions[id]
		if !exists || !session.Active {
			dropped = append(dropped, id)
			continue
		}
		resolved = append(resolved, id)
	}

	return dedupe(resolved), dropped
}

// Touch bumps last-activity and the message count for a delivered message.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, exists := r.sessions[id]; exists {
		session.LastActivity = time.Now()
		session.MessageCount++
	}
}

// Sessions returns copies of every session, active or not.
func (r *Registry) Sessions() []*models.ChatSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ChatSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		out = append(out, session.Clone())
	}
	return out
}

// Counts returns total and active session counts.
func (r *Registry) Counts() (total, active int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total = len(r.sessions)
	for _, session := range r.sessions {
		if session.Active {
			active++
		}
	}
	return total, active
}

func dedupe(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
