package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentmesh/relay/internal/models"
)

// CreateSessionRequest represents the session creation request.
type CreateSessionRequest struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"`
	Participants []string          `json:"participants"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"`
	Participants []string          `json:"participants"`
	CreatedAt    string            `json:"createdAt"`
	LastActivity string            `json:"lastActivity"`
	Active       bool              `json:"active"`
	MessageCount int64             `json:"messageCount"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// SubscribeRequest represents the subscribe/unsubscribe request body.
type SubscribeRequest struct {
	AgentID string `json:"agentId"`
}

func sessionResponse(s *models.ChatSession) SessionResponse {
	return SessionResponse{
		ID:           s.ID,
		Kind:         string(s.Kind),
		Participants: s.Participants,
		CreatedAt:    s.CreatedAt.Format(time.RFC3339Nano),
		LastActivity: s.LastActivity.Format(time.RFC3339Nano),
		Active:       s.Active,
		MessageCount: s.MessageCount,
		Metadata:     s.Metadata,
	}
}

// CreateSession handles session registration.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !validID(req.ID) {
		h.Error(w, http.StatusBadRequest, "id must be 1-64 characters, alphanumeric with hyphens and underscores only")
		return
	}

	kind := models.SessionKind(req.Kind)
	switch kind {
	case models.SessionCoordinator, models.SessionAgent, models.SessionUser:
	case "":
		kind = models.SessionAgent
	default:
		h.Error(w, http.StatusBadRequest, "kind must be coordinator, agent, or user")
		return
	}

	session, err := h.svc.CreateSession(r.Context(), req.ID, kind, req.Participants, req.Metadata)
	if err != nil {
		var dup *models.DuplicateSessionError
		if errors.As(err, &dup) {
			h.Error(w, http.StatusConflict, err.Error())
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.JSON(w, http.StatusCreated, sessionResponse(session))
}

// ListSessions handles session enumeration.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.svc.Sessions()
	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse(s))
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

// GetSession handles single-session lookup.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, ok := h.svc.Session(id)
	if !ok {
		h.Error(w, http.StatusNotFound, "session not found")
		return
	}
	h.JSON(w, http.StatusOK, sessionResponse(session))
}

// CloseSession marks a session inactive.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	closed := h.svc.CloseSession(r.Context(), id)
	h.JSON(w, http.StatusOK, map[string]bool{"closed": closed})
}

// Subscribe adds an agent to a session's subscription set.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !validID(req.AgentID) {
		h.Error(w, http.StatusBadRequest, "agentId is required")
		return
	}

	if err := h.svc.Subscribe(req.AgentID, sessionID); err != nil {
		var unknown *models.UnknownSessionError
		if errors.As(err, &unknown) {
			h.Error(w, http.StatusNotFound, err.Error())
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}

	h.JSON(w, http.StatusOK, map[string]bool{"subscribed": true})
}

// Unsubscribe removes an agent from a session's subscription set.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !validID(req.AgentID) {
		h.Error(w, http.StatusBadRequest, "agentId is required")
		return
	}

	h.svc.Unsubscribe(req.AgentID, sessionID)
	h.JSON(w, http.StatusOK, map[string]bool{"subscribed": false})
}
