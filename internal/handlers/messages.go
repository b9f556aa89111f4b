package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/agentmesh/relay/internal/models"
	"github.com/agentmesh/relay/internal/relay"
)

// BroadcastRequest represents the message broadcast request.
type BroadcastRequest struct {
	SourceSessionID string   `json:"sourceSessionId,omitempty"`
	SourceAgentID   string   `json:"sourceAgentId"`
	Content         string   `json:"content"`
	TargetIDs       []string `json:"targetSessionIds,omitempty"`
	Type            string   `json:"type,omitempty"`
	Priority        int      `json:"priority,omitempty"`
	TTLSeconds      int      `json:"ttl,omitempty"`
}

// Broadcast handles message submission.
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !validID(req.SourceAgentID) {
		h.Error(w, http.StatusBadRequest, "sourceAgentId is required")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		h.Error(w, http.StatusBadRequest, "content is required")
		return
	}

	result, err := h.svc.Broadcast(r.Context(), relay.BroadcastRequest{
		SourceSessionID: req.SourceSessionID,
		SourceAgentID:   req.SourceAgentID,
		Content:         req.Content,
		TargetIDs:       req.TargetIDs,
		Type:            models.MessageType(req.Type),
		Priority:        models.Priority(req.Priority),
		TTLSeconds:      req.TTLSeconds,
	})
	if err != nil {
		h.Error(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	h.JSON(w, http.StatusAccepted, result)
}

// messagesResponse converts history entries to their wire shape.
func messagesResponse(msgs []*models.Message) []*models.WireMessage {
	out := make([]*models.WireMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ToWire())
	}
	return out
}

// Messages handles session history retrieval.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		h.Error(w, http.StatusBadRequest, "session query parameter is required")
		return
	}
	if _, ok := h.svc.Session(sessionID); !ok {
		h.Error(w, http.StatusNotFound, "session not found")
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	msgs := h.svc.Messages(sessionID, limit)

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"session":  sessionID,
		"messages": messagesResponse(msgs),
	})
}

// Find handles history search.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.Error(w, http.StatusBadRequest, "q query parameter is required")
		return
	}

	sessionID := r.URL.Query().Get("session")
	limit := parseLimit(r.URL.Query().Get("limit"))
	msgs := h.svc.SearchMessages(query, sessionID, limit)

	h.JSON(w, http.StatusOK, map[string]interface{}{
		"query":    query,
		"messages": messagesResponse(msgs),
	})
}

func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
