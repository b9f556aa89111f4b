package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// LinkRequest represents the project link request.
type LinkRequest struct {
	Target string `json:"target"`
}

// ShareRequest represents the knowledge share request.
type ShareRequest struct {
	Target        string `json:"target"`
	KnowledgeType string `json:"knowledgeType"`
	Payload       string `json:"payload"`
}

// LinkProjects creates a symmetric link between two projects.
func (h *Handler) LinkProjects(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "id")

	var req LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !validID(req.Target) {
		h.Error(w, http.StatusBadRequest, "target is required")
		return
	}

	h.svc.Broker().Link(source, req.Target)
	h.JSON(w, http.StatusOK, map[string]bool{"linked": true})
}

// UnlinkProjects removes a project link in both directions.
func (h *Handler) UnlinkProjects(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "id")
	target := chi.URLParam(r, "target")

	h.svc.Broker().Unlink(source, target)
	h.JSON(w, http.StatusOK, map[string]bool{"linked": false})
}

// ShareKnowledge relays a knowledge payload to a linked project.
func (h *Handler) ShareKnowledge(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "id")

	var req ShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !validID(req.Target) {
		h.Error(w, http.StatusBadRequest, "target is required")
		return
	}
	if req.Payload == "" {
		h.Error(w, http.StatusBadRequest, "payload is required")
		return
	}

	shared := h.svc.Broker().Share(r.Context(), source, req.Target, req.KnowledgeType, []byte(req.Payload))
	if !shared {
		h.Error(w, http.StatusForbidden, "projects are not linked or sharing is disabled")
		return
	}
	h.JSON(w, http.StatusOK, map[string]bool{"shared": true})
}

// ShareHistory returns share records for one project.
func (h *Handler) ShareHistory(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"project": projectID,
		"shares":  h.svc.Broker().History(projectID),
	})
}
