// Package handlers implements the HTTP surface over the relay service.
package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/agentmesh/relay/internal/relay"
)

// Session and agent ids: alphanumeric, hyphens, underscores, 1-64 chars.
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	svc *relay.Service
}

// NewHandler creates a new Handler over the relay service.
func NewHandler(svc *relay.Service) *Handler {
	return &Handler{svc: svc}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

func validID(id string) bool {
	return idRegex.MatchString(id)
}
