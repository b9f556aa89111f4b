package handlers

import "net/http"

// Status handles the status endpoint: session counts, queue depths,
// delivery store depths, and the composite health score.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, h.svc.Status(r.Context()))
}
