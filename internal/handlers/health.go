package handlers

import (
	"context"
	"net/http"
	"os"
	"time"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string           `json:"status"` // "healthy" or "degraded"
	Version     string           `json:"version"`
	Instance    string           `json:"instance,omitempty"`
	HealthScore float64          `json:"healthScore"`
	Checks      map[string]Check `json:"checks"`
	Timestamp   string           `json:"timestamp"`
}

// Health handles the health check endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	deliveryStart := time.Now()
	if err := h.svc.DeliveryPing(ctx); err != nil {
		checks["delivery_store"] = Check{Status: "fail", Message: "connection failed"}
		allHealthy = false
	} else {
		checks["delivery_store"] = Check{Status: "pass", Latency: time.Since(deliveryStart).String()}
	}

	sessionStart := time.Now()
	if err := h.svc.SessionStorePing(ctx); err != nil {
		checks["session_store"] = Check{Status: "fail", Message: "connection failed"}
		allHealthy = false
	} else {
		checks["session_store"] = Check{Status: "pass", Latency: time.Since(sessionStart).String()}
	}

	status := "healthy"
	code := http.StatusOK
	if !allHealthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	hostname, _ := os.Hostname()

	h.JSON(w, code, HealthResponse{
		Status:      status,
		Version:     version,
		Instance:    hostname,
		HealthScore: h.svc.Status(r.Context()).HealthScore,
		Checks:      checks,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
}
