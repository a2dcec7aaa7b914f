package api

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Qdrant    string `json:"qdrant"`
	Timestamp string `json:"timestamp"`
}

// HealthChecker is satisfied by the metadata store.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// NewHealthHandler reports 503 while the metadata store is unreachable.
func NewHealthHandler(store HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp := HealthResponse{
			Status:    "healthy",
			Qdrant:    "connected",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		status := http.StatusOK

		if err := store.Health(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Qdrant = "disconnected"
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, resp)
	}
}

// welcome serves GET / exactly; other unmatched paths are 404.
func welcome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the document Q&A API"})
}
