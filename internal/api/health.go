package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/backend"
)

// StatusChecker reports the backend's agents.
type StatusChecker interface {
	Status(ctx context.Context) ([]backend.AgentStatus, error)
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	backend StatusChecker
	timeout time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(b StatusChecker, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{backend: b, timeout: timeout}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]any{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if _, err := h.backend.Status(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["agents_backend"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["agents_backend"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
