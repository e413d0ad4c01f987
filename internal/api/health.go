package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const defaultHealthCheckTimeout = 5 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db           Pinger
	sessions     func() int
	voiceEnabled bool
	logger       *slog.Logger
}

// NewHealthHandler creates a health handler. sessions may be nil.
func NewHealthHandler(db Pinger, sessions func() int, voiceEnabled bool, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{db: db, sessions: sessions, voiceEnabled: voiceEnabled, logger: logger}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), defaultHealthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	if h.sessions != nil {
		status["sessions"] = h.sessions()
	}
	statusCode := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// Config returns the server configuration for the frontend.
func (h *HealthHandler) Config(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"voice_enabled": h.voiceEnabled,
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}

// RegisterRoutes registers the identity-scoped config route.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/config", h.Config)
}
