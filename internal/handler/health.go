package handler

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/vistorialab/vistoria/internal/vision"
)

// HealthHandler reports process liveness plus the state of the service's
// dependencies. The broker being down is reported but does not fail the
// check, since local polling keeps the queue functional without it.
type HealthHandler struct {
	db     *sql.DB
	work   WorkQueue
	client vision.Client
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(db *sql.DB, work WorkQueue, client vision.Client, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		work:   work,
		client: client,
		logger: logger,
	}
}

// RegisterRoutes attaches the health endpoint to the mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
}

// Health answers readiness probes.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	dbOK := true
	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Error("Health check database ping failed", "error", err)
		dbOK = false
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"status":           healthWord(dbOK),
		"database":         healthWord(dbOK),
		"broker_connected": h.work.IsConnected(),
		"vision_ready":     h.client.Configured(),
	})
}

func healthWord(ok bool) string {
	if ok {
		return "ok"
	}
	return "unavailable"
}
