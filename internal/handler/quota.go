package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/vistorialab/vistoria/internal/domain"
	"github.com/vistorialab/vistoria/internal/service"
)

// QuotaHandler serves the internal quota API consumed by the upload
// subsystem: spend a unit per stored photo, refund on delete.
type QuotaHandler struct {
	quota  service.QuotaService
	logger *slog.Logger
}

// NewQuotaHandler creates a QuotaHandler.
func NewQuotaHandler(quota service.QuotaService, logger *slog.Logger) *QuotaHandler {
	return &QuotaHandler{quota: quota, logger: logger}
}

// RegisterRoutes attaches the quota endpoints to the mux.
func (h *QuotaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /internal/quota/{userId}", h.Usage)
	mux.HandleFunc("POST /internal/quota/{userId}/spend", h.Spend)
	mux.HandleFunc("POST /internal/quota/{userId}/refund", h.Refund)
}

type quotaMutation struct {
	Units int64 `json:"units"`
}

// Usage reports used and limit values for one user.
func (h *QuotaHandler) Usage(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("userId"))
	if err != nil {
		errorResponse(w, r, h.logger, domain.Invalid("quota.usage", "invalid user id"))
		return
	}

	used, limit, err := h.quota.Usage(r.Context(), userID)
	if err != nil {
		errorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"used":      used,
		"limit":     limit,
		"remaining": limit - used,
	})
}

// Spend consumes quota units, refusing when the limit would be exceeded.
func (h *QuotaHandler) Spend(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("userId"))
	if err != nil {
		errorResponse(w, r, h.logger, domain.Invalid("quota.spend", "invalid user id"))
		return
	}

	var req quotaMutation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, r, h.logger, domain.Invalid("quota.spend", "invalid request body"))
		return
	}

	remaining, err := h.quota.Spend(r.Context(), userID, req.Units)
	if err != nil {
		errorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"remaining": remaining,
	})
}

// Refund returns quota units after a photo deletion.
func (h *QuotaHandler) Refund(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("userId"))
	if err != nil {
		errorResponse(w, r, h.logger, domain.Invalid("quota.refund", "invalid user id"))
		return
	}

	var req quotaMutation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, r, h.logger, domain.Invalid("quota.refund", "invalid request body"))
		return
	}

	if err := h.quota.Refund(r.Context(), userID, req.Units); err != nil {
		errorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
