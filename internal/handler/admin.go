package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/vistorialab/vistoria/internal/domain"
	"github.com/vistorialab/vistoria/internal/repository"
	"github.com/vistorialab/vistoria/internal/vision"
)

// SettingsStore persists the operator-editable vision client settings.
type SettingsStore interface {
	GetAnalysisSettings(ctx context.Context) (vision.Settings, error)
	UpdateAnalysisSettings(ctx context.Context, params repository.UpdateAnalysisSettingsParams) error
}

// WorkQueue is the broker surface exposed to operators.
type WorkQueue interface {
	IsConnected() bool
	Depth() (int, error)
	Purge() (int, error)
}

// AdminHandler serves the operator endpoints.
type AdminHandler struct {
	coordinator Coordinator
	settings    SettingsStore
	client      vision.Client
	work        WorkQueue
	logger      *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(coordinator Coordinator, settings SettingsStore, client vision.Client, work WorkQueue, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		coordinator: coordinator,
		settings:    settings,
		client:      client,
		work:        work,
		logger:      logger,
	}
}

// RegisterRoutes attaches the operator endpoints to the mux.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /queue/admin/full", h.FullQueue)
	mux.HandleFunc("GET /queue/admin/global-status", h.GlobalStatus)
	mux.HandleFunc("POST /queue/admin/pause", h.Pause)
	mux.HandleFunc("POST /queue/admin/resume", h.Resume)
	mux.HandleFunc("DELETE /queue/admin/purge", h.Purge)
	mux.HandleFunc("GET /queue/admin/settings", h.GetSettings)
	mux.HandleFunc("PUT /queue/admin/settings", h.UpdateSettings)
}

type queueEntryResponse struct {
	ID                 string             `json:"id"`
	ReportID           string             `json:"reportId"`
	Address            string             `json:"address"`
	OwnerName          string             `json:"ownerName"`
	OwnerEmail         string             `json:"ownerEmail"`
	Status             domain.QueueStatus `json:"status"`
	Position           int                `json:"position"`
	TotalImages        int                `json:"totalImages"`
	ProcessedImages    int                `json:"processedImages"`
	ProgressPercentage int                `json:"progressPercentage"`
	CreatedAt          time.Time          `json:"createdAt"`
	StartedAt          *time.Time         `json:"startedAt,omitempty"`
}

// FullQueue lists every active queue entry with report and owner details.
func (h *AdminHandler) FullQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.coordinator.FullQueue(r.Context())
	if err != nil {
		errorResponse(w, r, h.logger, domain.Internal(err, "queue.admin.full", "failed to list queue"))
		return
	}

	out := make([]queueEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = queueEntryResponse{
			ID:                 e.ID.String(),
			ReportID:           e.ReportID.String(),
			Address:            e.Address,
			OwnerName:          e.OwnerName,
			OwnerEmail:         e.OwnerEmail,
			Status:             e.Status,
			Position:           e.Position,
			TotalImages:        e.TotalImages,
			ProcessedImages:    e.ProcessedImages,
			ProgressPercentage: e.ProgressPercentage(),
			CreatedAt:          e.CreatedAt,
			StartedAt:          e.StartedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GlobalStatus reports the circuit-breaker state.
func (h *AdminHandler) GlobalStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.coordinator.GlobalPauseStatus(r.Context())
	if err != nil {
		errorResponse(w, r, h.logger, domain.Internal(err, "queue.admin.status", "failed to load pause status"))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

// Pause trips the breaker manually, e.g. ahead of planned provider downtime.
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		errorResponse(w, r, h.logger, domain.Invalid("queue.admin.pause", "a pause reason is required"))
		return
	}

	if err := h.coordinator.PauseQueue(r.Context(), req.Reason); err != nil {
		errorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Resume lifts the breaker after re-verifying upstream connectivity.
func (h *AdminHandler) Resume(w http.ResponseWriter, r *http.Request) {
	resumed, err := h.coordinator.ResumeQueue(r.Context())
	if err != nil {
		// The refusal message travels in the body with resumed=0 so
		// operator tooling can show why nothing moved.
		writeJSON(w, errorCodeToHTTPStatus(domain.ErrorCode(err)), map[string]any{
			"resumed": 0,
			"message": domain.ErrorMessage(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resumed": resumed,
		"message": "queue resumed",
	})
}

// Purge drops every waiting broker message. Queue records are untouched and
// will be re-published by the reconnect callback or picked up by polling.
func (h *AdminHandler) Purge(w http.ResponseWriter, r *http.Request) {
	if !h.work.IsConnected() {
		errorResponse(w, r, h.logger, domain.Conflict("queue.admin.purge", "broker is not connected"))
		return
	}
	purged, err := h.work.Purge()
	if err != nil {
		errorResponse(w, r, h.logger, domain.Internal(err, "queue.admin.purge", "failed to purge broker queue"))
		return
	}
	h.logger.Warn("Broker queue purged", "messages_dropped", purged)
	writeJSON(w, http.StatusOK, map[string]any{"purged": purged})
}

type settingsResponse struct {
	Model             string `json:"model"`
	MaxTokens         int    `json:"maxTokens"`
	RequestsPerMinute int    `json:"requestsPerMinute"`
	RequestSpacingMS  int64  `json:"requestSpacingMs"`
	DefaultPrompt     string `json:"defaultPrompt"`
	Configured        bool   `json:"configured"`
}

// GetSettings returns the current analysis settings. The API key itself is
// never echoed back, only whether a usable one is present.
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.GetAnalysisSettings(r.Context())
	if err != nil {
		errorResponse(w, r, h.logger, domain.Internal(err, "queue.admin.settings", "failed to load settings"))
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{
		Model:             settings.Model,
		MaxTokens:         settings.MaxTokens,
		RequestsPerMinute: settings.RequestsPerMinute,
		RequestSpacingMS:  settings.RequestSpacing.Milliseconds(),
		DefaultPrompt:     settings.DefaultPrompt,
		Configured:        h.client.Configured(),
	})
}

type updateSettingsRequest struct {
	APIKey            string `json:"apiKey"`
	Model             string `json:"model"`
	MaxTokens         int    `json:"maxTokens"`
	RequestsPerMinute int    `json:"requestsPerMinute"`
	RequestSpacingMS  int64  `json:"requestSpacingMs"`
	DefaultPrompt     string `json:"defaultPrompt"`
}

// UpdateSettings overwrites the settings row and hot-reloads the client so
// the next report run picks the changes up.
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, r, h.logger, domain.Invalid("queue.admin.settings", "invalid request body"))
		return
	}

	err := h.settings.UpdateAnalysisSettings(r.Context(), repository.UpdateAnalysisSettingsParams{
		APIKey:            req.APIKey,
		Model:             req.Model,
		MaxTokens:         req.MaxTokens,
		RequestsPerMinute: req.RequestsPerMinute,
		RequestSpacing:    time.Duration(req.RequestSpacingMS) * time.Millisecond,
		DefaultPrompt:     req.DefaultPrompt,
	})
	if err != nil {
		errorResponse(w, r, h.logger, domain.Internal(err, "queue.admin.settings", "failed to save settings"))
		return
	}

	if err := h.client.Reload(r.Context()); err != nil {
		h.logger.Warn("Failed to reload analysis client after settings change", "error", err)
	}

	h.logger.Info("Analysis settings updated", "model", req.Model)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"configured": h.client.Configured(),
	})
}
