package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/vistorialab/vistoria/internal/domain"
	"github.com/vistorialab/vistoria/internal/queue"
)

// Coordinator is the slice of the queue service the HTTP layer uses.
type Coordinator interface {
	Enqueue(ctx context.Context, reportID, ownerID uuid.UUID, force bool) (queue.EnqueueResult, error)
	Cancel(ctx context.Context, reportID, ownerID uuid.UUID) error
	ReportStatusFor(ctx context.Context, reportID uuid.UUID) (queue.ReportStatus, error)
	QueueStats(ctx context.Context) (queue.Stats, error)
	FullQueue(ctx context.Context) ([]domain.QueueEntry, error)
	GlobalPauseStatus(ctx context.Context) (queue.GlobalStatus, error)
	PauseQueue(ctx context.Context, reason string) error
	ResumeQueue(ctx context.Context) (int64, error)
}

// ReportStore resolves report ownership. Authentication lives upstream; the
// report's stored owner is the authority for queue operations.
type ReportStore interface {
	GetReport(ctx context.Context, id uuid.UUID) (domain.Report, error)
	IsNoRows(err error) bool
}

// QueueHandler serves the user-facing queue endpoints.
type QueueHandler struct {
	coordinator Coordinator
	reports     ReportStore
	logger      *slog.Logger
}

// NewQueueHandler creates a QueueHandler.
func NewQueueHandler(coordinator Coordinator, reports ReportStore, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{
		coordinator: coordinator,
		reports:     reports,
		logger:      logger,
	}
}

// RegisterRoutes attaches the queue endpoints to the mux.
func (h *QueueHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /queue/analyze-report/{reportId}", h.AnalyzeReport)
	mux.HandleFunc("DELETE /queue/cancel/{reportId}", h.CancelReport)
	mux.HandleFunc("GET /queue/status/{reportId}", h.ReportStatus)
	mux.HandleFunc("GET /queue/stats", h.Stats)
}

type analyzeRequest struct {
	Force bool `json:"force"`
}

type analyzeResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Position    int    `json:"position,omitempty"`
	TotalImages int    `json:"totalImages,omitempty"`
}

// AnalyzeReport enqueues a report's photos for analysis.
func (h *QueueHandler) AnalyzeReport(w http.ResponseWriter, r *http.Request) {
	reportID, err := uuid.Parse(r.PathValue("reportId"))
	if err != nil {
		errorResponse(w, r, h.logger, domain.Invalid("queue.analyze", "invalid report id"))
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		errorResponse(w, r, h.logger, domain.Invalid("queue.analyze", "invalid request body"))
		return
	}

	report, err := h.reports.GetReport(r.Context(), reportID)
	if err != nil {
		if h.reports.IsNoRows(err) {
			errorResponse(w, r, h.logger, domain.NotFound("queue.analyze", "report", reportID.String()))
			return
		}
		errorResponse(w, r, h.logger, domain.Internal(err, "queue.analyze", "failed to load report"))
		return
	}

	result, err := h.coordinator.Enqueue(r.Context(), reportID, report.OwnerID, req.Force)
	if err != nil {
		errorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, analyzeResponse{
		Success:     true,
		Message:     "report queued for analysis",
		Position:    result.Position,
		TotalImages: result.TotalImages,
	})
}

// CancelReport removes a report from the queue.
func (h *QueueHandler) CancelReport(w http.ResponseWriter, r *http.Request) {
	reportID, err := uuid.Parse(r.PathValue("reportId"))
	if err != nil {
		errorResponse(w, r, h.logger, domain.Invalid("queue.cancel", "invalid report id"))
		return
	}

	report, err := h.reports.GetReport(r.Context(), reportID)
	if err != nil {
		if h.reports.IsNoRows(err) {
			errorResponse(w, r, h.logger, domain.NotFound("queue.cancel", "report", reportID.String()))
			return
		}
		errorResponse(w, r, h.logger, domain.Internal(err, "queue.cancel", "failed to load report"))
		return
	}

	if err := h.coordinator.Cancel(r.Context(), reportID, report.OwnerID); err != nil {
		errorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "report removed from queue",
	})
}

// ReportStatus answers the per-user position/ETA query.
func (h *QueueHandler) ReportStatus(w http.ResponseWriter, r *http.Request) {
	reportID, err := uuid.Parse(r.PathValue("reportId"))
	if err != nil {
		errorResponse(w, r, h.logger, domain.Invalid("queue.status", "invalid report id"))
		return
	}

	status, err := h.coordinator.ReportStatusFor(r.Context(), reportID)
	if err != nil {
		errorResponse(w, r, h.logger, domain.Internal(err, "queue.status", "failed to load queue status"))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Stats serves the aggregate dashboard numbers.
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.coordinator.QueueStats(r.Context())
	if err != nil {
		errorResponse(w, r, h.logger, domain.Internal(err, "queue.stats", "failed to load queue stats"))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
