package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vistorialab/vistoria/internal/domain"
	"github.com/vistorialab/vistoria/internal/events"
)

// keepAliveInterval is how often an SSE comment is sent so intermediaries do
// not drop an otherwise idle stream.
const keepAliveInterval = 25 * time.Second

// EventsHandler streams queue progress to report subscribers over SSE.
type EventsHandler struct {
	hub    *events.Hub
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(hub *events.Hub, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{hub: hub, logger: logger}
}

// RegisterRoutes attaches the SSE endpoint to the mux.
func (h *EventsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /queue/events/{reportId}", h.Stream)
}

// Stream subscribes the client to one report's progress and statusChange
// events until the client disconnects.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	reportID, err := uuid.Parse(r.PathValue("reportId"))
	if err != nil {
		errorResponse(w, r, h.logger, domain.Invalid("queue.events", "invalid report id"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		errorResponse(w, r, h.logger, domain.Internal(nil, "queue.events", "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := h.hub.Subscribe(reportID)
	defer cancel()

	h.logger.Info("SSE subscriber connected", "report_id", reportID)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE subscriber disconnected", "report_id", reportID)
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("Failed to encode event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()
		}
	}
}
