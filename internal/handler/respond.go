// Package handler exposes the queue service's JSON API.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vistorialab/vistoria/internal/domain"
)

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse maps a domain error onto an HTTP status and a JSON body.
func errorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := domain.ErrorCode(err)
	message := domain.ErrorMessage(err)
	status := errorCodeToHTTPStatus(code)

	attrs := []any{
		"error", err.Error(),
		"code", code,
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
	}
	if status >= 500 {
		logger.Error("Server error", attrs...)
	} else {
		logger.Info("Client error", attrs...)
	}

	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func errorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT:
		return http.StatusConflict
	case domain.EUNCONFIGURED:
		return http.StatusServiceUnavailable
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests
	case domain.EQUOTA:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
