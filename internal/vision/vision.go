// Package vision defines the interface to the upstream image-analysis API,
// including the classified error taxonomy the queue's circuit breaker depends
// on.
package vision

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Client Interface
// =============================================================================

// Client is the narrow contract the analysis queue consumes.
type Client interface {
	// AnalyzeImage sends one vision request for the image at url with the
	// given prompt and returns the model's text reply. Transient failures
	// are retried internally; the returned error is always the final,
	// classified failure.
	AnalyzeImage(ctx context.Context, url, prompt string) (string, error)

	// Configured reports whether a plausible API credential is present.
	Configured() bool

	// Ping verifies upstream connectivity. Used before resuming a paused
	// queue so a broken credential does not immediately re-trip the
	// breaker.
	Ping(ctx context.Context) error

	// Reload re-reads the mutable client settings from storage.
	Reload(ctx context.Context) error
}

// Settings are the mutable client parameters, kept in the database so
// operators can change them without a restart.
type Settings struct {
	APIKey            string
	Model             string
	MaxTokens         int
	RequestsPerMinute int
	RequestSpacing    time.Duration
	DefaultPrompt     string
}

// SettingsStore loads the current settings row.
type SettingsStore interface {
	GetAnalysisSettings(ctx context.Context) (Settings, error)
}

// =============================================================================
// Error Taxonomy
// =============================================================================

// Kind is the closed set of upstream failure classes. Classify is the single
// place new HTTP statuses are mapped into this set.
type Kind string

const (
	KindBadRequest Kind = "bad_request"
	KindAuth       Kind = "authentication_error"
	KindPermission Kind = "permission_error"
	KindNotFound   Kind = "not_found"
	KindRateLimit  Kind = "rate_limit_error"
	KindQuota      Kind = "quota_exceeded"
	KindServer     Kind = "server_error"
	KindNetwork    Kind = "network_error"
	KindUnknown    Kind = "unknown"
)

// UpstreamError is a classified failure from the vision API.
type UpstreamError struct {
	Kind       Kind
	Status     int           // HTTP status, 0 for transport failures
	Message    string        // Upstream error message, if any
	Retryable  bool          // Whether another attempt can succeed
	Critical   bool          // Whether the global circuit breaker must trip
	RetryAfter time.Duration // Server-indicated wait before retrying
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("vision api: %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("vision api: %s: %s", e.Kind, e.Message)
}

// IsCritical reports whether err carries a critical upstream classification.
func IsCritical(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Critical
}

// IsRetryable reports whether err carries a retryable upstream classification.
func IsRetryable(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Retryable
}

// AsUpstream extracts the classified error, if any.
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// serverErrorBackoff is the fixed wait between attempts on 5xx responses.
const serverErrorBackoff = 5 * time.Second

// quotaMarkers are body substrings that distinguish an exhausted billing
// quota from ordinary rate limiting on a 429. Retrying a quota failure cannot
// succeed, so it is classified as critical instead.
var quotaMarkers = []string{"billing", "quota", "plan", "credit"}

// Classify maps one HTTP response to its UpstreamError. retryAfter is the raw
// Retry-After header value, seconds or empty.
func Classify(status int, body string, retryAfter string) *UpstreamError {
	msg := strings.TrimSpace(body)
	if len(msg) > 500 {
		msg = msg[:500]
	}

	switch status {
	case 400:
		return &UpstreamError{Kind: KindBadRequest, Status: status, Message: msg}
	case 401:
		return &UpstreamError{Kind: KindAuth, Status: status, Message: msg, Critical: true}
	case 403:
		return &UpstreamError{Kind: KindPermission, Status: status, Message: msg, Critical: true}
	case 404:
		return &UpstreamError{Kind: KindNotFound, Status: status, Message: msg, Critical: true}
	case 429:
		lower := strings.ToLower(body)
		for _, marker := range quotaMarkers {
			if strings.Contains(lower, marker) {
				return &UpstreamError{Kind: KindQuota, Status: status, Message: msg, Critical: true}
			}
		}
		return &UpstreamError{
			Kind:       KindRateLimit,
			Status:     status,
			Message:    msg,
			Retryable:  true,
			RetryAfter: parseRetryAfter(retryAfter),
		}
	case 500, 502, 503, 504:
		return &UpstreamError{
			Kind:       KindServer,
			Status:     status,
			Message:    msg,
			Retryable:  true,
			RetryAfter: serverErrorBackoff,
		}
	default:
		return &UpstreamError{
			Kind:      KindUnknown,
			Status:    status,
			Message:   msg,
			Retryable: status >= 500,
		}
	}
}

// NetworkError classifies a transport-level failure (no HTTP response).
func NetworkError(err error) *UpstreamError {
	return &UpstreamError{
		Kind:      KindNetwork,
		Message:   err.Error(),
		Retryable: true,
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return serverErrorBackoff
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return serverErrorBackoff
}
