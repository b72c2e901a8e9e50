// Package notify pushes operator alerts for queue-level incidents over an
// ntfy-compatible webhook. When no topic is configured, a noop implementation
// is returned so callers never need nil checks.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Service is the operator alerting surface used by the queue coordinator.
type Service interface {
	NotifyQueuePaused(ctx context.Context, reason string) error
	NotifyQueueResumed(ctx context.Context, resumed int64) error
}

// NewService builds a webhook-backed notification service. endpoint is the
// full ntfy topic URL; empty disables alerting.
func NewService(endpoint string, timeout time.Duration) Service {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return noopService{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &webhookService{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type webhookService struct {
	endpoint string
	client   *http.Client
}

func (s *webhookService) NotifyQueuePaused(ctx context.Context, reason string) error {
	return s.send(ctx, "Analysis queue paused", reason, "max")
}

func (s *webhookService) NotifyQueueResumed(ctx context.Context, resumed int64) error {
	return s.send(ctx, "Analysis queue resumed", fmt.Sprintf("%d reports returned to pending", resumed), "default")
}

func (s *webhookService) send(ctx context.Context, title, message, priority string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification rejected: status %d", resp.StatusCode)
	}
	return nil
}

type noopService struct{}

func (noopService) NotifyQueuePaused(ctx context.Context, reason string) error  { return nil }
func (noopService) NotifyQueueResumed(ctx context.Context, resumed int64) error { return nil }
