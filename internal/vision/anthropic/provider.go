// Package anthropic implements the vision.Client interface against the
// Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/vistorialab/vistoria/internal/metrics"
	"github.com/vistorialab/vistoria/internal/vision"
)

const (
	// APIBaseURL is the base URL for the Anthropic Messages API
	APIBaseURL = "https://api.anthropic.com/v1/messages"

	// ModelsURL is used for lightweight connectivity checks
	ModelsURL = "https://api.anthropic.com/v1/models"

	// APIVersion is the Anthropic API version
	APIVersion = "2023-06-01"

	// DefaultModel is the default model when the settings row has none
	DefaultModel = "claude-3-5-sonnet-20241022"

	// DefaultMaxTokens bounds the caption reply size
	DefaultMaxTokens = 1024

	// maxAttempts caps retries for retryable upstream failures
	maxAttempts = 3

	// minPlausibleKeyLength filters obviously truncated or placeholder
	// credentials before any request is attempted
	minPlausibleKeyLength = 20
)

// Config contains construction-time configuration for the provider. Runtime
// parameters (model, spacing, credential) live in the settings store and are
// hot-reloaded.
type Config struct {
	RequestTimeout time.Duration

	// BaseURL overrides the Messages API endpoint, for tests.
	BaseURL string

	// PingURL overrides the connectivity-check endpoint, for tests.
	PingURL string
}

// Provider implements vision.Client using Anthropic's Messages API.
type Provider struct {
	config Config
	client *http.Client
	store  vision.SettingsStore
	logger *slog.Logger

	mu       sync.Mutex
	settings vision.Settings
	lastCall time.Time
}

// New creates a new Anthropic vision provider. Settings are loaded on first
// use; call Reload to pick up changes made while the process is running.
func New(config Config, store vision.SettingsStore, logger *slog.Logger) *Provider {
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 60 * time.Second
	}
	if config.BaseURL == "" {
		config.BaseURL = APIBaseURL
	}
	if config.PingURL == "" {
		config.PingURL = ModelsURL
	}

	return &Provider{
		config: config,
		client: &http.Client{Timeout: config.RequestTimeout},
		store:  store,
		logger: logger,
	}
}

// Reload re-reads the mutable settings row.
func (p *Provider) Reload(ctx context.Context) error {
	settings, err := p.store.GetAnalysisSettings(ctx)
	if err != nil {
		return fmt.Errorf("load analysis settings: %w", err)
	}
	if settings.Model == "" {
		settings.Model = DefaultModel
	}
	if settings.MaxTokens <= 0 {
		settings.MaxTokens = DefaultMaxTokens
	}

	p.mu.Lock()
	p.settings = settings
	p.mu.Unlock()
	return nil
}

// Configured reports whether a credential of plausible length is present.
func (p *Provider) Configured() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.settings.APIKey) >= minPlausibleKeyLength
}

// Ping issues a lightweight authenticated request to verify the upstream API
// is reachable and the credential is accepted.
func (p *Provider) Ping(ctx context.Context) error {
	p.mu.Lock()
	apiKey := p.settings.APIKey
	p.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.PingURL, nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", APIVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return vision.NetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return vision.Classify(resp.StatusCode, string(body), resp.Header.Get("Retry-After"))
	}
	return nil
}

// AnalyzeImage sends one vision request and returns the model's text reply.
// Outbound calls are spaced to respect the configured request rate, and
// retryable failures are retried up to maxAttempts before surfacing.
func (p *Provider) AnalyzeImage(ctx context.Context, url, prompt string) (string, error) {
	p.mu.Lock()
	settings := p.settings
	p.mu.Unlock()

	if err := p.waitForSlot(ctx, settings); err != nil {
		return "", err
	}

	body, err := p.buildRequestBody(settings, url, prompt)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		reply, err := p.executeRequest(ctx, settings.APIKey, body)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		ue, ok := vision.AsUpstream(err)
		if !ok || !ue.Retryable {
			return "", err
		}
		if attempt >= maxAttempts {
			break
		}

		delay := ue.RetryAfter
		if delay <= 0 {
			delay = time.Duration(attempt) * time.Second
		}
		p.logger.Info("Retrying vision request",
			"attempt", attempt,
			"delay", delay,
			"kind", ue.Kind,
			"status", ue.Status,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return "", lastErr
}

// waitForSlot sleeps until the minimum spacing since the previous call has
// elapsed. Spacing is the larger of the configured inter-request delay and
// the per-minute rate converted to an interval.
func (p *Provider) waitForSlot(ctx context.Context, settings vision.Settings) error {
	spacing := settings.RequestSpacing
	if settings.RequestsPerMinute > 0 {
		rateSpacing := time.Minute / time.Duration(settings.RequestsPerMinute)
		if rateSpacing > spacing {
			spacing = rateSpacing
		}
	}
	if spacing <= 0 {
		return nil
	}

	p.mu.Lock()
	wait := spacing - time.Since(p.lastCall)
	p.lastCall = time.Now().Add(wait)
	p.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) buildRequestBody(settings vision.Settings, url, prompt string) ([]byte, error) {
	reqBody := apiRequest{
		Model:     settings.Model,
		MaxTokens: settings.MaxTokens,
		Messages: []apiMessage{
			{
				Role: "user",
				Content: []apiContent{
					{
						Type:   "image",
						Source: &apiImageSource{Type: "url", URL: url},
					},
					{
						Type: "text",
						Text: prompt,
					},
				},
			},
		},
	}
	return json.Marshal(reqBody)
}

// executeRequest performs a single HTTP round trip and classifies any
// non-success response.
func (p *Provider) executeRequest(ctx context.Context, apiKey string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", APIVersion)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		metrics.VisionAPICalls.WithLabelValues(string(vision.KindNetwork)).Inc()
		return "", vision.NetworkError(err)
	}
	defer resp.Body.Close()
	metrics.VisionAPIDuration.Observe(time.Since(start).Seconds())

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.VisionAPICalls.WithLabelValues(string(vision.KindNetwork)).Inc()
		return "", vision.NetworkError(err)
	}

	if resp.StatusCode != http.StatusOK {
		ue := vision.Classify(resp.StatusCode, string(respBody), resp.Header.Get("Retry-After"))
		metrics.VisionAPICalls.WithLabelValues(string(ue.Kind)).Inc()
		return "", ue
	}
	metrics.VisionAPICalls.WithLabelValues("success").Inc()

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	for _, content := range apiResp.Content {
		if content.Type == "text" {
			return content.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in response")
}

// API request/response types

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	Source *apiImageSource `json:"source,omitempty"`
}

type apiImageSource struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type apiResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []apiContentOutput `json:"content"`
	Model   string             `json:"model"`
}

type apiContentOutput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
