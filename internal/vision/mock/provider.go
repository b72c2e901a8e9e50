package mock

import (
	"context"
	"sync"
)

// Provider is a mock vision client for testing and development.
type Provider struct {
	mu sync.Mutex

	// Configurable behavior for testing
	Reply           string
	RepliesByPrompt map[string]string
	AnalyzeFunc     func(url, prompt string) (string, error)
	AnalyzeError    error
	PingError       error
	Unconfigured    bool

	// Call tracking for testing
	AnalyzeCalls int
	Prompts      []string
	URLs         []string
}

// New creates a new mock vision provider.
func New() *Provider {
	return &Provider{Reply: "mock caption"}
}

// AnalyzeImage returns the canned reply, or the per-prompt reply when one is
// registered.
func (p *Provider) AnalyzeImage(ctx context.Context, url, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.AnalyzeCalls++
	p.Prompts = append(p.Prompts, prompt)
	p.URLs = append(p.URLs, url)

	if p.AnalyzeFunc != nil {
		return p.AnalyzeFunc(url, prompt)
	}
	if p.AnalyzeError != nil {
		return "", p.AnalyzeError
	}
	if reply, ok := p.RepliesByPrompt[prompt]; ok {
		return reply, nil
	}
	return p.Reply, nil
}

// Configured reports the configured flag, true by default.
func (p *Provider) Configured() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.Unconfigured
}

// Ping returns the canned ping error, if any.
func (p *Provider) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PingError
}

// Reload is a no-op for the mock.
func (p *Provider) Reload(ctx context.Context) error {
	return nil
}

// Reset clears call counters and configured behavior.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AnalyzeCalls = 0
	p.Prompts = nil
	p.URLs = nil
	p.AnalyzeFunc = nil
	p.AnalyzeError = nil
	p.PingError = nil
	p.Unconfigured = false
}
