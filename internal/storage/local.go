package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// LocalStorage is the development signer: keys map straight onto a public
// base URL with no expiry, matching files served from disk by a dev server.
type LocalStorage struct {
	baseURL string
}

// NewLocalStorage validates the base URL and returns the signer.
func NewLocalStorage(cfg LocalConfig, logger *slog.Logger) (*LocalStorage, error) {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("local storage requires a base url")
	}
	logger.Info("Initialized local storage", "base_url", baseURL)
	return &LocalStorage{baseURL: baseURL}, nil
}

// URL joins the key onto the base URL. Local links do not expire.
func (s *LocalStorage) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", s.baseURL, key), nil
}
