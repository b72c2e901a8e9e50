package storage

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestLocalStorageURL(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	s, err := NewLocalStorage(LocalConfig{BaseURL: "http://localhost:8080/files/"}, logger)
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}

	url, err := s.URL(context.Background(), "photos/abc.jpg", 15*time.Minute)
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	if want := "http://localhost:8080/files/photos/abc.jpg"; url != want {
		t.Errorf("URL = %q, want %q", url, want)
	}
}

func TestLocalStorageRequiresBaseURL(t *testing.T) {
	if _, err := NewLocalStorage(LocalConfig{}, slog.New(slog.DiscardHandler)); err == nil {
		t.Error("expected error for empty base url")
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"photos/abc.jpg", false},
		{"", true},
		{"../etc/passwd", true},
		{"photos/../../secret", true},
	}

	for _, tt := range tests {
		err := validateKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("validateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
	}
}
