// Package storage resolves photo storage keys into URLs the vision API can
// fetch. Uploading and deleting photos belongs to the upload subsystem; the
// queue only ever needs a time-limited link to an existing object.
package storage

import (
	"context"
	"time"
)

// Storage is the narrow contract the analysis queue consumes.
type Storage interface {
	// URL returns a link for the object at key. Private buckets get a
	// presigned URL valid for the given duration; a configured public base
	// URL short-circuits signing when expires is zero.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// LocalConfig configures development storage served from the local
// filesystem by the app itself.
type LocalConfig struct {
	// BaseURL is the public prefix files are served under,
	// e.g. "http://localhost:8080/files".
	BaseURL string
}

// R2Config configures Cloudflare R2 (S3-compatible) object storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// PublicURL, when set, is used instead of presigning for non-expiring
	// links (custom domain in front of the bucket).
	PublicURL string

	// Region is any valid region string; R2 accepts "auto".
	Region string
}

const (
	ProviderLocal = "local"
	ProviderR2    = "r2"
)
