package storage

import "errors"

// ErrInvalidKey is returned for empty keys or path-traversal attempts.
var ErrInvalidKey = errors.New("invalid storage key")
