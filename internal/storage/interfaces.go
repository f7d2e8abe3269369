// Package storage persists uploaded images.
// Images are content addressed: the object key is derived from the SHA-256
// of the bytes, so re-uploading the same image writes nothing new.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prn-tf/quill/internal/config"
)

// ErrObjectNotFound indicates the key does not exist in the backend.
var ErrObjectNotFound = errors.New("object not found")

// ErrInvalidKey indicates a malformed or unsafe object key.
var ErrInvalidKey = errors.New("invalid object key")

// Backend stores raw objects under opaque keys.
// Implementations: local filesystem and S3-compatible object storage.
type Backend interface {
	// Put stores size bytes from r under key.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Open returns a reader for the object. The caller must close it.
	// Returns ErrObjectNotFound if the key does not exist.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// NewBackend returns the backend selected by cfg.Backend.
func NewBackend(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case "s3":
		return NewS3Backend(ctx, cfg.S3)
	case "filesystem", "":
		return NewFilesystemBackend(cfg.DataDir)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
