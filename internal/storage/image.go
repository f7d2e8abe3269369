package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/pkg/crypto"
)

// imageTypes maps sniffed content types to the stored file extension.
var imageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
}

var allowedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
}

// ImageStore validates uploads and stores them on a Backend.
type ImageStore struct {
	backend Backend
	baseURL string
	maxSize int64
	paths   PathConfig
	logger  zerolog.Logger
}

// NewImageStore creates an image store. Stored images are reachable under baseURL.
func NewImageStore(backend Backend, baseURL string, maxSize int64, logger zerolog.Logger) *ImageStore {
	return &ImageStore{
		backend: backend,
		baseURL: strings.TrimRight(baseURL, "/"),
		maxSize: maxSize,
		paths:   DefaultPathConfig("images"),
		logger:  logger.With().Str("component", "images").Logger(),
	}
}

// Upload validates and stores one image read from r.
// filename is the client supplied name; only its extension is checked.
func (s *ImageStore) Upload(ctx context.Context, r io.Reader, filename string) (domain.Image, error) {
	if filename != "" && !allowedExtensions[strings.ToLower(path.Ext(filename))] {
		return domain.Image{}, domain.ErrUnsupportedImage
	}

	hr := crypto.NewHashReader(io.LimitReader(r, s.maxSize+1))
	data, err := io.ReadAll(hr)
	if err != nil {
		return domain.Image{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return domain.Image{}, domain.ErrImageTooLarge
	}

	contentType := http.DetectContentType(data)
	ext, ok := imageTypes[contentType]
	if !ok {
		return domain.Image{}, domain.ErrUnsupportedImage
	}

	key := ComputeKey(s.paths, hr.SHA256(), ext)
	if err := s.backend.Put(ctx, key, bytes.NewReader(data), hr.Size(), contentType); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to store image")
		return domain.Image{}, fmt.Errorf("failed to store image: %w", err)
	}

	s.logger.Debug().Str("key", key).Int64("size", hr.Size()).Msg("image stored")

	return domain.Image{URL: s.baseURL + "/" + key, Key: key}, nil
}

// Open returns a stored image and its content type.
func (s *ImageStore) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if err := ValidateKey(key); err != nil {
		return nil, "", err
	}
	rc, err := s.backend.Open(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return rc, ContentTypeForKey(key), nil
}

// ContentTypeForKey derives the content type from a stored key's extension.
func ContentTypeForKey(key string) string {
	ext := strings.ToLower(path.Ext(key))
	for ct, e := range imageTypes {
		if e == ext {
			return ct
		}
	}
	return "application/octet-stream"
}
