package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/storage"
)

// ImageOpener reads stored images.
type ImageOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// ImageHandler serves stored images from the configured backend.
type ImageHandler struct {
	images ImageOpener
	logger zerolog.Logger
}

// NewImageHandler creates a new ImageHandler.
func NewImageHandler(images ImageOpener, logger zerolog.Logger) *ImageHandler {
	return &ImageHandler{
		images: images,
		logger: logger.With().Str("handler", "image").Logger(),
	}
}

// RegisterRoutes registers GET /*.
func (h *ImageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/*", h.handleGet)
}

func (h *ImageHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")

	rc, contentType, err := h.images.Open(r.Context(), key)
	if err != nil {
		if storage.IsNotFound(err) || errors.Is(err, storage.ErrInvalidKey) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error().Err(err).Str("key", key).Msg("Failed to open image")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	// Keys are content addressed, so a stored image never changes.
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Debug().Err(err).Str("key", key).Msg("Image copy interrupted")
	}
}
