package handler

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/prn-tf/quill/internal/domain"
)

// multipartMemory is how much of a multipart body is buffered in memory
// before spilling to temporary files.
const multipartMemory = 8 << 20

// formOverhead leaves room for the other form fields next to the image.
const formOverhead = 1 << 20

type imageSetter func(ctx context.Context, userID uuid.UUID, r io.Reader, filename string) (*domain.User, error)

type relationFunc func(ctx context.Context, actorID, targetID uuid.UUID) error

// uploadedFile is an image part of a multipart form.
type uploadedFile struct {
	multipart.File
	name string
}

// isMultipart reports whether the request carries a multipart form.
func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mediaType, "multipart/")
}

// parseForm parses a multipart body of at most maxImage bytes plus the
// other fields. Oversized bodies are reported as domain.ErrImageTooLarge.
func parseForm(w http.ResponseWriter, r *http.Request, maxImage int64) error {
	if r.MultipartForm != nil {
		return nil
	}
	if maxImage > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxImage+formOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.ErrImageTooLarge
		}
		return domain.NewDomainError(errInvalidRequest, "malformed multipart form", "")
	}
	return nil
}

// formImage returns the named file of a multipart form, or nil when the
// form has no such part.
func formImage(w http.ResponseWriter, r *http.Request, field string, maxImage int64) (*uploadedFile, error) {
	if err := parseForm(w, r, maxImage); err != nil {
		return nil, err
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, domain.NewDomainError(errInvalidRequest, "unreadable file", field)
	}
	return &uploadedFile{File: file, name: header.Filename}, nil
}

// optionalUUID parses an optional id form or JSON field.
func optionalUUID(raw, field string) (*uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, domain.NewDomainError(errInvalidRequest, "malformed id", field)
	}
	return &id, nil
}
