package handler

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templateFS embed.FS

// HomeHandler serves the placeholder client page.
type HomeHandler struct {
	templates *template.Template
	version   string
	logger    zerolog.Logger
}

// PageData contains the placeholder page data.
type PageData struct {
	Title     string
	APIPrefix string
	Version   string
}

// NewHomeHandler parses the embedded templates.
func NewHomeHandler(version string, logger zerolog.Logger) (*HomeHandler, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &HomeHandler{
		templates: tmpl,
		version:   version,
		logger:    logger.With().Str("handler", "home").Logger(),
	}, nil
}

// RegisterRoutes registers the placeholder page.
func (h *HomeHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleIndex)
}

func (h *HomeHandler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.render(w, "index.html", PageData{
		Title:     "Quill",
		APIPrefix: APIPrefix,
		Version:   h.version,
	})
}

func (h *HomeHandler) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, name, data); err != nil {
		h.logger.Error().Err(err).Str("template", name).Msg("Failed to render template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
