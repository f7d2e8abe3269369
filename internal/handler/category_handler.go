package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/auth"
	"github.com/prn-tf/quill/internal/service"
)

// CategoryHandler serves category routes.
type CategoryHandler struct {
	categories *service.CategoryService
	logger     zerolog.Logger
}

// NewCategoryHandler creates a new CategoryHandler.
func NewCategoryHandler(categories *service.CategoryService, logger zerolog.Logger) *CategoryHandler {
	return &CategoryHandler{
		categories: categories,
		logger:     logger.With().Str("handler", "category").Logger(),
	}
}

// RegisterRoutes registers the /categories routes.
func (h *CategoryHandler) RegisterRoutes(r chi.Router, gate Gate) {
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)

	r.Group(func(r chi.Router) {
		r.Use(gate.Require(auth.PolicyActive))

		r.Post("/", h.handleCreate)
		r.Put("/{id}", h.handleRename)
		r.Delete("/{id}", h.handleDelete)
	})
}

type categoryRequest struct {
	Name string `json:"name"`
}

func (h *CategoryHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	a, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	category, err := h.categories.Create(r.Context(), actor(a), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "category created successfully", category)
}

func (h *CategoryHandler) handleList(w http.ResponseWriter, r *http.Request) {
	categories, err := h.categories.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "categories fetched successfully", categories)
}

func (h *CategoryHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	category, err := h.categories.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "category fetched successfully", category)
}

func (h *CategoryHandler) handleRename(w http.ResponseWriter, r *http.Request) {
	a, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	category, err := h.categories.Rename(r.Context(), actor(a), id, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "category updated successfully", category)
}

func (h *CategoryHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	a, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.categories.Delete(r.Context(), actor(a), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "category deleted successfully", nil)
}
