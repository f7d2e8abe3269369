package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/auth"
	"github.com/prn-tf/quill/internal/service"
)

// CommentHandler serves comment routes.
type CommentHandler struct {
	comments *service.CommentService
	logger   zerolog.Logger
}

// NewCommentHandler creates a new CommentHandler.
func NewCommentHandler(comments *service.CommentService, logger zerolog.Logger) *CommentHandler {
	return &CommentHandler{
		comments: comments,
		logger:   logger.With().Str("handler", "comment").Logger(),
	}
}

// RegisterRoutes registers the /comments routes. POST /{id} takes a post id;
// the other /{id} routes take a comment id.
func (h *CommentHandler) RegisterRoutes(r chi.Router, gate Gate) {
	r.Get("/post/{postId}", h.handleListByPost)
	r.Get("/{id}", h.handleGet)

	r.Group(func(r chi.Router) {
		r.Use(gate.Require(auth.PolicyActive))

		r.Post("/{id}", h.handleCreate)
		r.Put("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)
	})
}

type commentRequest struct {
	Message string `json:"message"`
}

func (h *CommentHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	a, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	postID, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req commentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	comment, err := h.comments.Create(r.Context(), actor(a), postID, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "comment created successfully", comment)
}

func (h *CommentHandler) handleListByPost(w http.ResponseWriter, r *http.Request) {
	postID, err := uuidParam(r, "postId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	comments, err := h.comments.ListByPost(r.Context(), postID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "comments fetched successfully", comments)
}

func (h *CommentHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	comment, err := h.comments.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "comment fetched successfully", comment)
}

func (h *CommentHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
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
	var req commentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	comment, err := h.comments.Update(r.Context(), actor(a), id, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "comment updated successfully", comment)
}

func (h *CommentHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
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
	if err := h.comments.Delete(r.Context(), actor(a), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "comment deleted successfully", nil)
}
