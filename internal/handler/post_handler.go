package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/auth"
	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/repository"
	"github.com/prn-tf/quill/internal/service"
)

// PostHandler serves post routes.
type PostHandler struct {
	posts    *service.PostService
	maxImage int64
	logger   zerolog.Logger
}

// PostHandlerConfig contains the dependencies of a PostHandler.
type PostHandlerConfig struct {
	PostService  *service.PostService
	MaxImageSize int64
	Logger       zerolog.Logger
}

// NewPostHandler creates a new PostHandler.
func NewPostHandler(cfg PostHandlerConfig) *PostHandler {
	return &PostHandler{
		posts:    cfg.PostService,
		maxImage: cfg.MaxImageSize,
		logger:   cfg.Logger.With().Str("handler", "post").Logger(),
	}
}

// RegisterRoutes registers the /posts routes.
func (h *PostHandler) RegisterRoutes(r chi.Router, gate Gate) {
	r.With(gate.Optional()).Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)

	r.With(gate.Require(auth.PolicyVerified)).Post("/", h.handleCreate)

	r.Group(func(r chi.Router) {
		r.Use(gate.Require(auth.PolicyActive))

		r.Put("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)
		r.Put("/{id}/like", h.handleLike)
		r.Put("/{id}/dislike", h.handleDislike)
		r.Put("/{id}/clap", h.handleClap)
		r.Put("/{id}/schedule", h.handleSchedule)
	})
}

type reactionFunc func(ctx context.Context, userID, postID uuid.UUID) (*domain.Post, error)

type updatePostRequest struct {
	Title         *string `json:"title"`
	Content       *string `json:"content"`
	Category      *string `json:"category"`
	ClearCategory bool    `json:"clear_category"`
}

type scheduleRequest struct {
	ScheduledPublish time.Time `json:"scheduled_publish"`
}

// listResponse is a page of posts.
type listResponse struct {
	Items  []domain.PostView `json:"items"`
	Total  int64             `json:"total"`
	Offset int               `json:"offset"`
	Limit  int               `json:"limit"`
}

func newListResponse(result *repository.ListResult[domain.Post]) listResponse {
	items := make([]domain.PostView, 0, len(result.Items))
	for _, p := range result.Items {
		items = append(items, domain.NewPostView(p))
	}
	return listResponse{Items: items, Total: result.Total, Offset: result.Offset, Limit: result.Limit}
}

func (h *PostHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	a, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	file, err := formImage(w, r, "image", h.maxImage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	categoryID, err := optionalUUID(r.FormValue("category"), "category")
	if err != nil {
		writeError(w, r, err)
		return
	}

	input := service.CreatePostInput{
		Actor:      actor(a),
		Title:      r.FormValue("title"),
		Content:    r.FormValue("content"),
		CategoryID: categoryID,
	}
	if file != nil {
		defer file.Close()
		input.Image, input.ImageName = file, file.name
	}

	post, err := h.posts.Create(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "post created successfully", domain.NewPostView(post))
}

func (h *PostHandler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	input := service.ListPostsInput{
		Offset: atoi(query.Get("offset")),
		Limit:  atoi(query.Get("limit")),
	}
	if a := auth.GetAuthContext(r.Context()); a != nil {
		input.ViewerID = a.UserID
	}

	var err error
	if input.AuthorID, err = optionalUUID(query.Get("author"), "author"); err != nil {
		writeError(w, r, err)
		return
	}
	if input.CategoryID, err = optionalUUID(query.Get("category"), "category"); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.posts.List(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "posts fetched successfully", newListResponse(result))
}

func (h *PostHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	post, err := h.posts.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "post fetched successfully", domain.NewPostView(post))
}

// handleUpdate accepts either a JSON body or a multipart form with an
// optional replacement image.
func (h *PostHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
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

	input := service.UpdatePostInput{Actor: actor(a), PostID: id}
	var req updatePostRequest

	if isMultipart(r) {
		file, err := formImage(w, r, "image", h.maxImage)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if file != nil {
			defer file.Close()
			input.Image, input.ImageName = file, file.name
		}
		req.Title = formField(r, "title")
		req.Content = formField(r, "content")
		req.Category = formField(r, "category")
		req.ClearCategory = r.FormValue("clear_category") == "true"
	} else if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	input.Title, input.Content, input.ClearCategory = req.Title, req.Content, req.ClearCategory
	if req.Category != nil {
		if input.CategoryID, err = optionalUUID(*req.Category, "category"); err != nil {
			writeError(w, r, err)
			return
		}
	}

	post, err := h.posts.Update(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "post updated successfully", domain.NewPostView(post))
}

func (h *PostHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
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
	if err := h.posts.Delete(r.Context(), actor(a), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "post deleted successfully", nil)
}

func (h *PostHandler) handleLike(w http.ResponseWriter, r *http.Request) {
	h.handleReaction(w, r, h.posts.Like, "you have liked the post")
}

func (h *PostHandler) handleDislike(w http.ResponseWriter, r *http.Request) {
	h.handleReaction(w, r, h.posts.Dislike, "you have disliked the post")
}

func (h *PostHandler) handleReaction(w http.ResponseWriter, r *http.Request, react reactionFunc, message string) {
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
	post, err := react(r.Context(), a.UserID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, message, domain.NewPostView(post))
}

func (h *PostHandler) handleClap(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	claps, err := h.posts.Clap(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "post clapped successfully", map[string]int64{"claps": claps})
}

func (h *PostHandler) handleSchedule(w http.ResponseWriter, r *http.Request) {
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
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ScheduledPublish.IsZero() {
		writeError(w, r, domain.NewDomainError(errInvalidRequest, "scheduled_publish is required", ""))
		return
	}

	post, err := h.posts.Schedule(r.Context(), actor(a), id, req.ScheduledPublish)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "post scheduled successfully", domain.NewPostView(post))
}

// formField returns a pointer to a present form value, nil when absent.
func formField(r *http.Request, name string) *string {
	if _, ok := r.MultipartForm.Value[name]; !ok {
		return nil
	}
	v := r.FormValue(name)
	return &v
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
