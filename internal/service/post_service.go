package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/repository"
)

// Listing bounds.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Actor identifies the caller of a content operation.
type Actor struct {
	UserID uuid.UUID
	Admin  bool
}

// CanModify reports whether the actor owns ownerID or is an admin.
func (a Actor) CanModify(ownerID uuid.UUID) bool {
	return a.UserID == ownerID || a.Admin
}

// PostService handles posts and their reactions.
type PostService struct {
	posts      repository.PostRepository
	categories repository.CategoryRepository
	comments   repository.CommentRepository
	relations  repository.RelationshipRepository
	tx         repository.TxManager
	images     ImageUploader
	logger     zerolog.Logger
	now        func() time.Time
}

// NewPostService creates a new PostService.
func NewPostService(
	posts repository.PostRepository,
	categories repository.CategoryRepository,
	comments repository.CommentRepository,
	relations repository.RelationshipRepository,
	tx repository.TxManager,
	images ImageUploader,
	logger zerolog.Logger,
) *PostService {
	return &PostService{
		posts:      posts,
		categories: categories,
		comments:   comments,
		relations:  relations,
		tx:         tx,
		images:     images,
		logger:     logger.With().Str("service", "post").Logger(),
		now:        time.Now,
	}
}

// WithClock replaces the clock used for scheduling and feed visibility.
func (s *PostService) WithClock(now func() time.Time) *PostService {
	s.now = now
	return s
}

// CreatePostInput contains the data needed to create a post.
type CreatePostInput struct {
	Actor      Actor
	Title      string
	Content    string
	CategoryID *uuid.UUID

	// Image is required. ImageName is the client file name.
	Image     io.Reader
	ImageName string
}

// Create creates a published post owned by the actor.
func (s *PostService) Create(ctx context.Context, input CreatePostInput) (*domain.Post, error) {
	if err := domain.ValidatePost(input.Title, input.Content); err != nil {
		return nil, err
	}
	if input.Image == nil {
		return nil, domain.ErrImageRequired
	}
	if input.CategoryID != nil {
		if err := s.ensureCategory(ctx, *input.CategoryID); err != nil {
			return nil, err
		}
	}

	img, err := s.upload(ctx, input.Image, input.ImageName)
	if err != nil {
		return nil, err
	}

	post := domain.NewPost(input.Actor.UserID, input.Title, input.Content)
	post.Image = img
	post.CategoryID = input.CategoryID
	now := s.now().UTC()
	post.CreatedAt = now
	post.UpdatedAt = now

	if err := s.posts.Create(ctx, post); err != nil {
		if errors.Is(err, domain.ErrPostTitleTaken) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("title", post.Title).Msg("failed to create post")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().
		Str("post_id", post.ID.String()).
		Str("author", post.AuthorID.String()).
		Msg("post created")

	return post, nil
}

// ListPostsInput narrows a feed listing.
type ListPostsInput struct {
	// ViewerID is uuid.Nil for anonymous callers.
	ViewerID   uuid.UUID
	AuthorID   *uuid.UUID
	CategoryID *uuid.UUID
	Offset     int
	Limit      int
}

// List returns the feed for a viewer. Posts by authors who have blocked the
// viewer and posts scheduled in the future are left out.
func (s *PostService) List(ctx context.Context, input ListPostsInput) (*repository.ListResult[domain.Post], error) {
	filter := repository.PostFilter{
		ListOptions: pageOptions(input.Offset, input.Limit),
		VisibleAt:   s.now().UTC(),
		AuthorID:    input.AuthorID,
		CategoryID:  input.CategoryID,
	}

	if input.ViewerID != uuid.Nil {
		blockers, err := s.relations.BlockersOf(ctx, input.ViewerID)
		if err != nil {
			s.logger.Error().Err(err).Str("viewer", input.ViewerID.String()).Msg("failed to load blockers")
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		filter.ExcludeAuthors = blockers
	}

	result, err := s.posts.List(ctx, filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list posts")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return result, nil
}

// Get returns a post and counts one view.
func (s *PostService) Get(ctx context.Context, id uuid.UUID) (*domain.Post, error) {
	if err := s.posts.IncrementViews(ctx, id); err != nil {
		if errors.Is(err, domain.ErrPostNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return s.get(ctx, id)
}

// UpdatePostInput contains the post fields to change. Nil fields are left as is.
type UpdatePostInput struct {
	Actor   Actor
	PostID  uuid.UUID
	Title   *string
	Content *string

	// CategoryID moves the post; ClearCategory detaches it.
	CategoryID    *uuid.UUID
	ClearCategory bool

	Image     io.Reader
	ImageName string
}

// Update changes a post. Only the author or an admin may update it.
func (s *PostService) Update(ctx context.Context, input UpdatePostInput) (*domain.Post, error) {
	post, err := s.get(ctx, input.PostID)
	if err != nil {
		return nil, err
	}
	if !input.Actor.CanModify(post.AuthorID) {
		return nil, domain.ErrAccessDenied
	}

	title, content := post.Title, post.Content
	if input.Title != nil {
		title = strings.TrimSpace(*input.Title)
	}
	if input.Content != nil {
		content = *input.Content
	}
	if err := domain.ValidatePost(title, content); err != nil {
		return nil, err
	}
	post.Title, post.Content = title, content

	switch {
	case input.ClearCategory:
		post.CategoryID = nil
	case input.CategoryID != nil:
		if err := s.ensureCategory(ctx, *input.CategoryID); err != nil {
			return nil, err
		}
		post.CategoryID = input.CategoryID
	}

	if input.Image != nil {
		img, err := s.upload(ctx, input.Image, input.ImageName)
		if err != nil {
			return nil, err
		}
		post.Image = img
	}

	return s.save(ctx, post)
}

// Delete removes a post with its comments and reactions in one transaction.
// Only the author or an admin may delete it.
func (s *PostService) Delete(ctx context.Context, actor Actor, postID uuid.UUID) error {
	post, err := s.get(ctx, postID)
	if err != nil {
		return err
	}
	if !actor.CanModify(post.AuthorID) {
		return domain.ErrAccessDenied
	}

	var comments, reactions int64
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if comments, err = s.comments.DeleteByPost(ctx, postID); err != nil {
			return fmt.Errorf("failed to delete comments: %w", err)
		}
		if reactions, err = s.posts.DeleteReactions(ctx, postID); err != nil {
			return fmt.Errorf("failed to delete reactions: %w", err)
		}
		return s.posts.Delete(ctx, postID)
	})
	if err != nil {
		if errors.Is(err, domain.ErrPostNotFound) {
			return err
		}
		s.logger.Error().Err(err).Str("post_id", postID.String()).Msg("failed to delete post")
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().
		Str("post_id", postID.String()).
		Int64("comments", comments).
		Int64("reactions", reactions).
		Msg("post deleted")
	return nil
}

// Like records a like by the actor, replacing a dislike. Liking twice is a no-op.
func (s *PostService) Like(ctx context.Context, userID, postID uuid.UUID) (*domain.Post, error) {
	return s.react(ctx, userID, postID, func(current domain.Reaction) (domain.Reaction, bool) {
		return domain.ReactionLike, current != domain.ReactionLike
	})
}

// Dislike toggles the dislike of the actor, replacing a like.
func (s *PostService) Dislike(ctx context.Context, userID, postID uuid.UUID) (*domain.Post, error) {
	return s.react(ctx, userID, postID, func(current domain.Reaction) (domain.Reaction, bool) {
		if current == domain.ReactionDislike {
			return "", true
		}
		return domain.ReactionDislike, true
	})
}

// react applies next to the current reaction of userID in one transaction.
// next returns the new reaction ("" clears it) and whether anything changes.
func (s *PostService) react(ctx context.Context, userID, postID uuid.UUID, next func(domain.Reaction) (domain.Reaction, bool)) (*domain.Post, error) {
	if _, err := s.get(ctx, postID); err != nil {
		return nil, err
	}

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.posts.GetReaction(ctx, postID, userID)
		if err != nil {
			return err
		}
		reaction, changed := next(current)
		if !changed {
			return nil
		}
		if reaction == "" {
			return s.posts.ClearReaction(ctx, postID, userID)
		}
		return s.posts.SetReaction(ctx, postID, userID, reaction)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("post_id", postID.String()).Msg("failed to react to post")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	return s.get(ctx, postID)
}

// Clap adds one clap and returns the new count.
func (s *PostService) Clap(ctx context.Context, postID uuid.UUID) (int64, error) {
	claps, err := s.posts.IncrementClaps(ctx, postID)
	if err != nil {
		if errors.Is(err, domain.ErrPostNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return claps, nil
}

// Schedule sets when the post becomes visible in feeds. Only the author may schedule.
func (s *PostService) Schedule(ctx context.Context, actor Actor, postID uuid.UUID, at time.Time) (*domain.Post, error) {
	post, err := s.get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !post.IsOwnedBy(actor.UserID) {
		return nil, domain.ErrAccessDenied
	}

	at = at.UTC()
	if at.Before(s.now()) {
		return nil, domain.ErrScheduleInPast
	}
	post.ScheduledPublished = &at

	return s.save(ctx, post)
}

func (s *PostService) get(ctx context.Context, id uuid.UUID) (*domain.Post, error) {
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPostNotFound) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("post_id", id.String()).Msg("failed to get post")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return post, nil
}

func (s *PostService) save(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	post.UpdatedAt = s.now().UTC()
	if err := s.posts.Update(ctx, post); err != nil {
		if errors.Is(err, domain.ErrPostTitleTaken) || errors.Is(err, domain.ErrPostNotFound) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("post_id", post.ID.String()).Msg("failed to update post")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return post, nil
}

func (s *PostService) ensureCategory(ctx context.Context, id uuid.UUID) error {
	if _, err := s.categories.GetByID(ctx, id); err != nil {
		if errors.Is(err, domain.ErrCategoryNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return nil
}

func (s *PostService) upload(ctx context.Context, r io.Reader, name string) (domain.Image, error) {
	img, err := s.images.Upload(ctx, r, name)
	if err != nil {
		if errors.Is(err, domain.ErrUnsupportedImage) || errors.Is(err, domain.ErrImageTooLarge) {
			return domain.Image{}, err
		}
		s.logger.Error().Err(err).Msg("failed to upload post image")
		return domain.Image{}, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return img, nil
}

// pageOptions clamps client supplied pagination.
func pageOptions(offset, limit int) repository.ListOptions {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return repository.ListOptions{Offset: offset, Limit: limit}
}
