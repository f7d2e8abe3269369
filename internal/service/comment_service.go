package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/repository"
)

// CommentService manages comments on posts.
type CommentService struct {
	comments repository.CommentRepository
	posts    repository.PostRepository
	logger   zerolog.Logger
	now      func() time.Time
}

// NewCommentService creates a new CommentService.
func NewCommentService(comments repository.CommentRepository, posts repository.PostRepository, logger zerolog.Logger) *CommentService {
	return &CommentService{
		comments: comments,
		posts:    posts,
		logger:   logger.With().Str("service", "comment").Logger(),
		now:      time.Now,
	}
}

// Create adds a comment by the actor on a post.
func (s *CommentService) Create(ctx context.Context, actor Actor, postID uuid.UUID, message string) (*domain.Comment, error) {
	if err := domain.ValidateCommentMessage(message); err != nil {
		return nil, err
	}
	if _, err := s.post(ctx, postID); err != nil {
		return nil, err
	}

	comment := domain.NewComment(actor.UserID, postID, message)
	now := s.now().UTC()
	comment.CreatedAt = now
	comment.UpdatedAt = now

	if err := s.comments.Create(ctx, comment); err != nil {
		if errors.Is(err, domain.ErrPostNotFound) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("post_id", postID.String()).Msg("failed to create comment")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Debug().Str("comment_id", comment.ID.String()).Str("post_id", postID.String()).Msg("comment created")
	return comment, nil
}

// ListByPost returns the comments on a post, oldest first.
func (s *CommentService) ListByPost(ctx context.Context, postID uuid.UUID) ([]*domain.Comment, error) {
	if _, err := s.post(ctx, postID); err != nil {
		return nil, err
	}
	comments, err := s.comments.ListByPost(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return comments, nil
}

// Get returns a comment.
func (s *CommentService) Get(ctx context.Context, id uuid.UUID) (*domain.Comment, error) {
	comment, err := s.comments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrCommentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return comment, nil
}

// Update changes the message. Only the comment author may edit it.
func (s *CommentService) Update(ctx context.Context, actor Actor, id uuid.UUID, message string) (*domain.Comment, error) {
	if err := domain.ValidateCommentMessage(message); err != nil {
		return nil, err
	}

	comment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if comment.AuthorID != actor.UserID {
		return nil, domain.ErrAccessDenied
	}

	comment.Message = strings.TrimSpace(message)
	comment.UpdatedAt = s.now().UTC()
	if err := s.comments.Update(ctx, comment); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return comment, nil
}

// Delete removes a comment. The comment author, the post author and admins may delete it.
func (s *CommentService) Delete(ctx context.Context, actor Actor, id uuid.UUID) error {
	comment, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if !actor.CanModify(comment.AuthorID) {
		post, err := s.post(ctx, comment.PostID)
		if err != nil && !errors.Is(err, domain.ErrPostNotFound) {
			return err
		}
		if post == nil || !post.IsOwnedBy(actor.UserID) {
			return domain.ErrAccessDenied
		}
	}

	if err := s.comments.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrCommentNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Debug().Str("comment_id", id.String()).Msg("comment deleted")
	return nil
}

func (s *CommentService) post(ctx context.Context, id uuid.UUID) (*domain.Post, error) {
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPostNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return post, nil
}
