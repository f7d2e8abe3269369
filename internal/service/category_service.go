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

// CategoryService manages post categories.
type CategoryService struct {
	categories repository.CategoryRepository
	posts      repository.PostRepository
	tx         repository.TxManager
	logger     zerolog.Logger
	now        func() time.Time
}

// NewCategoryService creates a new CategoryService.
func NewCategoryService(categories repository.CategoryRepository, posts repository.PostRepository, tx repository.TxManager, logger zerolog.Logger) *CategoryService {
	return &CategoryService{
		categories: categories,
		posts:      posts,
		tx:         tx,
		logger:     logger.With().Str("service", "category").Logger(),
		now:        time.Now,
	}
}

// Create creates a category owned by the actor.
func (s *CategoryService) Create(ctx context.Context, actor Actor, name string) (*domain.Category, error) {
	if err := domain.ValidateCategoryName(name); err != nil {
		return nil, err
	}

	category := domain.NewCategory(actor.UserID, name)
	now := s.now().UTC()
	category.CreatedAt = now
	category.UpdatedAt = now

	if err := s.categories.Create(ctx, category); err != nil {
		if errors.Is(err, domain.ErrCategoryExists) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("name", category.Name).Msg("failed to create category")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().Str("category_id", category.ID.String()).Str("name", category.Name).Msg("category created")
	return category, nil
}

// List returns every category.
func (s *CategoryService) List(ctx context.Context) ([]*domain.Category, error) {
	categories, err := s.categories.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return categories, nil
}

// Get returns a category with its post ids.
func (s *CategoryService) Get(ctx context.Context, id uuid.UUID) (*domain.Category, error) {
	category, err := s.categories.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrCategoryNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return category, nil
}

// Rename changes the category name. Only the author or an admin may rename it.
func (s *CategoryService) Rename(ctx context.Context, actor Actor, id uuid.UUID, name string) (*domain.Category, error) {
	if err := domain.ValidateCategoryName(name); err != nil {
		return nil, err
	}

	category, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanModify(category.AuthorID) {
		return nil, domain.ErrAccessDenied
	}

	category.Name = strings.TrimSpace(name)
	category.UpdatedAt = s.now().UTC()
	if err := s.categories.Update(ctx, category); err != nil {
		if errors.Is(err, domain.ErrCategoryExists) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return category, nil
}

// Delete removes a category and detaches its posts in one transaction.
// Only the author or an admin may delete it.
func (s *CategoryService) Delete(ctx context.Context, actor Actor, id uuid.UUID) error {
	category, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !actor.CanModify(category.AuthorID) {
		return domain.ErrAccessDenied
	}

	var detached int64
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if detached, err = s.posts.ClearCategory(ctx, id); err != nil {
			return fmt.Errorf("failed to detach posts: %w", err)
		}
		return s.categories.Delete(ctx, id)
	})
	if err != nil {
		if errors.Is(err, domain.ErrCategoryNotFound) {
			return err
		}
		s.logger.Error().Err(err).Str("category_id", id.String()).Msg("failed to delete category")
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().Str("category_id", id.String()).Int64("posts_detached", detached).Msg("category deleted")
	return nil
}
