package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/repository"
)

// SocialService manages follows, blocks and profile views.
type SocialService struct {
	users     repository.UserRepository
	relations repository.RelationshipRepository
	logger    zerolog.Logger
}

// NewSocialService creates a new SocialService.
func NewSocialService(users repository.UserRepository, relations repository.RelationshipRepository, logger zerolog.Logger) *SocialService {
	return &SocialService{
		users:     users,
		relations: relations,
		logger:    logger.With().Str("service", "social").Logger(),
	}
}

// Follow makes actor follow target. Following twice is a no-op.
func (s *SocialService) Follow(ctx context.Context, actorID, targetID uuid.UUID) error {
	if actorID == targetID {
		return domain.ErrCannotFollowSelf
	}
	if _, err := s.liveUser(ctx, targetID); err != nil {
		return err
	}

	if err := s.relations.Follow(ctx, actorID, targetID); err != nil {
		s.logger.Error().Err(err).Str("follower", actorID.String()).Str("followee", targetID.String()).Msg("failed to follow")
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Debug().Str("follower", actorID.String()).Str("followee", targetID.String()).Msg("user followed")
	return nil
}

// Unfollow removes the follow of actor on target. Unfollowing twice is a no-op.
func (s *SocialService) Unfollow(ctx context.Context, actorID, targetID uuid.UUID) error {
	if actorID == targetID {
		return domain.ErrCannotFollowSelf
	}
	if _, err := s.user(ctx, targetID); err != nil {
		return err
	}

	if err := s.relations.Unfollow(ctx, actorID, targetID); err != nil {
		s.logger.Error().Err(err).Str("follower", actorID.String()).Str("followee", targetID.String()).Msg("failed to unfollow")
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return nil
}

// Block makes actor block target.
func (s *SocialService) Block(ctx context.Context, actorID, targetID uuid.UUID) error {
	if actorID == targetID {
		return domain.ErrCannotBlockSelf
	}
	if _, err := s.liveUser(ctx, targetID); err != nil {
		return err
	}

	added, err := s.relations.Block(ctx, actorID, targetID)
	if err != nil {
		s.logger.Error().Err(err).Str("blocker", actorID.String()).Str("blocked", targetID.String()).Msg("failed to block")
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if !added {
		return domain.ErrAlreadyBlocked
	}

	s.logger.Info().Str("blocker", actorID.String()).Str("blocked", targetID.String()).Msg("user blocked")
	return nil
}

// Unblock removes the block of actor on target.
func (s *SocialService) Unblock(ctx context.Context, actorID, targetID uuid.UUID) error {
	if actorID == targetID {
		return domain.ErrCannotBlockSelf
	}
	if _, err := s.user(ctx, targetID); err != nil {
		return err
	}

	removed, err := s.relations.Unblock(ctx, actorID, targetID)
	if err != nil {
		s.logger.Error().Err(err).Str("blocker", actorID.String()).Str("blocked", targetID.String()).Msg("failed to unblock")
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if !removed {
		return domain.ErrNotBlocked
	}
	return nil
}

// ViewProfile returns the profile of subject and records viewer as a viewer.
// Viewing your own profile is not recorded.
func (s *SocialService) ViewProfile(ctx context.Context, viewerID, subjectID uuid.UUID) (*domain.Profile, error) {
	subject, err := s.liveUser(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	if viewerID != subjectID {
		if err := s.relations.RecordProfileView(ctx, subjectID, viewerID); err != nil {
			s.logger.Error().Err(err).Str("subject", subjectID.String()).Msg("failed to record profile view")
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		}
	}

	return s.profile(ctx, subject)
}

// Profile returns a user together with their relations.
func (s *SocialService) Profile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.profile(ctx, user)
}

// BlockersOf returns the users whose content viewer must not see in feeds.
func (s *SocialService) BlockersOf(ctx context.Context, viewerID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := s.relations.BlockersOf(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return ids, nil
}

func (s *SocialService) profile(ctx context.Context, user *domain.User) (*domain.Profile, error) {
	rel, err := s.relations.Relations(ctx, user.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to load relations")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return &domain.Profile{User: user, Relations: *rel}, nil
}

func (s *SocialService) user(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return user, nil
}

// liveUser loads a user that has not been soft deleted.
func (s *SocialService) liveUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.user(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.IsDeleted {
		return nil, domain.NewDomainError(domain.ErrUserNotFound, "account has been deleted", id.String())
	}
	return user, nil
}
