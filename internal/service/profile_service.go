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
	"github.com/prn-tf/quill/internal/lock"
	"github.com/prn-tf/quill/internal/repository"
)

// ImageUploader stores an uploaded image and returns its reference.
type ImageUploader interface {
	Upload(ctx context.Context, r io.Reader, filename string) (domain.Image, error)
}

// ProfileService edits the public profile of an account.
type ProfileService struct {
	users  repository.UserRepository
	images ImageUploader
	locker lock.Locker
	logger zerolog.Logger
	now    func() time.Time
}

// NewProfileService creates a new ProfileService. Edits take the same
// account lock as AccountService.
func NewProfileService(users repository.UserRepository, images ImageUploader, locker lock.Locker, logger zerolog.Logger) *ProfileService {
	return &ProfileService{
		users:  users,
		images: images,
		locker: locker,
		logger: logger.With().Str("service", "profile").Logger(),
		now:    time.Now,
	}
}

// UpdateProfileInput contains the profile fields to change. Nil fields are left as is.
type UpdateProfileInput struct {
	UserID        uuid.UUID
	Username      *string
	Email         *string
	Bio           *string
	Location      *string
	Gender        *domain.Gender
	Notifications *domain.NotificationPreferences
}

// Update changes profile fields. Changing the email clears the verified flag.
func (s *ProfileService) Update(ctx context.Context, input UpdateProfileInput) (*domain.User, error) {
	return s.edit(ctx, input.UserID, func(ctx context.Context, user *domain.User) error {
		return s.apply(ctx, user, input)
	})
}

func (s *ProfileService) apply(ctx context.Context, user *domain.User, input UpdateProfileInput) error {
	if input.Username != nil {
		username := strings.TrimSpace(*input.Username)
		if err := domain.ValidateUsername(username); err != nil {
			return err
		}
		if username != user.Username {
			if err := s.ensureFree(ctx, s.users.ExistsByUsername, username, "username is taken"); err != nil {
				return err
			}
			user.Username = username
		}
	}

	if input.Email != nil {
		email := domain.NormalizeEmail(*input.Email)
		if err := domain.ValidateEmail(email); err != nil {
			return err
		}
		if email != user.Email {
			if err := s.ensureFree(ctx, s.users.ExistsByEmail, email, "email is already registered"); err != nil {
				return err
			}
			user.Email = email
			user.IsVerified = false
			user.AccountVerification = nil
		}
	}

	if input.Bio != nil {
		if err := domain.ValidateBio(*input.Bio); err != nil {
			return err
		}
		user.Bio = *input.Bio
	}
	if input.Location != nil {
		user.Location = strings.TrimSpace(*input.Location)
	}
	if input.Gender != nil {
		if !input.Gender.IsValid() {
			return domain.ErrInvalidGender
		}
		user.Gender = *input.Gender
	}
	if input.Notifications != nil {
		user.NotificationPreferences = *input.Notifications
	}

	return nil
}

// SetProfilePicture uploads and sets the profile picture.
func (s *ProfileService) SetProfilePicture(ctx context.Context, userID uuid.UUID, r io.Reader, filename string) (*domain.User, error) {
	return s.setImage(ctx, userID, r, filename, func(u *domain.User, img domain.Image) { u.ProfilePic = img })
}

// SetCoverPhoto uploads and sets the cover photo.
func (s *ProfileService) SetCoverPhoto(ctx context.Context, userID uuid.UUID, r io.Reader, filename string) (*domain.User, error) {
	return s.setImage(ctx, userID, r, filename, func(u *domain.User, img domain.Image) { u.CoverPhoto = img })
}

func (s *ProfileService) setImage(ctx context.Context, userID uuid.UUID, r io.Reader, filename string, set func(*domain.User, domain.Image)) (*domain.User, error) {
	if _, err := s.get(ctx, userID); err != nil {
		return nil, err
	}

	img, err := s.images.Upload(ctx, r, filename)
	if err != nil {
		if errors.Is(err, domain.ErrUnsupportedImage) || errors.Is(err, domain.ErrImageTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	return s.edit(ctx, userID, func(_ context.Context, user *domain.User) error {
		set(user, img)
		return nil
	})
}

// edit reloads the user under the account lock, applies fn and saves.
func (s *ProfileService) edit(ctx context.Context, userID uuid.UUID, fn func(context.Context, *domain.User) error) (*domain.User, error) {
	var saved *domain.User
	var entered bool
	err := lock.Do(ctx, s.locker, lock.Keys.Account(userID.String()), lock.AccountPolicy, func(ctx context.Context) error {
		entered = true
		user, err := s.get(ctx, userID)
		if err != nil {
			return err
		}
		if err := fn(ctx, user); err != nil {
			return err
		}
		saved, err = s.save(ctx, user)
		return err
	})
	switch {
	case err == nil || entered:
		return saved, err
	case errors.Is(err, lock.ErrNotAcquired):
		return nil, ErrTooManyAttempts
	default:
		s.logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to acquire account lock")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
}

func (s *ProfileService) ensureFree(ctx context.Context, exists func(context.Context, string) (bool, error), value, msg string) error {
	taken, err := exists(ctx, value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if taken {
		return domain.NewDomainError(domain.ErrUserAlreadyExists, msg, value)
	}
	return nil
}

func (s *ProfileService) get(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return user, nil
}

func (s *ProfileService) save(ctx context.Context, user *domain.User) (*domain.User, error) {
	user.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, domain.ErrUserAlreadyExists) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to update profile")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Debug().Str("user_id", user.ID.String()).Msg("profile updated")
	return user, nil
}
