package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/auth"
	"github.com/prn-tf/quill/internal/config"
	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/lock"
	"github.com/prn-tf/quill/internal/mail"
	"github.com/prn-tf/quill/internal/metrics"
	"github.com/prn-tf/quill/internal/pkg/crypto"
	"github.com/prn-tf/quill/internal/ratelimit"
	"github.com/prn-tf/quill/internal/repository"
)

// AccountConfig contains secret lifetimes and the restore window.
type AccountConfig struct {
	// ResetTokenTTL is how long a password reset token stays valid.
	ResetTokenTTL time.Duration

	// VerificationTokenTTL is how long an account verification token stays valid.
	VerificationTokenTTL time.Duration

	// OTPTTL is how long a restore or reactivate code stays valid.
	OTPTTL time.Duration

	// RestoreWindow bounds how long after deletion an account can be restored.
	// Zero means no bound.
	RestoreWindow time.Duration
}

// DefaultAccountConfig returns sensible defaults.
func DefaultAccountConfig() AccountConfig {
	return AccountConfig{
		ResetTokenTTL:        10 * time.Minute,
		VerificationTokenTTL: 10 * time.Minute,
		OTPTTL:               10 * time.Minute,
		RestoreWindow:        30 * 24 * time.Hour,
	}
}

// AccountConfigFrom builds an AccountConfig from the auth section,
// falling back to defaults for unset lifetimes.
func AccountConfigFrom(cfg config.AuthConfig) AccountConfig {
	out := DefaultAccountConfig()
	if cfg.ResetTokenTTL > 0 {
		out.ResetTokenTTL = cfg.ResetTokenTTL
	}
	if cfg.VerificationTokenTTL > 0 {
		out.VerificationTokenTTL = cfg.VerificationTokenTTL
	}
	if cfg.OTPTTL > 0 {
		out.OTPTTL = cfg.OTPTTL
	}
	out.RestoreWindow = cfg.RestoreWindow
	return out
}

// AccountService handles registration, sessions and the account lifecycle.
type AccountService struct {
	users     repository.UserRepository
	hasher    *crypto.PasswordHasher
	tokens    *auth.TokenManager
	mailer    mail.Sender
	templates mail.Templates
	locker    lock.Locker
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	config    AccountConfig

	loginLimiter *ratelimit.Limiter
	otpLimiter   *ratelimit.Limiter

	now func() time.Time
}

// NewAccountService creates a new AccountService.
func NewAccountService(
	users repository.UserRepository,
	hasher *crypto.PasswordHasher,
	tokens *auth.TokenManager,
	mailer mail.Sender,
	templates mail.Templates,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config AccountConfig,
) *AccountService {
	return &AccountService{
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		mailer:    mailer,
		templates: templates,
		locker:    locker,
		metrics:   m,
		logger:    logger.With().Str("service", "account").Logger(),
		config:    config,
		now:       time.Now,
	}
}

// WithLimiters sets the attempt limiters for login and code verification.
// A nil limiter admits every attempt.
func (s *AccountService) WithLimiters(login, otp *ratelimit.Limiter) *AccountService {
	s.loginLimiter = login
	s.otpLimiter = otp
	return s
}

// WithClock replaces the clock used for expiry and lifecycle timestamps.
func (s *AccountService) WithClock(now func() time.Time) *AccountService {
	s.now = now
	return s
}

// =============================================================================
// Registration and sessions
// =============================================================================

// RegisterInput contains the data needed to create a new account.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// RegisterOutput contains the result of a registration.
type RegisterOutput struct {
	User *domain.User
}

// Register creates a new Active, Unverified account.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*RegisterOutput, error) {
	username := strings.TrimSpace(input.Username)
	email := domain.NormalizeEmail(input.Email)

	if err := domain.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := domain.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := domain.ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	exists, err := s.users.ExistsByUsername(ctx, username)
	if err != nil {
		s.logger.Error().Err(err).Str("username", username).Msg("failed to check username existence")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if exists {
		return nil, domain.NewDomainError(domain.ErrUserAlreadyExists, "username is taken", username)
	}

	exists, err = s.users.ExistsByEmail(ctx, email)
	if err != nil {
		s.logger.Error().Err(err).Str("email", email).Msg("failed to check email existence")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if exists {
		return nil, domain.NewDomainError(domain.ErrUserAlreadyExists, "email is already registered", email)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to hash password")
		return nil, fmt.Errorf("%w: failed to hash password", ErrInternalError)
	}

	user := domain.NewUser(username, email, hash)
	now := s.now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrUserAlreadyExists) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("username", username).Msg("failed to create user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.metrics.RecordAuthEvent("register", "success")
	s.logger.Info().
		Str("user_id", user.ID.String()).
		Str("username", user.Username).
		Msg("user registered")

	return &RegisterOutput{User: user}, nil
}

// LoginInput contains login credentials.
type LoginInput struct {
	Email    string
	Password string
}

// LoginOutput contains a session for the authenticated user.
type LoginOutput struct {
	User      *domain.User
	Token     string
	ExpiresIn time.Duration
}

// Login verifies credentials and issues a session token.
// Unknown emails and wrong passwords are indistinguishable to the caller.
// The account state is only revealed once the password has matched.
func (s *AccountService) Login(ctx context.Context, input LoginInput) (*LoginOutput, error) {
	email := domain.NormalizeEmail(input.Email)
	if err := s.throttle(ctx, s.loginLimiter, email); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.hasher.CompareDummy(input.Password)
			s.metrics.RecordAuthEvent("login", "invalid_credentials")
			return nil, domain.ErrInvalidCredentials
		}
		s.logger.Error().Err(err).Msg("failed to load user for login")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	var out *LoginOutput
	err = s.withAccount(ctx, user.ID, func(ctx context.Context, user *domain.User) error {
		if !s.hasher.Compare(user.PasswordHash, input.Password) {
			s.logger.Debug().Str("user_id", user.ID.String()).Msg("invalid password during login")
			s.metrics.RecordAuthEvent("login", "invalid_credentials")
			return domain.ErrInvalidCredentials
		}

		if err := user.CanLogin(); err != nil {
			s.metrics.RecordAuthEvent("login", string(user.State()))
			return err
		}

		now := s.now().UTC()
		user.LastLogin = &now
		if err := s.users.Update(ctx, user); err != nil {
			s.logger.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to record login")
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}

		var err error
		out, err = s.session(user)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.resetLimiter(ctx, s.loginLimiter, email)

	s.metrics.RecordAuthEvent("login", "success")
	s.logger.Info().Str("user_id", user.ID.String()).Msg("user logged in")

	return out, nil
}

// ChangePasswordInput contains the data needed to change a password.
type ChangePasswordInput struct {
	UserID          uuid.UUID
	CurrentPassword string
	NewPassword     string
}

// ChangePassword replaces the password of an authenticated user.
// Tokens issued before the change stop verifying; a fresh session is returned.
func (s *AccountService) ChangePassword(ctx context.Context, input ChangePasswordInput) (*LoginOutput, error) {
	if err := domain.ValidatePassword(input.NewPassword); err != nil {
		return nil, err
	}

	var out *LoginOutput
	err := s.withAccount(ctx, input.UserID, func(ctx context.Context, user *domain.User) error {
		if !s.hasher.Compare(user.PasswordHash, input.CurrentPassword) {
			s.metrics.RecordAuthEvent("change_password", "mismatch")
			return domain.ErrPasswordMismatch
		}
		if input.NewPassword == input.CurrentPassword {
			return domain.ErrPasswordUnchanged
		}

		if err := s.setPassword(ctx, user, input.NewPassword); err != nil {
			return err
		}

		var err error
		out, err = s.session(user)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordAuthEvent("change_password", "success")
	s.logger.Info().Str("user_id", input.UserID.String()).Msg("password changed")
	return out, nil
}

// =============================================================================
// Password reset and verification
// =============================================================================

// RequestPasswordReset mails a single-use reset link to the account owner.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	found, err := s.getUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	err = s.withAccount(ctx, found.ID, func(ctx context.Context, user *domain.User) error {
		if user.IsDeleted {
			return domain.ErrAccountDeleted
		}

		token, err := crypto.GenerateToken()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}

		ttl := s.config.ResetTokenTTL
		return s.issueSecret(ctx, user, &user.PasswordReset, token, ttl, s.templates.PasswordReset(user.Email, token, ttl))
	})
	if err != nil {
		return err
	}

	s.metrics.RecordAuthEvent("password_reset_request", "success")
	s.logger.Info().Str("user_id", found.ID.String()).Msg("password reset requested")
	return nil
}

// ResetPasswordInput contains a reset token and the new password.
type ResetPasswordInput struct {
	Token       string
	NewPassword string
}

// ResetPassword sets a new password using a reset token.
// The token is consumed and previously issued session tokens become stale.
func (s *AccountService) ResetPassword(ctx context.Context, input ResetPasswordInput) error {
	if err := domain.ValidatePassword(input.NewPassword); err != nil {
		return err
	}
	if input.Token == "" {
		return ErrInvalidOrExpiredToken
	}

	digest := crypto.Digest(input.Token)
	found, err := s.users.GetByPasswordResetDigest(ctx, digest)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.metrics.RecordAuthEvent("password_reset", "invalid_token")
			return ErrInvalidOrExpiredToken
		}
		s.logger.Error().Err(err).Msg("failed to look up reset token")
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	err = s.withAccount(ctx, found.ID, func(ctx context.Context, user *domain.User) error {
		if !secretMatches(user.PasswordReset, digest, s.now()) {
			s.metrics.RecordAuthEvent("password_reset", "invalid_token")
			return ErrInvalidOrExpiredToken
		}

		user.PasswordReset = nil
		return s.setPassword(ctx, user, input.NewPassword)
	})
	if err != nil {
		return err
	}

	s.metrics.RecordAuthEvent("password_reset", "success")
	s.logger.Info().Str("user_id", found.ID.String()).Msg("password reset")
	return nil
}

// RequestAccountVerification mails a verification link to the account owner.
// Deleted accounts are refused.
func (s *AccountService) RequestAccountVerification(ctx context.Context, userID uuid.UUID) error {
	err := s.withAccount(ctx, userID, func(ctx context.Context, user *domain.User) error {
		if user.IsDeleted {
			return domain.ErrAccountDeleted
		}
		if user.IsVerified {
			return domain.ErrAlreadyVerified
		}

		token, err := crypto.GenerateToken()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}

		ttl := s.config.VerificationTokenTTL
		return s.issueSecret(ctx, user, &user.AccountVerification, token, ttl, s.templates.AccountVerification(user.Email, token, ttl))
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("user_id", userID.String()).Msg("account verification requested")
	return nil
}

// VerifyAccount marks the holder of a verification token as verified.
func (s *AccountService) VerifyAccount(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, ErrInvalidOrExpiredToken
	}

	digest := crypto.Digest(token)
	found, err := s.users.GetByVerificationDigest(ctx, digest)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, ErrInvalidOrExpiredToken
		}
		s.logger.Error().Err(err).Msg("failed to look up verification token")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	var verified *domain.User
	err = s.withAccount(ctx, found.ID, func(ctx context.Context, user *domain.User) error {
		now := s.now()
		if !secretMatches(user.AccountVerification, digest, now) {
			return ErrInvalidOrExpiredToken
		}

		if err := user.Verify(now); err != nil {
			return err
		}
		if err := s.users.Update(ctx, user); err != nil {
			s.logger.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to verify account")
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		verified = user
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordAuthEvent("verify_account", "success")
	s.logger.Info().Str("user_id", verified.ID.String()).Msg("account verified")
	return verified, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// RequestOTP mails a one-time code that restores a deleted account or
// reactivates an inactive one. The purpose follows the account state.
func (s *AccountService) RequestOTP(ctx context.Context, email string) error {
	found, err := s.getUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	var state domain.AccountState
	err = s.withAccount(ctx, found.ID, func(ctx context.Context, user *domain.User) error {
		state = user.State()

		var slot **domain.SecretDigest
		switch state {
		case domain.StateDeleted:
			if err := user.CheckRestoreWindow(s.now(), s.config.RestoreWindow); err != nil {
				return err
			}
			slot = &user.RestoreOTP
		case domain.StateInactive:
			slot = &user.ReactivateOTP
		default:
			return domain.ErrAlreadyActive
		}

		code, err := crypto.GenerateOTP()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}

		ttl := s.config.OTPTTL
		return s.issueSecret(ctx, user, slot, code, ttl, s.templates.OTP(user.Email, code, ttl))
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("user_id", found.ID.String()).
		Str("state", string(state)).
		Msg("otp requested")
	return nil
}

// VerifyOTPInput contains a one-time code for an account.
type VerifyOTPInput struct {
	Email string
	Code  string
}

// VerifyOTP consumes a one-time code and returns the account to Active.
// A code is consumed by its first verification attempt, whatever the outcome.
func (s *AccountService) VerifyOTP(ctx context.Context, input VerifyOTPInput) (*LoginOutput, error) {
	email := domain.NormalizeEmail(input.Email)
	if err := s.throttle(ctx, s.otpLimiter, email); err != nil {
		return nil, err
	}

	found, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, ErrInvalidOrExpiredOTP
		}
		s.logger.Error().Err(err).Msg("failed to load user for otp")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	// The row is reloaded under the lock so a concurrent attempt sees the
	// consumed code.
	var out *LoginOutput
	err = s.withAccount(ctx, found.ID, func(ctx context.Context, user *domain.User) error {
		var slot **domain.SecretDigest
		switch user.State() {
		case domain.StateDeleted:
			slot = &user.RestoreOTP
		case domain.StateInactive:
			slot = &user.ReactivateOTP
		default:
			return domain.ErrAlreadyActive
		}

		secret := *slot
		if secret == nil {
			s.metrics.RecordAuthEvent("verify_otp", "invalid_code")
			return ErrInvalidOrExpiredOTP
		}
		*slot = nil

		now := s.now().UTC()
		valid := secretMatches(secret, crypto.Digest(strings.TrimSpace(input.Code)), now)

		var transition error
		if valid {
			if user.IsDeleted {
				transition = user.Restore(now, s.config.RestoreWindow)
			} else {
				transition = user.Reactivate(now)
			}
			if transition == nil {
				user.LastLogin = &now
			}
		}
		user.UpdatedAt = now

		if err := s.users.Update(ctx, user); err != nil {
			s.logger.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to consume otp")
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}

		if !valid {
			s.metrics.RecordAuthEvent("verify_otp", "invalid_code")
			return ErrInvalidOrExpiredOTP
		}
		if transition != nil {
			s.metrics.RecordAuthEvent("verify_otp", "rejected")
			return transition
		}

		var err error
		out, err = s.session(user)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.resetLimiter(ctx, s.otpLimiter, email)

	s.metrics.RecordAuthEvent("verify_otp", "success")
	s.logger.Info().Str("user_id", found.ID.String()).Msg("account returned to active by otp")
	return out, nil
}

// Deactivate moves an active account to Inactive.
func (s *AccountService) Deactivate(ctx context.Context, userID uuid.UUID) error {
	return s.transition(ctx, userID, "deactivate", func(u *domain.User, now time.Time) error {
		return u.Deactivate(now)
	})
}

// Reactivate moves an inactive account back to Active.
func (s *AccountService) Reactivate(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var out *domain.User
	err := s.transition(ctx, userID, "reactivate", func(u *domain.User, now time.Time) error {
		out = u
		return u.Reactivate(now)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteAccount soft deletes the account. Outstanding secrets are dropped.
func (s *AccountService) DeleteAccount(ctx context.Context, userID uuid.UUID) error {
	return s.transition(ctx, userID, "delete", func(u *domain.User, now time.Time) error {
		if err := u.MarkDeleted(now); err != nil {
			return err
		}
		u.ClearSecrets()
		return nil
	})
}

func (s *AccountService) transition(ctx context.Context, userID uuid.UUID, event string, apply func(*domain.User, time.Time) error) error {
	var state domain.AccountState
	err := s.withAccount(ctx, userID, func(ctx context.Context, user *domain.User) error {
		if err := apply(user, s.now()); err != nil {
			s.metrics.RecordAuthEvent(event, "rejected")
			return err
		}

		if err := s.users.Update(ctx, user); err != nil {
			s.logger.Error().Err(err).Str("user_id", userID.String()).Str("event", event).Msg("failed to update account state")
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		state = user.State()
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.RecordAuthEvent(event, "success")
	s.logger.Info().
		Str("user_id", userID.String()).
		Str("event", event).
		Str("state", string(state)).
		Msg("account state changed")
	return nil
}

// =============================================================================
// Administration
// =============================================================================

// ListUsers lists every account, soft deleted ones included.
func (s *AccountService) ListUsers(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	result, err := s.users.List(ctx, opts)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list users")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return result, nil
}

// SetRole changes the role of the named user.
func (s *AccountService) SetRole(ctx context.Context, username string, role domain.Role) (*domain.User, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	found, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	var changed *domain.User
	err = s.withAccount(ctx, found.ID, func(ctx context.Context, user *domain.User) error {
		user.Role = role
		user.UpdatedAt = s.now().UTC()
		if err := s.users.Update(ctx, user); err != nil {
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		changed = user
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", changed.ID.String()).
		Str("role", string(role)).
		Msg("user role changed")
	return changed, nil
}

// =============================================================================
// Helpers
// =============================================================================

// withAccount runs fn on a fresh read of the account while holding its
// lock. Every write of a user row goes through here so concurrent requests
// never write back a stale copy over each other.
func (s *AccountService) withAccount(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context, user *domain.User) error) error {
	var entered bool
	err := lock.Do(ctx, s.locker, lock.Keys.Account(userID.String()), lock.AccountPolicy, func(ctx context.Context) error {
		entered = true
		user, err := s.getUser(ctx, userID)
		if err != nil {
			return err
		}
		return fn(ctx, user)
	})
	switch {
	case err == nil || entered:
		return err
	case errors.Is(err, lock.ErrNotAcquired):
		return ErrTooManyAttempts
	default:
		s.logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to acquire account lock")
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
}

func (s *AccountService) getUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("user_id", id.String()).Msg("failed to get user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return user, nil
}

func (s *AccountService) getUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, err := s.users.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.NewDomainError(domain.ErrUserNotFound, "no account uses this email", "")
		}
		s.logger.Error().Err(err).Msg("failed to get user by email")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return user, nil
}

func (s *AccountService) setPassword(ctx context.Context, user *domain.User, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to hash password")
		return fmt.Errorf("%w: failed to hash password", ErrInternalError)
	}

	user.PasswordHash = hash
	user.TouchPasswordChanged(s.now())
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to store password")
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return nil
}

func (s *AccountService) session(user *domain.User) (*LoginOutput, error) {
	token, err := s.tokens.Issue(user.ID, user.PasswordChangedAt)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to issue token")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return &LoginOutput{User: user, Token: token, ExpiresIn: s.tokens.TTL()}, nil
}

// issueSecret stores the digest of raw in slot and mails msg.
// When delivery fails the slot is restored to its previous value.
func (s *AccountService) issueSecret(ctx context.Context, user *domain.User, slot **domain.SecretDigest, raw string, ttl time.Duration, msg mail.Message) error {
	now := s.now().UTC()
	previous := *slot
	*slot = &domain.SecretDigest{Digest: crypto.Digest(raw), ExpiresAt: now.Add(ttl)}
	user.UpdatedAt = now

	if err := s.users.Update(ctx, user); err != nil {
		*slot = previous
		s.logger.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to store secret")
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	err := s.mailer.Send(ctx, msg)
	s.metrics.RecordEmail(string(msg.Kind), err)
	if err == nil {
		return nil
	}

	s.logger.Error().Err(err).
		Str("user_id", user.ID.String()).
		Str("kind", string(msg.Kind)).
		Msg("failed to send email, reverting secret")

	*slot = previous
	if rbErr := s.users.Update(context.WithoutCancel(ctx), user); rbErr != nil {
		s.logger.Error().Err(rbErr).Str("user_id", user.ID.String()).Msg("failed to revert secret")
	}
	return fmt.Errorf("%w: %v", ErrEmailDelivery, err)
}

func (s *AccountService) throttle(ctx context.Context, l *ratelimit.Limiter, key string) error {
	res, err := l.Hit(ctx, key)
	if err != nil {
		// Counting is best effort; an unavailable cache admits the attempt.
		s.logger.Warn().Err(err).Str("scope", l.Scope()).Msg("rate limiter unavailable")
		return nil
	}
	if !res.Allowed {
		s.metrics.RecordRateLimited(l.Scope())
		return &RateLimitError{Scope: l.Scope(), RetryAfter: res.RetryAfter}
	}
	return nil
}

func (s *AccountService) resetLimiter(ctx context.Context, l *ratelimit.Limiter, key string) {
	if err := l.Reset(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("scope", l.Scope()).Msg("failed to reset rate limiter")
	}
}

// secretMatches reports whether secret is outstanding at now and its digest equals digest.
func secretMatches(secret *domain.SecretDigest, digest string, now time.Time) bool {
	if secret == nil || secret.IsExpired(now) {
		return false
	}
	return crypto.DigestEqual(secret.Digest, digest)
}
