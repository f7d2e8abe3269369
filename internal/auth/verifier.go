package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/quill/internal/domain"
)

// UserLookup loads the subject of a token.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// Verifier turns a bearer token into an AuthContext.
type Verifier struct {
	tokens *TokenManager
	users  UserLookup
}

// NewVerifier creates a new token verifier.
func NewVerifier(tokens *TokenManager, users UserLookup) *Verifier {
	return &Verifier{tokens: tokens, users: users}
}

// Verify parses the token and checks its subject against policy.
// Errors other than the auth sentinels are server faults.
func (v *Verifier) Verify(ctx context.Context, token string, policy Policy) (*AuthContext, error) {
	session, err := v.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	user, err := v.users.GetByID(ctx, session.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, ErrSubjectNotFound
		}
		return nil, fmt.Errorf("failed to load token subject: %w", err)
	}

	if user.IsDeleted && policy != PolicyLifecycle {
		return nil, ErrSubjectDeleted
	}
	if !user.IsActive && !user.IsDeleted && policy != PolicyLifecycle {
		return nil, ErrSubjectInactive
	}
	if IsStale(session.Credential, user.PasswordChangedAt) {
		return nil, ErrStaleCredential
	}
	if policy == PolicyVerified && !user.IsVerified {
		return nil, ErrSubjectUnverified
	}

	return &AuthContext{
		UserID:   user.ID,
		Role:     user.Role,
		Verified: user.IsVerified,
		Active:   user.IsActive,
		Deleted:  user.IsDeleted,
		IssuedAt: session.IssuedAt,
	}, nil
}

// IsStale reports whether a token carrying credential was issued for a
// password other than the one set at passwordChangedAt.
func IsStale(credential int64, passwordChangedAt *time.Time) bool {
	return credential != CredentialStamp(passwordChangedAt)
}

// IsAuthError reports whether err is a token or account gate rejection.
func IsAuthError(err error) bool {
	for _, target := range []error{
		ErrNoToken, ErrMalformedOrExpiredToken, ErrSubjectNotFound, ErrSubjectDeleted,
		ErrSubjectInactive, ErrSubjectUnverified, ErrStaleCredential,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
