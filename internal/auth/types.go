// Package auth issues and verifies bearer session tokens for quill.
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/quill/internal/domain"
)

// AuthorizationHeader is the request header carrying the bearer token.
const AuthorizationHeader = "Authorization"

// BearerPrefix precedes the token in the Authorization header.
const BearerPrefix = "Bearer "

// Policy selects which account states a route admits.
type Policy int

const (
	// PolicyActive admits non-deleted, active accounts.
	PolicyActive Policy = iota

	// PolicyVerified admits active accounts that have verified their email.
	PolicyVerified

	// PolicyLifecycle admits inactive and deleted accounts too, so that
	// reactivation, restore and verification stay reachable.
	PolicyLifecycle
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyActive:
		return "active"
	case PolicyVerified:
		return "verified"
	case PolicyLifecycle:
		return "lifecycle"
	default:
		return "unknown"
	}
}

// AuthContext is the authorization context derived from a verified token.
// Flags are a snapshot taken at verification time.
type AuthContext struct {
	// UserID is the authenticated user's ID.
	UserID uuid.UUID

	// Role is the user's role.
	Role domain.Role

	// Verified reports whether the user had verified their email.
	Verified bool

	// Active reports whether the account was active.
	Active bool

	// Deleted reports whether the account was soft deleted.
	Deleted bool

	// IssuedAt is when the presented token was issued.
	IssuedAt time.Time
}

// IsAdmin reports whether the caller has the admin role.
func (a *AuthContext) IsAdmin() bool {
	return a.Role == domain.RoleAdmin
}

// CanModify reports whether the caller owns ownerID or is an admin.
func (a *AuthContext) CanModify(ownerID uuid.UUID) bool {
	return a.UserID == ownerID || a.IsAdmin()
}

type authContextKey struct{}

// WithAuthContext returns a copy of ctx carrying authCtx.
func WithAuthContext(ctx context.Context, authCtx *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, authCtx)
}

// GetAuthContext retrieves the AuthContext from a request context.
func GetAuthContext(ctx context.Context) *AuthContext {
	if authCtx, ok := ctx.Value(authContextKey{}).(*AuthContext); ok {
		return authCtx
	}
	return nil
}

// RequireAuth is a helper to get auth context or return error.
func RequireAuth(ctx context.Context) (*AuthContext, error) {
	authCtx := GetAuthContext(ctx)
	if authCtx == nil {
		return nil, ErrNoToken
	}
	return authCtx, nil
}
