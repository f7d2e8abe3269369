package auth

import (
	"errors"
	"net/http"
)

// Token verification errors. Each is an authorization failure, never a server fault.
var (
	// ErrNoToken indicates the request carried no bearer token.
	ErrNoToken = errors.New("no token attached to the request")

	// ErrMalformedOrExpiredToken indicates the token failed signature or expiry checks.
	ErrMalformedOrExpiredToken = errors.New("token is malformed or expired")

	// ErrSubjectNotFound indicates the token subject no longer exists.
	ErrSubjectNotFound = errors.New("token subject not found")

	// ErrSubjectDeleted indicates the token subject's account is deleted.
	ErrSubjectDeleted = errors.New("account has been deleted")

	// ErrSubjectInactive indicates the token subject's account is deactivated.
	ErrSubjectInactive = errors.New("account is deactivated")

	// ErrSubjectUnverified indicates the route requires a verified account.
	ErrSubjectUnverified = errors.New("account is not verified")

	// ErrStaleCredential indicates the password changed after the token was issued.
	ErrStaleCredential = errors.New("password changed after token was issued, please login again")
)

// ErrorCode is a stable machine-readable code for an auth failure.
type ErrorCode string

const (
	CodeNoToken                 ErrorCode = "NoToken"
	CodeMalformedOrExpiredToken ErrorCode = "MalformedOrExpiredToken"
	CodeSubjectNotFound         ErrorCode = "SubjectNotFound"
	CodeSubjectDeleted          ErrorCode = "SubjectDeleted"
	CodeSubjectInactive         ErrorCode = "SubjectInactive"
	CodeSubjectUnverified       ErrorCode = "SubjectUnverified"
	CodeStaleCredential         ErrorCode = "StaleCredential"
)

// AuthError represents an authentication error with its code and status.
type AuthError struct {
	// Code is the machine-readable code.
	Code ErrorCode

	// Message is the error message.
	Message string

	// HTTPStatus is the HTTP status code.
	HTTPStatus int

	err error
}

func (e *AuthError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Unwrap returns the underlying sentinel.
func (e *AuthError) Unwrap() error {
	return e.err
}

// NewAuthError creates a new AuthError from a verification error.
// Inactive and unverified accounts are authenticated but forbidden.
func NewAuthError(err error) *AuthError {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}

	status := http.StatusUnauthorized
	var code ErrorCode

	switch {
	case errors.Is(err, ErrNoToken):
		code = CodeNoToken
	case errors.Is(err, ErrSubjectNotFound):
		code = CodeSubjectNotFound
	case errors.Is(err, ErrSubjectDeleted):
		code = CodeSubjectDeleted
	case errors.Is(err, ErrSubjectInactive):
		code = CodeSubjectInactive
		status = http.StatusForbidden
	case errors.Is(err, ErrSubjectUnverified):
		code = CodeSubjectUnverified
		status = http.StatusForbidden
	case errors.Is(err, ErrStaleCredential):
		code = CodeStaleCredential
	default:
		code = CodeMalformedOrExpiredToken
		err = ErrMalformedOrExpiredToken
	}

	return &AuthError{
		Code:       code,
		Message:    err.Error(),
		HTTPStatus: status,
		err:        err,
	}
}
