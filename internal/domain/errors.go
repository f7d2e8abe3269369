// Package domain contains the core business entities for quill.
package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ===========================================
	// User Errors
	// ===========================================

	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates a user with the same username/email exists.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrInvalidCredentials indicates authentication failed.
	// Used for both unknown email and wrong password.
	ErrInvalidCredentials = errors.New("invalid login credentials")

	// ErrInvalidUsername indicates the username is empty or malformed.
	ErrInvalidUsername = errors.New("username must be between 3 and 32 characters of letters, digits, '_' or '.'")

	// ErrInvalidEmail indicates the email address is malformed.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrPasswordTooShort indicates the password is below the minimum length.
	ErrPasswordTooShort = errors.New("password must be at least 6 characters")

	// ErrPasswordMismatch indicates the current password supplied for a change is wrong.
	ErrPasswordMismatch = errors.New("current password is incorrect")

	// ErrPasswordUnchanged indicates the new password equals the current one.
	ErrPasswordUnchanged = errors.New("new password must differ from the current password")

	// ErrBioTooLong indicates the bio exceeds 250 characters.
	ErrBioTooLong = errors.New("bio must not exceed 250 characters")

	// ErrInvalidGender indicates the gender is not one of the allowed values.
	ErrInvalidGender = errors.New("invalid gender")

	// ===========================================
	// Account State Errors
	// ===========================================

	// ErrAccountDeleted indicates the account has been soft deleted.
	ErrAccountDeleted = errors.New("account has been deleted")

	// ErrAccountInactive indicates the account is deactivated.
	ErrAccountInactive = errors.New("account is deactivated")

	// ErrAccountUnverified indicates the operation requires a verified account.
	ErrAccountUnverified = errors.New("account is not verified")

	// ErrAlreadyActive indicates a reactivate/restore was requested for an active account.
	ErrAlreadyActive = errors.New("account is already active")

	// ErrAlreadyDeactivated indicates a deactivate was requested for an inactive account.
	ErrAlreadyDeactivated = errors.New("account is already deactivated")

	// ErrAlreadyDeleted indicates a delete was requested for a deleted account.
	ErrAlreadyDeleted = errors.New("account is already deleted")

	// ErrAlreadyVerified indicates a verification was requested for a verified account.
	ErrAlreadyVerified = errors.New("account is already verified")

	// ErrDeleteWindowExpired indicates the restore window after deletion has passed.
	ErrDeleteWindowExpired = errors.New("restore window has expired, please contact support")

	// ===========================================
	// Social Graph Errors
	// ===========================================

	// ErrCannotFollowSelf indicates a user tried to follow themselves.
	ErrCannotFollowSelf = errors.New("you cannot follow yourself")

	// ErrCannotBlockSelf indicates a user tried to block themselves.
	ErrCannotBlockSelf = errors.New("you cannot block yourself")

	// ErrAlreadyBlocked indicates the target is already blocked.
	ErrAlreadyBlocked = errors.New("user is already blocked")

	// ErrNotBlocked indicates the target is not blocked.
	ErrNotBlocked = errors.New("user is not blocked")

	// ===========================================
	// Content Errors
	// ===========================================

	// ErrPostNotFound indicates the requested post does not exist.
	ErrPostNotFound = errors.New("post not found")

	// ErrPostTitleTaken indicates another post already uses the title.
	ErrPostTitleTaken = errors.New("post title already exists")

	// ErrInvalidPost indicates the post title or content is missing or too long.
	ErrInvalidPost = errors.New("post title and content are required")

	// ErrImageRequired indicates a post was created without an image.
	ErrImageRequired = errors.New("post image is required")

	// ErrScheduleInPast indicates a publication date before now.
	ErrScheduleInPast = errors.New("scheduled publish date cannot be in the past")

	// ErrCategoryNotFound indicates the requested category does not exist.
	ErrCategoryNotFound = errors.New("category not found")

	// ErrCategoryExists indicates a category with the same name exists.
	ErrCategoryExists = errors.New("category already exists")

	// ErrInvalidCategory indicates the category name is empty or too long.
	ErrInvalidCategory = errors.New("category name must be between 1 and 64 characters")

	// ErrCommentNotFound indicates the requested comment does not exist.
	ErrCommentNotFound = errors.New("comment not found")

	// ErrInvalidComment indicates the comment message is empty or too long.
	ErrInvalidComment = errors.New("comment message must be between 1 and 500 characters")

	// ===========================================
	// Image Errors
	// ===========================================

	// ErrUnsupportedImage indicates the upload is not jpg, jpeg, png or gif.
	ErrUnsupportedImage = errors.New("unsupported image format, allowed: jpg, jpeg, png, gif")

	// ErrImageTooLarge indicates the upload exceeds the size limit.
	ErrImageTooLarge = errors.New("image exceeds maximum size")

	// ===========================================
	// Authorization Errors
	// ===========================================

	// ErrAccessDenied indicates the user does not have permission.
	ErrAccessDenied = errors.New("access denied")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., user id, post title).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}

// WrapError wraps an error with domain context if it's not already a DomainError.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}

	return &DomainError{
		Err:     err,
		Message: message,
	}
}
