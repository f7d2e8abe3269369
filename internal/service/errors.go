// Package service provides the business logic of quill.
package service

import (
	"errors"
	"fmt"
	"time"
)

// Common service errors.
// Business rule violations are domain errors; these cover the flows around them.
var (
	// Secret errors
	ErrInvalidOrExpiredToken = errors.New("token is invalid or has expired")
	ErrInvalidOrExpiredOTP   = errors.New("otp is invalid or has expired")

	// Delivery errors
	ErrEmailDelivery = errors.New("failed to send email, please try again later")

	// Throttling errors
	ErrTooManyAttempts = errors.New("too many attempts, please try again later")

	// General errors
	ErrInternalError = errors.New("internal server error")
)

// RateLimitError is returned when a throttled flow rejects an attempt.
// It matches ErrTooManyAttempts with errors.Is.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry in %s", ErrTooManyAttempts.Error(), e.RetryAfter.Round(time.Second))
}

// Unwrap returns ErrTooManyAttempts.
func (e *RateLimitError) Unwrap() error {
	return ErrTooManyAttempts
}
