package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/auth"
	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/service"
)

// Response statuses carried in every envelope.
const (
	statusSuccess = "success"
	statusFailed  = "failed"
)

// errInvalidRequest indicates a body, form or path parameter that could not be parsed.
var errInvalidRequest = errors.New("invalid request")

// envelope is the JSON shape of every API response.
type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`

	// Error carries internal detail outside production.
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeSuccess writes a success envelope.
func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Status: statusSuccess, Message: message, Data: data})
}

// writeError maps err to an HTTP status and writes a failed envelope.
// It is the only place where errors become responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err)

	var rateErr *service.RateLimitError
	if errors.As(err, &rateErr) && rateErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rateErr.RetryAfter.Seconds()))))
	}

	logger := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	} else {
		logger.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request rejected")
	}

	body := envelope{Status: statusFailed, Message: message}
	if exposeDetail(r.Context()) && message != err.Error() {
		body.Error = err.Error()
	}
	writeJSON(w, status, body)
}

// classify returns the status and client message for err.
func classify(err error) (int, string) {
	if auth.IsAuthError(err) {
		authErr := auth.NewAuthError(err)
		return authErr.HTTPStatus, authErr.Message
	}

	switch {
	case errors.Is(err, service.ErrTooManyAttempts):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, service.ErrEmailDelivery):
		return http.StatusBadGateway, "failed to send email, please try again later"
	case errors.Is(err, service.ErrInternalError):
		return http.StatusInternalServerError, "internal server error"
	}

	status := http.StatusInternalServerError
	switch {
	case isAny(err,
		errInvalidRequest,
		domain.ErrInvalidUsername,
		domain.ErrInvalidEmail,
		domain.ErrPasswordTooShort,
		domain.ErrPasswordUnchanged,
		domain.ErrBioTooLong,
		domain.ErrInvalidGender,
		domain.ErrCannotFollowSelf,
		domain.ErrCannotBlockSelf,
		domain.ErrNotBlocked,
		domain.ErrInvalidPost,
		domain.ErrImageRequired,
		domain.ErrScheduleInPast,
		domain.ErrInvalidCategory,
		domain.ErrInvalidComment,
		domain.ErrUnsupportedImage,
		service.ErrInvalidOrExpiredToken,
		service.ErrInvalidOrExpiredOTP,
	):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrImageTooLarge):
		status = http.StatusRequestEntityTooLarge
	case isAny(err, domain.ErrInvalidCredentials, domain.ErrPasswordMismatch):
		status = http.StatusUnauthorized
	case isAny(err,
		domain.ErrAccountDeleted,
		domain.ErrAccountInactive,
		domain.ErrAccountUnverified,
		domain.ErrDeleteWindowExpired,
		domain.ErrAccessDenied,
	):
		status = http.StatusForbidden
	case isAny(err,
		domain.ErrUserNotFound,
		domain.ErrPostNotFound,
		domain.ErrCategoryNotFound,
		domain.ErrCommentNotFound,
	):
		status = http.StatusNotFound
	case isAny(err,
		domain.ErrUserAlreadyExists,
		domain.ErrPostTitleTaken,
		domain.ErrCategoryExists,
		domain.ErrAlreadyBlocked,
		domain.ErrAlreadyActive,
		domain.ErrAlreadyDeactivated,
		domain.ErrAlreadyDeleted,
		domain.ErrAlreadyVerified,
	):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		return status, "internal server error"
	}
	return status, err.Error()
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

type errorDetailKey struct{}

// withErrorDetail marks ctx so that error envelopes carry internal detail.
func withErrorDetail(ctx context.Context) context.Context {
	return context.WithValue(ctx, errorDetailKey{}, true)
}

func exposeDetail(ctx context.Context) bool {
	v, _ := ctx.Value(errorDetailKey{}).(bool)
	return v
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.NewDomainError(errInvalidRequest, "request body is required", "")
		}
		return domain.NewDomainError(errInvalidRequest, "malformed JSON body", "")
	}
	return nil
}

// uuidParam parses the named chi path parameter.
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.NewDomainError(errInvalidRequest, "malformed id", raw)
	}
	return id, nil
}

// caller returns the authenticated caller. Routes using it sit behind an
// auth middleware, so a missing context is reported as ErrNoToken.
func caller(r *http.Request) (*auth.AuthContext, error) {
	return auth.RequireAuth(r.Context())
}

// actor converts the caller into a content actor.
func actor(a *auth.AuthContext) service.Actor {
	return service.Actor{UserID: a.UserID, Admin: a.IsAdmin()}
}
