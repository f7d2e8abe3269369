package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get(AuthorizationHeader)
	if len(header) < len(BearerPrefix) || !strings.EqualFold(header[:len(BearerPrefix)], BearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(BearerPrefix):])
}

// Middleware creates an authentication middleware that admits requests
// whose token satisfies policy.
func (v *Verifier) Middleware(policy Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, err := v.Verify(r.Context(), BearerToken(r), policy)
			if err != nil {
				if !IsAuthError(err) {
					log.Error().Err(err).Str("path", r.URL.Path).Msg("token verification failed")
					writeJSON(w, http.StatusInternalServerError, "internal server error", "")
					return
				}
				log.Debug().Err(err).Str("path", r.URL.Path).Str("policy", policy.String()).Msg("authentication rejected")
				authErr := NewAuthError(err)
				writeJSON(w, authErr.HTTPStatus, authErr.Message, authErr.Code)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), authCtx)))
		})
	}
}

// Optional attaches an AuthContext when a valid token is present and
// otherwise lets the request through anonymously.
func (v *Verifier) Optional() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := BearerToken(r); token != "" {
				if authCtx, err := v.Verify(r.Context(), token, PolicyActive); err == nil {
					r = r.WithContext(WithAuthContext(r.Context(), authCtx))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSON writes a failed response envelope.
func writeJSON(w http.ResponseWriter, status int, message string, code ErrorCode) {
	body := map[string]any{
		"status":  "failed",
		"message": message,
	}
	if code != "" {
		body["code"] = code
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
