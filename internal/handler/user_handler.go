package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/auth"
	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/service"
)

// UserHandler serves account, profile and social graph routes.
type UserHandler struct {
	accounts *service.AccountService
	social   *service.SocialService
	profiles *service.ProfileService
	maxImage int64
	logger   zerolog.Logger
}

// UserHandlerConfig contains the dependencies of a UserHandler.
type UserHandlerConfig struct {
	AccountService *service.AccountService
	SocialService  *service.SocialService
	ProfileService *service.ProfileService

	// MaxImageSize bounds multipart uploads in bytes.
	MaxImageSize int64

	Logger zerolog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(cfg UserHandlerConfig) *UserHandler {
	return &UserHandler{
		accounts: cfg.AccountService,
		social:   cfg.SocialService,
		profiles: cfg.ProfileService,
		maxImage: cfg.MaxImageSize,
		logger:   cfg.Logger.With().Str("handler", "user").Logger(),
	}
}

// RegisterRoutes registers the /users routes.
func (h *UserHandler) RegisterRoutes(r chi.Router, gate Gate) {
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	r.Post("/forgot-password", h.handleForgotPassword)
	r.Put("/reset-password/{token}", h.handleResetPassword)
	r.Post("/verify-account/{token}", h.handleVerifyAccount)
	r.Post("/request-otp", h.handleRequestOTP)
	r.Post("/verify-otp", h.handleVerifyOTP)

	r.Group(func(r chi.Router) {
		r.Use(gate.Require(auth.PolicyActive))

		r.Put("/change-password", h.handleChangePassword)
		r.Get("/profile", h.handleProfile)
		r.Put("/update-profile", h.handleUpdateProfile)
		r.Put("/profile-image", h.handleProfileImage)
		r.Put("/cover-image", h.handleCoverImage)

		r.Put("/follow/{userId}", h.handleFollow)
		r.Put("/unfollow/{userId}", h.handleUnfollow)
		r.Put("/block/{userId}", h.handleBlock)
		r.Put("/unblock/{userId}", h.handleUnblock)
		r.Get("/view-other-profile/{userId}", h.handleViewProfile)

		r.Put("/deactivate", h.handleDeactivate)
	})

	// Reachable by inactive and deleted accounts.
	r.Group(func(r chi.Router) {
		r.Use(gate.Require(auth.PolicyLifecycle))

		r.Post("/account-verification-email", h.handleVerificationEmail)
		r.Put("/reactivate", h.handleReactivate)
		r.Delete("/delete-account", h.handleDeleteAccount)
	})
}

// =============================================================================
// Request and response bodies
// =============================================================================

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type updateProfileRequest struct {
	Username      *string                         `json:"username"`
	Email         *string                         `json:"email"`
	Bio           *string                         `json:"bio"`
	Location      *string                         `json:"location"`
	Gender        *domain.Gender                  `json:"gender"`
	Notifications *domain.NotificationPreferences `json:"notification_preferences"`
}

// sessionResponse is returned by every call that issues a token.
type sessionResponse struct {
	User      *domain.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresIn int64        `json:"expires_in"`
}

func newSessionResponse(out *service.LoginOutput) sessionResponse {
	return sessionResponse{
		User:      out.User,
		Token:     out.Token,
		ExpiresIn: int64(out.ExpiresIn / time.Second),
	}
}

// =============================================================================
// Account
// =============================================================================

func (h *UserHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.accounts.Register(r.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "user registered successfully", out.User)
}

func (h *UserHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.accounts.Login(r.Context(), service.LoginInput{Email: req.Email, Password: req.Password})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "login successful", newSessionResponse(out))
}

func (h *UserHandler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	a, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.accounts.ChangePassword(r.Context(), service.ChangePasswordInput{
		UserID:          a.UserID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "password changed successfully", newSessionResponse(out))
}

func (h *UserHandler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.accounts.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "password reset email sent", nil)
}

func (h *UserHandler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	err := h.accounts.ResetPassword(r.Context(), service.ResetPasswordInput{
		Token:       chi.URLParam(r, "token"),
		NewPassword: req.Password,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "password reset successfully", nil)
}

func (h *UserHandler) handleVerificationEmail(w http.ResponseWriter, r *http.Request) {
	a, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.accounts.RequestAccountVerification(r.Context(), a.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "verification email sent", nil)
}

func (h *UserHandler) handleVerifyAccount(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.VerifyAccount(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "account verified successfully", user)
}

func (h *UserHandler) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.accounts.RequestOTP(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "otp sent to your email", nil)
}

func (h *UserHandler) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.accounts.VerifyOTP(r.Context(), service.VerifyOTPInput{Email: req.Email, Code: req.OTP})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "account restored successfully", newSessionResponse(out))
}

func (h *UserHandler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	a, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.accounts.Deactivate(r.Context(), a.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "account deactivated successfully", nil)
}

func (h *UserHandler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	a, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.accounts.Reactivate(r.Context(), a.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "account reactivated successfully", user)
}

func (h *UserHandler) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	a, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.accounts.DeleteAccount(r.Context(), a.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "account deleted successfully", nil)
}

// =============================================================================
// Profile
// =============================================================================

func (h *UserHandler) handleProfile(w http.ResponseWriter, r *http.Request) {
	a, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	profile, err := h.social.Profile(r.Context(), a.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "profile fetched successfully", profile)
}

func (h *UserHandler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	a, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.profiles.Update(r.Context(), service.UpdateProfileInput{
		UserID:        a.UserID,
		Username:      req.Username,
		Email:         req.Email,
		Bio:           req.Bio,
		Location:      req.Location,
		Gender:        req.Gender,
		Notifications: req.Notifications,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "profile updated successfully", user)
}

func (h *UserHandler) handleProfileImage(w http.ResponseWriter, r *http.Request) {
	h.handleImage(w, r, h.profiles.SetProfilePicture, "profile image uploaded successfully")
}

func (h *UserHandler) handleCoverImage(w http.ResponseWriter, r *http.Request) {
	h.handleImage(w, r, h.profiles.SetCoverPhoto, "cover image uploaded successfully")
}

func (h *UserHandler) handleImage(w http.ResponseWriter, r *http.Request, set imageSetter, message string) {
	a, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	file, err := formImage(w, r, "file", h.maxImage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if file == nil {
		writeError(w, r, domain.NewDomainError(errInvalidRequest, "file is required", "file"))
		return
	}
	defer file.Close()

	user, err := set(r.Context(), a.UserID, file, file.name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, message, user)
}

// =============================================================================
// Social graph
// =============================================================================

func (h *UserHandler) handleFollow(w http.ResponseWriter, r *http.Request) {
	h.handleRelation(w, r, h.social.Follow, "you have followed the user")
}

func (h *UserHandler) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	h.handleRelation(w, r, h.social.Unfollow, "you have unfollowed the user")
}

func (h *UserHandler) handleBlock(w http.ResponseWriter, r *http.Request) {
	h.handleRelation(w, r, h.social.Block, "you have blocked the user")
}

func (h *UserHandler) handleUnblock(w http.ResponseWriter, r *http.Request) {
	h.handleRelation(w, r, h.social.Unblock, "you have unblocked the user")
}

func (h *UserHandler) handleRelation(w http.ResponseWriter, r *http.Request, apply relationFunc, message string) {
	a, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	target, err := uuidParam(r, "userId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := apply(r.Context(), a.UserID, target); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, message, nil)
}

func (h *UserHandler) handleViewProfile(w http.ResponseWriter, r *http.Request) {
	a, err := caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	subject, err := uuidParam(r, "userId")
	if err != nil {
		writeError(w, r, err)
		return
	}

	profile, err := h.social.ViewProfile(r.Context(), a.UserID, subject)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "profile fetched successfully", profile)
}
