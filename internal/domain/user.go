// Package domain contains the core business entities for quill.
// These are plain Go structs representing users, their lifecycle and
// the content they own.
package domain

import (
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the authorization role of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// IsValid reports whether the role is known.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

// AccountLevel is the engagement tier of a user.
type AccountLevel string

const (
	AccountLevelBronze AccountLevel = "bronze"
	AccountLevelSilver AccountLevel = "silver"
	AccountLevelGold   AccountLevel = "gold"
)

// Gender is the self-declared gender of a user.
type Gender string

const (
	GenderUnset       Gender = ""
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
	GenderUndisclosed Gender = "prefer not to say"
	GenderNonBinary   Gender = "non-binary"
)

// IsValid reports whether the gender is one of the allowed values.
func (g Gender) IsValid() bool {
	switch g {
	case GenderUnset, GenderMale, GenderFemale, GenderUndisclosed, GenderNonBinary:
		return true
	}
	return false
}

// Image references an uploaded image in object storage.
type Image struct {
	URL string `json:"url"`
	Key string `json:"public_id"`
}

// Default images shown before a user uploads their own.
var (
	DefaultProfilePic = Image{URL: "https://cdn.pixabay.com/photo/2015/10/05/22/37/blank-profile-picture-973460_960_720.png", Key: "default_profile"}
	DefaultCoverPhoto = Image{URL: "https://images.unsplash.com/photo-1503264116251-35a269479413", Key: "default_cover"}
)

// NotificationPreferences holds per-channel notification opt-ins.
type NotificationPreferences struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	Push  bool `json:"push"`
}

// SecretDigest is a one-way digest of a bearer secret with its expiry.
// The raw secret is never stored.
type SecretDigest struct {
	Digest    string
	ExpiresAt time.Time
}

// IsExpired reports whether the secret has expired at the given time.
func (s *SecretDigest) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// User represents a registered account and its lifecycle state.
type User struct {
	// ID is the unique identifier for the user.
	ID uuid.UUID `json:"id"`

	// Username is the unique handle. Constraints: 3-32 characters.
	Username string `json:"username"`

	// Email is the unique, lowercased email address.
	Email string `json:"email"`

	// PasswordHash is the bcrypt hash of the user's password.
	// This is never exposed in API responses.
	PasswordHash string `json:"-"`

	Role         Role         `json:"role"`
	AccountLevel AccountLevel `json:"account_level"`

	// Lifecycle flags.
	IsActive   bool       `json:"is_active"`
	IsDeleted  bool       `json:"is_deleted"`
	IsVerified bool       `json:"is_verified"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`

	LastLogin         *time.Time `json:"last_login,omitempty"`
	PasswordChangedAt *time.Time `json:"-"`

	// Profile fields.
	Bio                     string                  `json:"bio"`
	Location                string                  `json:"location"`
	Gender                  Gender                  `json:"gender,omitempty"`
	ProfilePic              Image                   `json:"profile_pic"`
	CoverPhoto              Image                   `json:"cover_photo"`
	NotificationPreferences NotificationPreferences `json:"notification_preferences"`

	// Ephemeral secret material. Nil when not outstanding.
	PasswordReset       *SecretDigest `json:"-"`
	AccountVerification *SecretDigest `json:"-"`
	RestoreOTP          *SecretDigest `json:"-"`
	ReactivateOTP       *SecretDigest `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Relations holds the relationship sets and content references of a user.
// They are loaded separately from the user record.
type Relations struct {
	Followers      []uuid.UUID `json:"followers"`
	Following      []uuid.UUID `json:"following"`
	BlockedUsers   []uuid.UUID `json:"blocked_users"`
	ProfileViewers []uuid.UUID `json:"profile_viewers"`
	Posts          []uuid.UUID `json:"posts"`
	LikedPosts     []uuid.UUID `json:"liked_posts"`
}

// Profile is a user together with their relations, as returned to clients.
type Profile struct {
	*User
	Relations
}

// NewUser creates a new Active, Unverified user with default values.
func NewUser(username, email, passwordHash string) *User {
	now := time.Now().UTC()
	return &User{
		ID:           uuid.New(),
		Username:     strings.TrimSpace(username),
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		Role:         RoleUser,
		AccountLevel: AccountLevelBronze,
		IsActive:     true,
		ProfilePic:   DefaultProfilePic,
		CoverPhoto:   DefaultCoverPhoto,
		NotificationPreferences: NotificationPreferences{
			Email: true,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsAdmin returns true if the user has the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// TouchPasswordChanged records a credential change at the given time.
// The time is kept at microsecond precision so it survives every store.
func (u *User) TouchPasswordChanged(now time.Time) {
	t := now.UTC().Truncate(time.Microsecond)
	u.PasswordChangedAt = &t
	u.UpdatedAt = t
}

// ClearSecrets drops every outstanding ephemeral secret.
func (u *User) ClearSecrets() {
	u.PasswordReset = nil
	u.AccountVerification = nil
	u.RestoreOTP = nil
	u.ReactivateOTP = nil
}

// ClearExpiredSecrets drops every ephemeral secret that has expired at now.
// Returns the number of secrets cleared.
func (u *User) ClearExpiredSecrets(now time.Time) int {
	cleared := 0
	for _, s := range []**SecretDigest{&u.PasswordReset, &u.AccountVerification, &u.RestoreOTP, &u.ReactivateOTP} {
		if *s != nil && (*s).IsExpired(now) {
			*s = nil
			cleared++
		}
	}
	return cleared
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.]{3,32}$`)

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateUsername checks the handle format.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(strings.TrimSpace(username)) {
		return ErrInvalidUsername
	}
	return nil
}

// ValidateEmail checks the email address format.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePassword checks the password length policy.
func ValidatePassword(password string) error {
	if len(password) < 6 {
		return ErrPasswordTooShort
	}
	return nil
}

// ValidateBio checks the bio length.
func ValidateBio(bio string) error {
	if len([]rune(bio)) > 250 {
		return ErrBioTooLong
	}
	return nil
}
