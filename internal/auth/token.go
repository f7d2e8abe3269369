package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL is the session token lifetime when none is configured.
const DefaultTokenTTL = time.Hour

// Claims is the signed body of a session token.
type Claims struct {
	jwt.RegisteredClaims

	// Credential is the CredentialStamp of the subject's password when the
	// token was issued.
	Credential int64 `json:"pwc,omitempty"`
}

// Session is the verified content of a token.
type Session struct {
	Subject    uuid.UUID
	IssuedAt   time.Time
	Credential int64
}

// CredentialStamp identifies a password generation by the time it was set.
// Accounts whose password never changed have stamp zero.
func CredentialStamp(passwordChangedAt *time.Time) int64 {
	if passwordChangedAt == nil {
		return 0
	}
	return passwordChangedAt.UnixMicro()
}

// TokenConfig contains configuration for the token manager.
type TokenConfig struct {
	// Secret is the HMAC signing key.
	Secret []byte

	// Issuer is written to and required in the iss claim.
	Issuer string

	// TTL is the token lifetime.
	TTL time.Duration
}

// TokenManager issues and parses HS256 session tokens.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager creates a new token manager.
func NewTokenManager(cfg TokenConfig) *TokenManager {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenManager{
		secret: cfg.Secret,
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock replaces the clock used for issuing and checking expiry.
func (m *TokenManager) WithClock(now func() time.Time) *TokenManager {
	m.now = now
	return m
}

// TTL returns the token lifetime.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a token for userID bound to the password set at
// passwordChangedAt.
func (m *TokenManager) Issue(userID uuid.UUID, passwordChangedAt *time.Time) (string, error) {
	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Credential: CredentialStamp(passwordChangedAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse checks the signature, algorithm, issuer and expiry of a token and
// returns its session. It never touches the database.
func (m *TokenManager) Parse(tokenString string) (*Session, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, errors.Join(ErrMalformedOrExpiredToken, err)
	}

	subject, err := uuid.Parse(claims.Subject)
	if err != nil || claims.IssuedAt == nil {
		return nil, ErrMalformedOrExpiredToken
	}

	return &Session{Subject: subject, IssuedAt: claims.IssuedAt.Time, Credential: claims.Credential}, nil
}
