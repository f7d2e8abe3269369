package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// TokenBytes is the entropy of reset and verification tokens.
	TokenBytes = 20

	// OTPLength is the number of digits in a one-time code.
	OTPLength = 6

	otpAlphabet = "0123456789"
)

// GenerateToken returns a random hex-encoded bearer token.
func GenerateToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateOTP returns a random numeric one-time code of OTPLength digits.
func GenerateOTP() (string, error) {
	code, err := gonanoid.Generate(otpAlphabet, OTPLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return code, nil
}
