// Package mail provides the outbound email capability used by the account flows.
// Senders are constructed explicitly and injected, so tests can substitute a fake.
package mail

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
)

// ErrDeliveryFailed indicates the message could not be handed to the mail server.
var ErrDeliveryFailed = errors.New("email delivery failed")

// Kind identifies the purpose of a message. It is used for metrics and logs.
type Kind string

const (
	KindPasswordReset       Kind = "password_reset"
	KindAccountVerification Kind = "account_verification"
	KindOTP                 Kind = "otp"
)

// Message is a single outbound HTML email.
type Message struct {
	Kind    Kind
	To      string
	Subject string
	HTML    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Templates renders the account emails. BaseURL is the public client URL
// that links in the messages point to.
type Templates struct {
	BaseURL string
}

// PasswordReset renders the reset link email for a raw token.
func (t Templates) PasswordReset(to, token string, ttl time.Duration) Message {
	link := t.link("reset-password", token)
	return Message{
		Kind:    KindPasswordReset,
		To:      to,
		Subject: "Password Reset Request",
		HTML: fmt.Sprintf(`<p>You requested to reset your password.</p>
<p>Click the link below to reset your password:</p>
<a href="%[1]s">%[1]s</a>
<p>The link expires in %[2]s. If you did not request this, please ignore this email.</p>`,
			html.EscapeString(link), humanize(ttl)),
	}
}

// AccountVerification renders the verification link email for a raw token.
func (t Templates) AccountVerification(to, token string, ttl time.Duration) Message {
	link := t.link("verify-account", token)
	return Message{
		Kind:    KindAccountVerification,
		To:      to,
		Subject: "Verify Your Account",
		HTML: fmt.Sprintf(`<p>Welcome! Please verify your account.</p>
<p>Click the link below to verify:</p>
<a href="%[1]s">%[1]s</a>
<p>The link expires in %[2]s. If you did not sign up, please ignore this email.</p>`,
			html.EscapeString(link), humanize(ttl)),
	}
}

// OTP renders the one-time code email.
func (t Templates) OTP(to, code string, ttl time.Duration) Message {
	return Message{
		Kind:    KindOTP,
		To:      to,
		Subject: "Your OTP Code",
		HTML: fmt.Sprintf(`<p>Your OTP code is:</p>
<h2>%s</h2>
<p>This code will expire in %s.</p>`,
			html.EscapeString(code), humanize(ttl)),
	}
}

func (t Templates) link(path, token string) string {
	return strings.TrimRight(t.BaseURL, "/") + "/" + path + "/" + token
}

func humanize(d time.Duration) string {
	if d <= 0 {
		return "a few minutes"
	}
	if d%time.Minute == 0 {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return d.String()
}
