package mail

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

func TestTemplates(t *testing.T) {
	tpl := Templates{BaseURL: "https://quill.example/"}

	reset := tpl.PasswordReset("a@x.com", "abc123", 10*time.Minute)
	assert.Equal(t, KindPasswordReset, reset.Kind)
	assert.Equal(t, "a@x.com", reset.To)
	assert.Contains(t, reset.HTML, "https://quill.example/reset-password/abc123")
	assert.Contains(t, reset.HTML, "10 minutes")

	verify := tpl.AccountVerification("a@x.com", "tok", time.Minute)
	assert.Contains(t, verify.HTML, "https://quill.example/verify-account/tok")
	assert.Contains(t, verify.HTML, "1 minute")

	otp := tpl.OTP("a@x.com", "123456", 90*time.Second)
	assert.Equal(t, "Your OTP Code", otp.Subject)
	assert.Contains(t, otp.HTML, "<h2>123456</h2>")
	assert.Contains(t, otp.HTML, "1m30s")
}

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func TestSMTPSender_Send(t *testing.T) {
	d := &fakeDialer{}
	s := &SMTPSender{dialer: d, from: "no-reply@quill.local", fromName: "Quill", logger: zerolog.Nop()}

	err := s.Send(context.Background(), Message{To: "a@x.com", Subject: "hi", HTML: "<p>hi</p>"})
	require.NoError(t, err)
	require.Len(t, d.sent, 1)
	assert.Equal(t, []string{"a@x.com"}, d.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"hi"}, d.sent[0].GetHeader("Subject"))
}

func TestSMTPSender_SendFailure(t *testing.T) {
	s := &SMTPSender{dialer: &fakeDialer{err: errors.New("connection refused")}, logger: zerolog.Nop()}

	err := s.Send(context.Background(), Message{To: "a@x.com"})
	assert.ErrorIs(t, err, ErrDeliveryFailed)
}

func TestSMTPSender_CancelledContext(t *testing.T) {
	d := &fakeDialer{}
	s := &SMTPSender{dialer: d, logger: zerolog.Nop()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Send(ctx, Message{To: "a@x.com"}), context.Canceled)
	assert.Empty(t, d.sent)
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(zerolog.New(&buf))

	require.NoError(t, s.Send(context.Background(), Message{Kind: KindOTP, To: "a@x.com", Subject: "code"}))
	assert.Contains(t, buf.String(), `"kind":"otp"`)
	assert.Contains(t, buf.String(), `"to":"a@x.com"`)
}
