package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/quill/internal/auth"
	"github.com/prn-tf/quill/internal/cache/memory"
	"github.com/prn-tf/quill/internal/config"
	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/lock"
	"github.com/prn-tf/quill/internal/mail"
	"github.com/prn-tf/quill/internal/pkg/crypto"
	"github.com/prn-tf/quill/internal/ratelimit"
)

var (
	resetLinkPattern  = regexp.MustCompile(`reset-password/([0-9a-f]+)`)
	verifyLinkPattern = regexp.MustCompile(`verify-account/([0-9a-f]+)`)
	otpPattern        = regexp.MustCompile(`<h2>(\d{6})</h2>`)
)

type accountFixture struct {
	svc    *AccountService
	users  *MockUserRepository
	sender *MockSender
	tokens *auth.TokenManager
	locker *lock.MemoryLocker
	now    time.Time
}

func newAccountFixture(t *testing.T, cfg AccountConfig) *accountFixture {
	t.Helper()

	f := &accountFixture{
		users:  NewMockUserRepository(),
		sender: &MockSender{},
		tokens: auth.NewTokenManager(auth.TokenConfig{Secret: []byte("test-secret"), Issuer: "quill"}),
		locker: lock.NewMemoryLocker(),
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewAccountService(
		f.users,
		crypto.NewPasswordHasher(4),
		f.tokens,
		f.sender,
		mail.Templates{BaseURL: "http://client.test"},
		f.locker,
		nil,
		zerolog.Nop(),
		cfg,
	).WithClock(func() time.Time { return f.now })

	t.Cleanup(func() { f.sender.AssertExpectations(t) })
	return f
}

func (f *accountFixture) register(t *testing.T, username, email string) *domain.User {
	t.Helper()
	out, err := f.svc.Register(context.Background(), RegisterInput{Username: username, Email: email, Password: "secret123"})
	require.NoError(t, err)
	return out.User
}

// expectMail registers one expected message of kind and returns a getter for it.
func (f *accountFixture) expectMail(kind mail.Kind, sendErr error) func() mail.Message {
	var got mail.Message
	f.sender.On("Send", mock.Anything, mock.MatchedBy(func(m mail.Message) bool { return m.Kind == kind })).
		Run(func(args mock.Arguments) { got = args.Get(1).(mail.Message) }).
		Return(sendErr).
		Once()
	return func() mail.Message { return got }
}

func extract(t *testing.T, pattern *regexp.Regexp, msg mail.Message) string {
	t.Helper()
	m := pattern.FindStringSubmatch(msg.HTML)
	require.Len(t, m, 2, "no secret in %q", msg.HTML)
	return m[1]
}

func TestAccountService_Register(t *testing.T) {
	tests := []struct {
		name     string
		input    RegisterInput
		wantErr  error
		existing bool
	}{
		{
			name:  "success",
			input: RegisterInput{Username: "alice", Email: "Alice@Example.com", Password: "secret123"},
		},
		{
			name:    "invalid username",
			input:   RegisterInput{Username: "a", Email: "a@example.com", Password: "secret123"},
			wantErr: domain.ErrInvalidUsername,
		},
		{
			name:    "invalid email",
			input:   RegisterInput{Username: "alice", Email: "not-an-email", Password: "secret123"},
			wantErr: domain.ErrInvalidEmail,
		},
		{
			name:    "short password",
			input:   RegisterInput{Username: "alice", Email: "a@example.com", Password: "123"},
			wantErr: domain.ErrPasswordTooShort,
		},
		{
			name:     "duplicate username",
			input:    RegisterInput{Username: "bob", Email: "other@example.com", Password: "secret123"},
			existing: true,
			wantErr:  domain.ErrUserAlreadyExists,
		},
		{
			name:     "duplicate email ignores case",
			input:    RegisterInput{Username: "other", Email: "BOB@example.com", Password: "secret123"},
			existing: true,
			wantErr:  domain.ErrUserAlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAccountFixture(t, DefaultAccountConfig())
			if tt.existing {
				f.register(t, "bob", "bob@example.com")
			}

			out, err := f.svc.Register(context.Background(), tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "alice@example.com", out.User.Email)
			assert.Equal(t, domain.StateActive, out.User.State())
			assert.False(t, out.User.IsVerified)
			assert.NotEqual(t, "secret123", out.User.PasswordHash)
		})
	}
}

func TestAccountService_Login(t *testing.T) {
	ctx := context.Background()
	f := newAccountFixture(t, DefaultAccountConfig())
	user := f.register(t, "alice", "alice@example.com")

	out, err := f.svc.Login(ctx, LoginInput{Email: " ALICE@example.com ", Password: "secret123"})
	require.NoError(t, err)
	session, err := f.tokens.Parse(out.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, session.Subject)
	assert.Equal(t, time.Hour, out.ExpiresIn)

	stored := f.users.get(user.ID)
	require.NotNil(t, stored.LastLogin)
	assert.Equal(t, f.now, *stored.LastLogin)

	_, err = f.svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "secret123"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestAccountService_LoginRejectsAccountState(t *testing.T) {
	ctx := context.Background()
	f := newAccountFixture(t, DefaultAccountConfig())

	inactive := f.register(t, "inactive", "inactive@example.com")
	require.NoError(t, f.svc.Deactivate(ctx, inactive.ID))

	deleted := f.register(t, "deleted", "deleted@example.com")
	require.NoError(t, f.svc.DeleteAccount(ctx, deleted.ID))

	_, err := f.svc.Login(ctx, LoginInput{Email: "inactive@example.com", Password: "secret123"})
	assert.ErrorIs(t, err, domain.ErrAccountInactive)

	_, err = f.svc.Login(ctx, LoginInput{Email: "deleted@example.com", Password: "secret123"})
	assert.ErrorIs(t, err, domain.ErrAccountDeleted)

	// A wrong password never reveals the state.
	_, err = f.svc.Login(ctx, LoginInput{Email: "deleted@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestAccountService_LoginRateLimit(t *testing.T) {
	ctx := context.Background()
	f := newAccountFixture(t, DefaultAccountConfig())
	f.register(t, "alice", "alice@example.com")

	cache := memory.NewCache()
	t.Cleanup(cache.Stop)
	f.svc.WithLimiters(ratelimit.New(cache, "login", ratelimit.Config{Enabled: true, Attempts: 2, Window: time.Minute}), nil)

	for i := 0; i < 2; i++ {
		_, err := f.svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: "wrong-password"})
		assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	}

	_, err := f.svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: "secret123"})
	require.ErrorIs(t, err, ErrTooManyAttempts)

	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, "login", rle.Scope)
	assert.Greater(t, rle.RetryAfter, time.Duration(0))
}

func TestAccountService_ChangePassword(t *testing.T) {
	ctx := context.Background()
	f := newAccountFixture(t, DefaultAccountConfig())
	user := f.register(t, "alice", "alice@example.com")

	login, err := f.svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: "secret123"})
	require.NoError(t, err)

	_, err = f.svc.ChangePassword(ctx, ChangePasswordInput{UserID: user.ID, CurrentPassword: "wrong-password", NewPassword: "newsecret"})
	assert.ErrorIs(t, err, domain.ErrPasswordMismatch)

	_, err = f.svc.ChangePassword(ctx, ChangePasswordInput{UserID: user.ID, CurrentPassword: "secret123", NewPassword: "secret123"})
	assert.ErrorIs(t, err, domain.ErrPasswordUnchanged)

	_, err = f.svc.ChangePassword(ctx, ChangePasswordInput{UserID: user.ID, CurrentPassword: "secret123", NewPassword: "abc"})
	assert.ErrorIs(t, err, domain.ErrPasswordTooShort)

	f.now = time.Now().Add(time.Hour)
	out, err := f.svc.ChangePassword(ctx, ChangePasswordInput{UserID: user.ID, CurrentPassword: "secret123", NewPassword: "newsecret"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Token)

	stored := f.users.get(user.ID)
	require.NotNil(t, stored.PasswordChangedAt)

	// The token issued before the change is stale.
	old, err := f.tokens.Parse(login.Token)
	require.NoError(t, err)
	assert.True(t, auth.IsStale(old.Credential, stored.PasswordChangedAt))

	fresh, err := f.tokens.Parse(out.Token)
	require.NoError(t, err)
	assert.False(t, auth.IsStale(fresh.Credential, stored.PasswordChangedAt))

	_, err = f.svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: "secret123"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: "newsecret"})
	assert.NoError(t, err)
}

func TestAccountService_PasswordReset(t *testing.T) {
	ctx := context.Background()
	f := newAccountFixture(t, DefaultAccountConfig())
	user := f.register(t, "alice", "alice@example.com")

	sent := f.expectMail(mail.KindPasswordReset, nil)
	require.NoError(t, f.svc.RequestPasswordReset(ctx, "Alice@example.com"))

	msg := sent()
	assert.Equal(t, "alice@example.com", msg.To)
	token := extract(t, resetLinkPattern, msg)
	assert.Len(t, token, 2*crypto.TokenBytes)

	// Only the digest is stored.
	stored := f.users.get(user.ID)
	require.NotNil(t, stored.PasswordReset)
	assert.Equal(t, crypto.Digest(token), stored.PasswordReset.Digest)
	assert.NotContains(t, stored.PasswordReset.Digest, token)
	assert.Equal(t, f.now.Add(10*time.Minute), stored.PasswordReset.ExpiresAt)

	err := f.svc.ResetPassword(ctx, ResetPasswordInput{Token: "deadbeef", NewPassword: "newsecret"})
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	require.NoError(t, f.svc.ResetPassword(ctx, ResetPasswordInput{Token: token, NewPassword: "newsecret"}))
	stored = f.users.get(user.ID)
	assert.Nil(t, stored.PasswordReset)
	assert.NotNil(t, stored.PasswordChangedAt)

	// The token is single use.
	err = f.svc.ResetPassword(ctx, ResetPasswordInput{Token: token, NewPassword: "another1"})
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	_, err = f.svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: "newsecret"})
	assert.NoError(t, err)
}

func TestAccountService_PasswordResetExpires(t *testing.T) {
	ctx := context.Background()
	f := newAccountFixture(t, DefaultAccountConfig())
	f.register(t, "alice", "alice@example.com")

	sent := f.expectMail(mail.KindPasswordReset, nil)
	require.NoError(t, f.svc.RequestPasswordReset(ctx, "alice@example.com"))
	token := extract(t, resetLinkPattern, sent())

	f.now = f.now.Add(10 * time.Minute)
	err := f.svc.ResetPassword(ctx, ResetPasswordInput{Token: token, NewPassword: "newsecret"})
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
}

func TestAccountService_PasswordResetUnknownEmail(t *testing.T) {
	f := newAccountFixture(t, DefaultAccountConfig())
	err := f.svc.RequestPasswordReset(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestAccountService_EmailFailureRevertsSecret(t *testing.T) {
	ctx := context.Background()
	f := newAccountFixture(t, DefaultAccountConfig())
	user := f.register(t, "alice", "alice@example.com")

	f.expectMail(mail.KindPasswordReset, errors.New("smtp down"))
	err := f.svc.RequestPasswordReset(ctx, "alice@example.com")
	assert.ErrorIs(t, err, ErrEmailDelivery)
	assert.Nil(t, f.users.get(user.ID).PasswordReset)

	// A previously outstanding code is restored rather than dropped.
	require.NoError(t, f.svc.Deactivate(ctx, user.ID))
	f.expectMail(mail.KindOTP, nil)
	require.NoError(t, f.svc.RequestOTP(ctx, "alice@example.com"))
	previous := f.users.get(user.ID).ReactivateOTP
	require.NotNil(t, previous)

	f.expectMail(mail.KindOTP, errors.New("smtp down"))
	err = f.svc.RequestOTP(ctx, "alice@example.com")
	assert.ErrorIs(t, err, ErrEmailDelivery)
	assert.Equal(t, previous, f.users.get(user.ID).ReactivateOTP)
}

func TestAccountService_AccountVerification(t *testing.T) {
	ctx := context.Background()
	f := newAccountFixture(t, DefaultAccountConfig())
	user := f.register(t, "alice", "alice@example.com")

	sent := f.expectMail(mail.KindAccountVerification, nil)
	require.NoError(t, f.svc.RequestAccountVerification(ctx, user.ID))
	token := extract(t, verifyLinkPattern, sent())

	_, err := f.svc.VerifyAccount(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	verified, err := f.svc.VerifyAccount(ctx, token)
	require.NoError(t, err)
	assert.True(t, verified.IsVerified)

	stored := f.users.get(user.ID)
	assert.True(t, stored.IsVerified)
	assert.Nil(t, stored.AccountVerification)

	_, err = f.svc.VerifyAccount(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	err = f.svc.RequestAccountVerification(ctx, user.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyVerified)
}

func TestAccountService_RestoreWithOTP(t *testing.T) {
	ctx := context.Background()
	f := newAccountFixture(t, DefaultAccountConfig())
	user := f.register(t, "alice", "alice@example.com")
	require.NoError(t, f.svc.DeleteAccount(ctx, user.ID))

	sent := f.expectMail(mail.KindOTP, nil)
	require.NoError(t, f.svc.RequestOTP(ctx, "alice@example.com"))
	code := extract(t, otpPattern, sent())
	require.NotNil(t, f.users.get(user.ID).RestoreOTP)

	// A wrong attempt consumes the code.
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err := f.svc.VerifyOTP(ctx, VerifyOTPInput{Email: "alice@example.com", Code: wrong})
	assert.ErrorIs(t, err, ErrInvalidOrExpiredOTP)
	_, err = f.svc.VerifyOTP(ctx, VerifyOTPInput{Email: "alice@example.com", Code: code})
	assert.ErrorIs(t, err, ErrInvalidOrExpiredOTP)
	assert.True(t, f.users.get(user.ID).IsDeleted)

	sent = f.expectMail(mail.KindOTP, nil)
	require.NoError(t, f.svc.RequestOTP(ctx, "alice@example.com"))
	code = extract(t, otpPattern, sent())

	out, err := f.svc.VerifyOTP(ctx, VerifyOTPInput{Email: "alice@example.com", Code: code})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Token)

	stored := f.users.get(user.ID)
	assert.Equal(t, domain.StateActive, stored.State())
	assert.Nil(t, stored.DeletedAt)
	assert.Nil(t, stored.RestoreOTP)

	_, err = f.svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: "secret123"})
	assert.NoError(t, err)

	err = f.svc.RequestOTP(ctx, "alice@example.com")
	assert.ErrorIs(t, err, domain.ErrAlreadyActive)
}

func TestAccountService_ReactivateWithOTP(t *testing.T) {
	ctx := context.Background()
	f := newAccountFixture(t, DefaultAccountConfig())
	user := f.register(t, "alice", "alice@example.com")
	require.NoError(t, f.svc.Deactivate(ctx, user.ID))

	sent := f.expectMail(mail.KindOTP, nil)
	require.NoError(t, f.svc.RequestOTP(ctx, "alice@example.com"))
	code := extract(t, otpPattern, sent())
	assert.NotNil(t, f.users.get(user.ID).ReactivateOTP)
	assert.Nil(t, f.users.get(user.ID).RestoreOTP)

	_, err := f.svc.VerifyOTP(ctx, VerifyOTPInput{Email: "alice@example.com", Code: code})
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, f.users.get(user.ID).State())
}

func TestAccountService_OTPExpires(t *testing.T) {
	ctx := context.Background()
	f := newAccountFixture(t, DefaultAccountConfig())
	user := f.register(t, "alice", "alice@example.com")
	require.NoError(t, f.svc.Deactivate(ctx, user.ID))

	sent := f.expectMail(mail.KindOTP, nil)
	require.NoError(t, f.svc.RequestOTP(ctx, "alice@example.com"))
	code := extract(t, otpPattern, sent())

	f.now = f.now.Add(11 * time.Minute)
	_, err := f.svc.VerifyOTP(ctx, VerifyOTPInput{Email: "alice@example.com", Code: code})
	assert.ErrorIs(t, err, ErrInvalidOrExpiredOTP)
	assert.Nil(t, f.users.get(user.ID).ReactivateOTP)
}

func TestAccountService_RestoreWindow(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultAccountConfig()
	cfg.RestoreWindow = 5 * time.Minute
	f := newAccountFixture(t, cfg)
	user := f.register(t, "alice", "alice@example.com")
	require.NoError(t, f.svc.DeleteAccount(ctx, user.ID))

	f.now = f.now.Add(4 * time.Minute)
	sent := f.expectMail(mail.KindOTP, nil)
	require.NoError(t, f.svc.RequestOTP(ctx, "alice@example.com"))
	code := extract(t, otpPattern, sent())

	// The code is still fresh but the window has closed.
	f.now = f.now.Add(2 * time.Minute)
	_, err := f.svc.VerifyOTP(ctx, VerifyOTPInput{Email: "alice@example.com", Code: code})
	assert.ErrorIs(t, err, domain.ErrDeleteWindowExpired)
	assert.True(t, f.users.get(user.ID).IsDeleted)

	err = f.svc.RequestOTP(ctx, "alice@example.com")
	assert.ErrorIs(t, err, domain.ErrDeleteWindowExpired)
}

func TestAccountService_VerifyOTPUnknownEmail(t *testing.T) {
	f := newAccountFixture(t, DefaultAccountConfig())
	_, err := f.svc.VerifyOTP(context.Background(), VerifyOTPInput{Email: "nobody@example.com", Code: "123456"})
	assert.ErrorIs(t, err, ErrInvalidOrExpiredOTP)
}

func TestAccountService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := newAccountFixture(t, DefaultAccountConfig())
	user := f.register(t, "alice", "alice@example.com")

	_, err := f.svc.Reactivate(ctx, user.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyActive)

	require.NoError(t, f.svc.Deactivate(ctx, user.ID))
	assert.ErrorIs(t, f.svc.Deactivate(ctx, user.ID), domain.ErrAlreadyDeactivated)

	reactivated, err := f.svc.Reactivate(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, reactivated.IsActive)

	// Deletion drops outstanding secrets.
	f.expectMail(mail.KindAccountVerification, nil)
	require.NoError(t, f.svc.RequestAccountVerification(ctx, user.ID))
	require.NotNil(t, f.users.get(user.ID).AccountVerification)

	require.NoError(t, f.svc.DeleteAccount(ctx, user.ID))
	stored := f.users.get(user.ID)
	assert.True(t, stored.IsDeleted)
	assert.Equal(t, f.now, *stored.DeletedAt)
	assert.Nil(t, stored.AccountVerification)

	assert.ErrorIs(t, f.svc.DeleteAccount(ctx, user.ID), domain.ErrAlreadyDeleted)
	assert.ErrorIs(t, f.svc.RequestAccountVerification(ctx, user.ID), domain.ErrAccountDeleted)
	_, err = f.svc.Reactivate(ctx, user.ID)
	assert.ErrorIs(t, err, domain.ErrAccountDeleted)
	assert.ErrorIs(t, f.svc.Deactivate(ctx, user.ID), domain.ErrAccountDeleted)
}

func TestAccountService_DeleteInactive(t *testing.T) {
	ctx := context.Background()
	f := newAccountFixture(t, DefaultAccountConfig())
	user := f.register(t, "alice", "alice@example.com")

	require.NoError(t, f.svc.Deactivate(ctx, user.ID))
	require.NoError(t, f.svc.DeleteAccount(ctx, user.ID))
	assert.Equal(t, domain.StateDeleted, f.users.get(user.ID).State())
}

func TestAccountService_SecretIssueWaitsForAccountLock(t *testing.T) {
	ctx := context.Background()
	f := newAccountFixture(t, DefaultAccountConfig())
	user := f.register(t, "alice", "alice@example.com")
	f.expectMail(mail.KindPasswordReset, nil)

	key := lock.Keys.Account(user.ID.String())
	ok, err := f.locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan error, 1)
	go func() { done <- f.svc.RequestPasswordReset(ctx, "alice@example.com") }()

	// Another writer holding the lock changes the password while the
	// request is waiting.
	time.Sleep(50 * time.Millisecond)
	changed := f.users.get(user.ID)
	changed.PasswordHash = "replaced-hash"
	changed.TouchPasswordChanged(f.now)
	f.users.put(changed)

	_, err = f.locker.Release(ctx, key)
	require.NoError(t, err)
	require.NoError(t, <-done)

	stored := f.users.get(user.ID)
	assert.Equal(t, "replaced-hash", stored.PasswordHash)
	require.NotNil(t, stored.PasswordChangedAt)
	assert.NotNil(t, stored.PasswordReset)
}

func TestAccountService_SetRole(t *testing.T) {
	ctx := context.Background()
	f := newAccountFixture(t, DefaultAccountConfig())
	user := f.register(t, "alice", "alice@example.com")

	updated, err := f.svc.SetRole(ctx, "alice", domain.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, updated.IsAdmin())
	assert.True(t, f.users.get(user.ID).IsAdmin())

	_, err = f.svc.SetRole(ctx, "alice", domain.Role("root"))
	assert.Error(t, err)

	_, err = f.svc.SetRole(ctx, "nobody", domain.RoleAdmin)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	list, err := f.svc.ListUsers(ctx, pageOptions(0, 0))
	require.NoError(t, err)
	assert.EqualValues(t, 1, list.Total)
}

func TestAccountConfigFrom(t *testing.T) {
	cfg := AccountConfigFrom(config.AuthConfig{RestoreWindow: 2 * time.Hour})
	assert.Equal(t, 10*time.Minute, cfg.ResetTokenTTL)
	assert.Equal(t, 2*time.Hour, cfg.RestoreWindow)
}
