package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/quill/internal/config"
	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/lock"
	"github.com/prn-tf/quill/internal/metrics"
)

func newSweeperFixture(cfg SweeperConfig) (*SecretSweeper, *MockUserRepository, *lock.MemoryLocker, time.Time) {
	users := NewMockUserRepository()
	locker := lock.NewMemoryLocker()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s := NewSecretSweeper(users, locker, metrics.NewMetrics("quill"), zerolog.Nop(), cfg)
	s.now = func() time.Time { return now }
	return s, users, locker, now
}

func seedSecrets(users *MockUserRepository, now time.Time) (expired, fresh *domain.User) {
	expired = seedUser(users, "expired")
	expired.PasswordReset = &domain.SecretDigest{Digest: "a", ExpiresAt: now.Add(-time.Minute)}
	expired.RestoreOTP = &domain.SecretDigest{Digest: "b", ExpiresAt: now.Add(-time.Second)}
	users.put(expired)

	fresh = seedUser(users, "fresh")
	fresh.AccountVerification = &domain.SecretDigest{Digest: "c", ExpiresAt: now.Add(time.Minute)}
	users.put(fresh)
	return expired, fresh
}

func TestSecretSweeper_RunOnce(t *testing.T) {
	s, users, _, now := newSweeperFixture(SweeperConfig{Interval: time.Minute})
	expired, fresh := seedSecrets(users, now)

	result := s.RunOnce(context.Background())
	assert.Equal(t, int64(2), result.Expired)
	assert.Equal(t, int64(1), result.UsersCleared)
	assert.Zero(t, result.Errors)
	assert.False(t, result.Skipped)

	got := users.get(expired.ID)
	assert.Nil(t, got.PasswordReset)
	assert.Nil(t, got.RestoreOTP)
	assert.NotNil(t, users.get(fresh.ID).AccountVerification)

	// Nothing left to clear.
	result = s.RunOnce(context.Background())
	assert.Zero(t, result.Expired)
	assert.Zero(t, result.UsersCleared)
}

func TestSecretSweeper_DryRun(t *testing.T) {
	s, users, _, now := newSweeperFixture(SweeperConfig{Interval: time.Minute, DryRun: true})
	expired, _ := seedSecrets(users, now)

	result := s.RunOnce(context.Background())
	assert.Equal(t, int64(2), result.Expired)
	assert.Zero(t, result.UsersCleared)
	assert.NotNil(t, users.get(expired.ID).PasswordReset)
}

func TestSecretSweeper_SkipsWhenLocked(t *testing.T) {
	ctx := context.Background()
	s, users, locker, now := newSweeperFixture(SweeperConfig{Interval: time.Minute})
	expired, _ := seedSecrets(users, now)

	acquired, err := locker.Acquire(ctx, lock.Keys.SecretSweep(), time.Hour)
	require.NoError(t, err)
	require.True(t, acquired)

	result := s.RunOnce(ctx)
	assert.True(t, result.Skipped)
	assert.NotNil(t, users.get(expired.ID).PasswordReset)

	// The lock is released after a completed run.
	_, err = locker.Release(ctx, lock.Keys.SecretSweep())
	require.NoError(t, err)
	s.RunOnce(ctx)
	held, err := locker.IsHeld(ctx, lock.Keys.SecretSweep())
	require.NoError(t, err)
	assert.False(t, held)
}

func TestSecretSweeper_StartStop(t *testing.T) {
	s, users, _, now := newSweeperFixture(SweeperConfig{Enabled: true, Interval: time.Hour})
	expired, _ := seedSecrets(users, now)

	s.Start()
	s.Start()
	s.Stop()
	s.Stop()

	// The first sweep runs immediately on start and Stop waits for it.
	assert.Nil(t, users.get(expired.ID).PasswordReset)
}

func TestSweeperConfigFrom(t *testing.T) {
	cfg := SweeperConfigFrom(config.SweeperConfig{DryRun: true})
	assert.Equal(t, DefaultSweeperConfig().Interval, cfg.Interval)
	assert.True(t, cfg.DryRun)

	cfg = SweeperConfigFrom(config.SweeperConfig{Enabled: true, Interval: time.Minute})
	assert.True(t, cfg.Enabled)
	assert.Equal(t, time.Minute, cfg.Interval)
}
