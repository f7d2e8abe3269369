package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	key := Keys.SecretSweep()

	ok, err := l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	held, _ := l.IsHeld(ctx, key)
	assert.True(t, held)

	released, err := l.Release(ctx, key)
	require.NoError(t, err)
	assert.True(t, released)

	ok, _ = l.Acquire(ctx, key, time.Minute)
	assert.True(t, ok)
}

func TestMemoryLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	ok, _ := l.Acquire(ctx, "k", time.Second)
	require.True(t, ok)

	now = now.Add(time.Second)
	held, _ := l.IsHeld(ctx, "k")
	assert.False(t, held)

	ok, _ = l.Acquire(ctx, "k", time.Minute)
	assert.True(t, ok, "expired lock can be taken")
}

func TestMemoryLocker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryLocker().Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()
	key := Keys.Account("u1")
	p := Policy{TTL: time.Minute, Retries: 1, RetryDelay: time.Millisecond}

	var ran bool
	err := Do(ctx, locker, key, p, func(ctx context.Context) error {
		held, err := locker.IsHeld(ctx, key)
		require.NoError(t, err)
		assert.True(t, held)
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	held, err := locker.IsHeld(ctx, key)
	require.NoError(t, err)
	assert.False(t, held, "released after fn returns")

	t.Run("fn error is returned and lock released", func(t *testing.T) {
		boom := errors.New("boom")
		assert.ErrorIs(t, Do(ctx, locker, key, p, func(context.Context) error { return boom }), boom)
		held, _ := locker.IsHeld(ctx, key)
		assert.False(t, held)
	})

	t.Run("held elsewhere", func(t *testing.T) {
		ok, err := locker.Acquire(ctx, key, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		err = Do(ctx, locker, key, p, func(context.Context) error {
			t.Fatal("fn must not run without the lock")
			return nil
		})
		assert.ErrorIs(t, err, ErrNotAcquired)
	})
}
