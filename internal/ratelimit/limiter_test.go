package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/quill/internal/cache/memory"
)

func TestLimiter_Hit(t *testing.T) {
	ctx := context.Background()
	cache := memory.NewCache()
	defer cache.Stop()

	l := New(cache, "login", Config{Enabled: true, Attempts: 2, Window: time.Minute})

	r, err := l.Hit(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	assert.Equal(t, 1, r.Remaining)

	r, _ = l.Hit(ctx, "alice@x.com")
	assert.True(t, r.Allowed)
	assert.Equal(t, 0, r.Remaining)

	r, _ = l.Hit(ctx, "alice@x.com")
	assert.False(t, r.Allowed)
	assert.Greater(t, r.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, r.RetryAfter, time.Minute)

	// Other keys are independent.
	r, _ = l.Hit(ctx, "bob@x.com")
	assert.True(t, r.Allowed)

	require.NoError(t, l.Reset(ctx, "alice@x.com"))
	r, _ = l.Hit(ctx, "alice@x.com")
	assert.True(t, r.Allowed)
}

func TestLimiter_Disabled(t *testing.T) {
	ctx := context.Background()
	l := New(nil, "login", Config{Enabled: false, Attempts: 1, Window: time.Minute})

	for i := 0; i < 5; i++ {
		r, err := l.Hit(ctx, "k")
		require.NoError(t, err)
		assert.True(t, r.Allowed)
	}
	assert.NoError(t, l.Reset(ctx, "k"))

	var nilLimiter *Limiter
	r, err := nilLimiter.Hit(ctx, "k")
	require.NoError(t, err)
	assert.True(t, r.Allowed)
}
