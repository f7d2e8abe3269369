package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/quill/internal/repository"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestCache_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	c := newCache(time.Now)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, repository.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	// Returned slices are copies.
	v[0] = 'x'
	v, _ = c.Get(ctx, "k")
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, repository.ErrCacheMiss)
}

func TestCache_Expiry(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newCache(clk.now)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	ttl, err := c.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	clk.t = clk.t.Add(time.Minute)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, repository.ErrCacheMiss)

	ttl, _ = c.TTL(ctx, "k")
	assert.Equal(t, time.Duration(-1), ttl)

	require.NoError(t, c.Set(ctx, "forever", []byte("v"), 0))
	ttl, _ = c.TTL(ctx, "forever")
	assert.Equal(t, time.Duration(-2), ttl)
}

func TestCache_IncrementFixedWindow(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newCache(clk.now)

	for want := int64(1); want <= 3; want++ {
		n, err := c.Increment(ctx, "attempts", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
		clk.t = clk.t.Add(10 * time.Second)
	}

	// The window is not extended by later increments.
	ttl, _ := c.TTL(ctx, "attempts")
	assert.Equal(t, 30*time.Second, ttl)

	clk.t = clk.t.Add(30 * time.Second)
	n, err := c.Increment(ctx, "attempts", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCache_Cleanup(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Now()}
	c := newCache(clk.now)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, c.Set(ctx, "b", []byte("1"), 0))

	clk.t = clk.t.Add(2 * time.Second)
	c.cleanup()

	assert.Len(t, c.items, 1)
	c.Stop()
	c.Stop()
}
