package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterEnforcesWindowBudget(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(MemoryConfig{Now: func() time.Time { return now }})

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(context.Background(), "rl:view:203.0.113.9", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := limiter.Allow(context.Background(), "rl:view:203.0.113.9", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, now.Add(time.Minute), d.ResetAt)
}

func TestMemoryLimiterWindowResets(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(MemoryConfig{Now: func() time.Time { return now }})

	_, err := limiter.Allow(context.Background(), "k", 1, time.Minute)
	require.NoError(t, err)
	d, err := limiter.Allow(context.Background(), "k", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	now = now.Add(61 * time.Second)
	d, err = limiter.Allow(context.Background(), "k", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewMemoryLimiter(MemoryConfig{})

	d, err := limiter.Allow(context.Background(), "rl:view:a", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = limiter.Allow(context.Background(), "rl:view:b", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterZeroLimitAlwaysAllows(t *testing.T) {
	limiter := NewMemoryLimiter(MemoryConfig{})

	d, err := limiter.Allow(context.Background(), "k", 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterEvictsExpiredKeysAtCapacity(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(MemoryConfig{
		Now:     func() time.Time { return now },
		MaxKeys: 4,
	})

	for i := 0; i < 4; i++ {
		_, err := limiter.Allow(context.Background(), fmt.Sprintf("k%d", i), 1, time.Minute)
		require.NoError(t, err)
	}

	// all four windows lapse; the next key forces a sweep
	now = now.Add(2 * time.Minute)
	d, err := limiter.Allow(context.Background(), "fresh", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterSaturationDeniesNewKeys(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(MemoryConfig{
		Now:     func() time.Time { return now },
		MaxKeys: 4,
	})

	for i := 0; i < 4; i++ {
		_, err := limiter.Allow(context.Background(), fmt.Sprintf("k%d", i), 1, time.Minute)
		require.NoError(t, err)
	}

	// live windows everywhere: a rotating client must be denied, not
	// handed an error the middleware would treat as fail-open
	d, err := limiter.Allow(context.Background(), "rotated", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, now.Add(time.Minute), d.ResetAt)

	// established keys keep their own budgets
	d, err = limiter.Allow(context.Background(), "k0", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
