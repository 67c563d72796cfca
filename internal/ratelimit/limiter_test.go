package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/CloudReel/sentinel/internal/clock"
	"github.com/CloudReel/sentinel/internal/config"
	"github.com/CloudReel/sentinel/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLimiter(clk clock.Clock) *Limiter {
	return NewLimiter(store.NewMemoryCounter(clk), nil, config.Default().RateLimit, zap.NewNop(), clk)
}

func TestLimiterCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("counts down remaining and rejects the sixth call", func(t *testing.T) {
		clk := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
		limiter := newTestLimiter(clk)
		cfg := WindowConfig{Window: time.Minute, MaxRequests: 5}

		for want := 4; want >= 0; want-- {
			result := limiter.Check(ctx, "ip1", cfg)
			assert.True(t, result.Allowed)
			assert.Equal(t, want, result.Remaining)
			assert.Equal(t, 5, result.Limit)
		}

		result := limiter.Check(ctx, "ip1", cfg)
		assert.False(t, result.Allowed)
		assert.Equal(t, 0, result.Remaining)
		assert.Positive(t, result.RetryAfter)
	})

	t.Run("window rolls over", func(t *testing.T) {
		clk := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
		limiter := newTestLimiter(clk)
		cfg := WindowConfig{Window: time.Minute, MaxRequests: 1}

		assert.True(t, limiter.Check(ctx, "ip2", cfg).Allowed)
		assert.False(t, limiter.Check(ctx, "ip2", cfg).Allowed)

		clk.Advance(time.Minute)
		assert.True(t, limiter.Check(ctx, "ip2", cfg).Allowed)
	})

	t.Run("identifiers are independent", func(t *testing.T) {
		clk := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
		limiter := newTestLimiter(clk)
		cfg := WindowConfig{Window: time.Minute, MaxRequests: 1}

		assert.True(t, limiter.Check(ctx, "a", cfg).Allowed)
		assert.True(t, limiter.Check(ctx, "b", cfg).Allowed)
	})

	t.Run("retry-after points at the window boundary", func(t *testing.T) {
		clk := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 30, 0, time.UTC))
		limiter := newTestLimiter(clk)
		cfg := WindowConfig{Window: time.Minute, MaxRequests: 1}

		limiter.Check(ctx, "ip3", cfg)
		result := limiter.Check(ctx, "ip3", cfg)
		require.False(t, result.Allowed)
		assert.Equal(t, 30*time.Second, result.RetryAfter)
		assert.Equal(t, time.Date(2026, 3, 1, 0, 1, 0, 0, time.UTC), result.ResetTime.UTC())
	})

	t.Run("fails open when the counter store is down", func(t *testing.T) {
		clk := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
		limiter := NewLimiter(failingCounter{}, nil, config.Default().RateLimit, zap.NewNop(), clk)

		result := limiter.Check(ctx, "ip4", WindowConfig{Window: time.Minute, MaxRequests: 1})
		assert.True(t, result.Allowed)
	})
}

func TestCheckClass(t *testing.T) {
	ctx := context.Background()

	t.Run("tier multiplies the limit", func(t *testing.T) {
		clk := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
		limiter := newTestLimiter(clk)

		// auth allows 5 per window for basic, 15 for premium.
		var last Result
		for i := 0; i < 6; i++ {
			last = limiter.CheckClass(ctx, "u1", "auth", "basic")
		}
		assert.False(t, last.Allowed)

		for i := 0; i < 15; i++ {
			last = limiter.CheckClass(ctx, "u2", "auth", "premium")
			assert.True(t, last.Allowed)
		}
		assert.Equal(t, 15, last.Limit)
		assert.False(t, limiter.CheckClass(ctx, "u2", "auth", "premium").Allowed)
	})

	t.Run("unknown class falls back to the generic api limit", func(t *testing.T) {
		clk := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
		limiter := newTestLimiter(clk)

		result := limiter.CheckClass(ctx, "u3", "unknown", "basic")
		assert.True(t, result.Allowed)
		assert.Equal(t, 100, result.Limit)
	})

	t.Run("missing class config fails open instead of dividing by zero", func(t *testing.T) {
		clk := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
		cfg := config.Default().RateLimit
		cfg.Endpoints = map[string]config.EndpointLimit{} // operator yaml without endpoints
		limiter := NewLimiter(store.NewMemoryCounter(clk), nil, cfg, zap.NewNop(), clk)

		result := limiter.CheckClass(ctx, "u5", "unknown", "basic")
		assert.True(t, result.Allowed)
	})

	t.Run("classes count separately", func(t *testing.T) {
		clk := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
		limiter := newTestLimiter(clk)

		for i := 0; i < 5; i++ {
			limiter.CheckClass(ctx, "u4", "auth", "basic")
		}
		assert.False(t, limiter.CheckClass(ctx, "u4", "auth", "basic").Allowed)
		assert.True(t, limiter.CheckClass(ctx, "u4", "chat", "basic").Allowed)
	})
}

func TestFloodGuard(t *testing.T) {
	t.Run("matches automation signatures", func(t *testing.T) {
		guard := NewFloodGuard(1, 2)
		assert.True(t, guard.Suspicious("curl/8.4.0", "fp1"))
		assert.True(t, guard.Suspicious("python-requests/2.31", "fp1"))
		assert.True(t, guard.Suspicious("Mozilla/5.0 compatible; SomeBot/1.0", "fp1"))
		assert.False(t, guard.Suspicious("Mozilla/5.0 (Macintosh; Intel Mac OS X)", "fp1"))
	})

	t.Run("enforces per-fingerprint burst", func(t *testing.T) {
		guard := NewFloodGuard(1, 2)
		assert.True(t, guard.Allow("fp1"))
		assert.True(t, guard.Allow("fp1"))
		assert.False(t, guard.Allow("fp1"))
		assert.True(t, guard.Allow("fp2"))
	})
}

func TestBlocklist(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	blocklist := NewBlocklist(clk)

	t.Run("blocks until expiry", func(t *testing.T) {
		blocklist.Block("203.0.113.9", time.Hour)
		assert.True(t, blocklist.Blocked("203.0.113.9"))

		clk.Advance(2 * time.Hour)
		assert.False(t, blocklist.Blocked("203.0.113.9"))
	})

	t.Run("zero duration blocks indefinitely", func(t *testing.T) {
		blocklist.Block("u1", 0)
		clk.Advance(24 * 365 * time.Hour)
		assert.True(t, blocklist.Blocked("u1"))

		blocklist.Unblock("u1")
		assert.False(t, blocklist.Blocked("u1"))
	})
}

type failingCounter struct{}

func (failingCounter) IncrementWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 0, assert.AnError
}
