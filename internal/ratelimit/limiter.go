package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/CloudReel/sentinel/internal/audit"
	"github.com/CloudReel/sentinel/internal/clock"
	"github.com/CloudReel/sentinel/internal/config"
	"github.com/CloudReel/sentinel/internal/metrics"
	"github.com/CloudReel/sentinel/internal/store"
	"go.uber.org/zap"
)

// WindowConfig is one fixed-window limit.
type WindowConfig struct {
	Window      time.Duration
	MaxRequests int
}

// Result is the outcome of a limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration // zero when allowed
}

// Limiter buckets requests into fixed windows counted in a shared counter
// store, so limits hold across processes. If the store is unreachable the
// limiter fails open: availability is prioritized over strict enforcement,
// and the degradation itself is audited.
type Limiter struct {
	counter store.CounterStore
	trail   *audit.Trail
	logger  *zap.Logger
	clock   clock.Clock

	endpoints map[string]config.EndpointLimit
	tiers     map[string]int
}

// NewLimiter creates a limiter with the configured endpoint classes and
// subscription-tier multipliers.
func NewLimiter(counter store.CounterStore, trail *audit.Trail, cfg config.RateLimitConfig, logger *zap.Logger, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &Limiter{
		counter:   counter,
		trail:     trail,
		logger:    logger,
		clock:     clk,
		endpoints: cfg.Endpoints,
		tiers:     cfg.TierMultipliers,
	}
}

// Check counts the request against the identifier's current window and
// reports whether it is allowed.
func (l *Limiter) Check(ctx context.Context, identifier string, cfg WindowConfig) Result {
	now := l.clock.Now()
	if cfg.Window <= 0 {
		// A class with no configured window means operator config is
		// missing, not that traffic should stop. Fail open and say so.
		l.logger.Warn("rate limit window not configured, failing open",
			zap.String("identifier", identifier))
		return Result{Allowed: true, Limit: cfg.MaxRequests, Remaining: cfg.MaxRequests, ResetTime: now}
	}
	windowIndex := now.UnixMilli() / cfg.Window.Milliseconds()
	key := fmt.Sprintf("ratelimit:%s:%d", identifier, windowIndex)
	resetTime := time.UnixMilli((windowIndex + 1) * cfg.Window.Milliseconds())

	count, err := l.counter.IncrementWithExpiry(ctx, key, cfg.Window)
	if err != nil {
		// Fail open: a degraded counter store must not take the site down.
		l.logger.Warn("rate limiter failing open", zap.Error(err), zap.String("identifier", identifier))
		if l.trail != nil {
			_, _ = l.trail.Log(ctx, "system", "rate_limit_degraded", "rate_limiter", audit.Details{
				Severity: audit.SeverityHigh,
				Category: audit.CategorySystem,
				Outcome:  audit.OutcomePartial,
				Metadata: map[string]string{"error": err.Error()},
			})
		}
		return Result{Allowed: true, Limit: cfg.MaxRequests, Remaining: cfg.MaxRequests, ResetTime: resetTime}
	}

	remaining := cfg.MaxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}

	result := Result{
		Allowed:   count <= int64(cfg.MaxRequests),
		Limit:     cfg.MaxRequests,
		Remaining: remaining,
		ResetTime: resetTime,
	}
	if !result.Allowed {
		retry := resetTime.Sub(now)
		// Round up so Retry-After never tells the client to come back early.
		result.RetryAfter = time.Duration(retrySeconds(retry)) * time.Second
	}
	return result
}

// CheckClass applies the endpoint class's configured window, scaled by the
// caller's subscription tier.
func (l *Limiter) CheckClass(ctx context.Context, identifier, class, tier string) Result {
	cfg, ok := l.endpoints[class]
	if !ok {
		cfg = l.endpoints["api"]
	}

	multiplier := l.tiers[tier]
	if multiplier < 1 {
		multiplier = 1
	}

	result := l.Check(ctx, class+":"+identifier, WindowConfig{
		Window:      time.Duration(cfg.WindowMs) * time.Millisecond,
		MaxRequests: cfg.MaxRequests * multiplier,
	})
	metrics.RateLimitDecisions.WithLabelValues(class, strconv.FormatBool(result.Allowed)).Inc()
	return result
}

func retrySeconds(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}
