package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/fartrucking/far-warehousing/pkg/metrics"
	"github.com/fartrucking/far-warehousing/pkg/redis"
	"github.com/fartrucking/far-warehousing/pkg/tracing"
)

// Window is a request budget over a sliding window.
type Window struct {
	Name     string
	Requests int64
	Period   time.Duration
}

// Manager enforces a shared sliding window stored in Redis.
type Manager struct {
	limiter *redis.RateLimiter
	window  Window
	maxWait time.Duration
	logger  ectologger.Logger
}

// NewManager creates a new rate limit manager
func NewManager(client *redis.Client, window Window, maxWait time.Duration, logger ectologger.Logger) *Manager {
	return &Manager{
		limiter: redis.NewRateLimiter(client),
		window:  window,
		maxWait: maxWait,
		logger:  logger,
	}
}

// Wait blocks until the shared window has room. A Redis failure lets the call through.
func (m *Manager) Wait(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "RateLimitManager.Wait")
	defer span.End()

	start := time.Now()
	deadline := start.Add(m.maxWait)

	for {
		result, err := m.limiter.Allow(ctx, m.window.Name, m.window.Requests, m.window.Period)
		if err != nil {
			m.logger.WithContext(ctx).WithError(err).Errorf("Rate limit check failed for %s", m.window.Name)
			return nil
		}
		if result.Allowed {
			metrics.RecordRateLimitWait(m.window.Name, time.Since(start).Seconds())
			return nil
		}

		retryIn := result.RetryIn
		if retryIn <= 0 {
			retryIn = 200 * time.Millisecond
		}
		if m.maxWait > 0 && time.Now().Add(retryIn).After(deadline) {
			return fmt.Errorf("rate limit %s would exceed max wait time of %v", m.window.Name, m.maxWait)
		}

		m.logger.WithContext(ctx).Infof("Rate limited by %s, waiting %v", m.window.Name, retryIn)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryIn):
		}
	}
}

// Throttle blocks the shared window for d, typically from a 429 Retry-After.
func (m *Manager) Throttle(ctx context.Context, d time.Duration) {
	if err := m.limiter.BlockFor(ctx, m.window.Name, d); err != nil {
		m.logger.WithContext(ctx).WithError(err).Warnf("Failed to block rate limit %s", m.window.Name)
	}
}
