// Package ratelimit paces calls to the inventory API, locally and across
// instances sharing one organization.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/fartrucking/far-warehousing/pkg/metrics"
)

// Limiter blocks until one more call may be made.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Interval spaces calls at least delay apart within this process.
type Interval struct {
	name    string
	limiter *rate.Limiter
}

// NewInterval returns a limiter allowing one call per delay. A non-positive
// delay never blocks.
func NewInterval(name string, delay time.Duration) *Interval {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Interval{
		name:    name,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (i *Interval) Wait(ctx context.Context) error {
	start := time.Now()
	if err := i.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", i.name, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.RecordRateLimitWait(i.name, waited.Seconds())
	}
	return nil
}

// Chain waits on every limiter in order.
type Chain []Limiter

func (c Chain) Wait(ctx context.Context) error {
	for _, l := range c {
		if l == nil {
			continue
		}
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ParseRetryAfter parses a Retry-After header value
func ParseRetryAfter(value string) (time.Duration, error) {
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	if t, err := time.Parse(time.RFC1123, value); err == nil {
		return time.Until(t), nil
	}

	return 0, fmt.Errorf("invalid Retry-After value: %s", value)
}
