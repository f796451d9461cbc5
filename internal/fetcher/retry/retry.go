// Package retry decorates a tracker.Fetcher with bounded retries for
// transient failures.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-tracker/internal/metrics"
	"github.com/JakeFAU/article-tracker/internal/tracker"
)

// Fetcher retries the wrapped fetcher according to a RetryPolicy.
type Fetcher struct {
	next   tracker.Fetcher
	policy tracker.RetryPolicy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithSleep overrides how the fetcher waits between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) {
		f.sleep = fn
	}
}

// New wraps next.
func New(next tracker.Fetcher, policy tracker.RetryPolicy, logger *zap.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		next:   next,
		policy: policy,
		logger: logger,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch calls the wrapped fetcher until it succeeds, the policy gives up, or
// ctx ends. The response records how many attempts were made.
func (f *Fetcher) Fetch(ctx context.Context, request tracker.FetchRequest) (tracker.FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := f.next.Fetch(ctx, request)
		resp.Attempts = attempt
		if err == nil {
			return resp, nil
		}
		if !f.policy.ShouldRetry(err, attempt) {
			return resp, err
		}
		delay := f.policy.Backoff(attempt)
		f.logger.Debug("retrying fetch",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		metrics.ObserveFetchRetry(request.URL)
		if serr := f.sleep(ctx, delay); serr != nil {
			return resp, fmt.Errorf("retry backoff: %w: %w", err, serr)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
