package core

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig bounds the generic retry helper's exponential backoff.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig mirrors common resilience retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Retry runs op, retrying only on AUTHENTICATION, INTEGRATION and
// RATE_LIMIT taxonomy categories, or on a non-taxonomy error that wraps
// ErrConnectionFailed or ErrTimeout (see IsRetryable); everything else
// fails fast without retrying. Backoff is exponential with jitter via
// backoff/v5's ExponentialBackOff. For RATE_LIMIT failures that carry
// details.retry_after_seconds, Retry first waits that long and the
// exponential interval is then still applied on top; the stated wait does
// not replace it.
func Retry[T any](ctx context.Context, cfg RetryConfig, op func(ctx context.Context) (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval

	wrapped := func() (T, error) {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) {
			return result, backoff.Permanent(err)
		}
		// RATE_LIMIT carries its own server-stated wait; sleep for it here.
		// The library then waits its next exponential interval as well
		// before the following attempt.
		if wait, ok := rateLimitRetryAfter(err); ok {
			select {
			case <-ctx.Done():
				return result, backoff.Permanent(ctx.Err())
			case <-time.After(wait):
			}
		}
		return result, err
	}

	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(cfg.MaxRetries)+1),
	)
}

func rateLimitRetryAfter(err error) (time.Duration, bool) {
	var te *TaxonomyError
	if !errors.As(err, &te) || te.Category != CategoryRateLimit {
		return 0, false
	}
	raw, ok := te.Details["retry_after_seconds"]
	if !ok {
		return 0, false
	}
	seconds, ok := raw.(int)
	if !ok {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}
