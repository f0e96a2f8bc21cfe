package services

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/custodia-labs/corpus-sync/internal/core/domain"
	"github.com/custodia-labs/corpus-sync/internal/logger"
)

// RetryPolicy bounds how recoverable sync failures are retried.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64

	// BaseBackoff is the initial exponential backoff interval, used
	// when the provider gave no RetryAfter hint.
	BaseBackoff time.Duration
}

// DefaultRetryPolicy is the policy applied when none is configured.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:  3,
	BaseBackoff: 500 * time.Millisecond,
}

// Retry runs fn, retrying recoverable failures per the policy.
// Whether a failure is recoverable is purely a function of its error
// category; a rate-limit RetryAfter hint is honoured before the next
// attempt. Non-retryable errors return immediately.
func (p RetryPolicy) Retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(p.MaxRetries, retry.NewExponential(p.BaseBackoff))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !domain.IsRetryable(err) {
			return err
		}

		if hint := domain.RetryAfterHint(err); hint > 0 {
			logger.Debug("%s rate limited, waiting %s before retry", op, hint)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(hint):
			}
		} else {
			logger.Debug("%s failed, will retry: %v", op, err)
		}
		return retry.RetryableError(err)
	})
}
