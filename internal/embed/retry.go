package embed

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/robomonkey/robomonkey/internal/rmerr"
)

const maxEmbedAttempts = 5

// withRetry runs fn under exponential backoff, retrying only transient
// failures. Permanent errors and context cancellation surface
// immediately.
func withRetry(ctx context.Context, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0 // bounded by attempt count, not wall time

	attempts := 0
	op := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if !rmerr.IsRetryable(err) || attempts >= maxEmbedAttempts {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}
