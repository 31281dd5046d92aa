// Package retry wraps a suspendable unit of work with exponential
// backoff, built on github.com/cenkalti/backoff/v4 rather than a
// hand-rolled sleep loop.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
)

// Do runs fn, retrying on *errors.Error values of Kind KindTransient
// (network timeout, 5xx) or KindAPIError (4xx, malformed response) up
// to maxRetries times with base*2^attempt backoff and jitter.
// RateLimited errors are awaited for exactly their advertised
// interval and do not consume a retry slot. All other errors
// propagate immediately without retrying.
func Do(ctx context.Context, fn func() error, maxRetries int, base time.Duration) error {
	attempt := 0
	for {
		err := fn()
		if err == nil {
			return nil
		}

		if retryAfter, ok := agkerrors.GetRetryAfter(err); ok {
			if waitErr := sleep(ctx, retryAfter); waitErr != nil {
				return waitErr
			}
			continue
		}

		if !isTransient(err) {
			return err
		}

		if attempt >= maxRetries {
			return err
		}

		delay := jittered(base, attempt)
		if waitErr := sleep(ctx, delay); waitErr != nil {
			return waitErr
		}
		attempt++
	}
}

func isTransient(err error) bool {
	var e *agkerrors.Error
	if errors.As(err, &e) {
		return e.Kind == agkerrors.KindTransient || e.Kind == agkerrors.KindAPIError
	}
	return false
}

func jittered(base time.Duration, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	for i := 0; i < attempt; i++ {
		b.NextBackOff()
	}
	return b.NextBackOff()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
