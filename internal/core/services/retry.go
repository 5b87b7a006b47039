package services

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/logger"
)

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }

// Permanent marks err as not worth retrying even if it is transient.
// Retry returns the wrapped error itself.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn until it succeeds, fails with an error that is not
// domain.ErrTransient, or the attempt budget is spent. Attempts are
// numbered from 1. The wait between attempts grows geometrically from
// InitialBackoff and is capped at MaxBackoff.
func Retry(ctx context.Context, policy domain.RetrySettings, fn func(attempt int) error) error {
	attempts := max(policy.MaxAttempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = fn(attempt)
		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
		if err == nil || !errors.Is(err, domain.ErrTransient) || attempt == attempts {
			return err
		}

		wait := backoff(policy, attempt)
		logger.Debug("retry: attempt %d/%d failed, waiting %s: %v", attempt, attempts, wait, err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}

// backoff returns the wait after the given failed attempt.
func backoff(policy domain.RetrySettings, attempt int) time.Duration {
	if policy.InitialBackoff <= 0 {
		return 0
	}
	mult := policy.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(policy.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if policy.MaxBackoff > 0 && d > float64(policy.MaxBackoff) {
		return policy.MaxBackoff
	}
	return time.Duration(d)
}
