package storage

import (
	"context"
	"time"
)

const (
	DefaultRetryMax  = 5
	DefaultRetryBase = 100 * time.Millisecond
)

// RetryPolicy is the bounded busy-retry applied to every store operation.
//
// Attempt n (1-based) that fails with a lock error is followed by a wait of
// n × BaseDelay before attempt n+1. After MaxAttempts failed attempts the
// operation returns a *BusyError (ErrStorageUnavailable).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Sleep waits d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called before each wait (attempt is the failed attempt).
	OnRetry func(attempt int, delay time.Duration, err error)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryMax
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryBase
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}

// Delay returns the wait after the given failed attempt (linear, not exponential).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * p.withDefaults().BaseDelay
}

// Do runs fn until it succeeds, fails with a non-lock error, or the attempt
// budget is spent.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !isBusy(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		d := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, d, err)
		}
		if serr := p.Sleep(ctx, d); serr != nil {
			return unavailable(op, serr)
		}
	}
	return &BusyError{Op: op, Attempts: p.MaxAttempts, Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
