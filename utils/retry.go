package utils

import (
	"context"
	"time"
)

// RetryPolicy retries a unit of work with exponential backoff.
// Each attempt runs under its own Timeout; only transient failures
// (TransientError) are retried, everything else surfaces immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
}

// DefaultSheetRetry matches the spreadsheet API discipline: 3 attempts,
// 500ms base delay, 15s per-call timeout.
var DefaultSheetRetry = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	Timeout:     15 * time.Second,
}

func (p RetryPolicy) Do(ctx context.Context, work func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			sleep := p.BaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return NewTransientError(ctx.Err())
			case <-time.After(sleep):
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		err := work(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}
