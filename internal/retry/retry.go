// Package retry provides a small retry policy for external collaborator
// calls.
package retry

import (
	"context"
	"time"
)

// Policy describes how a call is retried. The zero value runs the call
// exactly once.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Delay is the fixed wait between attempts.
	Delay time.Duration

	// Retryable decides whether an error is worth another attempt. Nil
	// means every error is retryable.
	Retryable func(error) bool
}

// Do runs fn until it succeeds, the attempts run out, a non-retryable
// error occurs, or ctx is done. It returns the last error observed.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
