package connection

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultAttempts is the number of dial attempts Retry makes when asked
// for zero.
const DefaultAttempts = 3

// ErrAttemptsExhausted indicates every attempt failed.
var ErrAttemptsExhausted = errors.New("connection attempts exhausted")

// AttemptFunc performs one attempt.
type AttemptFunc func(ctx context.Context) error

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Retry returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryConfig configures Retry.
type RetryConfig struct {
	// Attempts is the maximum number of attempts (default 3).
	Attempts int

	// Backoff produces the delays between attempts (default NewBackoff()).
	Backoff *Backoff

	// OnRetry is called before waiting for the next attempt (optional).
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Retry calls fn until it succeeds, returns a permanent error, ctx is done
// or the attempts are used up. The backoff is reset after a success.
//
// The returned error wraps both ErrAttemptsExhausted and the last attempt's
// error when all attempts fail.
func Retry(ctx context.Context, cfg RetryConfig, fn AttemptFunc) error {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	b := cfg.Backoff
	if b == nil {
		b = NewBackoff()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %w)", err, lastErr)
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			b.Reset()
			return nil
		}
		var p *permanentError
		if errors.As(lastErr, &p) {
			return p.err
		}
		if attempt == attempts {
			break
		}

		delay := b.Next()
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, lastErr)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %w)", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, attempts, lastErr)
}
