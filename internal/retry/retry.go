// Package retry wraps external service calls with a per-attempt timeout and
// bounded exponential backoff. Every outbound call in the pipeline goes
// through Do so failure semantics stay uniform.
package retry

import (
	"context"
	"errors"
	"time"
)

// Config bounds a retried operation.
type Config struct {
	// Attempts is the maximum number of tries, including the first.
	Attempts int

	// InitialBackoff is the delay before the second attempt; it doubles per
	// attempt up to MaxBackoff.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration

	// Timeout applies per attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
}

// DefaultConfig matches the ingestion pipeline's item retry budget.
var DefaultConfig = Config{
	Attempts:       3,
	InitialBackoff: 2 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        60 * time.Second,
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Do stops retrying and returns it immediately.
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

// Do runs op until it succeeds, the attempt budget is exhausted, the error is
// permanent, or ctx is cancelled. The returned error is the last attempt's,
// unwrapped from any permanent marker.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx := ctx
		cancel := func() {}
		if cfg.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}

		result, err := op(attemptCtx)
		cancel()

		if err == nil {
			return result, nil
		}

		var p *permanentError
		if errors.As(err, &p) {
			return zero, p.err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if err := sleep(ctx, backoff); err != nil {
			return zero, err
		}
		backoff *= 2
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return zero, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
