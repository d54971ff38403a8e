package circuitbreaker

import (
	"context"
	"time"

	"github.com/pagesage/pagesage/internal/apperrors"
)

// RetryConfig controls the retry wrapper.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether an error is worth another attempt. Nil
	// retries nothing, which keeps accidental retries out of business
	// logic.
	Retryable func(error) bool
}

// DefaultRetryConfig returns 3 attempts with delays 1s, 2s, 4s clamped to
// 60s.
func DefaultRetryConfig(retryable func(error) bool) RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Retryable:   retryable,
	}
}

// RetryableCodes builds a Retryable predicate from an error-code set.
func RetryableCodes(codes ...apperrors.Code) func(error) bool {
	return func(err error) bool {
		code := apperrors.CodeOf(err)
		for _, c := range codes {
			if code == c {
				return true
			}
		}
		return false
	}
}

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff.
// Context cancellation aborts between attempts.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}

	var err error
	delay := cfg.BaseDelay
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt >= cfg.MaxAttempts || cfg.Retryable == nil || !cfg.Retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

// WithTimeout runs fn under a hard wall-clock deadline. A timeout counts as
// a failure for any breaker wrapping the call.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(tctx) }()

	select {
	case err := <-done:
		return err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.Wrap(apperrors.CodeTimeout, "call exceeded deadline", tctx.Err())
	}
}
