package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"
)

// ErrRetryable marks a failure worth retrying: network errors, HTTP 429
// and 5xx responses.
var ErrRetryable = errors.New("retryable engine error")

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts int           // including the first attempt
	BaseDelay   time.Duration // delay before the first retry
	MaxDelay    time.Duration
}

// DefaultRetryConfig is 3 attempts with delays of about 1s and 2s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    4 * time.Second,
	}
}

// Retry runs operation until it succeeds, fails with a non-retryable
// error, or runs out of attempts.
func Retry[T any](ctx context.Context, cfg RetryConfig, operation func() (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err = operation()
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) {
			return result, err
		}

		if attempt < cfg.MaxAttempts-1 {
			delay := retryDelay(err, attempt, cfg)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return result, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return result, fmt.Errorf("engine request failed after %d attempts: %w", cfg.MaxAttempts, err)
}

// IsRetryable reports whether err should trigger a retry.
func IsRetryable(err error) bool {
	return err != nil && (errors.Is(err, ErrRetryable) || errors.Is(err, context.DeadlineExceeded))
}

// retryAfterError carries a server-requested delay.
type retryAfterError struct {
	after time.Duration
	err   error
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }

func retryDelay(err error, attempt int, cfg RetryConfig) time.Duration {
	var ra *retryAfterError
	if errors.As(err, &ra) && ra.after > 0 {
		if ra.after > cfg.MaxDelay {
			return cfg.MaxDelay
		}
		return ra.after
	}
	return backoff(attempt, cfg.BaseDelay, cfg.MaxDelay)
}

// backoff is exponential with jitter in [delay/2, delay).
func backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	delay := base * (1 << attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + rand.N(half) //nolint:gosec // jitter does not need crypto randomness
}

// parseRetryAfter parses a Retry-After header in seconds.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
