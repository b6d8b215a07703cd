// Package retry implements capped exponential-backoff retry for transient
// failures in broker and runtime calls.
//
//	err := retry.Do(ctx, retry.Config{MaxAttempts: 5, InitialDelay: 200*time.Millisecond}, func() error {
//	    return client.Ping(ctx).Err()
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config controls backoff behaviour.
type Config struct {
	// MaxAttempts is the total number of attempts including the first.
	// Values <= 0 are treated as 1 (no retries).
	MaxAttempts int
	// InitialDelay is the wait before the second attempt; later delays
	// double, capped at MaxDelay.
	InitialDelay time.Duration
	// MaxDelay caps the per-attempt wait.
	MaxDelay time.Duration
	// ShouldRetry classifies an error as retryable. Nil means always retry.
	ShouldRetry func(err error) bool
}

// Default caps backoff at a few seconds, matching the bound spec.md §4.4
// places on broker reconnection.
var Default = Config{
	MaxAttempts:  5,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     5 * time.Second,
}

// Do calls fn until it succeeds, cfg.MaxAttempts is exhausted, or ctx is
// cancelled, backing off exponentially between attempts. It returns the
// error from the final attempt (joined with ctx.Err() if that is what ended
// the loop).
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = Default.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = Default.MaxDelay
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(error) bool { return true }
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}

		if attempt < cfg.MaxAttempts {
			slog.Debug("retry: attempt failed", "attempt", attempt, "max", cfg.MaxAttempts, "delay", delay, "err", lastErr)
			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}

	return lastErr
}
