package storage

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig configures how Open waits for a store that is still starting.
type RetryConfig struct {
	// MaxAttempts is the number of pings, including the first. Default: 1.
	MaxAttempts int

	// InitialDelay is the wait after the first failed ping. Default: 200ms.
	InitialDelay time.Duration

	// MaxDelay caps the doubling delay. Default: 5s.
	MaxDelay time.Duration
}

// RetryResult records every attempt so callers can report them.
type RetryResult struct {
	Attempts  int
	Errors    []error
	LastError error
	Success   bool
}

func (r RetryResult) String() string {
	if r.Success {
		if r.Attempts == 1 {
			return "succeeded on first attempt"
		}
		return fmt.Sprintf("succeeded after %d attempts", r.Attempts)
	}
	return fmt.Sprintf("failed after %d attempts: %v", r.Attempts, r.LastError)
}

// withRetry calls fn until it succeeds, attempts run out or ctx ends.
// The delay doubles after each failure up to MaxDelay.
func withRetry(ctx context.Context, cfg RetryConfig, fn func() error) RetryResult {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}

	result := RetryResult{Errors: make([]error, 0, cfg.MaxAttempts)}
	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt
		if err := ctx.Err(); err != nil {
			result.LastError = err
			result.Errors = append(result.Errors, err)
			return result
		}

		err := fn()
		if err == nil {
			result.Success = true
			return result
		}
		result.LastError = err
		result.Errors = append(result.Errors, err)

		if attempt == cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.Errors = append(result.Errors, ctx.Err())
			return result
		case <-time.After(delay):
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return result
}
