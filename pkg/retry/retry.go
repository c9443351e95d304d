// Package retry wraps flaky calls with bounded, jittered backoff.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Strategy selects how the delay grows between attempts.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyConstant    Strategy = "constant"
)

// Config bounds a retry loop. IsRetryable decides per error whether another
// attempt can help; nil means every error is retryable.
type Config struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Strategy     Strategy
	JitterFactor float64
	IsRetryable  func(error) bool
}

// DefaultConfig suits short HTTP calls to the job service.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Strategy:     StrategyExponential,
		JitterFactor: 0.2,
	}
}

// ExhaustedError reports that every attempt failed.
type ExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts (%s): %v", e.Attempts, e.Elapsed.Round(time.Millisecond), e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// Do runs fn until it succeeds, the error is classified non-retryable, the
// context ends, or attempts run out. Non-retryable errors are returned as-is;
// exhaustion wraps the last error in ExhaustedError.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if cfg.IsRetryable != nil && !cfg.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.delay(attempt)):
		}
	}

	return &ExhaustedError{
		Attempts: attempts,
		Elapsed:  time.Since(start),
		LastErr:  lastErr,
	}
}

// delay computes the wait before attempt+1, capped at MaxDelay and spread by
// up to JitterFactor in either direction.
func (c Config) delay(attempt int) time.Duration {
	base := c.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}

	var d time.Duration
	switch c.Strategy {
	case StrategyLinear:
		d = base * time.Duration(attempt)
	case StrategyConstant:
		d = base
	default:
		d = base
		for i := 1; i < attempt; i++ {
			d *= 2
			if c.MaxDelay > 0 && d >= c.MaxDelay {
				break
			}
		}
	}

	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	if c.JitterFactor > 0 {
		spread := float64(d) * c.JitterFactor
		d += time.Duration((rand.Float64()*2 - 1) * spread)
		if d < 0 {
			d = 0
		}
	}
	return d
}
