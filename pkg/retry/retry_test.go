package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Strategy:    StrategyConstant,
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), fastConfig(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	permanent := errors.New("permanent")
	cfg := fastConfig()
	cfg.IsRetryable = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Do() error = %v, want permanent", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		t.Fatal("non-retryable error must not be wrapped in ExhaustedError")
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("still failing")
	calls := 0
	err := Do(context.Background(), fastConfig(), func(context.Context) error {
		calls++
		return sentinel
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Do() error = %v, want ExhaustedError", err)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", exhausted.Attempts)
	}
	if !errors.Is(err, sentinel) {
		t.Fatal("ExhaustedError must unwrap to the last error")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.BaseDelay = time.Hour
	cfg.MaxDelay = time.Hour

	errs := make(chan error, 1)
	go func() {
		errs <- Do(ctx, cfg, func(context.Context) error {
			return errors.New("transient")
		})
	}()
	cancel()

	select {
	case err := <-errs:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Do() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do() did not return after cancellation")
	}
}

func TestDelayCappedByMaxDelay(t *testing.T) {
	t.Parallel()

	cfg := Config{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  250 * time.Millisecond,
		Strategy:  StrategyExponential,
	}
	for attempt := 1; attempt <= 6; attempt++ {
		if d := cfg.delay(attempt); d > cfg.MaxDelay {
			t.Fatalf("delay(%d) = %s exceeds cap %s", attempt, d, cfg.MaxDelay)
		}
	}
}
