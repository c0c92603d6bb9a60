package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fastPolicy retries quickly so tests do not sleep for real backoff windows.
func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:         attempts,
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		Multiplier:          2.0,
		RandomizationFactor: 0,
	}
}

type fakeNetError struct{}

func (fakeNetError) Error() string   { return "connection refused" }
func (fakeNetError) Timeout() bool   { return true }
func (fakeNetError) Temporary() bool { return true }

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", p.MaxAttempts)
	}
	if p.InitialInterval != time.Second {
		t.Errorf("InitialInterval = %v, want 1s", p.InitialInterval)
	}
	if p.MaxInterval != 30*time.Second {
		t.Errorf("MaxInterval = %v, want 30s", p.MaxInterval)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"request timeout", &StatusError{Status: 408}, CategoryTransient},
		{"rate limited", &StatusError{Status: 429}, CategoryTransient},
		{"server error", &StatusError{Status: 500}, CategoryTransient},
		{"bad gateway", &StatusError{Status: 502}, CategoryTransient},
		{"bad request", &StatusError{Status: 400}, CategoryPermanent},
		{"unauthorized", &StatusError{Status: 401}, CategoryPermanent},
		{"not found", &StatusError{Status: 404}, CategoryPermanent},
		{"wrapped status error", fmt.Errorf("call failed: %w", &StatusError{Status: 403}), CategoryPermanent},
		{"net error", fakeNetError{}, CategoryTransient},
		{"unknown error", errors.New("boom"), CategoryTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRunnerRetriesTransientThenSucceeds(t *testing.T) {
	runner := NewRunner(fastPolicy(3), zerolog.Nop())

	calls := 0
	err := runner.Do(context.Background(), "flaky", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{Status: 503, Err: errors.New("overloaded")}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
}

func TestRunnerExhaustsAttempts(t *testing.T) {
	runner := NewRunner(fastPolicy(3), zerolog.Nop())

	calls := 0
	err := runner.Do(context.Background(), "always-down", func(ctx context.Context) error {
		calls++
		return &StatusError{Status: 500}
	})

	if err == nil {
		t.Fatal("Do returned nil, want error")
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
}

func TestRunnerStopsOnPermanentError(t *testing.T) {
	runner := NewRunner(fastPolicy(5), zerolog.Nop())

	calls := 0
	err := runner.Do(context.Background(), "bad-request", func(ctx context.Context) error {
		calls++
		return &StatusError{Status: 400, Err: errors.New("invalid payload")}
	})

	if err == nil {
		t.Fatal("Do returned nil, want error")
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1 (no retry on permanent errors)", calls)
	}

	var se *StatusError
	if !errors.As(err, &se) || se.Status != 400 {
		t.Errorf("err = %v, want wrapped StatusError 400", err)
	}
}

func TestRunnerHonorsContextCancellation(t *testing.T) {
	runner := NewRunner(Policy{
		MaxAttempts:     10,
		InitialInterval: time.Hour, // never actually waited out
		MaxInterval:     time.Hour,
		Multiplier:      2.0,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- runner.Do(ctx, "cancelled", func(ctx context.Context) error {
			calls++
			return &StatusError{Status: 500}
		})
	}()

	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Do returned nil after cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after context cancellation")
	}

	if calls > 1 {
		t.Errorf("op called %d times, want at most 1", calls)
	}
}
