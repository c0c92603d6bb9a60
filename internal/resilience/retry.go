// Package resilience provides retry with exponential backoff and jitter,
// online/offline detection, and a FIFO retry queue for operations attempted
// while the upstream network is unreachable.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Policy configures retry behavior.
type Policy struct {
	MaxAttempts         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultPolicy returns the default retry policy: 3 attempts, 1s initial
// delay doubling up to 30s, with ±50% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:         3,
		InitialInterval:     time.Second,
		MaxInterval:         30 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// Category classifies an error for retry purposes.
type Category int

const (
	// CategoryTransient errors (network failures, rate limits, 5xx) are retried.
	CategoryTransient Category = iota
	// CategoryPermanent errors (invalid input, auth failures) are not.
	CategoryPermanent
)

// StatusError carries an HTTP status code from an upstream API call so the
// runner can classify it.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %v", e.Status, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Classify determines whether an error is worth retrying. Unknown errors are
// treated as transient.
func Classify(err error) Category {
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Status == 408 || se.Status == 429:
			return CategoryTransient
		case se.Status >= 500:
			return CategoryTransient
		default:
			return CategoryPermanent
		}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return CategoryTransient
	}

	return CategoryTransient
}

// Runner retries operations according to a Policy.
type Runner struct {
	policy Policy
	log    zerolog.Logger
}

// NewRunner creates a retry runner.
func NewRunner(policy Policy, log zerolog.Logger) *Runner {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Runner{policy: policy, log: log}
}

// Do runs op, retrying transient failures with exponential backoff and
// jitter until the policy's attempt budget is exhausted or ctx is done.
// Permanent failures stop retrying immediately.
func (r *Runner) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxInterval = r.policy.MaxInterval
	b.Multiplier = r.policy.Multiplier
	b.RandomizationFactor = r.policy.RandomizationFactor
	b.MaxElapsedTime = 0 // attempts bounded below, not elapsed time

	wrapped := backoff.WithContext(
		backoff.WithMaxRetries(b, uint64(r.policy.MaxAttempts-1)),
		ctx,
	)

	attempt := 0
	return backoff.RetryNotify(
		func() error {
			attempt++
			err := op(ctx)
			if err == nil {
				return nil
			}
			if Classify(err) == CategoryPermanent {
				return backoff.Permanent(err)
			}
			return err
		},
		wrapped,
		func(err error, next time.Duration) {
			r.log.Warn().
				Err(err).
				Str("operation", name).
				Int("attempt", attempt).
				Dur("next_retry_in", next).
				Msg("Operation failed, retrying")
		},
	)
}
