// Package retry re-dials a chat server with exponential backoff.  Only
// failures that [chaterr.IsRetryable] accepts are retried: a refused
// password or a taken name fails the same way every time.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	chaterr "sockchat/internal/errors"
)

// PermanentError stops a Do loop regardless of the classifier.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err has been marked with [Permanent].
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Backoff is an exponential retry policy.
type Backoff struct {
	// InitialDelay is the wait before the second attempt (default 250ms).
	InitialDelay time.Duration
	// MaxDelay caps a single wait (default 5s).
	MaxDelay time.Duration
	// Multiplier grows the wait after each failure (default 2).
	Multiplier float64
	// MaxAttempts counts the first try; 0 retries until ctx ends.
	MaxAttempts int
	// Jitter spreads each wait by ±25%.
	Jitter bool

	// Retryable classifies failures; nil means chaterr.IsRetryable.
	Retryable func(error) bool
	// OnRetry, if set, is told about each failure that will be retried.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// ForDial is the policy used by the console client when connecting.
func ForDial() *Backoff {
	return &Backoff{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	}
}

// Delay returns the un-jittered wait after the given failed attempt
// (1-based).
func (b *Backoff) Delay(attempt int) time.Duration {
	initial := b.InitialDelay
	if initial <= 0 {
		initial = 250 * time.Millisecond
	}
	mult := b.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	max := b.MaxDelay
	if max <= 0 {
		max = 5 * time.Second
	}
	d := float64(initial) * math.Pow(mult, float64(attempt-1))
	if d > float64(max) {
		return max
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, fails with a non-retryable error, runs
// out of attempts, or ctx ends.  attempt is 1-based.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	retryable := b.Retryable
	if retryable == nil {
		retryable = chaterr.IsRetryable
	}

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return errors.Unwrap(err)
		}
		if !retryable(err) {
			return err
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}

		wait := b.Delay(attempt)
		if b.Jitter {
			wait = addJitter(wait)
		}
		if b.OnRetry != nil {
			b.OnRetry(attempt, wait, err)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("retry cancelled: %w", errors.Join(ctx.Err(), err))
		case <-t.C:
		}
	}
}

// addJitter adds ±25% randomisation to a duration.
func addJitter(d time.Duration) time.Duration {
	quarter := float64(d) * 0.25
	delta := (rand.Float64() * 2 * quarter) - quarter
	result := float64(d) + delta
	return time.Duration(math.Max(result, float64(time.Millisecond)))
}
