// Package poll waits for an external system to reach an expected state by
// repeatedly running a probe under a bounded retry policy.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Probe inspects the external system once. It returns nil when the expected
// state has been reached, a Transient error when it should be asked again,
// and any other error to stop polling immediately.
type Probe func(ctx context.Context) error

// Policy bounds a polling loop.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.Interval < 0 {
		return fmt.Errorf("interval can't be negative, got %v", p.Interval)
	}
	return nil
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as a not-yet outcome that should be retried.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transientf is Transient(fmt.Errorf(format, args...)).
func Transientf(format string, args ...interface{}) error {
	return Transient(fmt.Errorf(format, args...))
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// TimeoutError is returned when the attempt budget is exhausted. Last holds
// the reason given by the final transient outcome.
type TimeoutError struct {
	Attempts int
	Elapsed  time.Duration
	Last     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("gave up after %d attempts (%v): %v", e.Attempts, e.Elapsed.Round(time.Millisecond), e.Last)
}

func (e *TimeoutError) Unwrap() error { return e.Last }

// Retry runs probe until it succeeds, fails fatally, or the policy's attempt
// budget is exhausted. It sleeps Interval between attempts, never before the
// first one. Canceling ctx aborts the wait and returns the context's error.
func Retry(ctx context.Context, policy Policy, probe Probe) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	var (
		start = time.Now()
		last  error
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		err := probe(ctx)
		switch {
		case err == nil:
			return nil
		case !IsTransient(err):
			return err
		}

		last = errors.Unwrap(err)
		if attempt >= policy.MaxAttempts {
			return &TimeoutError{
				Attempts: attempt,
				Elapsed:  time.Since(start),
				Last:     last,
			}
		}
		timer.Reset(policy.Interval)
	}
}
