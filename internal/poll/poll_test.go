package poll_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/botcore/regtest/internal/poll"
)

func TestRetrySucceedsAfterTransient(t *testing.T) {
	calls := 0
	err := poll.Retry(context.Background(), poll.Policy{Interval: time.Millisecond, MaxAttempts: 5},
		func(context.Context) error {
			calls++
			if calls < 3 {
				return poll.Transientf("height %d", calls)
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryFatalStopsImmediately(t *testing.T) {
	fatal := errors.New("boom")
	calls := 0
	err := poll.Retry(context.Background(), poll.Policy{Interval: time.Millisecond, MaxAttempts: 5},
		func(context.Context) error {
			calls++
			return fatal
		})
	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestRetryTimeout(t *testing.T) {
	reason := errors.New("only 4 blocks")
	err := poll.Retry(context.Background(), poll.Policy{Interval: time.Millisecond, MaxAttempts: 3},
		func(context.Context) error { return poll.Transient(reason) })

	var te *poll.TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 3, te.Attempts)
	assert.Equal(t, reason, te.Last)
	assert.True(t, errors.Is(err, reason))
	assert.Contains(t, err.Error(), "only 4 blocks")
}

func TestRetryCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := poll.Retry(ctx, poll.Policy{Interval: time.Hour, MaxAttempts: 10},
		func(context.Context) error {
			calls++
			cancel()
			return poll.Transientf("not yet")
		})
	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, 1, calls)
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, poll.Policy{Interval: 0, MaxAttempts: 1}.Validate())
	assert.Error(t, poll.Policy{Interval: time.Second, MaxAttempts: 0}.Validate())
	assert.Error(t, poll.Policy{Interval: -time.Second, MaxAttempts: 1}.Validate())

	err := poll.Retry(context.Background(), poll.Policy{}, func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestTransientNil(t *testing.T) {
	assert.Nil(t, poll.Transient(nil))
	assert.False(t, poll.IsTransient(errors.New("x")))
	assert.True(t, poll.IsTransient(poll.Transientf("x")))
}

// The probe is called exactly min(successAt, maxAttempts) times.
func TestRetryAttemptBudget(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxAttempts := rapid.IntRange(1, 20).Draw(t, "maxAttempts").(int)
		successAt := rapid.IntRange(1, 30).Draw(t, "successAt").(int)

		calls := 0
		err := poll.Retry(context.Background(), poll.Policy{MaxAttempts: maxAttempts},
			func(context.Context) error {
				calls++
				if calls == successAt {
					return nil
				}
				return poll.Transientf("attempt %d", calls)
			})

		if successAt <= maxAttempts {
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if calls != successAt {
				t.Fatalf("calls = %d, want %d", calls, successAt)
			}
			return
		}
		var te *poll.TimeoutError
		if !errors.As(err, &te) {
			t.Fatalf("want TimeoutError, got %v", err)
		}
		if calls != maxAttempts || te.Attempts != maxAttempts {
			t.Fatalf("calls = %d attempts = %d, want %d", calls, te.Attempts, maxAttempts)
		}
	})
}
