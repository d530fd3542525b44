package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func TestCircuitBreaker(t *testing.T) {
	newBreaker := func() (*CircuitBreaker, *time.Time) {
		now := time.Unix(1_700_000_000, 0)
		cb := NewCircuitBreaker(&BreakerConfig{
			Name:             "test",
			FailureThreshold: 2,
			RecoveryTimeout:  time.Minute,
			SuccessThreshold: 2,
		}, zerolog.Nop())
		cb.now = func() time.Time { return now }
		return cb, &now
	}
	fail := func() error { return errBackend }
	ok := func() error { return nil }

	t.Run("opens after consecutive failures", func(t *testing.T) {
		cb, _ := newBreaker()
		assert.ErrorIs(t, cb.Execute(fail), errBackend)
		assert.Equal(t, StateClosed, cb.State())
		assert.ErrorIs(t, cb.Execute(fail), errBackend)
		assert.Equal(t, StateOpen, cb.State())

		called := false
		err := cb.Execute(func() error { called = true; return nil })
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.False(t, called)
		assert.Equal(t, int64(1), cb.Stats().Rejected)
	})

	t.Run("success resets the failure count", func(t *testing.T) {
		cb, _ := newBreaker()
		_ = cb.Execute(fail)
		require.NoError(t, cb.Execute(ok))
		_ = cb.Execute(fail)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("half-open recovery", func(t *testing.T) {
		cb, now := newBreaker()
		_ = cb.Execute(fail)
		_ = cb.Execute(fail)

		*now = now.Add(2 * time.Minute)
		require.NoError(t, cb.Execute(ok))
		assert.Equal(t, StateHalfOpen, cb.State())
		require.NoError(t, cb.Execute(ok))
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("half-open failure reopens", func(t *testing.T) {
		cb, now := newBreaker()
		_ = cb.Execute(fail)
		_ = cb.Execute(fail)

		*now = now.Add(2 * time.Minute)
		_ = cb.Execute(fail)
		assert.Equal(t, StateOpen, cb.State())
	})
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}, func(context.Context) error {
			calls++
			if calls < 3 {
				return errBackend
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, RetryPolicy{MaxAttempts: 2}, func(context.Context) error {
			calls++
			return errBackend
		})
		assert.ErrorIs(t, err, errBackend)
		assert.Equal(t, 2, calls)
	})

	t.Run("non retryable errors stop immediately", func(t *testing.T) {
		calls := 0
		permanent := errors.New("bad input")
		err := Retry(ctx, RetryPolicy{
			MaxAttempts: 5,
			Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
		}, func(context.Context) error {
			calls++
			return permanent
		})
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("open circuit is not retried", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, RetryPolicy{MaxAttempts: 5}, func(context.Context) error {
			calls++
			return ErrCircuitOpen
		})
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context stops the backoff", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		calls := 0
		err := Retry(cancelled, RetryPolicy{MaxAttempts: 5, Backoff: time.Hour}, func(context.Context) error {
			calls++
			cancel()
			return errBackend
		})
		assert.ErrorIs(t, err, errBackend)
		assert.Equal(t, 1, calls)
	})
}
