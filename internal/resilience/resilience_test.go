package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{MaxFailures: 2, Timeout: time.Hour, HalfOpenMax: 1})
	failing := func(ctx context.Context) (any, error) { return nil, errors.New("boom") }

	_, _ = cb.Execute(context.Background(), failing)
	_, _ = cb.Execute(context.Background(), failing)

	assert.Equal(t, StateOpen, cb.State())

	_, err := cb.Execute(context.Background(), func(ctx context.Context) (any, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreakerStaysClosedOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(DefaultBreakerConfig())
	result, err := cb.Execute(context.Background(), func(ctx context.Context) (any, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, StateClosed, cb.State())
}

func TestStateStringValues(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}, func(error) bool { return true }, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsImmediatelyOnNonTransientError(t *testing.T) {
	attempts := 0
	sentinel := errors.New("permanent")
	err := Retry(context.Background(), DefaultRetryConfig(), func(error) bool { return false }, func() error {
		attempts++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	sentinel := errors.New("always transient")
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}, func(error) bool { return true }, func() error {
		attempts++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 2, attempts)
}
