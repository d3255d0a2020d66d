package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	retries := 0
	p := fastPolicy(5)
	p.OnRetry = func(int, time.Duration, error) { retries++ }

	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 2, retries)
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		return errors.New("still down")
	})

	require.EqualError(t, err, "still down")
	require.Equal(t, 3, calls)
}

func TestDoStopsOnFatal(t *testing.T) {
	fatal := errors.New("bad request")
	p := fastPolicy(5)
	p.Classify = func(err error) Class {
		if errors.Is(err, fatal) {
			return Fatal
		}
		return Retryable
	}

	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return fatal
	})

	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, calls)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastPolicy(3), func(context.Context) error {
		calls++
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls)
}
