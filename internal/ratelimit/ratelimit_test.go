package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNilLimiterNeverBlocks(t *testing.T) {
	var l *Limiter
	require.NoError(t, l.Wait(context.Background()))
	require.Nil(t, New(0))
}

func TestLimiterBurstThenWait(t *testing.T) {
	l := New(2)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))

	start := time.Now()
	require.NoError(t, l.Wait(ctx))
	require.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestLimiterHonoursCancellation(t *testing.T) {
	l := New(0.01)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}
