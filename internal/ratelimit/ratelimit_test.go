package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/amalresearch/evalpipeline/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_FirstCallDoesNotBlock(t *testing.T) {
	l := ratelimit.New()
	delay, err := l.Wait(context.Background(), "propublica", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Less(t, delay, 10*time.Millisecond)
}

func TestLimiter_EnforcesMinimumInterval(t *testing.T) {
	l := ratelimit.New()
	ctx := context.Background()
	minInterval := 40 * time.Millisecond

	_, err := l.Wait(ctx, "candid", minInterval)
	require.NoError(t, err)

	start := time.Now()
	_, err = l.Wait(ctx, "candid", minInterval)
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, minInterval-5*time.Millisecond)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := ratelimit.New()
	ctx := context.Background()

	_, err := l.Wait(ctx, "host-a", 100*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	_, err = l.Wait(ctx, "host-b", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestLimiter_RespectsContextCancellation(t *testing.T) {
	l := ratelimit.New()
	ctx := context.Background()
	_, err := l.Wait(ctx, "slow", time.Second)
	require.NoError(t, err)

	cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = l.Wait(cancelCtx, "slow", time.Second)
	assert.Error(t, err)
}
