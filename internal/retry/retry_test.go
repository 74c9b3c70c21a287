package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Factor:       2.0,
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, result.Err)
	assert.Equal(t, 3, result.Attempts)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	cause := errors.New("unauthorized")
	result := Do(context.Background(), fastConfig(), func() error {
		calls++
		return Permanent(cause)
	})
	require.Error(t, result.Err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsPermanent(result.Err))
	assert.ErrorIs(t, result.Err, cause)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(), func() error {
		calls++
		return errors.New("still failing")
	})
	require.Error(t, result.Err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, result.Attempts)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := Do(ctx, fastConfig(), func() error {
		return errors.New("never runs")
	})
	assert.ErrorIs(t, result.Err, context.Canceled)
}

func TestDoHonorsAfterHint(t *testing.T) {
	start := time.Now()
	calls := 0
	Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls == 1 {
			return After(errors.New("rate limited"), 30*time.Millisecond)
		}
		return nil
	})
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, 2, calls)
}
