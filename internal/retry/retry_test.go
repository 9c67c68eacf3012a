package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func fastConfig(attempts int) Config {
	return Config{
		Attempts:       attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastConfig(3), func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastConfig(3), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errFlaky
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttemptBudget(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(4), func(context.Context) (int, error) {
		calls++
		return 0, errFlaky
	})

	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 4, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(5), func(context.Context) (int, error) {
		calls++
		return 0, Permanent(errFlaky)
	})

	require.ErrorIs(t, err, errFlaky)
	assert.False(t, IsPermanent(err), "permanent marker should be unwrapped")
	assert.Equal(t, 1, calls)
}

func TestDoHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := Do(ctx, Config{Attempts: 10, InitialBackoff: time.Hour}, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errFlaky
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoAppliesPerAttemptTimeout(t *testing.T) {
	cfg := Config{Attempts: 1, Timeout: 5 * time.Millisecond}

	_, err := Do(context.Background(), cfg, func(ctx context.Context) (int, error) {
		select {
		case <-ctx.Done():
			return 0, Permanent(ctx.Err())
		case <-time.After(time.Second):
			return 1, nil
		}
	})

	require.ErrorIs(t, err, context.DeadlineExceeded)
}
