package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDeterministic(t *testing.T) {
	params := Params{Component: "hot-kv", Operation: "set", Key: "execution:t1:e1", AttemptIndex: 2}
	policy := DefaultPolicy()

	d1 := Backoff(params, policy)
	d2 := Backoff(params, policy)
	assert.Equal(t, d1, d2, "same params must yield the same delay")
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	policy := Policy{BaseMs: 50, MaxMs: 400, MaxJitterMs: 0, MaxAttempts: 6}
	params := Params{Component: "docstore", Operation: "put", Key: "k"}

	params.AttemptIndex = 0
	assert.Equal(t, time.Duration(0), Backoff(params, policy))

	params.AttemptIndex = 1
	assert.Equal(t, 100*time.Millisecond, Backoff(params, policy))

	params.AttemptIndex = 2
	assert.Equal(t, 200*time.Millisecond, Backoff(params, policy))

	params.AttemptIndex = 5
	assert.Equal(t, 400*time.Millisecond, Backoff(params, policy), "capped at MaxMs")
}

func TestJitterBounded(t *testing.T) {
	policy := Policy{BaseMs: 10, MaxMs: 100, MaxJitterMs: 25, MaxAttempts: 3}
	for i := 1; i < 20; i++ {
		params := Params{Component: "c", Operation: "o", Key: "k", AttemptIndex: i}
		j := jitter(params, policy)
		require.GreaterOrEqual(t, j, int64(0))
		require.Less(t, j, int64(25))
	}
}

func TestDoStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Params{Component: "c"}, Policy{BaseMs: 1, MaxMs: 2, MaxAttempts: 5}, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAndReturnsLastError(t *testing.T) {
	sentinel := errors.New("still down")
	calls := 0
	err := Do(context.Background(), Params{Component: "c"}, Policy{BaseMs: 1, MaxMs: 2, MaxAttempts: 3}, func() error {
		calls++
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, Params{Component: "c"}, Policy{BaseMs: 50, MaxMs: 100, MaxAttempts: 5}, func() error {
		calls++
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "no retries after cancellation")
}
