package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concord/pkg/errors"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func() error {
		calls++
		if calls < 3 {
			return assert.AnError
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExhaustsAttemptBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func() error {
		calls++
		return assert.AnError
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestTerminalErrorSkipsRemainingAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func() error {
		calls++
		return errors.ErrRoleViolation
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsRoleViolation(err))
}

func TestNotifyFiresBeforeEachBackoff(t *testing.T) {
	var attempts []int
	calls := 0
	err := DoNotify(context.Background(), fastPolicy(3), func() error {
		calls++
		return assert.AnError
	}, func(attempt int, err error, nextDelay time.Duration) {
		attempts = append(attempts, attempt)
		assert.Positive(t, nextDelay)
	})

	require.Error(t, err)
	// The final attempt has no backoff after it, so no notification.
	assert.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, 3, calls)
}

func TestCanceledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastPolicy(10), func() error {
		calls++
		cancel()
		return assert.AnError
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestZeroPolicyGetsDefaults(t *testing.T) {
	p := Policy{}.withDefaults()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialInterval)
}
