package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("connection reset")

func fast(opts ...Option) []Option {
	return append([]Option{WithInitialDelay(time.Millisecond), WithMaxDelay(2 * time.Millisecond), WithJitter(0)}, opts...)
}

func TestDo_RetriesRetryableUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errFlaky)
		}
		return nil
	}, fast(WithMaxAttempts(5))...)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errFlaky)
	}, fast(WithMaxAttempts(5))...)

	assert.ErrorIs(t, err, errFlaky)
	assert.False(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestDo_UnclassifiedErrorIsNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	}, fast()...)

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var retries []int
	err := Do(context.Background(), func(context.Context) error {
		return Retryable(errFlaky)
	}, fast(WithMaxAttempts(3), WithOnRetry(func(attempt int, _ error, _ time.Duration) {
		retries = append(retries, attempt)
	}))...)

	assert.ErrorIs(t, err, errFlaky)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, []int{1, 2}, retries)
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, func(context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestStoreRetrier_UsesClassifier(t *testing.T) {
	r := StoreRetrier(4, time.Millisecond, time.Millisecond, func(err error) bool {
		return errors.Is(err, errFlaky)
	}, nil)

	calls := 0
	got, err := DoValue(context.Background(), r, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errFlaky
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 4, r.Attempts())
}

func TestCalculateDelay_Capped(t *testing.T) {
	r := New(WithInitialDelay(10*time.Millisecond), WithMaxDelay(25*time.Millisecond), WithJitter(0))

	assert.Equal(t, 10*time.Millisecond, r.calculateDelay(1))
	assert.Equal(t, 20*time.Millisecond, r.calculateDelay(2))
	assert.Equal(t, 25*time.Millisecond, r.calculateDelay(3))
}
