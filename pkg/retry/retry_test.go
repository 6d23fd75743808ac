package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0

	err := Do(context.Background(), Policy{MaxAttempts: 3, Delay: time.Second, Sleep: rec.sleep},
		func(ctx context.Context, attempt int) error {
			calls++
			return nil
		}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDo_RetriesWithFixedDelayUntilExhausted(t *testing.T) {
	rec := &sleepRecorder{}
	boom := errors.New("boom")
	var attempts []int

	err := Do(context.Background(), Policy{MaxAttempts: 3, Delay: 2 * time.Second, Sleep: rec.sleep},
		func(ctx context.Context, attempt int) error {
			attempts = append(attempts, attempt)
			return boom
		}, nil)

	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	// 只在两次尝试之间等待
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, rec.delays)

	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.Equal(t, 3, ex.Attempts)
}

func TestDo_StopsOnNonRetryableError(t *testing.T) {
	rec := &sleepRecorder{}
	permanent := errors.New("bad request")
	calls := 0

	err := Do(context.Background(), Policy{MaxAttempts: 5, Delay: time.Second, Sleep: rec.sleep},
		func(ctx context.Context, attempt int) error {
			calls++
			return permanent
		}, func(err error) bool { return false })

	assert.Same(t, permanent, err)
	assert.False(t, IsExhausted(err))
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDo_RecoversAfterTransientFailure(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0

	err := Do(context.Background(), Policy{MaxAttempts: 3, Delay: time.Second, Sleep: rec.sleep},
		func(ctx context.Context, attempt int) error {
			calls++
			if attempt < 2 {
				return errors.New("flaky")
			}
			return nil
		}, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, rec.delays, 1)
}

func TestDo_AbortsWhenContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Do(ctx, Policy{MaxAttempts: 3, Delay: time.Hour, Sleep: func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}}, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("flaky")
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsExhausted(err))
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{}, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("x")
	}, nil)

	assert.True(t, IsExhausted(err))
	assert.Equal(t, 1, calls)
}

func TestSleepCtx_RealTimer(t *testing.T) {
	start := time.Now()
	require.NoError(t, sleepCtx(context.Background(), 5*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("http %d", int(s)) }
func (s statusErr) StatusCode() int { return int(s) }

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"status 503", statusErr(503), true},
		{"status 429", statusErr(429), true},
		{"status 400", statusErr(400), false},
		{"string 5xx", errors.New("error, status code: 502, message: bad gateway"), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"unknown", errors.New("invalid api key"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsTransient(tt.err))
		})
	}
}
