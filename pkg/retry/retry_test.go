package retry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendsdk/lendsdk/pkg/retry/backoff"
)

type testSleeper struct {
	slept []time.Duration
}

func (s *testSleeper) Sleep(ctx context.Context, d time.Duration) bool {
	s.slept = append(s.slept, d)
	return ctx.Err() == nil
}

func useTestSleeper(t *testing.T) *testSleeper {
	ts := &testSleeper{}
	sleeperImpl = ts
	t.Cleanup(func() { sleeperImpl = timerSleeper{} })
	return ts
}

func failing(err error) Action {
	return func(context.Context) error { return err }
}

func TestRetry_Limit(t *testing.T) {
	attempts, err := Retry(context.Background(), failing(errors.New("test")), Limit(3))
	assert.EqualError(t, err, "test")
	assert.EqualValues(t, 3, attempts)

	attempts, err = Retry(context.Background(), failing(nil), Limit(3))
	require.NoError(t, err)
	assert.EqualValues(t, 1, attempts)
}

func TestRetrier_ErrorFilters(t *testing.T) {
	retriable := errors.New("retriable")
	fatal := errors.New("fatal")

	r := NewRetrier(Limit(4), RetriableErrors(retriable))

	attempts, err := r.Retry(context.Background(), failing(errors.Wrap(retriable, "wrapped")))
	assert.True(t, errors.Is(err, retriable))
	assert.EqualValues(t, 4, attempts)

	attempts, err = r.Retry(context.Background(), failing(errors.New("unknown")))
	assert.Error(t, err)
	assert.EqualValues(t, 1, attempts)

	r = NewRetrier(Limit(4), NonRetriableErrors(fatal))

	attempts, err = r.Retry(context.Background(), failing(fatal))
	assert.Equal(t, fatal, err)
	assert.EqualValues(t, 1, attempts)

	attempts, _ = r.Retry(context.Background(), failing(errors.New("unknown")))
	assert.EqualValues(t, 4, attempts)
}

func TestRetry_Backoff(t *testing.T) {
	ts := useTestSleeper(t)

	var calls int
	attempts, err := Retry(
		context.Background(),
		func(context.Context) error {
			calls++
			if calls < 4 {
				return errors.New("not yet")
			}
			return nil
		},
		Limit(10),
		Backoff(backoff.BinaryExponential(time.Millisecond).Cap(3*time.Millisecond)),
	)
	require.NoError(t, err)
	assert.EqualValues(t, 4, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}, ts.slept)
}

func TestRetry_Context(t *testing.T) {
	ts := useTestSleeper(t)

	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	attempts, err := Retry(
		ctx,
		func(context.Context) error {
			calls++
			if calls == 2 {
				cancel()
			}
			return errors.New("failed")
		},
		Backoff(backoff.Constant(time.Millisecond)),
	)
	assert.EqualError(t, err, "failed")
	assert.EqualValues(t, 2, attempts)
	assert.Len(t, ts.slept, 2)

	attempts, err = Retry(ctx, failing(nil))
	assert.Equal(t, context.Canceled, err)
	assert.Zero(t, attempts)
}

func TestTimerSleeper(t *testing.T) {
	start := time.Now()
	assert.True(t, timerSleeper{}.Sleep(context.Background(), 20*time.Millisecond))
	assert.True(t, time.Since(start) >= 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start = time.Now()
	assert.False(t, timerSleeper{}.Sleep(ctx, time.Minute))
	assert.True(t, time.Since(start) < time.Second)
}
