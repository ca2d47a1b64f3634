package browser

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tabwatch/tabwatch/errors"
)

func fixedState(state TabState) StateFunc {
	return func(ctx context.Context) (TabState, error) {
		return state, nil
	}
}

func testWaiter(state StateFunc, cfg ReadinessConfig) *Waiter {
	return &Waiter{
		State:  state,
		Config: cfg,
		Logger: zap.NewNop().Sugar(),
	}
}

func TestWaitReturnsImmediatelyWhenAlreadyComplete(t *testing.T) {
	w := testWaiter(fixedState(TabComplete), ReadinessConfig{
		Timeout:      5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})

	start := time.Now()
	require.NoError(t, w.Wait(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitPicksUpCompletionByPolling(t *testing.T) {
	var calls atomic.Int32
	state := func(ctx context.Context) (TabState, error) {
		if calls.Add(1) >= 3 {
			return TabComplete, nil
		}
		return TabLoading, nil
	}

	w := testWaiter(state, ReadinessConfig{
		Timeout:      5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, w.Wait(context.Background()))
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWaitPicksUpCompletionFromEvents(t *testing.T) {
	events := make(chan TabState, 1)
	w := testWaiter(fixedState(TabLoading), ReadinessConfig{
		Timeout:      5 * time.Second,
		PollInterval: time.Hour, // force the event path
	})
	w.Events = events

	done := make(chan error, 1)
	go func() { done <- w.Wait(context.Background()) }()

	events <- TabComplete
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter ignored completion event")
	}
}

func TestWaitTimesOutWithoutLoadSignal(t *testing.T) {
	// State never reports loading or complete progress toward ready;
	// simulate a wedged renderer that stays in loading with lenient off
	w := testWaiter(fixedState(TabLoading), ReadinessConfig{
		Timeout:        50 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
		LenientLoading: false,
	})

	err := w.Wait(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsReadinessTimeout(err))
}

func TestLenientLoadingForgivesSlowPage(t *testing.T) {
	w := testWaiter(fixedState(TabLoading), ReadinessConfig{
		Timeout:        50 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
		LenientLoading: true,
	})

	require.NoError(t, w.Wait(context.Background()))
}

func TestWaitReportsGoneTab(t *testing.T) {
	w := testWaiter(fixedState(TabGone), ReadinessConfig{
		Timeout:      5 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})

	err := w.Wait(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTabGone))
}

func TestWaitSettleDelayElapsesBeforeReturn(t *testing.T) {
	w := testWaiter(fixedState(TabComplete), ReadinessConfig{
		Timeout:      5 * time.Second,
		SettleDelay:  100 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})

	start := time.Now()
	require.NoError(t, w.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := testWaiter(fixedState(TabLoading), ReadinessConfig{
		Timeout:      time.Hour,
		PollInterval: 10 * time.Millisecond,
	})

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := w.Wait(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
