package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tabwatch/tabwatch/errors"
	qtesting "github.com/tabwatch/tabwatch/internal/testing"
	"github.com/tabwatch/tabwatch/queue"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	err   error
	block chan struct{}
}

func (r *fakeRunner) Execute(ctx context.Context, tabID, chatID string) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.calls = append(r.calls, tabID)
	r.mu.Unlock()
	return r.err
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestTicker(t *testing.T, runner Runner) (*Ticker, *Store) {
	db := qtesting.CreateTestDB(t)
	store := NewStore(db)
	q := queue.New(zap.NewNop().Sugar())
	ticker := NewTicker(store, q, runner, nil, DefaultTickerConfig(), zap.NewNop().Sugar())
	t.Cleanup(ticker.cancel)
	return ticker, store
}

func TestDueAlarmFiresRunner(t *testing.T) {
	runner := &fakeRunner{}
	ticker, store := newTestTicker(t, runner)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, store.UpsertAlarm(newTestAlarm("tab-1", 5, now.Add(-time.Second))))

	require.NoError(t, ticker.checkDueAlarms(now))

	assert.Eventually(t, func() bool {
		return runner.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFiringAdvancesScheduleBeforeRun(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	ticker, store := newTestTicker(t, runner)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, store.UpsertAlarm(newTestAlarm("tab-1", 5, now.Add(-time.Second))))
	require.NoError(t, ticker.checkDueAlarms(now))

	// The runner is still blocked, but the alarm must already be
	// rescheduled so later ticks do not refire it
	alarm, err := store.GetAlarm("tab-1")
	require.NoError(t, err)
	assert.True(t, alarm.NextRunAt.After(now))

	due, err := store.ListDueContext(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, due)

	close(runner.block)
	assert.Eventually(t, func() bool {
		return runner.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFutureAlarmDoesNotFire(t *testing.T) {
	runner := &fakeRunner{}
	ticker, store := newTestTicker(t, runner)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, store.UpsertAlarm(newTestAlarm("tab-1", 5, now.Add(time.Hour))))

	require.NoError(t, ticker.checkDueAlarms(now))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, runner.callCount())
}

func TestExecutionRecordedOnSuccess(t *testing.T) {
	runner := &fakeRunner{}
	ticker, store := newTestTicker(t, runner)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, store.UpsertAlarm(newTestAlarm("tab-1", 5, now.Add(-time.Second))))
	require.NoError(t, ticker.checkDueAlarms(now))

	assert.Eventually(t, func() bool {
		execs, err := ticker.execStore.ListExecutions("tab-1", 10)
		if err != nil || len(execs) != 1 {
			return false
		}
		return execs[0].Status == ExecutionStatusCompleted && execs[0].DurationMs != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecutionRecordedOnFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("page never became ready")}
	ticker, store := newTestTicker(t, runner)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, store.UpsertAlarm(newTestAlarm("tab-1", 5, now.Add(-time.Second))))
	require.NoError(t, ticker.checkDueAlarms(now))

	assert.Eventually(t, func() bool {
		execs, err := ticker.execStore.ListExecutions("tab-1", 10)
		if err != nil || len(execs) != 1 {
			return false
		}
		return execs[0].Status == ExecutionStatusFailed &&
			execs[0].ErrorMessage != nil &&
			*execs[0].ErrorMessage == "page never became ready"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartStopIdempotentTicking(t *testing.T) {
	runner := &fakeRunner{}
	ticker, _ := newTestTicker(t, runner)

	ticker.Start()
	ticker.Stop()

	// Stop waits for the loop to exit; no further ticks recorded after
	ticker.mu.Lock()
	ticks := ticker.ticksSinceStart
	ticker.mu.Unlock()

	time.Sleep(1100 * time.Millisecond)

	ticker.mu.Lock()
	defer ticker.mu.Unlock()
	assert.Equal(t, ticks, ticker.ticksSinceStart)
}
