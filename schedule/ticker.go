package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabwatch/tabwatch/errors"
	"github.com/tabwatch/tabwatch/internal/util"
	"github.com/tabwatch/tabwatch/queue"
)

// Runner executes one full watch cycle for a tab: readiness, page actions,
// capture, and delivery. Implemented by the watch orchestrator.
type Runner interface {
	Execute(ctx context.Context, tabID, chatID string) error
}

// ExecutionBroadcaster defines the interface for broadcasting execution
// events. This avoids a circular dependency between schedule and server.
type ExecutionBroadcaster interface {
	BroadcastWatchStarted(tabID, executionID string)
	BroadcastWatchCompleted(tabID, executionID string, durationMs int)
	BroadcastWatchFailed(tabID, executionID, errorMsg string, errorDetails []string, durationMs int)
}

// Ticker fires due watch alarms. It checks the alarm store at a fixed
// interval and pushes each due watch onto the tab's job queue, so two
// alarms for the same tab can never overlap.
type Ticker struct {
	store           *Store
	execStore       *ExecutionStore
	queue           *queue.Queue
	runner          Runner
	broadcaster     ExecutionBroadcaster
	interval        time.Duration
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	logger          *zap.SugaredLogger
	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	lastPendingWork int
}

// TickerConfig contains configuration for the watch ticker
type TickerConfig struct {
	Interval time.Duration // How often to check for due alarms (default: 1 second)
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval: 1 * time.Second,
	}
}

// NewTicker creates a new watch ticker
func NewTicker(store *Store, q *queue.Queue, runner Runner, broadcaster ExecutionBroadcaster, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), store, q, runner, broadcaster, cfg, log)
}

// NewTickerWithContext creates a ticker with a parent context
func NewTickerWithContext(ctx context.Context, store *Store, q *queue.Queue, runner Runner, broadcaster ExecutionBroadcaster, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	tickerCtx, cancel := context.WithCancel(ctx)

	return &Ticker{
		store:       store,
		execStore:   NewExecutionStore(store.db),
		queue:       q,
		runner:      runner,
		broadcaster: broadcaster,
		interval:    cfg.Interval,
		ctx:         tickerCtx,
		cancel:      cancel,
		logger:      log,
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Watch ticker started", "interval", t.interval)
}

// Stop gracefully stops the ticker. Watches already handed to the queue
// run to completion.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("Watch ticker stopped")
}

// run is the main ticker loop
func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticksSinceStart++
			t.mu.Unlock()

			t.logNextAlarmInfo(tickTime)

			if err := t.checkDueAlarms(tickTime); err != nil {
				t.logger.Warnw("Watch tick error", "error", err, "tick", t.ticksSinceStart)
			}
		}
	}
}

// logNextAlarmInfo logs time until the next alarm fires. Only logged when
// pending work changes, so an idle daemon stays quiet.
func (t *Ticker) logNextAlarmInfo(now time.Time) {
	nextAlarm, err := t.store.NextAlarm()
	if err != nil {
		t.logger.Warnw("Failed to get next alarm", "error", err)
		return
	}

	pendingWork := t.queue.TotalPending()

	t.mu.Lock()
	hasChanged := pendingWork != t.lastPendingWork
	t.lastPendingWork = pendingWork
	t.mu.Unlock()

	if !hasChanged {
		return
	}

	if nextAlarm == nil {
		t.logger.Infow("Watch - no alarms registered")
		return
	}

	timeUntil := nextAlarm.NextRunAt.Sub(now)
	if timeUntil < 0 {
		timeUntil = 0
	}

	msg := fmt.Sprintf("Watch - next capture for tab %s in %s", nextAlarm.TabID, timeUntil.Round(time.Second))
	if pendingWork > 0 {
		msg += fmt.Sprintf(", %d watches active", pendingWork)
	}
	msg += memoryLine()

	t.logger.Infow(msg)
}

// checkDueAlarms finds due alarms and hands each to its tab queue
func (t *Ticker) checkDueAlarms(now time.Time) error {
	alarms, err := t.store.ListDueContext(t.ctx, now)
	if err != nil {
		return errors.Wrap(err, "failed to list due alarms")
	}

	for _, alarm := range alarms {
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		default:
		}

		if err := t.fireAlarm(alarm, now); err != nil {
			t.logger.Errorw("Failed to fire alarm",
				"tab_id", alarm.TabID,
				"alarm", alarm.Name,
				"error", err)
			// Continue with other alarms even if one fails
			continue
		}
	}

	return nil
}

// fireAlarm advances the alarm schedule and enqueues the watch cycle.
// The schedule is advanced before the watch runs, so a watch that takes
// longer than its interval cannot refire every tick while it runs.
func (t *Ticker) fireAlarm(alarm *Alarm, now time.Time) error {
	if err := t.store.MarkRun(alarm.TabID, now); err != nil {
		return errors.Wrap(err, "failed to advance alarm schedule")
	}

	t.logger.Infow("Watch triggered",
		"tab_id", alarm.TabID,
		"alarm", alarm.Name,
		"interval_minutes", alarm.IntervalMinutes,
		"queued_behind", t.queue.PendingCount(alarm.TabID))

	t.queue.Enqueue(t.ctx, alarm.TabID, alarm.Name, func(ctx context.Context) error {
		t.runWatch(ctx, alarm)
		return nil
	})

	return nil
}

// runWatch executes one watch cycle and records the execution outcome
func (t *Ticker) runWatch(ctx context.Context, alarm *Alarm) {
	startTime := time.Now()

	execution := &Execution{
		ID:        uuid.NewString(),
		TabID:     alarm.TabID,
		Status:    ExecutionStatusRunning,
		StartedAt: startTime.Format(time.RFC3339),
		CreatedAt: startTime.Format(time.RFC3339),
		UpdatedAt: startTime.Format(time.RFC3339),
	}

	if err := t.execStore.CreateExecution(execution); err != nil {
		t.logger.Errorw("Failed to create execution record",
			"tab_id", alarm.TabID,
			"error", err)
		// Continue anyway - execution tracking is nice-to-have
	}

	if t.broadcaster != nil {
		t.broadcaster.BroadcastWatchStarted(alarm.TabID, execution.ID)
	}

	err := t.runner.Execute(ctx, alarm.TabID, alarm.ChatID)

	completedAt := time.Now()
	durationMs := int(completedAt.Sub(startTime).Milliseconds())
	execution.CompletedAt = util.Ptr(completedAt.Format(time.RFC3339))
	execution.DurationMs = &durationMs
	execution.UpdatedAt = completedAt.Format(time.RFC3339)

	if err != nil {
		execution.Status = ExecutionStatusFailed
		errorMsg := err.Error()
		execution.ErrorMessage = &errorMsg

		t.logger.Errorw("Watch FAILED",
			"tab_id", alarm.TabID,
			"execution_id", execution.ID,
			"exec_short", execution.ID[:8],
			"duration_ms", durationMs,
			"error", err)

		if t.broadcaster != nil {
			errorDetails := errors.GetAllDetails(err)
			t.broadcaster.BroadcastWatchFailed(alarm.TabID, execution.ID, errorMsg, errorDetails, durationMs)
		}
	} else {
		execution.Status = ExecutionStatusCompleted

		t.logger.Infow("Watch OK",
			"tab_id", alarm.TabID,
			"execution_id", execution.ID,
			"exec_short", execution.ID[:8],
			"duration_ms", durationMs)

		if t.broadcaster != nil {
			t.broadcaster.BroadcastWatchCompleted(alarm.TabID, execution.ID, durationMs)
		}
	}

	if err := t.execStore.UpdateExecution(execution); err != nil {
		t.logger.Errorw("Failed to update execution record",
			"execution_id", execution.ID,
			"error", err)
	}
}
