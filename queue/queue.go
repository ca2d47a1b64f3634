package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of work executed against a single tab.
type Job func(ctx context.Context) error

// Queue serializes jobs per tab. Jobs for the same tab run strictly in
// enqueue order, one at a time; jobs for different tabs run independently.
// An entry for a tab exists only while it has pending work, so abandoned
// tabs leave nothing behind.
type Queue struct {
	mu      sync.Mutex
	tails   map[string]chan struct{}
	pending map[string]int
	logger  *zap.SugaredLogger
}

// New creates an empty per-tab job queue
func New(log *zap.SugaredLogger) *Queue {
	return &Queue{
		tails:   make(map[string]chan struct{}),
		pending: make(map[string]int),
		logger:  log,
	}
}

// Enqueue schedules job to run after every job previously enqueued for
// tabID. The returned channel receives exactly one value: the job's error,
// or nil. If ctx is cancelled while the job waits its turn, the job is
// skipped and ctx.Err() is delivered instead.
func (q *Queue) Enqueue(ctx context.Context, tabID, name string, job Job) <-chan error {
	q.mu.Lock()
	prev := q.tails[tabID]
	done := make(chan struct{})
	q.tails[tabID] = done
	q.pending[tabID]++
	waiting := q.pending[tabID] - 1
	q.mu.Unlock()

	if waiting > 0 {
		q.logger.Debugw("Job queued behind pending work",
			"tab_id", tabID,
			"job", name,
			"ahead", waiting)
	}

	result := make(chan error, 1)
	go func() {
		err := func() error {
			if prev != nil {
				select {
				case <-prev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			if err := ctx.Err(); err != nil {
				return err
			}

			start := time.Now()
			if err := job(ctx); err != nil {
				q.logger.Debugw("Queued job failed",
					"tab_id", tabID,
					"job", name,
					"duration", time.Since(start).Round(time.Millisecond),
					"error", err)
				return err
			}
			return nil
		}()

		// Settle bookkeeping before delivering the result, so a caller
		// that sees completion also sees the queue drained. Closing done
		// releases the successor whether we ran or were skipped.
		q.finish(tabID, done)
		close(done)
		result <- err
	}()

	return result
}

// Run enqueues job and blocks until it completes, returning its error.
func (q *Queue) Run(ctx context.Context, tabID, name string, job Job) error {
	return <-q.Enqueue(ctx, tabID, name, job)
}

// finish decrements the pending count for tabID and garbage-collects the
// tail entry once the chain has fully drained.
func (q *Queue) finish(tabID string, done chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending[tabID]--
	if q.pending[tabID] <= 0 {
		delete(q.pending, tabID)
		// Only drop the tail if no newer job replaced it
		if q.tails[tabID] == done {
			delete(q.tails, tabID)
		}
	}
}

// PendingCount returns the number of jobs enqueued for tabID that have not
// yet completed.
func (q *Queue) PendingCount(tabID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[tabID]
}

// TotalPending returns the number of incomplete jobs across all tabs.
func (q *Queue) TotalPending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	total := 0
	for _, n := range q.pending {
		total += n
	}
	return total
}
