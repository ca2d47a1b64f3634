package browser

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tabwatch/tabwatch/errors"
	"github.com/tabwatch/tabwatch/internal/retry"
)

// PageExecutor is the surface the action runner needs from a page.
// *Session provides a chromedp-backed implementation via Executor.
type PageExecutor interface {
	Click(ctx context.Context, selector string) error
	Evaluate(ctx context.Context, expression string, out interface{}) error
	Reload(ctx context.Context) error
}

// Step is one page action in a fixed preparation sequence.
type Step struct {
	Name string
	Do   func(ctx context.Context, exec PageExecutor) error
}

// ClickStep builds a step that clicks the first element matching selector.
func ClickStep(name, selector string) Step {
	return Step{
		Name: name,
		Do: func(ctx context.Context, exec PageExecutor) error {
			return exec.Click(ctx, selector)
		},
	}
}

// EvalStep builds a step that runs a script on the page, discarding its result.
func EvalStep(name, expression string) Step {
	return Step{
		Name: name,
		Do: func(ctx context.Context, exec PageExecutor) error {
			return exec.Evaluate(ctx, expression, nil)
		},
	}
}

// RunnerConfig controls per-step retry and the loading-indicator waits.
type RunnerConfig struct {
	StepRetries      int           // retries per step after the first try
	StepBackoff      time.Duration // linear backoff base between step retries
	IndicatorTimeout time.Duration // budget for each loading-indicator phase
	PollInterval     time.Duration
}

// Runner executes a fixed sequence of page actions. Individual step
// failures are absorbed with a warning: preparation steps are best-effort,
// and a capture of a partially prepared page beats no capture at all.
type Runner struct {
	exec   PageExecutor
	cfg    RunnerConfig
	logger *zap.SugaredLogger
}

// NewRunner creates a page action runner
func NewRunner(exec PageExecutor, cfg RunnerConfig, log *zap.SugaredLogger) *Runner {
	return &Runner{exec: exec, cfg: cfg, logger: log}
}

// RunSteps executes steps in order. Each step gets StepRetries retries with
// linear backoff; a step that still fails is logged and skipped. The only
// error returned is context cancellation.
func (r *Runner) RunSteps(ctx context.Context, steps []Step) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := retry.Do(ctx, r.cfg.StepRetries, retry.Linear(r.cfg.StepBackoff), func() error {
			return step.Do(ctx, r.exec)
		})
		if err != nil {
			if errors.IsAny(err, context.Canceled, context.DeadlineExceeded) {
				return err
			}
			r.logger.Warnw("Page action step failed, continuing",
				"step", step.Name,
				"retries", r.cfg.StepRetries,
				"error", err)
		}
	}
	return nil
}

// AwaitCondition polls pred until it returns true or the timeout elapses.
// Returns false with no error on timeout; pred errors end the wait early.
func (r *Runner) AwaitCondition(ctx context.Context, pred func(ctx context.Context) (bool, error), timeout time.Duration) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	poll := time.NewTicker(r.pollInterval())
	defer poll.Stop()

	for {
		ok, err := pred(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-poll.C:
		}
	}
}

// WaitForIndicator runs the two-phase loading-indicator wait: first until
// an element matching selector appears, then until it disappears again.
// Either phase timing out is absorbed; many pages never show an indicator.
func (r *Runner) WaitForIndicator(ctx context.Context, selector string) error {
	present := func(ctx context.Context) (bool, error) {
		return r.indicatorPresent(ctx, selector)
	}
	absent := func(ctx context.Context) (bool, error) {
		ok, err := r.indicatorPresent(ctx, selector)
		return !ok, err
	}

	appeared, err := r.AwaitCondition(ctx, present, r.cfg.IndicatorTimeout)
	if err != nil {
		return err
	}
	if !appeared {
		r.logger.Debugw("Loading indicator never appeared", "selector", selector)
		return nil
	}

	gone, err := r.AwaitCondition(ctx, absent, r.cfg.IndicatorTimeout)
	if err != nil {
		return err
	}
	if !gone {
		r.logger.Warnw("Loading indicator still visible after wait, continuing",
			"selector", selector,
			"timeout", r.cfg.IndicatorTimeout)
	}
	return nil
}

func (r *Runner) indicatorPresent(ctx context.Context, selector string) (bool, error) {
	var present bool
	err := r.exec.Evaluate(ctx, "document.querySelector("+jsString(selector)+") !== null", &present)
	if err != nil {
		return false, errors.Wrap(err, "failed to probe loading indicator")
	}
	return present, nil
}

func (r *Runner) pollInterval() time.Duration {
	if r.cfg.PollInterval > 0 {
		return r.cfg.PollInterval
	}
	return 250 * time.Millisecond
}
