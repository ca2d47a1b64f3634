package watch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tabwatch/tabwatch/browser"
	"github.com/tabwatch/tabwatch/deliver"
	"github.com/tabwatch/tabwatch/errors"
)

// Preparer drives a tab through reload, readiness, and page actions.
// Implemented by SessionPreparer over *browser.Session.
type Preparer interface {
	State(ctx context.Context, tabID string) (browser.TabState, error)
	Info(ctx context.Context, tabID string) (*browser.TabInfo, error)
	Reload(ctx context.Context, tabID string) error
	WaitReady(ctx context.Context, tabID string, timeout time.Duration) error
	RunActions(ctx context.Context, tabID string) error
}

// Capturer produces the final screenshot for a tab.
type Capturer interface {
	Capture(ctx context.Context, tabID string) ([]byte, error)
}

// Deliverer ships the capture and reports failures.
type Deliverer interface {
	SendPhoto(ctx context.Context, chatID string, photo []byte, caption string) error
	NotifyFailure(ctx context.Context, chatID, message string)
}

// Config controls the orchestrator's retry policy.
type Config struct {
	MaxRetries           int           // full-cycle retries after the first attempt
	ReadinessTimeoutBase time.Duration // readiness budget on the first attempt
	ReadinessTimeoutStep time.Duration // added per retry, slow pages get more rope
}

// Orchestrator runs one watch cycle end to end: prepare the page, wait for
// readiness, run the page actions, capture, deliver. A failed cycle is
// retried from the top with a longer readiness budget each time.
type Orchestrator struct {
	preparer  Preparer
	capturer  Capturer
	deliverer Deliverer
	status    *StatusBoard
	cfg       Config
	logger    *zap.SugaredLogger
}

// NewOrchestrator wires up a watch orchestrator.
func NewOrchestrator(preparer Preparer, capturer Capturer, deliverer Deliverer, status *StatusBoard, cfg Config, log *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{
		preparer:  preparer,
		capturer:  capturer,
		deliverer: deliverer,
		status:    status,
		cfg:       cfg,
		logger:    log,
	}
}

// Execute runs the full watch cycle for a tab. Satisfies schedule.Runner.
func (o *Orchestrator) Execute(ctx context.Context, tabID, chatID string) error {
	maxAttempts := o.cfg.MaxRetries + 1
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			o.status.Set(tabID, PhaseRetrying, attempt, lastErr)
			o.logger.Infow("Retrying watch cycle",
				"tab_id", tabID,
				"attempt", attempt+1,
				"max_attempts", maxAttempts,
				"previous_error", lastErr)
		}

		err := o.runAttempt(ctx, tabID, chatID, attempt)
		if err == nil {
			o.status.Set(tabID, PhaseDone, attempt, nil)
			return nil
		}
		lastErr = err

		// A closed tab or cancelled context cannot improve with retries
		if errors.Is(err, errors.ErrTabGone) || ctx.Err() != nil {
			break
		}
	}

	o.status.Set(tabID, PhaseFailed, maxAttempts, lastErr)
	o.deliverer.NotifyFailure(ctx, chatID, deliver.FailureMessage(tabID, maxAttempts, lastErr))

	return errors.Wrapf(lastErr, "watch for tab %s failed after %d attempts", tabID, maxAttempts)
}

// runAttempt is a single pass through the cycle's phases
func (o *Orchestrator) runAttempt(ctx context.Context, tabID, chatID string, attempt int) error {
	o.status.Set(tabID, PhasePreparing, attempt, nil)
	if err := o.prepare(ctx, tabID, attempt); err != nil {
		return err
	}

	o.status.Set(tabID, PhaseWaitingReady, attempt, nil)
	timeout := o.readinessTimeout(attempt)
	if err := o.preparer.WaitReady(ctx, tabID, timeout); err != nil {
		return errors.Wrapf(err, "readiness wait (budget %s)", timeout)
	}

	o.status.Set(tabID, PhaseRunningActions, attempt, nil)
	if err := o.preparer.RunActions(ctx, tabID); err != nil {
		return errors.Wrap(err, "page actions")
	}

	o.status.Set(tabID, PhaseCapturing, attempt, nil)
	photo, err := o.capturer.Capture(ctx, tabID)
	if err != nil {
		return errors.Wrap(err, "capture")
	}

	o.status.Set(tabID, PhaseDelivering, attempt, nil)
	caption, err := o.caption(ctx, tabID)
	if err != nil {
		o.logger.Warnw("Could not build capture caption", "tab_id", tabID, "error", err)
	}
	if err := o.deliverer.SendPhoto(ctx, chatID, photo, caption); err != nil {
		return errors.Wrap(err, "delivery")
	}

	o.logger.Infow("Watch cycle complete",
		"tab_id", tabID,
		"attempt", attempt+1,
		"bytes", len(photo))
	return nil
}

// prepare reloads the tab for fresh content. On a retry the reload is
// skipped if the page already reports complete: the previous attempt's
// load survived, and reloading would just burn the readiness budget again.
func (o *Orchestrator) prepare(ctx context.Context, tabID string, attempt int) error {
	state, err := o.preparer.State(ctx, tabID)
	if err != nil {
		return errors.Wrap(err, "tab state check")
	}
	if state == browser.TabGone {
		return errors.Wrapf(errors.ErrTabGone, "tab %s", tabID)
	}

	if attempt > 0 && state == browser.TabComplete {
		o.logger.Debugw("Skipping reload on retry, page is stable",
			"tab_id", tabID,
			"attempt", attempt+1)
		return nil
	}

	if err := o.preparer.Reload(ctx, tabID); err != nil {
		return errors.Wrap(err, "reload")
	}
	return nil
}

// readinessTimeout grows linearly with the attempt number
func (o *Orchestrator) readinessTimeout(attempt int) time.Duration {
	return o.cfg.ReadinessTimeoutBase + time.Duration(attempt)*o.cfg.ReadinessTimeoutStep
}

// caption describes the capture for the delivery message
func (o *Orchestrator) caption(ctx context.Context, tabID string) (string, error) {
	info, err := o.preparer.Info(ctx, tabID)
	if err != nil || info == nil {
		return "", err
	}
	return fmt.Sprintf("%s\n%s\n%s", info.Title, info.URL, time.Now().Format(time.RFC3339)), nil
}
