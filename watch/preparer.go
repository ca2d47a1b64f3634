package watch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tabwatch/tabwatch/browser"
	"github.com/tabwatch/tabwatch/errors"
)

// PageConfig describes the page automation for watched tabs.
type PageConfig struct {
	Readiness         browser.ReadinessConfig
	Runner            browser.RunnerConfig
	RefreshSelector   string // element clicked to refresh page content, optional
	IndicatorSelector string // loading indicator awaited after the refresh, optional
}

// SessionPreparer implements Preparer over a live browser session.
type SessionPreparer struct {
	session *browser.Session
	cfg     PageConfig
	logger  *zap.SugaredLogger
}

// NewSessionPreparer creates the chromedp-backed preparer.
func NewSessionPreparer(session *browser.Session, cfg PageConfig, log *zap.SugaredLogger) *SessionPreparer {
	return &SessionPreparer{session: session, cfg: cfg, logger: log}
}

func (p *SessionPreparer) State(ctx context.Context, tabID string) (browser.TabState, error) {
	return p.session.TabState(ctx, tabID)
}

func (p *SessionPreparer) Info(ctx context.Context, tabID string) (*browser.TabInfo, error) {
	tabs, err := p.session.ListTabs(ctx)
	if err != nil {
		return nil, err
	}
	for _, tab := range tabs {
		if tab.ID == tabID {
			return tab, nil
		}
	}
	return nil, errors.Wrapf(errors.ErrTabGone, "tab %s", tabID)
}

func (p *SessionPreparer) Reload(ctx context.Context, tabID string) error {
	return p.session.Executor(tabID).Reload(ctx)
}

// WaitReady waits for the tab to finish loading within the given budget.
// The budget overrides the configured base timeout; the orchestrator grows
// it per retry.
func (p *SessionPreparer) WaitReady(ctx context.Context, tabID string, timeout time.Duration) error {
	cfg := p.cfg.Readiness
	cfg.Timeout = timeout

	waiter, err := p.session.NewWaiter(tabID, cfg)
	if err != nil {
		return err
	}
	return waiter.Wait(ctx)
}

// RunActions clicks the configured refresh control and sits out the
// loading indicator. Tabs configured without a refresh selector skip
// straight to capture.
func (p *SessionPreparer) RunActions(ctx context.Context, tabID string) error {
	// Liveness ping. A dead script context usually still yields a usable
	// capture, so a failed probe is logged and the sequence continues.
	if err := p.session.Probe(ctx, tabID); err != nil {
		p.logger.Warnw("Tab did not answer liveness probe",
			"tab_id", tabID,
			"error", err)
	}

	if p.cfg.RefreshSelector == "" {
		return nil
	}

	runner := browser.NewRunner(p.session.Executor(tabID), p.cfg.Runner, p.logger)

	steps := []browser.Step{
		browser.ClickStep("refresh content", p.cfg.RefreshSelector),
	}
	if err := runner.RunSteps(ctx, steps); err != nil {
		return err
	}

	if p.cfg.IndicatorSelector != "" {
		return runner.WaitForIndicator(ctx, p.cfg.IndicatorSelector)
	}
	return nil
}
