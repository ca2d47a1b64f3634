package browser

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/tabwatch/tabwatch/errors"
)

// StateFunc reports the current load state of a tab.
type StateFunc func(ctx context.Context) (TabState, error)

// ReadinessConfig controls how long and how leniently a waiter holds out
// for a page to finish loading.
type ReadinessConfig struct {
	Timeout        time.Duration
	SettleDelay    time.Duration // pause after completion before the page is acted on
	PollInterval   time.Duration
	LenientLoading bool // a page still loading at the deadline counts as ready
}

// Waiter waits for a tab to become ready. It combines two signals: push
// notifications (lifecycle events) on Events, and polling via State.
// Whichever reports completion first wins, so a page that finished loading
// before the waiter started is still seen.
type Waiter struct {
	State  StateFunc
	Events <-chan TabState // optional, may be nil
	Config ReadinessConfig
	Logger *zap.SugaredLogger
}

// Wait blocks until the tab is ready, the tab disappears, or the timeout
// expires. On success the settle delay has already elapsed, so the caller
// can act on the page immediately.
//
// A timeout while the page is still loading is forgiven when
// LenientLoading is set: slow pages usually have their content painted
// long before every subresource finishes. A timeout with no load signal
// at all is always ErrReadinessTimeout.
func (w *Waiter) Wait(ctx context.Context) error {
	deadline := time.NewTimer(w.Config.Timeout)
	defer deadline.Stop()

	poll := time.NewTicker(w.pollInterval())
	defer poll.Stop()

	// Immediate check first: the load event may have fired before we
	// attached a listener
	lastState, err := w.check(ctx)
	if err != nil {
		return err
	}
	if lastState == TabComplete {
		return w.settle(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case state, ok := <-w.Events:
			if !ok {
				// Event source gone; keep polling
				w.Events = nil
				continue
			}
			if done, err := w.absorb(ctx, state); done {
				return err
			}
			lastState = state

		case <-poll.C:
			state, err := w.check(ctx)
			if err != nil {
				return err
			}
			if state == TabComplete {
				return w.settle(ctx)
			}
			lastState = state

		case <-deadline.C:
			if lastState == TabLoading && w.Config.LenientLoading {
				w.Logger.Warnw("Page still loading at readiness deadline, proceeding",
					"timeout", w.Config.Timeout)
				return w.settle(ctx)
			}
			return errors.WithDetailf(
				errors.Wrapf(errors.ErrReadinessTimeout, "page not ready after %s", w.Config.Timeout),
				"last observed state: %s", lastState)
		}
	}
}

// absorb handles a pushed state change, returning done=true when waiting
// should end
func (w *Waiter) absorb(ctx context.Context, state TabState) (bool, error) {
	switch state {
	case TabComplete:
		return true, w.settle(ctx)
	case TabGone:
		return true, errors.Wrap(errors.ErrTabGone, "tab closed while waiting for readiness")
	default:
		return false, nil
	}
}

// check polls the tab's state once
func (w *Waiter) check(ctx context.Context) (TabState, error) {
	state, err := w.State(ctx)
	if err != nil {
		return state, errors.Wrap(err, "failed to check tab state")
	}
	if state == TabGone {
		return state, errors.Wrap(errors.ErrTabGone, "tab closed while waiting for readiness")
	}
	return state, nil
}

// settle pauses after readiness so late reflows and paints finish
func (w *Waiter) settle(ctx context.Context) error {
	if w.Config.SettleDelay <= 0 {
		return nil
	}
	select {
	case <-time.After(w.Config.SettleDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Waiter) pollInterval() time.Duration {
	if w.Config.PollInterval > 0 {
		return w.Config.PollInterval
	}
	return 250 * time.Millisecond
}

// NewWaiter builds a waiter for one of the session's tabs, wiring both the
// polling path and the lifecycle event path.
func (s *Session) NewWaiter(tabID string, cfg ReadinessConfig) (*Waiter, error) {
	tabCtx, err := s.TabContext(tabID)
	if err != nil {
		return nil, err
	}

	events := make(chan TabState, 8)
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		var state TabState
		switch e := ev.(type) {
		case *page.EventLifecycleEvent:
			switch e.Name {
			case "load", "networkIdle":
				state = TabComplete
			case "init":
				state = TabLoading
			default:
				return
			}
		case *page.EventFrameStartedLoading:
			state = TabLoading
		default:
			return
		}

		// Drop rather than block: the poller will catch up
		select {
		case events <- state:
		default:
		}
	})

	return &Waiter{
		State: func(ctx context.Context) (TabState, error) {
			return s.TabState(ctx, tabID)
		},
		Events: events,
		Config: cfg,
		Logger: s.logger,
	}, nil
}
