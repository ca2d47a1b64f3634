package browser

import (
	"context"
	"strconv"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/tabwatch/tabwatch/errors"
)

// tabExecutor is the chromedp-backed PageExecutor for one tab
type tabExecutor struct {
	session *Session
	tabID   string
}

// Executor returns a PageExecutor bound to the given tab.
func (s *Session) Executor(tabID string) PageExecutor {
	return &tabExecutor{session: s, tabID: tabID}
}

func (e *tabExecutor) run(ctx context.Context, actions ...chromedp.Action) error {
	tabCtx, err := e.session.TabContext(e.tabID)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(tabCtx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(tabCtx, deadline)
		defer cancel()
	}

	return chromedp.Run(runCtx, actions...)
}

// Click clicks the first visible element matching selector.
func (e *tabExecutor) Click(ctx context.Context, selector string) error {
	if err := e.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return errors.Wrapf(err, "failed to click %q on tab %s", selector, e.tabID)
	}
	return nil
}

// Evaluate runs a script on the page. out may be nil to discard the result.
func (e *tabExecutor) Evaluate(ctx context.Context, expression string, out interface{}) error {
	if err := e.run(ctx, chromedp.Evaluate(expression, out)); err != nil {
		return errors.Wrapf(err, "failed to evaluate script on tab %s", e.tabID)
	}
	return nil
}

// Reload reloads the tab without cache bypass.
func (e *tabExecutor) Reload(ctx context.Context) error {
	if err := e.run(ctx, page.Reload()); err != nil {
		return errors.Wrapf(err, "failed to reload tab %s", e.tabID)
	}
	return nil
}

// jsString quotes s as a JavaScript string literal
func jsString(s string) string {
	return strconv.Quote(s)
}
