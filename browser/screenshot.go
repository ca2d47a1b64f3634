package browser

import (
	"context"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/tabwatch/tabwatch/errors"
)

// CaptureTab takes a PNG screenshot of a tab without changing browser
// focus. Works on background tabs as long as the renderer still paints.
func (s *Session) CaptureTab(ctx context.Context, tabID string) ([]byte, error) {
	tabCtx, err := s.TabContext(tabID)
	if err != nil {
		return nil, err
	}

	var buf []byte
	runCtx := tabCtx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(tabCtx, deadline)
		defer cancel()
	}

	err = chromedp.Run(runCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			buf, err = page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatPng).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCaptureFailed, "screenshot of tab %s: %v", tabID, err)
	}
	if len(buf) == 0 {
		return nil, errors.Wrapf(errors.ErrCaptureFailed, "screenshot of tab %s returned no data", tabID)
	}

	return buf, nil
}

// CaptureVisible takes a PNG screenshot of whichever tab is currently
// focused.
func (s *Session) CaptureVisible(ctx context.Context) ([]byte, error) {
	tabID, err := s.ActiveTabID(ctx)
	if err != nil {
		return nil, err
	}
	if tabID == "" {
		return nil, errors.Wrap(errors.ErrCaptureFailed, "no visible tab to capture")
	}
	return s.CaptureTab(ctx, tabID)
}
