package capture

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tabwatch/tabwatch/errors"
)

// Screenshotter takes PNG screenshots over DevTools. Implemented by
// *browser.Session.
type Screenshotter interface {
	// CaptureTab screenshots a tab without changing focus
	CaptureTab(ctx context.Context, tabID string) ([]byte, error)
	// CaptureVisible screenshots the currently focused tab
	CaptureVisible(ctx context.Context) ([]byte, error)
}

// Focuser controls which tab is in the foreground. Implemented by
// *browser.Session.
type Focuser interface {
	ActiveTabID(ctx context.Context) (string, error)
	ActivateTab(ctx context.Context, tabID string) error
}

// Coordinator serializes screenshots across all tabs. Captures hold a
// single global lock because tier-2 capture moves browser focus, and two
// focus dances at once would photograph the wrong tabs.
type Coordinator struct {
	mu      sync.Mutex
	shooter Screenshotter
	focuser Focuser
	regions *RegionStore
	settle  time.Duration
	logger  *zap.SugaredLogger
}

// NewCoordinator creates a capture coordinator.
func NewCoordinator(shooter Screenshotter, focuser Focuser, regions *RegionStore, settle time.Duration, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		shooter: shooter,
		focuser: focuser,
		regions: regions,
		settle:  settle,
		logger:  log,
	}
}

// Capture screenshots a tab and applies its crop region, if one is set.
//
// Tier 1 captures the tab directly without touching focus. When the
// renderer refuses (some pages produce blank or failed captures while
// backgrounded), tier 2 activates the tab, captures the visible viewport,
// and restores whichever tab was focused before.
func (c *Coordinator) Capture(ctx context.Context, tabID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.shooter.CaptureTab(ctx, tabID)
	if err != nil {
		c.logger.Warnw("Direct capture failed, falling back to focused capture",
			"tab_id", tabID,
			"error", err)
		data, err = c.captureWithFocus(ctx, tabID)
		if err != nil {
			return nil, err
		}
	}

	region := c.regions.Get(tabID)
	if region.Valid() {
		cropped, err := Crop(data, region)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to crop capture for tab %s", tabID)
		}
		c.logger.Debugw("Applied crop region",
			"tab_id", tabID,
			"region", region,
			"bytes", len(cropped))
		return cropped, nil
	}

	return data, nil
}

// captureWithFocus is the tier-2 path: activate, settle, capture, restore.
// The previously focused tab is restored even when the capture fails.
func (c *Coordinator) captureWithFocus(ctx context.Context, tabID string) ([]byte, error) {
	prev, err := c.focuser.ActiveTabID(ctx)
	if err != nil {
		c.logger.Warnw("Could not determine focused tab before capture", "error", err)
		prev = ""
	}

	if err := c.focuser.ActivateTab(ctx, tabID); err != nil {
		return nil, errors.Wrapf(err, "failed to focus tab %s for capture", tabID)
	}

	defer func() {
		if prev == "" || prev == tabID {
			return
		}
		if err := c.focuser.ActivateTab(ctx, prev); err != nil {
			c.logger.Warnw("Failed to restore previously focused tab",
				"tab_id", prev,
				"error", err)
		}
	}()

	// Let the newly focused renderer paint before capturing
	if c.settle > 0 {
		select {
		case <-time.After(c.settle):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	data, err := c.shooter.CaptureVisible(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "focused capture of tab %s", tabID)
	}
	return data, nil
}
