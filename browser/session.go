package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/tabwatch/tabwatch/errors"
)

// TabState is the load state of a tab as observed over DevTools.
type TabState string

const (
	TabLoading  TabState = "loading"
	TabComplete TabState = "complete"
	TabGone     TabState = "gone"
)

// TabInfo describes one page target in the connected browser.
type TabInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Session is an attachment to a running browser over its DevTools endpoint.
// Tab IDs are DevTools target IDs: opaque, stable for the life of the tab.
type Session struct {
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.SugaredLogger

	mu   sync.Mutex
	tabs map[string]*tabHandle
}

// tabHandle is a live attachment to a single tab
type tabHandle struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Connect attaches to a browser at the given DevTools websocket URL.
func Connect(ctx context.Context, devtoolsURL string, log *zap.SugaredLogger) (*Session, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, devtoolsURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Run an empty task list to establish the connection now rather than
	// on first use
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, errors.Wrapf(err, "failed to connect to browser at %s", devtoolsURL)
	}

	log.Infow("Connected to browser", "devtools_url", devtoolsURL)

	return &Session{
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        log,
		tabs:          make(map[string]*tabHandle),
	}, nil
}

// Close detaches from the browser. The browser itself keeps running.
func (s *Session) Close() {
	s.mu.Lock()
	for id, tab := range s.tabs {
		tab.cancel()
		delete(s.tabs, id)
	}
	s.mu.Unlock()

	s.browserCancel()
	s.allocCancel()
	s.logger.Infow("Detached from browser")
}

// ListTabs returns all page targets currently open in the browser.
func (s *Session) ListTabs(ctx context.Context) ([]*TabInfo, error) {
	infos, err := chromedp.Targets(s.browserCtx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list targets")
	}

	var tabs []*TabInfo
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		tabs = append(tabs, &TabInfo{
			ID:    string(info.TargetID),
			Title: info.Title,
			URL:   info.URL,
		})
	}
	return tabs, nil
}

// TabContext returns a chromedp context attached to the given tab,
// creating the attachment on first use. Returns ErrTabGone if the tab no
// longer exists.
func (s *Session) TabContext(tabID string) (context.Context, error) {
	s.mu.Lock()
	if tab, ok := s.tabs[tabID]; ok {
		s.mu.Unlock()
		return tab.ctx, nil
	}
	s.mu.Unlock()

	found, err := s.targetExists(tabID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(errors.ErrTabGone, "tab %s", tabID)
	}

	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx, chromedp.WithTargetID(target.ID(tabID)))

	// Lifecycle events are needed for readiness tracking
	if err := chromedp.Run(tabCtx,
		page.Enable(),
		page.SetLifecycleEventsEnabled(true),
	); err != nil {
		tabCancel()
		return nil, errors.Wrapf(err, "failed to attach to tab %s", tabID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.tabs[tabID]; ok {
		// Raced with another attach; keep the first
		tabCancel()
		return existing.ctx, nil
	}
	s.tabs[tabID] = &tabHandle{ctx: tabCtx, cancel: tabCancel}
	return tabCtx, nil
}

// ReleaseTab drops the attachment to a tab, if any. The tab stays open.
func (s *Session) ReleaseTab(tabID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tab, ok := s.tabs[tabID]; ok {
		tab.cancel()
		delete(s.tabs, tabID)
	}
}

// evaluateTimeout bounds individual readyState and visibility probes
const evaluateTimeout = 5 * time.Second

// TabState reports the current load state of a tab.
func (s *Session) TabState(ctx context.Context, tabID string) (TabState, error) {
	if err := ctx.Err(); err != nil {
		return TabGone, err
	}

	found, err := s.targetExists(tabID)
	if err != nil {
		return TabGone, err
	}
	if !found {
		s.ReleaseTab(tabID)
		return TabGone, nil
	}

	tabCtx, err := s.TabContext(tabID)
	if err != nil {
		if errors.Is(err, errors.ErrTabGone) {
			return TabGone, nil
		}
		return TabGone, err
	}

	var readyState string
	evalCtx, cancel := context.WithTimeout(tabCtx, evaluateTimeout)
	defer cancel()
	if err := chromedp.Run(evalCtx,
		chromedp.Evaluate("document.readyState", &readyState),
	); err != nil {
		return TabGone, errors.Wrapf(err, "failed to read readyState for tab %s", tabID)
	}

	if readyState == "complete" {
		return TabComplete, nil
	}
	return TabLoading, nil
}

// Probe checks that the page's script context answers a trivial
// evaluation. A dead renderer or a tab stuck mid-navigation will not.
func (s *Session) Probe(ctx context.Context, tabID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tabCtx, err := s.TabContext(tabID)
	if err != nil {
		return err
	}

	var pong bool
	evalCtx, cancel := context.WithTimeout(tabCtx, evaluateTimeout)
	defer cancel()
	if err := chromedp.Run(evalCtx,
		chromedp.Evaluate("typeof document !== 'undefined'", &pong),
	); err != nil {
		return errors.Wrapf(err, "probe failed for tab %s", tabID)
	}
	if !pong {
		return errors.Newf("tab %s script context did not answer probe", tabID)
	}
	return nil
}

// ActivateTab brings a tab to the foreground.
func (s *Session) ActivateTab(ctx context.Context, tabID string) error {
	if err := chromedp.Run(s.browserCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return target.ActivateTarget(target.ID(tabID)).Do(ctx)
		}),
	); err != nil {
		return errors.Wrapf(err, "failed to activate tab %s", tabID)
	}
	return nil
}

// ActiveTabID returns the ID of the currently focused page target, or an
// empty string when none reports itself visible.
func (s *Session) ActiveTabID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tabs, err := s.ListTabs(ctx)
	if err != nil {
		return "", err
	}

	for _, tab := range tabs {
		tabCtx, err := s.TabContext(tab.ID)
		if err != nil {
			continue
		}

		var visibility string
		evalCtx, cancel := context.WithTimeout(tabCtx, evaluateTimeout)
		err = chromedp.Run(evalCtx,
			chromedp.Evaluate("document.visibilityState", &visibility),
		)
		cancel()
		if err == nil && visibility == "visible" {
			return tab.ID, nil
		}
	}
	return "", nil
}

// targetExists checks whether a page target with the given ID is open
func (s *Session) targetExists(tabID string) (bool, error) {
	infos, err := chromedp.Targets(s.browserCtx)
	if err != nil {
		return false, errors.Wrap(err, "failed to list targets")
	}
	for _, info := range infos {
		if string(info.TargetID) == tabID && info.Type == "page" {
			return true, nil
		}
	}
	return false, nil
}
