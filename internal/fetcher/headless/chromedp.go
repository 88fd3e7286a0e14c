// Package headless renders web resources in Chrome tabs and extracts book
// fields from the rendered DOM.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/isbn-scraper/internal/scraper"
)

// Config controls the Chrome process shared by every tab.
type Config struct {
	Headless          bool          `mapstructure:"headless"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	// SettleDelay gives client-side scripts time to populate the page after
	// the wait selector appears.
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// Browser implements scraper.Browser with one Chrome process and one target
// per session.
type Browser struct {
	cfg           Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewBrowser launches Chrome.
func NewBrowser(cfg Config) (*Browser, error) {
	if cfg.NavigationTimeout < 0 {
		return nil, fmt.Errorf("navigation timeout must be >= 0")
	}
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return &Browser{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// NewSession opens a new tab.
func (b *Browser) NewSession(_ context.Context) (scraper.Session, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open chrome tab: %w", err)
	}
	s := &session{cfg: b.cfg, tabCtx: tabCtx, cancel: cancel, meta: newResponseMeta()}
	chromedp.ListenTarget(tabCtx, s.meta.captureEvent)
	return s, nil
}

// Close shuts Chrome down.
func (b *Browser) Close() error {
	b.browserCancel()
	b.allocCancel()
	return nil
}

type session struct {
	cfg    Config
	tabCtx context.Context
	cancel context.CancelFunc
	meta   *responseMeta
	// mu serializes navigations; the tab pool never shares a session but
	// recovery can race a canceled render.
	mu sync.Mutex
}

// Render navigates the tab and returns the rendered DOM.
func (s *session) Render(ctx context.Context, req scraper.RenderRequest) (scraper.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.NavigationTimeout
	}
	runCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = s.cfg.UserAgent
	}
	waitSelector := req.WaitSelector
	if waitSelector == "" {
		waitSelector = "body"
	}

	s.meta.reset()
	var html, finalURL string
	start := time.Now()
	actions := []chromedp.Action{
		networkSetupAction(userAgent),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady(waitSelector, chromedp.ByQuery),
	}
	if s.cfg.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(s.cfg.SettleDelay))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return scraper.Page{}, fmt.Errorf("render %s: %w", req.URL, ctx.Err())
		}
		return scraper.Page{}, fmt.Errorf("render %s: %w", req.URL, err)
	}

	status, url := s.meta.snapshotWithFallbacks(req.URL, finalURL)
	return scraper.Page{
		URL:        url,
		StatusCode: status,
		HTML:       html,
		Duration:   time.Since(start),
	}, nil
}

// Reset navigates to about:blank.
func (s *session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	runCtx, cancel := context.WithTimeout(s.tabCtx, s.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, chromedp.Navigate("about:blank")); err != nil {
		return fmt.Errorf("reset tab: %w", err)
	}
	return nil
}

// Close closes the tab.
func (s *session) Close() error {
	s.cancel()
	return nil
}

func networkSetupAction(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// responseMeta records the status of the last document response in a tab.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status = 0
	m.url = ""
	m.mu.Unlock()
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
