// Package browser drives a headless Chrome page for verification evidence.
// It lazily launches the browser on first use and exposes the handful of
// operations the tool catalog needs: navigate, click, type, screenshot.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"arcadiaforge/internal/config"
	"arcadiaforge/internal/logging"
)

// Driver owns one Chrome instance and one page. Evidence capture never
// needs multiple tabs; a fresh Navigate reuses the same page.
type Driver struct {
	cfg config.BrowserConfig

	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
}

// New builds a driver. Nothing launches until the first operation.
func New(cfg config.BrowserConfig) *Driver {
	if cfg.ViewportWidth == 0 {
		cfg.ViewportWidth = 1280
	}
	if cfg.ViewportHeight == 0 {
		cfg.ViewportHeight = 800
	}
	if cfg.NavTimeoutMs == 0 {
		cfg.NavTimeoutMs = 30000
	}
	return &Driver{cfg: cfg}
}

func (d *Driver) navTimeout() time.Duration {
	return time.Duration(d.cfg.NavTimeoutMs) * time.Millisecond
}

// ensurePage launches Chrome and opens the page on first use, and verifies
// the connection is still alive on later calls.
func (d *Driver) ensurePage(ctx context.Context) (*rod.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser != nil {
		if _, err := d.browser.Version(); err == nil {
			return d.page, nil
		}
		logging.Browser("stale browser connection, relaunching")
		_ = d.browser.Close()
		d.browser = nil
		d.page = nil
	}

	url, err := launcher.New().Headless(d.cfg.Headless).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	browser := rod.New().ControlURL(url).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  d.cfg.ViewportWidth,
		Height: d.cfg.ViewportHeight,
	}); err != nil {
		logging.Browser("set viewport failed: %v", err)
	}

	d.browser = browser
	d.page = page
	logging.Browser("chrome up, viewport %dx%d", d.cfg.ViewportWidth, d.cfg.ViewportHeight)
	return page, nil
}

// Navigate loads a URL and waits for the load event.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	page, err := d.ensurePage(ctx)
	if err != nil {
		return err
	}
	p := page.Context(ctx).Timeout(d.navTimeout())
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

// Click clicks the element matching a CSS selector.
func (d *Driver) Click(ctx context.Context, selector string) error {
	page, err := d.ensurePage(ctx)
	if err != nil {
		return err
	}
	el, err := page.Context(ctx).Timeout(d.navTimeout()).Element(selector)
	if err != nil {
		return fmt.Errorf("element not found: %w", err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// Type inputs text into the element matching a CSS selector.
func (d *Driver) Type(ctx context.Context, selector, text string) error {
	page, err := d.ensurePage(ctx)
	if err != nil {
		return err
	}
	el, err := page.Context(ctx).Timeout(d.navTimeout()).Element(selector)
	if err != nil {
		return fmt.Errorf("element not found: %w", err)
	}
	return el.Input(text)
}

// Screenshot captures the current viewport as PNG bytes.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	page, err := d.ensurePage(ctx)
	if err != nil {
		return nil, err
	}
	return page.Context(ctx).Screenshot(false, nil)
}

// Close shuts the browser down. Safe to call without a launch.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser == nil {
		return nil
	}
	err := d.browser.Close()
	d.browser = nil
	d.page = nil
	return err
}
