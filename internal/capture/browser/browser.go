// Package browser captures the wind map from a headless Chromium driven by
// Playwright.
//
// Every Acquire starts Playwright, launches the browser and loads the map;
// Release tears all of it down again. Nothing stays resident between
// cycles.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/MrWong99/pagasa/internal/capture"
)

// Defaults for [Options].
const (
	DefaultMapURL = "https://embed.windy.com/embed2.html?lat=12.5&lon=122.5&zoom=5&overlay=wind&product=ecmwf"
	DefaultWidth  = 1280
	DefaultHeight = 800
	DefaultSettle = 3 * time.Second
)

// Options configures a [Display].
type Options struct {
	// MapURL is the page to screenshot.
	MapURL string

	// Width and Height set the viewport in CSS pixels.
	Width, Height int

	// Settle is how long to wait after load so map tiles and overlays
	// finish rendering.
	Settle time.Duration

	// Headful shows the browser window. Useful when debugging selectors.
	Headful bool

	// InstallBrowsers downloads the Playwright driver and Chromium on first
	// use.
	InstallBrowsers bool
}

func (o *Options) applyDefaults() {
	if o.MapURL == "" {
		o.MapURL = DefaultMapURL
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Settle < 0 {
		o.Settle = 0
	} else if o.Settle == 0 {
		o.Settle = DefaultSettle
	}
}

// page is the subset of a loaded browser page the handle needs.
type page interface {
	screenshot() ([]byte, error)
	close() error
}

// Display implements [capture.Display] with Playwright.
type Display struct {
	opts   Options
	launch func(ctx context.Context, opts Options) (page, error)
}

var _ capture.Display = (*Display)(nil)

// New returns a Display. Zero option fields take their defaults.
func New(opts Options) *Display {
	opts.applyDefaults()
	return &Display{opts: opts, launch: launchChromium}
}

// Acquire implements [capture.Display]. A failure to start the browser is a
// capture failure, not a refusal.
func (d *Display) Acquire(ctx context.Context) (capture.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := d.launch(ctx, d.opts)
	if err != nil {
		return nil, fmt.Errorf("browser: acquire: %w", err)
	}
	return &handle{page: p}, nil
}

type handle struct {
	page page
	once sync.Once
	err  error
}

func (h *handle) GrabFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := h.page.screenshot()
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return data, nil
}

func (h *handle) Release() error {
	h.once.Do(func() { h.err = h.page.close() })
	return h.err
}

// ── Playwright ───────────────────────────────────────────────────────────────

type chromiumPage struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
}

func launchChromium(ctx context.Context, opts Options) (_ page, err error) {
	pw, err := playwright.Run(&playwright.RunOptions{
		SkipInstallBrowsers: !opts.InstallBrowsers,
		Browsers:            []string{"chromium"},
	})
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	cp := &chromiumPage{pw: pw}
	defer func() {
		if err != nil {
			err = errors.Join(err, cp.close())
		}
	}()

	cp.browser, err = pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(!opts.Headful),
	})
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	cp.page, err = cp.browser.NewPage(playwright.BrowserNewPageOptions{
		Viewport: &playwright.Size{Width: opts.Width, Height: opts.Height},
	})
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}

	gotoOpts := playwright.PageGotoOptions{WaitUntil: playwright.WaitUntilStateLoad}
	if deadline, ok := ctx.Deadline(); ok {
		gotoOpts.Timeout = playwright.Float(float64(time.Until(deadline).Milliseconds()))
	}
	if _, err = cp.page.Goto(opts.MapURL, gotoOpts); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", opts.MapURL, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(opts.Settle):
	}
	slog.Debug("browser display ready", "url", opts.MapURL, "width", opts.Width, "height", opts.Height)
	return cp, nil
}

func (c *chromiumPage) screenshot() ([]byte, error) {
	return c.page.Screenshot(playwright.PageScreenshotOptions{
		Type:     playwright.ScreenshotTypePng,
		FullPage: playwright.Bool(false),
	})
}

func (c *chromiumPage) close() error {
	var errs []error
	if c.browser != nil {
		if err := c.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if c.pw != nil {
		if err := c.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
	}
	return errors.Join(errs...)
}
