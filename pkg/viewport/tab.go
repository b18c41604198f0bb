package viewport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// TabOptions configure the DevTools tab capture provider.
type TabOptions struct {
	URL              string
	Viewport         Size
	ExcludeSelectors []string
	Timeout          time.Duration
	// Headless defaults to true; set ShowBrowser to watch the tab.
	ShowBrowser bool
}

// TabProvider captures a Chrome tab through the DevTools protocol.
type TabProvider struct {
	opts TabOptions

	mu            sync.Mutex
	ctx           context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc
	hideScript    string
	restoreScript string
}

// NewTabProvider launches a browser, opens the URL and sizes the viewport.
func NewTabProvider(ctx context.Context, opts TabOptions) (*TabProvider, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("tab capture url must not be empty")
	}
	if err := opts.Viewport.Validate(); err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.ExcludeSelectors == nil {
		opts.ExcludeSelectors = DefaultExcludeSelectors
	}
	hide, restore, err := overlayScripts(opts.ExcludeSelectors)
	if err != nil {
		return nil, err
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(opts.Viewport.Width, opts.Viewport.Height),
		chromedp.Flag("headless", !opts.ShowBrowser),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	p := &TabProvider{
		opts:          opts,
		ctx:           browserCtx,
		cancelAlloc:   cancelAlloc,
		cancelBrowser: cancelBrowser,
		hideScript:    hide,
		restoreScript: restore,
	}

	openCtx, cancel := context.WithTimeout(browserCtx, opts.Timeout)
	defer cancel()
	err = chromedp.Run(openCtx,
		chromedp.EmulateViewport(int64(opts.Viewport.Width), int64(opts.Viewport.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("open %s: %w", opts.URL, err)
	}
	return p, nil
}

// Grab hides the overlay elements, screenshots the viewport and restores them.
func (p *TabProvider) Grab(ctx context.Context) (image.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return nil, errors.New("tab provider closed")
	}

	runCtx, cancel := context.WithTimeout(p.ctx, p.opts.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var hidden bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(p.hideScript, &hidden)); err != nil {
		return nil, fmt.Errorf("hide overlay: %w", err)
	}
	var buf []byte
	shotErr := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithFromSurface(true).
			WithCaptureBeyondViewport(false).
			Do(ctx)
		return err
	}))

	var restored bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(p.restoreScript, &restored)); err != nil && shotErr == nil {
		shotErr = fmt.Errorf("restore overlay: %w", err)
	}
	if shotErr != nil {
		return nil, shotErr
	}

	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

// Close shuts the browser down.
func (p *TabProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return nil
	}
	p.cancelBrowser()
	p.cancelAlloc()
	p.ctx = nil
	return nil
}

func overlayScripts(selectors []string) (string, string, error) {
	encoded, err := json.Marshal(selectors)
	if err != nil {
		return "", "", fmt.Errorf("encode selectors: %w", err)
	}
	hide := fmt.Sprintf(`(() => {
  for (const sel of %s) {
    document.querySelectorAll(sel).forEach((el) => {
      el.dataset.visionfixVisibility = el.style.visibility;
      el.style.visibility = "hidden";
    });
  }
  return true;
})()`, encoded)
	restore := fmt.Sprintf(`(() => {
  for (const sel of %s) {
    document.querySelectorAll(sel).forEach((el) => {
      el.style.visibility = el.dataset.visionfixVisibility || "";
      delete el.dataset.visionfixVisibility;
    });
  }
  return true;
})()`, encoded)
	return hide, restore, nil
}

// ProbeBrowser checks that a headless browser can be started.
func ProbeBrowser(ctx context.Context) error {
	browserCtx, cancel := chromedp.NewContext(ctx)
	defer cancel()
	return chromedp.Run(browserCtx)
}
