// internal/browser/chrome.go
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/valpere/captchafill/internal/config"
	"github.com/valpere/captchafill/internal/page"
	"github.com/valpere/captchafill/internal/utils"
)

// Chrome is a chromedp-backed page session. It implements page.Querier,
// page.Capturer and page.Filler against the live document.
type Chrome struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	config      *config.BrowserConfig
	logger      *zap.Logger
	currentURL  string
}

// NewChrome starts a browser session.
func NewChrome(cfg *config.BrowserConfig, logger *zap.Logger) (*Chrome, error) {
	if cfg == nil {
		cfg = config.DefaultBrowserConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox, // Required for Docker environments
	}

	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	ctx, cancel := chromedp.NewContext(allocCtx)
	if cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
	}

	c := &Chrome{
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		config:      cfg,
		logger:      logger,
	}

	if err := chromedp.Run(ctx, chromedp.EmulateViewport(
		int64(cfg.ViewportWidth), int64(cfg.ViewportHeight))); err != nil {
		c.Close()
		return nil, utils.WrapError(utils.ErrCodeBrowserFailed, "failed to initialize browser", err)
	}

	return c, nil
}

// Navigate loads a URL and waits for the document body to be ready.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tasks := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	}
	if c.config.WaitDelay > 0 {
		tasks = append(tasks, chromedp.Sleep(c.config.WaitDelay))
	}

	if err := chromedp.Run(c.ctx, tasks...); err != nil {
		return utils.WrapError(utils.ErrCodeBrowserFailed,
			fmt.Sprintf("failed to navigate to %s", url), err)
	}

	c.currentURL = url
	c.logger.Debug("page loaded", zap.String("url", url))
	return nil
}

// URL returns the last successfully navigated URL.
func (c *Chrome) URL() string {
	return c.currentURL
}

// Query returns all elements matching selector, in document order, with
// their viewport bounding rectangles and attributes.
func (c *Chrome) Query(ctx context.Context, selector string) ([]page.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var elements []page.Element
	js := fmt.Sprintf(queryScript, selector)
	if err := chromedp.Run(c.ctx, chromedp.Evaluate(js, &elements)); err != nil {
		return nil, utils.WrapError(utils.ErrCodeBrowserFailed, "element query failed", err)
	}
	return elements, nil
}

// QueryScoped queries within the nearest form enclosing the anchor
// element, falling back to the document body.
func (c *Chrome) QueryScoped(ctx context.Context, anchor page.Element, selector string) ([]page.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result struct {
		Elements []page.Element `json:"elements"`
		Reason   string         `json:"error"`
	}
	js := fmt.Sprintf(queryScopedScript, anchor.Selector, anchor.Index, selector)
	if err := chromedp.Run(c.ctx, chromedp.Evaluate(js, &result)); err != nil {
		return nil, utils.WrapError(utils.ErrCodeBrowserFailed, "scoped element query failed", err)
	}
	if result.Reason != "" {
		return nil, utils.NewError(utils.ErrCodeBrowserFailed, result.Reason)
	}
	return result.Elements, nil
}

// CaptureImage rasterizes an image element through an off-screen canvas
// sized to the image's natural dimensions. When the canvas is tainted by
// cross-origin pixels, the returned capture carries the source URL instead
// of a data URL and Tainted is set.
func (c *Chrome) CaptureImage(ctx context.Context, img page.Element) (*page.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var capture page.Capture
	js := fmt.Sprintf(captureScript, img.Selector, img.Index)
	if err := chromedp.Run(c.ctx, chromedp.Evaluate(js, &capture)); err != nil {
		return nil, utils.WrapError(utils.ErrCodeBrowserFailed, "image capture failed", err)
	}

	switch capture.Reason {
	case "":
	case reasonContextUnavailable:
		// Setup-level failure: no fallback applies.
		return nil, utils.NewError(utils.ErrCodeContextUnavailable, capture.Reason)
	default:
		return nil, utils.NewError(utils.ErrCodeExtractionFailed, capture.Reason)
	}

	return &capture, nil
}

// FillInput writes the solved text into an input element and dispatches
// input and change events so page-side validation reacts.
func (c *Chrome) FillInput(ctx context.Context, input page.Element, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var filled bool
	js := fmt.Sprintf(fillScript, input.Selector, input.Index, value)
	if err := chromedp.Run(c.ctx, chromedp.Evaluate(js, &filled)); err != nil {
		return utils.WrapError(utils.ErrCodeBrowserFailed, "input fill failed", err)
	}
	if !filled {
		return utils.NewError(utils.ErrCodeBrowserFailed, "input element not found for fill")
	}

	c.logger.Debug("captcha input filled",
		zap.String("selector", input.Selector), zap.Int("index", input.Index))
	return nil
}

// Close shuts the browser down.
func (c *Chrome) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	return nil
}
