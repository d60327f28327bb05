package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	navigationSettle = 2 * time.Second
	actionTimeout    = 30 * time.Second
)

// Chrome drives a headless Chrome instance through chromedp. Each instance
// owns its own browser context and is safe for sequential use only.
type Chrome struct {
	ctx     context.Context
	cancels []context.CancelFunc
	logger  *zap.Logger
}

// ChromeConfig controls the launched browser.
type ChromeConfig struct {
	Headless bool `mapstructure:"headless"`
}

// NewChrome launches a browser context. The returned session must be closed.
func NewChrome(ctx context.Context, cfg ChromeConfig, logger *zap.Logger) (*Chrome, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Start the browser eagerly so launch failures surface here, not at the
	// first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	return &Chrome{
		ctx:     browserCtx,
		cancels: []context.CancelFunc{cancelBrowser, cancelAlloc},
		logger:  logger,
	}, nil
}

func (c *Chrome) Close() error {
	for _, cancel := range c.cancels {
		cancel()
	}
	return nil
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	c.logger.Debug("navigating", zap.String("url", url))

	return c.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(navigationSettle),
	)
}

// QueryElements evaluates the selector in the page and returns every match
// with its visible text and center coordinates.
func (c *Chrome) QueryElements(ctx context.Context, selector string) ([]Element, error) {
	script := fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map((el) => {
		const r = el.getBoundingClientRect();
		return {
			text: (el.innerText || el.value || el.getAttribute('aria-label') || '').trim(),
			x: r.x + r.width / 2,
			y: r.y + r.height / 2,
			visible: r.width > 0 && r.height > 0
		};
	})`, selector)

	var raw []struct {
		Text    string  `json:"text"`
		X       float64 `json:"x"`
		Y       float64 `json:"y"`
		Visible bool    `json:"visible"`
	}
	if err := c.run(ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return nil, err
	}

	elements := make([]Element, 0, len(raw))
	for _, item := range raw {
		elements = append(elements, Element{
			Selector: selector,
			Text:     item.Text,
			X:        item.X,
			Y:        item.Y,
			Visible:  item.Visible,
		})
	}
	return elements, nil
}

func (c *Chrome) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := c.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *Chrome) Click(ctx context.Context, target Target) error {
	if target.ByCoordinates() {
		return c.run(ctx, chromedp.MouseClickXY(target.X, target.Y))
	}
	return c.run(ctx, chromedp.Click(target.Selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (c *Chrome) TypeText(ctx context.Context, selector, value string) error {
	return c.run(ctx, chromedp.SendKeys(selector, value, chromedp.ByQuery))
}

func (c *Chrome) UploadFile(ctx context.Context, selector, path string) error {
	return c.run(ctx, chromedp.SetUploadFiles(selector, []string{path}, chromedp.ByQuery))
}

// run executes chromedp actions under the per-action timeout and classifies
// failures into the transient/crash taxonomy.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(c.ctx, actionTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(runCtx, actions...)
	}()

	select {
	case <-ctx.Done():
		return &TransientError{Err: ctx.Err()}
	case err := <-done:
		return classify(err)
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Err: err}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "net::ERR"),
		strings.Contains(msg, "could not find node"),
		strings.Contains(msg, "waiting for selector"):
		return &TransientError{Err: err}
	case strings.Contains(msg, "websocket"),
		strings.Contains(msg, "context canceled"),
		strings.Contains(msg, "browser process"):
		return fmt.Errorf("%w: %v", ErrCrashed, err)
	default:
		return err
	}
}
