package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
)

// Options configures the Chrome launcher.
type Options struct {
	Headless        bool
	ExecPath        string
	NavigateTimeout time.Duration
}

// Chrome launches a dedicated headless Chrome process per session.
type Chrome struct {
	opts   Options
	logger *slog.Logger
}

func NewChrome(opts Options, logger *slog.Logger) *Chrome {
	if opts.NavigateTimeout <= 0 {
		opts.NavigateTimeout = 30 * time.Second
	}
	return &Chrome{opts: opts, logger: logger}
}

func (c *Chrome) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", c.opts.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if c.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.opts.ExecPath))
	}
	return opts
}

// Launch starts a browser and opens a blank tab. The returned session owns
// the browser process.
func (c *Chrome) Launch(ctx context.Context) (Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, c.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	if c.logger != nil {
		c.logger.Debug("browser session started", "headless", c.opts.Headless)
	}

	return &chromeSession{
		ctx:             tabCtx,
		cancel:          tabCancel,
		allocCancel:     allocCancel,
		navigateTimeout: c.opts.NavigateTimeout,
		logger:          c.logger,
	}, nil
}

type chromeSession struct {
	ctx             context.Context
	cancel          context.CancelFunc
	allocCancel     context.CancelFunc
	navigateTimeout time.Duration
	logger          *slog.Logger
	closed          bool
}

func (s *chromeSession) Navigate(url string) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.navigateTimeout)
	defer cancel()

	if err := chromedp.Run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *chromeSession) FindFirst(selectors []Selector, timeout time.Duration) (Element, Selector, error) {
	for _, sel := range selectors {
		node, err := s.find(sel, timeout)
		if err == nil {
			return node, sel, nil
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return nil, Selector{}, fmt.Errorf("find %s: %w", sel.Name, err)
		}
		if s.logger != nil {
			s.logger.Debug("unsubscribe element not found", "selector", sel.Name, "timeout", timeout)
		}
	}
	return nil, Selector{}, ErrNotFound
}

func (s *chromeSession) find(sel Selector, timeout time.Duration) (*cdp.Node, error) {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	var nodes []*cdp.Node
	err := chromedp.Run(ctx, chromedp.Nodes(sel.XPath, &nodes, chromedp.BySearch, chromedp.NodeVisible))
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, context.DeadlineExceeded
	}
	return nodes[0], nil
}

func (s *chromeSession) Click(el Element) error {
	node, ok := el.(*cdp.Node)
	if !ok {
		return fmt.Errorf("click: unexpected element type %T", el)
	}
	if err := chromedp.Run(s.ctx, chromedp.MouseClickNode(node)); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

// Close shuts the browser down and waits for the process to exit.
func (s *chromeSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := chromedp.Cancel(s.ctx)
	s.cancel()
	s.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}
