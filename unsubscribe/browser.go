package unsubscribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dhcgn/imap-unsubscribe/browser"
	"github.com/dhcgn/imap-unsubscribe/model"
)

// BrowserOptions configures the interactive strategy.
type BrowserOptions struct {
	WaitTimeout time.Duration
	SettleDelay time.Duration
	Selectors   []browser.Selector
}

// BrowserStrategy opens the candidate URL in a fresh browser session and
// clicks the first unsubscribe control it finds.
type BrowserStrategy struct {
	launcher browser.Launcher
	opts     BrowserOptions
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration)
}

func NewBrowserStrategy(launcher browser.Launcher, opts BrowserOptions, logger *slog.Logger) *BrowserStrategy {
	if len(opts.Selectors) == 0 {
		opts.Selectors = browser.UnsubscribeSelectors
	}
	return &BrowserStrategy{
		launcher: launcher,
		opts:     opts,
		logger:   logger,
		sleep:    sleepContext,
	}
}

func (b *BrowserStrategy) Name() string {
	return "browser"
}

func (b *BrowserStrategy) Attempt(ctx context.Context, c model.Candidate) bool {
	ok, err := b.attempt(ctx, c)
	if err != nil {
		if b.logger != nil {
			b.logger.Error("browser error", "url", c.URL, "err", err)
		}
		return false
	}
	return ok
}

func (b *BrowserStrategy) attempt(ctx context.Context, c model.Candidate) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("panic: %v", r)
		}
	}()

	session, err := b.launcher.Launch(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil && b.logger != nil {
			b.logger.Warn("browser close failed", "url", c.URL, "err", closeErr)
		}
	}()

	if err := session.Navigate(c.URL); err != nil {
		return false, err
	}

	el, sel, err := session.FindFirst(b.opts.Selectors, b.opts.WaitTimeout)
	if errors.Is(err, browser.ErrNotFound) {
		if b.logger != nil {
			b.logger.Info("no unsubscribe element found", "url", c.URL)
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := session.Click(el); err != nil {
		return false, err
	}
	if b.logger != nil {
		b.logger.Debug("clicked unsubscribe element", "url", c.URL, "selector", sel.Name)
	}

	b.sleep(ctx, b.opts.SettleDelay)
	return true, nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
