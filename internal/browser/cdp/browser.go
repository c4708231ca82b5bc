// internal/browser/cdp/browser.go
package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Config drives the Chrome instance a fill run attaches to.
type Config struct {
	Headless          bool
	DisableGPU        bool
	ExecPath          string
	Args              []string
	NavigationTimeout time.Duration
	PostLoadWait      time.Duration
}

// Browser owns one Chrome process and the single tab the engine works in.
type Browser struct {
	cfg    Config
	logger *zap.Logger

	tab         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	tree        *Tree
}

// ExecOptions builds the allocator options for cfg on top of the chromedp defaults.
func ExecOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	// The defaults already include headless; turning it off has to override the flag.
	opts = append(opts, chromedp.Flag("headless", cfg.Headless))
	if cfg.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	for _, arg := range cfg.Args {
		arg = strings.TrimPrefix(strings.TrimSpace(arg), "--")
		if arg == "" {
			continue
		}
		// Boolean flags (e.g., no-zygote) carry no value.
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			opts = append(opts, chromedp.Flag(key, true))
			continue
		}
		opts = append(opts, chromedp.Flag(key, value))
	}
	return opts
}

// Launch starts Chrome and opens the working tab. The browser lives until Close or until
// ctx is canceled.
func Launch(ctx context.Context, cfg Config, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("browser")

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, ExecOptions(cfg)...)
	tab, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Debugf),
	)

	// The first Run spawns the process and attaches to the initial target.
	if err := chromedp.Run(tab); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	log.Info("Browser started.", zap.Bool("headless", cfg.Headless))

	return &Browser{
		cfg:         cfg,
		logger:      log,
		tab:         tab,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		tree:        NewTree(tab, logger),
	}, nil
}

// Tree returns the live element tree of the working tab.
func (b *Browser) Tree() *Tree {
	return b.tree
}

// Navigate loads url, waits for the body to be ready, then leaves the page PostLoadWait to
// finish its own client-side rendering.
func (b *Browser) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := CombineContext(b.tab, ctx)
	defer cancel()
	if b.cfg.NavigationTimeout > 0 {
		var cancelTimeout context.CancelFunc
		navCtx, cancelTimeout = context.WithTimeout(navCtx, b.cfg.NavigationTimeout)
		defer cancelTimeout()
	}

	b.logger.Info("Navigating.", zap.String("url", url))
	if err := chromedp.Run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("navigation to %s timed out after %s: %w", url, b.cfg.NavigationTimeout, err)
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}

	if b.cfg.PostLoadWait > 0 {
		select {
		case <-time.After(b.cfg.PostLoadWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// HTML returns the serialized document element of the current page.
func (b *Browser) HTML(ctx context.Context) (string, error) {
	runCtx, cancel := CombineContext(b.tab, ctx)
	defer cancel()

	var out string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &out, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to capture page HTML: %w", err)
	}
	return out, nil
}

// Close shuts down the tab and the browser process.
func (b *Browser) Close() error {
	b.cancelTab()
	b.cancelAlloc()
	b.logger.Info("Browser closed.")
	return nil
}
