// Package browser launches chromedp sessions with a fixed identity and
// replays persisted authentication state into each of them.
package browser

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/statement-crawler/internal/crawler"
)

// Config controls the browser identity and timeouts.
type Config struct {
	UserAgent         string
	ViewportWidth     int
	ViewportHeight    int
	ExecPath          string
	Headless          bool
	NavigationTimeout time.Duration
	// SettleDelay is waited after load so late scripts (math renderers) finish.
	SettleDelay time.Duration
	StateFile   string
}

func (c Config) withDefaults() Config {
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1920
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 1080
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	return c
}

// Launcher starts one Chrome process per session.
type Launcher struct {
	cfg     Config
	cookies []*network.CookieParam
	logger  *zap.Logger
}

// NewLauncher loads the storage state once and returns a Launcher.
func NewLauncher(cfg Config, logger *zap.Logger) (*Launcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cookies, err := LoadStorageState(cfg.StateFile)
	if err != nil {
		return nil, err
	}
	if cfg.StateFile != "" {
		logger.Info("loaded browser storage state",
			zap.String("path", cfg.StateFile),
			zap.Int("cookies", len(cookies)),
		)
	}
	return &Launcher{cfg: cfg.withDefaults(), cookies: cookies, logger: logger}, nil
}

func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.NoSandbox,
		chromedp.WindowSize(l.cfg.ViewportWidth, l.cfg.ViewportHeight),
	)
	if l.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if l.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	return opts
}

// Launch implements crawler.SessionLauncher. The browser lives until the
// session is closed or ctx is canceled.
func (l *Launcher) Launch(ctx context.Context) (crawler.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	setupCtx, cancel := context.WithTimeout(browserCtx, l.cfg.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(setupCtx, l.setupAction()); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return &Session{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		cfg:         l.cfg,
	}, nil
}

func (l *Launcher) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if l.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(l.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if err := emulation.SetDeviceMetricsOverride(int64(l.cfg.ViewportWidth), int64(l.cfg.ViewportHeight), 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if len(l.cookies) > 0 {
			if err := network.SetCookies(l.cookies).Do(ctx); err != nil {
				return fmt.Errorf("restore cookies: %w", err)
			}
		}
		return nil
	})
}

// Session drives one browser tab.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	cfg         Config
}

// run executes actions bounded by both the navigation timeout and ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, s.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads url and waits for the document body.
func (s *Session) Navigate(ctx context.Context, url string) error {
	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if s.cfg.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(s.cfg.SettleDelay))
	}
	if err := s.run(ctx, actions...); err != nil {
		return fmt.Errorf("chromedp navigate: %w", err)
	}
	return nil
}

// Eval runs script in the page.
func (s *Session) Eval(ctx context.Context, script string) error {
	if err := s.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("chromedp evaluate: %w", err)
	}
	return nil
}

// OuterHTML returns the markup of the first element matching selector.
func (s *Session) OuterHTML(ctx context.Context, selector string) (string, error) {
	if err := s.requireVisible(ctx, selector); err != nil {
		return "", err
	}
	var html string
	if err := s.run(ctx, chromedp.OuterHTML(selector, &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("chromedp outer html: %w", err)
	}
	return html, nil
}

// Screenshot captures the first element matching selector as PNG.
func (s *Session) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	if err := s.requireVisible(ctx, selector); err != nil {
		return nil, err
	}
	var buf []byte
	if err := s.run(ctx, chromedp.Screenshot(selector, &buf, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("chromedp screenshot: %w", err)
	}
	return buf, nil
}

func (s *Session) requireVisible(ctx context.Context, selector string) error {
	var visible bool
	if err := s.run(ctx, chromedp.Evaluate(visibilityScript(selector), &visible)); err != nil {
		return fmt.Errorf("chromedp visibility check: %w", err)
	}
	if !visible {
		return fmt.Errorf("%w: %s", crawler.ErrStatementNotFound, selector)
	}
	return nil
}

func visibilityScript(selector string) string {
	return `(() => {
	const el = document.querySelector(` + strconv.Quote(selector) + `);
	if (!el) { return false; }
	const style = window.getComputedStyle(el);
	const rect = el.getBoundingClientRect();
	return style.display !== "none" && style.visibility !== "hidden" && rect.width > 0 && rect.height > 0;
})()`
}

// Close shuts the browser down.
func (s *Session) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	s.allocCancel()
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}
