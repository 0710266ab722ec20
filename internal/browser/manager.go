// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/statepilot/internal/clock"
	"github.com/xkilldash9x/statepilot/internal/config"
)

const launchTimeout = 30 * time.Second

// Manager owns the Chrome process. Pages are tabs derived from its allocator.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	// allocatorCtx scopes the browser process; every page context derives from it.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// wg tracks open pages for Shutdown.
	wg sync.WaitGroup
}

// NewManager launches Chrome and verifies it responds.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
	}
	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator...", zap.Bool("headless", m.cfg.Headless))

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, m.allocatorOptions()...)
	m.allocatorCtx = allocCtx
	m.allocatorCancel = cancel

	testCtx, cancelTest := context.WithTimeout(allocCtx, launchTimeout)
	defer cancelTest()
	testCtx, cancelTab := chromedp.NewContext(testCtx)
	defer cancelTab()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		m.allocatorCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched and responsive.")
	return nil
}

// allocatorOptions layers the configured flags over chromedp's defaults.
func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	flags := allocatorFlags(m.cfg, runtime.GOOS)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}
	return opts
}

// allocatorFlags maps the browser config onto Chrome command-line flags. A
// false value removes a flag set by the defaults.
func allocatorFlags(cfg config.BrowserConfig, goos string) map[string]any {
	flags := map[string]any{
		"enable-automation":         false,
		"headless":                  cfg.Headless,
		"ignore-certificate-errors": cfg.IgnoreTLSErrors,
		"disable-blink-features":    "AutomationControlled",
		"disable-extensions":        true,
		"disable-gpu":               cfg.Headless,
		"no-first-run":              true,
		"no-default-browser-check":  true,
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", cfg.Viewport.Width, cfg.Viewport.Height)
	}
	if cfg.UserAgent != "" {
		flags["user-agent"] = cfg.UserAgent
	}
	if cfg.UserDataDir != "" {
		flags["user-data-dir"] = cfg.UserDataDir
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}

	// Containers on Linux need these to start at all.
	if goos == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
		flags["disable-setuid-sandbox"] = true
	}
	return flags
}

// NewPage opens a tab, applies the viewport, and loads the configured start
// URL (about:blank when unset).
func (m *Manager) NewPage(ctx context.Context, clk clock.Clock) (*Page, error) {
	tabCtx, cancel := chromedp.NewContext(m.allocatorCtx)

	startURL := m.cfg.StartURL
	if startURL == "" {
		startURL = "about:blank"
	}
	setup := []chromedp.Action{chromedp.Navigate(startURL)}
	if m.cfg.Viewport.Width > 0 && m.cfg.Viewport.Height > 0 {
		setup = append([]chromedp.Action{
			emulation.SetDeviceMetricsOverride(int64(m.cfg.Viewport.Width), int64(m.cfg.Viewport.Height), 1.0, false),
		}, setup...)
	}

	m.wg.Add(1)
	p := newPage(tabCtx, cancel, m.cfg, clk, m.logger, m.wg.Done)
	if err := p.runActions(ctx, p.navigationTimeout(), setup...); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to open page at %s: %w", startURL, err)
	}
	m.logger.Debug("Page opened.", zap.String("url", startURL))
	return p, nil
}

// Shutdown waits for open pages to close, then ends the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated.")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	if m.allocatorCancel != nil {
		m.allocatorCancel()
		<-m.allocatorCtx.Done()
	}
	return nil
}
