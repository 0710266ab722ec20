// internal/browser/page.go
package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/statepilot/api/schemas"
	"github.com/xkilldash9x/statepilot/internal/clock"
	"github.com/xkilldash9x/statepilot/internal/config"
	"github.com/xkilldash9x/statepilot/internal/humanoid"
)

//go:embed js/page.js
var pageScript string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultActionTimeout     = 15 * time.Second
	defaultNavigationTimeout = 60 * time.Second
)

// Page is one browser tab. It implements schemas.Browser.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    config.BrowserConfig
	clock  clock.Clock
	logger *zap.Logger

	// human is nil unless browser.humanoid.enabled is set.
	human *humanoid.Humanoid

	closeOnce sync.Once
	onClose   func()
}

var _ schemas.Browser = (*Page)(nil)

func newPage(tabCtx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, clk clock.Clock, logger *zap.Logger, onClose func()) *Page {
	if clk == nil {
		clk = clock.Real()
	}
	p := &Page{
		ctx:     tabCtx,
		cancel:  cancel,
		cfg:     cfg,
		clock:   clk,
		logger:  logger.Named("page"),
		onClose: onClose,
	}
	if cfg.Humanoid.Enabled {
		p.human = humanoid.New(cfg.Humanoid, &cdpExecutor{page: p}, clk, nil, p.logger)
	}
	return p
}

// Close closes the tab. It is safe to call more than once.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		if p.onClose != nil {
			p.onClose()
		}
	})
}

func (p *Page) actionTimeout() time.Duration {
	if p.cfg.ActionTimeout > 0 {
		return p.cfg.ActionTimeout
	}
	return defaultActionTimeout
}

func (p *Page) navigationTimeout() time.Duration {
	if p.cfg.NavigationTimeout > 0 {
		return p.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

// combineContext derives a context from the tab that is also canceled when
// the caller's ctx is.
func combineContext(tabCtx, ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(tabCtx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// runActions executes actions on the tab, bounded by timeout and by ctx.
func (p *Page) runActions(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(p.ctx, ctx, timeout)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %v: %w", timeout, err)
	}
	return err
}

// jsCall renders a call to one of the injected page helpers.
func jsCall(fn string, args ...any) (string, error) {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("encoding argument %d of %s: %w", i, fn, err)
		}
		encoded[i] = string(b)
	}
	return fmt.Sprintf("window.__statepilot.%s(%s)", fn, strings.Join(encoded, ", ")), nil
}

// evaluate injects the page helpers (a no-op when already present) and runs
// fn with args, decoding the result into res.
func (p *Page) evaluate(ctx context.Context, res any, fn string, args ...any) error {
	expr, err := jsCall(fn, args...)
	if err != nil {
		return err
	}
	return p.runActions(ctx, p.actionTimeout(),
		chromedp.Evaluate(pageScript, nil),
		chromedp.Evaluate(expr, res),
	)
}
