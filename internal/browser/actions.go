// internal/browser/actions.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/statepilot/api/schemas"
	"github.com/xkilldash9x/statepilot/internal/humanoid"
)

const (
	// locateTimeout bounds how long a selector may take to appear before the
	// recorded coordinates are used instead.
	locateTimeout = 10 * time.Second
	pollInterval  = 100 * time.Millisecond
)

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.runActions(ctx, p.navigationTimeout(), chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

// locate waits for the target's selector and returns the viewport point at
// its percentage offset, scrolling it into view first when needed.
func (p *Page) locate(ctx context.Context, t schemas.Target) (schemas.Point, error) {
	pct := t.Percentage
	if pct == 0 {
		pct = 0.5
	}
	expr, err := jsCall("pointOf", normalizeBy(t.By), t.Selector, pct)
	if err != nil {
		return schemas.Point{}, err
	}
	var pt *schemas.Point
	err = p.runActions(ctx, locateTimeout+time.Second,
		chromedp.Evaluate(pageScript, nil),
		chromedp.Poll("window.__statepilot && "+expr, &pt,
			chromedp.WithPollingTimeout(locateTimeout),
			chromedp.WithPollingInterval(pollInterval)),
	)
	if err != nil {
		return schemas.Point{}, err
	}
	if pt == nil {
		return schemas.Point{}, fmt.Errorf("no element matches %s", t)
	}
	return *pt, nil
}

// resolve picks the point an element action operates on: the live selector
// first, the recorded coordinates when the selector cannot be found.
func (p *Page) resolve(ctx context.Context, action string, t schemas.Target) (schemas.Point, error) {
	if t.HasSelector() {
		pt, err := p.locate(ctx, t)
		if err == nil {
			return pt, nil
		}
		if ctx.Err() != nil {
			return schemas.Point{}, ctx.Err()
		}
		if t.Point == nil {
			return schemas.Point{}, fmt.Errorf("%s: element %s not found: %w", action, t, err)
		}
		p.logger.Warn("Could not locate element, falling back to coordinates.",
			zap.String("action", action),
			zap.String("target", t.String()),
			zap.Error(err))
	}
	if t.Point == nil {
		return schemas.Point{}, fmt.Errorf("%s requires a selector or x/y coordinates", action)
	}
	return *t.Point, nil
}

func (p *Page) Click(ctx context.Context, t schemas.Target) error {
	pt, err := p.resolve(ctx, "click", t)
	if err != nil {
		return err
	}
	if p.human != nil {
		return p.human.Click(ctx, humanoid.Vector2D{X: pt.X, Y: pt.Y})
	}
	return p.runActions(ctx, p.actionTimeout(), chromedp.MouseClickXY(pt.X, pt.Y))
}

func (p *Page) Move(ctx context.Context, t schemas.Target) error {
	pt, err := p.resolve(ctx, "move", t)
	if err != nil {
		return err
	}
	return p.moveTo(ctx, pt)
}

func (p *Page) moveTo(ctx context.Context, pt schemas.Point) error {
	if p.human != nil {
		return p.human.MoveTo(ctx, humanoid.Vector2D{X: pt.X, Y: pt.Y})
	}
	return p.runActions(ctx, p.actionTimeout(), chromedp.MouseEvent(input.MouseMoved, pt.X, pt.Y))
}

// Type focuses the target by clicking it, clears its content, then types text.
func (p *Page) Type(ctx context.Context, t schemas.Target, text string) error {
	if err := p.Click(ctx, t); err != nil {
		return err
	}
	clearField := []chromedp.Action{
		chromedp.KeyEvent("a", chromedp.KeyModifiers(input.ModifierCtrl)),
		chromedp.KeyEvent(kb.Delete),
	}
	if err := p.runActions(ctx, p.actionTimeout(), clearField...); err != nil {
		return fmt.Errorf("clearing %s: %w", t, err)
	}
	if p.human != nil {
		return p.human.Type(ctx, text)
	}
	return p.runActions(ctx, p.actionTimeout(), chromedp.KeyEvent(text))
}

// wheelDelta converts a direction into a signed vertical wheel delta.
func wheelDelta(direction string, pixels int) (float64, error) {
	switch strings.ToLower(direction) {
	case "down":
		return float64(pixels), nil
	case "up":
		return -float64(pixels), nil
	}
	return 0, fmt.Errorf("invalid scroll direction %q (expected up or down)", direction)
}

// Scroll turns the mouse wheel by pixels. With a target the pointer is moved
// over it first, so nested scroll containers receive the wheel.
func (p *Page) Scroll(ctx context.Context, direction string, pixels int, t *schemas.Target) error {
	dy, err := wheelDelta(direction, pixels)
	if err != nil {
		return err
	}
	at := p.viewportCenter()
	if t != nil && !t.Empty() {
		pt, err := p.resolve(ctx, "scroll", *t)
		if err != nil {
			return err
		}
		if err := p.moveTo(ctx, pt); err != nil {
			return err
		}
		at = pt
	}
	wheel := input.DispatchMouseEvent(input.MouseWheel, at.X, at.Y).WithDeltaX(0).WithDeltaY(dy)
	return p.runActions(ctx, p.actionTimeout(), wheel)
}

func (p *Page) viewportCenter() schemas.Point {
	w, h := p.cfg.Viewport.Width, p.cfg.Viewport.Height
	if w <= 0 || h <= 0 {
		w, h = 1280, 900
	}
	return schemas.Point{X: float64(w) / 2, Y: float64(h) / 2}
}

// ScrollTo brings the target's element into view; without a usable selector
// it moves the pointer to the recorded coordinates.
func (p *Page) ScrollTo(ctx context.Context, t schemas.Target) error {
	if t.HasSelector() {
		var found bool
		err := p.evaluate(ctx, &found, "scrollIntoView", normalizeBy(t.By), t.Selector)
		if err == nil && found {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if t.Point == nil {
			if err == nil {
				err = fmt.Errorf("no element matches %s", t)
			}
			return fmt.Errorf("scroll_to: %w", err)
		}
		p.logger.Warn("Could not scroll to element, falling back to coordinates.", zap.String("target", t.String()))
	}
	if t.Point == nil {
		return fmt.Errorf("scroll_to requires a selector or x/y coordinates")
	}
	return p.moveTo(ctx, *t.Point)
}

func (p *Page) PressKey(ctx context.Context, key string) error {
	k, err := keyFor(key)
	if err != nil {
		return err
	}
	return p.runActions(ctx, p.actionTimeout(), chromedp.KeyEvent(k))
}

func (p *Page) Wait(ctx context.Context, d time.Duration) error {
	return p.clock.Sleep(ctx, d)
}
