// internal/browser/probe.go
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/statepilot/api/schemas"
)

// queryOption maps a selector strategy onto a chromedp query option.
func queryOption(by string) (chromedp.QueryOption, error) {
	switch by {
	case schemas.ByCSS, "css", "":
		return chromedp.ByQueryAll, nil
	case schemas.ByXPath:
		return chromedp.BySearch, nil
	}
	return nil, fmt.Errorf("unsupported selector strategy %q", by)
}

// normalizeBy folds the short css alias into the canonical strategy name.
func normalizeBy(by string) string {
	if by == "css" || by == "" {
		return schemas.ByCSS
	}
	return by
}

func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := p.runActions(ctx, p.actionTimeout(), chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("reading current url: %w", err)
	}
	return url, nil
}

func (p *Page) CurrentTitle(ctx context.Context) (string, error) {
	var title string
	if err := p.runActions(ctx, p.actionTimeout(), chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("reading page title: %w", err)
	}
	return title, nil
}

// FindElement looks the selector up once without waiting; a miss is (nil, nil).
func (p *Page) FindElement(ctx context.Context, by, selector string) (*schemas.ElementHandle, error) {
	opt, err := queryOption(by)
	if err != nil {
		return nil, err
	}
	var nodes []*cdp.Node
	if err := p.runActions(ctx, p.actionTimeout(), chromedp.Nodes(selector, &nodes, opt, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("querying %s %q: %w", by, selector, err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return &schemas.ElementHandle{By: normalizeBy(by), Selector: selector, NodeID: int64(nodes[0].NodeID)}, nil
}

// IsVisibleInViewport reports whether the element is rendered (display,
// visibility and opacity) and its bounding rect lies fully inside the viewport.
func (p *Page) IsVisibleInViewport(ctx context.Context, el *schemas.ElementHandle) (bool, error) {
	if el == nil {
		return false, nil
	}
	var visible bool
	if err := p.evaluate(ctx, &visible, "isVisible", normalizeBy(el.By), el.Selector); err != nil {
		return false, fmt.Errorf("checking visibility of %q: %w", el.Selector, err)
	}
	return visible, nil
}

func (p *Page) InteractiveElements(ctx context.Context) ([]schemas.TriggerCandidate, error) {
	var out []schemas.TriggerCandidate
	if err := p.evaluate(ctx, &out, "candidates"); err != nil {
		return nil, fmt.Errorf("enumerating page elements: %w", err)
	}
	return out, nil
}
