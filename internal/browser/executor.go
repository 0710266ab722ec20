// internal/browser/executor.go
package browser

import (
	"context"

	"github.com/chromedp/cdproto/input"

	"github.com/xkilldash9x/statepilot/internal/humanoid"
)

// cdpExecutor adapts a Page to humanoid.Executor.
type cdpExecutor struct {
	page *Page
}

var _ humanoid.Executor = (*cdpExecutor)(nil)

// mouseParams translates an agnostic event into CDP parameters.
func mouseParams(ev humanoid.MouseEvent) *input.DispatchMouseEventParams {
	p := input.DispatchMouseEvent(input.MouseType(ev.Type), ev.X, ev.Y).
		WithButton(input.MouseButton(ev.Button)).
		WithButtons(ev.Buttons)
	if ev.ClickCount > 0 {
		p = p.WithClickCount(int64(ev.ClickCount))
	}
	return p
}

func (e *cdpExecutor) DispatchMouseEvent(ctx context.Context, ev humanoid.MouseEvent) error {
	return e.page.runActions(ctx, e.page.actionTimeout(), mouseParams(ev))
}

func (e *cdpExecutor) InsertText(ctx context.Context, text string) error {
	return e.page.runActions(ctx, e.page.actionTimeout(), input.InsertText(text))
}
