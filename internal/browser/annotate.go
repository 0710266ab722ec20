// internal/browser/annotate.go
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/statepilot/api/schemas"
)

const (
	annotateAttempts   = 3
	annotateRetryDelay = 2 * time.Second
)

// Annotate tags the interactive elements in the viewport with mmids and
// captures a screenshot. Pages mid-navigation are retried a few times.
func (p *Page) Annotate(ctx context.Context) (*schemas.Annotation, error) {
	var ann *schemas.Annotation
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		ann, err = p.annotateOnce(ctx)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err != nil {
			p.logger.Debug("Annotation attempt failed.", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(annotateRetryDelay), annotateAttempts-1)
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("annotating page after %d attempt(s): %w", attempt, err)
	}
	return ann, nil
}

func (p *Page) annotateOnce(ctx context.Context) (*schemas.Annotation, error) {
	var (
		elements   []schemas.AnnotatedElement
		url, title string
		screenshot []byte
	)
	expr, err := jsCall("annotate")
	if err != nil {
		return nil, err
	}
	err = p.runActions(ctx, p.actionTimeout(),
		chromedp.Location(&url),
		chromedp.Title(&title),
		chromedp.Evaluate(pageScript, nil),
		chromedp.Evaluate(expr, &elements),
		chromedp.CaptureScreenshot(&screenshot),
	)
	if err != nil {
		return nil, err
	}
	return newAnnotation(url, title, elements, screenshot), nil
}

func newAnnotation(url, title string, elements []schemas.AnnotatedElement, screenshot []byte) *schemas.Annotation {
	ann := &schemas.Annotation{
		URL:        url,
		Title:      title,
		Elements:   make(map[int]schemas.AnnotatedElement, len(elements)),
		Screenshot: screenshot,
	}
	for _, el := range elements {
		ann.Elements[el.MMID] = el
	}
	return ann
}

type scrollOffset struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ScreenCoordinates converts a document-space box into the viewport point
// input events are dispatched at. CDP input is relative to the viewport, so
// there is no window or browser-chrome offset to add.
func (p *Page) ScreenCoordinates(ctx context.Context, box schemas.Rect, pct float64) (schemas.Point, error) {
	var off scrollOffset
	if err := p.evaluate(ctx, &off, "scrollOffset"); err != nil {
		return schemas.Point{}, fmt.Errorf("reading scroll offset: %w", err)
	}
	return screenPoint(box, off, pct), nil
}

func screenPoint(box schemas.Rect, off scrollOffset, pct float64) schemas.Point {
	return schemas.Point{
		X: box.X - off.X + box.Width*pct,
		Y: box.Y - off.Y + box.Height*0.5,
	}
}
