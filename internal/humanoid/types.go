// internal/humanoid/types.go
package humanoid

import "context"

// MouseEventType mirrors the CDP Input.dispatchMouseEvent type strings.
type MouseEventType string

const (
	MouseMove    MouseEventType = "mouseMoved"
	MousePress   MouseEventType = "mousePressed"
	MouseRelease MouseEventType = "mouseReleased"
)

// MouseButton mirrors the CDP button names.
type MouseButton string

const (
	ButtonNone MouseButton = "none"
	ButtonLeft MouseButton = "left"
)

// MouseEvent is a driver-agnostic mouse event.
type MouseEvent struct {
	Type       MouseEventType
	X, Y       float64
	Button     MouseButton
	ClickCount int
	// Buttons is the pressed-buttons bitfield (1 = left).
	Buttons int64
}

// Executor is what the humanoid needs from the browser layer.
type Executor interface {
	DispatchMouseEvent(ctx context.Context, ev MouseEvent) error
	// InsertText types text into the focused element.
	InsertText(ctx context.Context, text string) error
}
