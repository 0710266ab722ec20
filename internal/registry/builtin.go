// internal/registry/builtin.go
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/statepilot/api/schemas"
	"github.com/xkilldash9x/statepilot/internal/clock"
)

// Built-in trigger and action names.
const (
	TriggerElement = "element"
	TriggerURL     = "url"
	TriggerText    = "text"

	ActionClick     = "click"
	ActionType      = "type"
	ActionScroll    = "scroll"
	ActionScrollTo  = "scroll_to"
	ActionMove      = "move"
	ActionPressKey  = "press_key"
	ActionNavigate  = "navigate"
	ActionWait      = "wait"
	ActionTerminate = "terminate"
)

const (
	defaultTriggerTimeout = 0.1 // seconds
	pollInterval          = 50 * time.Millisecond
	defaultTerminate      = "Task completed"
)

// ElementActions take a target and may carry resolved coordinates.
var ElementActions = map[string]bool{
	ActionClick:    true,
	ActionType:     true,
	ActionScroll:   true,
	ActionScrollTo: true,
	ActionMove:     true,
}

func targetParams(withPercentage bool) []Param {
	params := []Param{
		Opt("by", String, nil),
		Opt("selector", String, nil),
		Opt("x", Number, nil),
		Opt("y", Number, nil),
	}
	if withPercentage {
		params = append(params, Opt("percentage", Number, 0.5))
	}
	return params
}

// NewDefaultTriggerRegistry registers element, url and text on probe.
func NewDefaultTriggerRegistry(probe schemas.PageProbe, clk clock.Clock) (*TriggerRegistry, error) {
	r := NewTriggerRegistry()
	b := &builtinTriggers{probe: probe, clock: clk}

	regs := []struct {
		name   string
		params []Param
		fn     TriggerFunc
	}{
		{TriggerElement, []Param{
			Req("by", String),
			Req("selector", String),
			Opt("check_visibility", Bool, true),
			Opt("timeout", Number, defaultTriggerTimeout),
		}, b.element},
		{TriggerURL, []Param{Req("url", String)}, b.url},
		{TriggerText, []Param{
			Req("text", String),
			Opt("check_visibility", Bool, true),
			Opt("timeout", Number, defaultTriggerTimeout),
		}, b.text},
	}
	for _, reg := range regs {
		if err := r.Register(reg.name, reg.params, reg.fn); err != nil {
			return nil, err
		}
	}
	return r, nil
}

type builtinTriggers struct {
	probe schemas.PageProbe
	clock clock.Clock
}

func (b *builtinTriggers) element(ctx context.Context, args Args) (bool, error) {
	return b.present(ctx, normalizeBy(args.String("by")), args.String("selector"), args.Bool("check_visibility"), args.Float("timeout"))
}

func (b *builtinTriggers) url(ctx context.Context, args Args) (bool, error) {
	current, err := b.probe.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	return current == args.String("url"), nil
}

func (b *builtinTriggers) text(ctx context.Context, args Args) (bool, error) {
	xpath := fmt.Sprintf("//*[normalize-space(text())=%s]", XPathLiteral(args.String("text")))
	return b.present(ctx, schemas.ByXPath, xpath, args.Bool("check_visibility"), args.Float("timeout"))
}

// present polls for the element until timeout seconds have passed, then
// optionally requires it to sit fully inside the viewport.
func (b *builtinTriggers) present(ctx context.Context, by, selector string, checkVisibility bool, timeout float64) (bool, error) {
	deadline := b.clock.Now().Add(time.Duration(timeout * float64(time.Second)))
	for {
		el, err := b.probe.FindElement(ctx, by, selector)
		if err != nil {
			return false, err
		}
		if el != nil {
			if !checkVisibility {
				return true, nil
			}
			return b.probe.IsVisibleInViewport(ctx, el)
		}
		if !b.clock.Now().Before(deadline) {
			return false, nil
		}
		if err := b.clock.Sleep(ctx, pollInterval); err != nil {
			return false, err
		}
	}
}

// NewDefaultActionRegistry registers the built-in actions on driver.
func NewDefaultActionRegistry(driver schemas.ActionDriver) (*ActionRegistry, error) {
	r := NewActionRegistry()
	b := &builtinActions{driver: driver}

	regs := []struct {
		name   string
		params []Param
		fn     ActionFunc
	}{
		{ActionClick, targetParams(true), b.click},
		{ActionType, append([]Param{Req("text", String)}, targetParams(false)...), b.typeText},
		{ActionScroll, append([]Param{Req("pixels", Integer), Req("direction", String)}, targetParams(false)...), b.scroll},
		{ActionScrollTo, targetParams(false), b.scrollTo},
		{ActionMove, targetParams(true), b.move},
		{ActionPressKey, []Param{Req("key", String)}, b.pressKey},
		{ActionNavigate, []Param{Req("url", String)}, b.navigate},
		{ActionWait, []Param{Req("seconds", Number)}, b.wait},
		{ActionTerminate, []Param{Opt("reason", String, defaultTerminate)}, terminate},
	}
	for _, reg := range regs {
		if err := r.Register(reg.name, reg.params, reg.fn); err != nil {
			return nil, err
		}
	}
	return r, nil
}

type builtinActions struct {
	driver schemas.ActionDriver
}

// TargetFromArgs builds a Target from bound by/selector/x/y/percentage args.
func TargetFromArgs(args Args) schemas.Target {
	t := schemas.Target{
		Selector:   args.String("selector"),
		Percentage: args.Float("percentage"),
	}
	if t.Selector != "" {
		t.By = normalizeBy(args.String("by"))
	}
	if args.Has("x") && args.Has("y") {
		t.Point = &schemas.Point{X: args.Float("x"), Y: args.Float("y")}
	}
	return t
}

func requireTarget(action string, args Args) (schemas.Target, error) {
	t := TargetFromArgs(args)
	if t.Empty() {
		return t, fmt.Errorf("%s requires a selector or x/y coordinates", action)
	}
	return t, nil
}

func (b *builtinActions) click(ctx context.Context, args Args) (Result, error) {
	t, err := requireTarget(ActionClick, args)
	if err != nil {
		return Result{}, err
	}
	return Result{}, b.driver.Click(ctx, t)
}

func (b *builtinActions) typeText(ctx context.Context, args Args) (Result, error) {
	t, err := requireTarget(ActionType, args)
	if err != nil {
		return Result{}, err
	}
	return Result{}, b.driver.Type(ctx, t, args.String("text"))
}

func (b *builtinActions) scroll(ctx context.Context, args Args) (Result, error) {
	direction := strings.ToLower(args.String("direction"))
	switch direction {
	case "up", "down":
	default:
		return Result{}, fmt.Errorf("scroll direction must be up or down, got %q", direction)
	}
	var target *schemas.Target
	if t := TargetFromArgs(args); !t.Empty() {
		target = &t
	}
	return Result{}, b.driver.Scroll(ctx, direction, args.Int("pixels"), target)
}

func (b *builtinActions) scrollTo(ctx context.Context, args Args) (Result, error) {
	t, err := requireTarget(ActionScrollTo, args)
	if err != nil {
		return Result{}, err
	}
	return Result{}, b.driver.ScrollTo(ctx, t)
}

func (b *builtinActions) move(ctx context.Context, args Args) (Result, error) {
	t, err := requireTarget(ActionMove, args)
	if err != nil {
		return Result{}, err
	}
	return Result{}, b.driver.Move(ctx, t)
}

func (b *builtinActions) pressKey(ctx context.Context, args Args) (Result, error) {
	return Result{}, b.driver.PressKey(ctx, args.String("key"))
}

func (b *builtinActions) navigate(ctx context.Context, args Args) (Result, error) {
	return Result{}, b.driver.Navigate(ctx, args.String("url"))
}

func (b *builtinActions) wait(ctx context.Context, args Args) (Result, error) {
	seconds := args.Float("seconds")
	if seconds < 0 {
		return Result{}, fmt.Errorf("wait seconds must not be negative, got %v", seconds)
	}
	return Result{}, b.driver.Wait(ctx, time.Duration(seconds*float64(time.Second)))
}

func terminate(_ context.Context, args Args) (Result, error) {
	return Result{Terminate: true, Reason: args.String("reason")}, nil
}

// normalizeBy maps the accepted spellings of a selector strategy onto the
// canonical constants. An empty strategy means CSS.
func normalizeBy(by string) string {
	switch strings.ToLower(strings.TrimSpace(by)) {
	case "", "css", "css selector", "css_selector":
		return schemas.ByCSS
	case "xpath":
		return schemas.ByXPath
	}
	return by
}

// XPathLiteral quotes s as an XPath 1.0 string literal.
func XPathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+p+"'")
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
