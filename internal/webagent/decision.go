package webagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/xkilldash9x/statepilot/api/schemas"
	"github.com/xkilldash9x/statepilot/internal/registry"
)

// Decision is the model's choice of the next action.
type Decision struct {
	Action    string         `json:"action"`
	MMID      *int           `json:"mmid"`
	Params    map[string]any `json:"params"`
	Reasoning string         `json:"reasoning"`
}

// Step is one iteration of the agent loop as fed back to the model.
type Step struct {
	Index    int
	Decision Decision
	// Action is the concrete invocation dispatched, nil if resolution failed.
	Action  *schemas.Invocation
	Element string
	Err     error
}

func (s Step) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Step %d: %s", s.Index, s.Decision.Action)
	if s.Action != nil {
		fmt.Fprintf(&b, " %s", s.Action.String())
	}
	if s.Element != "" {
		fmt.Fprintf(&b, " on %s", s.Element)
	}
	if s.Decision.Reasoning != "" {
		fmt.Fprintf(&b, " (reason: %s)", s.Decision.Reasoning)
	}
	if s.Err != nil {
		fmt.Fprintf(&b, " -> FAILED: %v", s.Err)
	} else {
		b.WriteString(" -> ok")
	}
	return b.String()
}

// resolve turns a decision into a concrete invocation. For element actions
// with an mmid it pins the element's most stable selector and the absolute
// screen coordinates of its center, so replay never needs the annotation.
func resolve(ctx context.Context, annotator schemas.Annotator, d Decision, ann *schemas.Annotation) (schemas.Invocation, string, error) {
	name := strings.TrimSpace(d.Action)
	if name == "" {
		return schemas.Invocation{}, "", fmt.Errorf("decision has no action")
	}

	params := make(map[string]any, len(d.Params)+4)
	for k, v := range d.Params {
		if k == "mmid" {
			continue
		}
		params[k] = v
	}
	inv := schemas.Invocation{Type: name, Params: params}

	if d.MMID == nil || !registry.ElementActions[name] {
		return inv, "", nil
	}

	el, ok := ann.Elements[*d.MMID]
	if !ok {
		return inv, "", fmt.Errorf("no element with mmid %d on the current page", *d.MMID)
	}
	if by, selector := el.Selector(); selector != "" {
		params["by"] = by
		params["selector"] = selector
	}
	pt, err := annotator.ScreenCoordinates(ctx, el.Box, 0.5)
	if err != nil {
		return inv, el.Describe(), fmt.Errorf("computing coordinates for mmid %d: %w", *d.MMID, err)
	}
	params["x"] = pt.X
	params["y"] = pt.Y
	return inv, el.Describe(), nil
}
