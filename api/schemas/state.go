// api/schemas/state.go
package schemas

import (
	"fmt"
	"strings"
)

// Invocation names a registered trigger or action together with the
// parameters it should be bound to. Both checks and actions share this shape.
type Invocation struct {
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params" yaml:"params"`
}

// String renders the invocation as type(k=v, ...) with keys in a stable order.
func (i Invocation) String() string {
	keys := SortedKeys(i.Params)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, i.Params[k]))
	}
	return fmt.Sprintf("%s(%s)", i.Type, strings.Join(parts, ", "))
}

// Clone returns a copy whose Params map can be mutated independently. A nil
// Params map stays nil.
func (i Invocation) Clone() Invocation {
	if i.Params == nil {
		return Invocation{Type: i.Type}
	}
	params := make(map[string]any, len(i.Params))
	for k, v := range i.Params {
		params[k] = v
	}
	return Invocation{Type: i.Type, Params: params}
}

// StateConfig holds optional per-state behaviour switches.
type StateConfig struct {
	// Continuous states may match on consecutive iterations without tripping
	// the repetition timeout.
	Continuous bool `json:"continuous,omitempty" yaml:"continuous,omitempty"`
}

// State is a named bundle of a trigger conjunction and an ordered action list.
type State struct {
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description" yaml:"description"`
	Checks      []Invocation `json:"checks" yaml:"checks"`
	Actions     []Invocation `json:"actions" yaml:"actions"`
	// EndState, when non-empty, ends the run successfully with this message
	// once the state's actions have executed.
	EndState string       `json:"end_state,omitempty" yaml:"end_state,omitempty"`
	Config   *StateConfig `json:"config,omitempty" yaml:"config,omitempty"`
	// Executed lists the states synthesized from the template of the same name.
	Executed []State `json:"executed,omitempty" yaml:"executed,omitempty"`
}

// IsContinuous reports whether the state is exempt from the repetition timer.
func (s State) IsContinuous() bool {
	return s.Config != nil && s.Config.Continuous
}

// IsEndState reports whether executing the state finishes the run.
func (s State) IsEndState() bool {
	return s.EndState != ""
}

// StatePrompt is a caller-authored template describing a workflow step in
// natural language. Synthesis resolves it into a concrete State.
type StatePrompt struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Triggers    []string `json:"triggers" yaml:"triggers"`
	Actions     []string `json:"actions" yaml:"actions"`
	EndState    string   `json:"end_state,omitempty" yaml:"end_state,omitempty"`
}

// String renders the template as the markdown block shown to the model.
func (p StatePrompt) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## State: %s\n", p.Name)
	fmt.Fprintf(&b, "- **Description:** %s\n", p.Description)
	b.WriteString("- **Triggers:**\n")
	for _, t := range p.Triggers {
		fmt.Fprintf(&b, "  - %s\n", t)
	}
	b.WriteString("- **Actions:**\n")
	for _, a := range p.Actions {
		fmt.Fprintf(&b, "  - %s\n", a)
	}
	if p.EndState != "" {
		fmt.Fprintf(&b, "- **End State:** %s\n", p.EndState)
	}
	return b.String()
}

// StateNames returns the names of the given states in order.
func StateNames(states []State) []string {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = s.Name
	}
	return names
}
