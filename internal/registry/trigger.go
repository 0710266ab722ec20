// internal/registry/trigger.go
package registry

import (
	"context"

	"github.com/xkilldash9x/statepilot/api/schemas"
)

// TriggerFunc evaluates a condition against the live page. It must not
// mutate the page.
type TriggerFunc func(ctx context.Context, args Args) (bool, error)

// TriggerRegistry maps trigger names to predicates with declared parameters.
type TriggerRegistry struct {
	t *table[TriggerFunc]
}

// NewTriggerRegistry returns an empty registry.
func NewTriggerRegistry() *TriggerRegistry {
	return &TriggerRegistry{t: newTable[TriggerFunc](KindTrigger)}
}

// Register adds a predicate. Names must be unique.
func (r *TriggerRegistry) Register(name string, params []Param, fn TriggerFunc) error {
	return r.t.register(name, params, fn)
}

// Check binds params strictly and evaluates the named predicate.
func (r *TriggerRegistry) Check(ctx context.Context, name string, params map[string]any) (bool, error) {
	fn, args, err := r.t.resolve(name, params)
	if err != nil {
		return false, err
	}
	return fn(ctx, args)
}

// Validate binds an invocation without evaluating it.
func (r *TriggerRegistry) Validate(inv schemas.Invocation) error {
	_, _, err := r.t.resolve(inv.Type, inv.Params)
	return err
}

func (r *TriggerRegistry) Has(name string) bool { return r.t.has(name) }

// List returns registered names in lexical order.
func (r *TriggerRegistry) List() []string { return r.t.names() }

// Params returns the declared parameters of name.
func (r *TriggerRegistry) Params(name string) ([]Param, bool) { return r.t.params(name) }
