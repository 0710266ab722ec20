// internal/registry/action.go
package registry

import (
	"context"

	"github.com/xkilldash9x/statepilot/api/schemas"
)

// Result is what an action reports back to its caller.
type Result struct {
	// Terminate asks the caller to stop the current action list. It is a
	// signal, not a failure.
	Terminate bool
	Reason    string
}

// ActionFunc performs one operation on the live page.
type ActionFunc func(ctx context.Context, args Args) (Result, error)

// ActionRegistry maps action names to operations with declared parameters.
type ActionRegistry struct {
	t *table[ActionFunc]
}

// NewActionRegistry returns an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{t: newTable[ActionFunc](KindAction)}
}

func (r *ActionRegistry) Register(name string, params []Param, fn ActionFunc) error {
	return r.t.register(name, params, fn)
}

// Execute binds params strictly and runs the named action.
func (r *ActionRegistry) Execute(ctx context.Context, name string, params map[string]any) (Result, error) {
	fn, args, err := r.t.resolve(name, params)
	if err != nil {
		return Result{}, err
	}
	return fn(ctx, args)
}

// Validate binds an invocation without executing it.
func (r *ActionRegistry) Validate(inv schemas.Invocation) error {
	_, _, err := r.t.resolve(inv.Type, inv.Params)
	return err
}

func (r *ActionRegistry) Has(name string) bool { return r.t.has(name) }

func (r *ActionRegistry) List() []string { return r.t.names() }

func (r *ActionRegistry) Params(name string) ([]Param, bool) { return r.t.params(name) }
