// internal/controller/controller.go
package controller

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/statepilot/api/schemas"
)

// TriggerChecker evaluates one trigger invocation.
type TriggerChecker interface {
	Check(ctx context.Context, name string, params map[string]any) (bool, error)
}

// AmbiguousMatchError is returned when several states match while
// multiplicity is disallowed.
type AmbiguousMatchError struct {
	States []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("multiple states matched: %s", strings.Join(e.States, ", "))
}

// ProgramController selects the states whose checks currently hold.
type ProgramController struct {
	triggers      TriggerChecker
	allowMultiple bool
	logger        *zap.Logger
}

// New creates a ProgramController.
func New(triggers TriggerChecker, allowMultiple bool, logger *zap.Logger) *ProgramController {
	return &ProgramController{
		triggers:      triggers,
		allowMultiple: allowMultiple,
		logger:        logger.Named("program_controller"),
	}
}

// Check returns every state whose full conjunction of checks holds, in
// repository order. A state with no checks always matches.
func (c *ProgramController) Check(ctx context.Context, states []schemas.State) ([]schemas.State, error) {
	var matched []schemas.State
	for _, state := range states {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.holds(ctx, state) {
			matched = append(matched, state)
		}
	}

	if len(matched) > 1 && !c.allowMultiple {
		return matched, &AmbiguousMatchError{States: schemas.StateNames(matched)}
	}
	return matched, nil
}

// holds evaluates checks in order and stops at the first that does not pass.
// Trigger errors count as a failed check.
func (c *ProgramController) holds(ctx context.Context, state schemas.State) bool {
	for i, check := range state.Checks {
		ok, err := c.triggers.Check(ctx, check.Type, check.Params)
		if err != nil {
			c.logger.Warn("Trigger evaluation failed; treating as not matched.",
				zap.String("state", state.Name),
				zap.Int("check_index", i+1),
				zap.String("trigger", check.Type),
				zap.Error(err),
			)
			return false
		}
		if !ok {
			c.logger.Debug("State check did not hold.",
				zap.String("state", state.Name),
				zap.Int("check_index", i+1),
				zap.String("trigger", check.Type),
			)
			return false
		}
	}
	return true
}
