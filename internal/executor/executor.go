// internal/executor/executor.go
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/statepilot/api/schemas"
	"github.com/xkilldash9x/statepilot/internal/clock"
	"github.com/xkilldash9x/statepilot/internal/registry"
)

// ActionRunner dispatches one action invocation.
type ActionRunner interface {
	Execute(ctx context.Context, name string, params map[string]any) (registry.Result, error)
}

// StateExecutionError wraps the first failing action of a state.
type StateExecutionError struct {
	StateName string
	// ActionIndex is 1-based.
	ActionIndex int
	Action      schemas.Invocation
	Cause       error
}

func (e *StateExecutionError) Error() string {
	return fmt.Sprintf("state '%s' failed at action %d (%s): %v", e.StateName, e.ActionIndex, e.Action.Type, e.Cause)
}

func (e *StateExecutionError) Unwrap() error { return e.Cause }

// Outcome reports how a state's action list ended.
type Outcome struct {
	// Executed is the number of actions dispatched.
	Executed int
	// Terminated is set when a terminate action stopped the list early.
	Terminated bool
	Reason     string
}

// StateExecutor replays a state's actions in order with fixed pacing.
type StateExecutor struct {
	actions      ActionRunner
	actionPeriod time.Duration
	clock        clock.Clock
	logger       *zap.Logger
}

// New creates a StateExecutor.
func New(actions ActionRunner, actionPeriod time.Duration, clk clock.Clock, logger *zap.Logger) *StateExecutor {
	return &StateExecutor{
		actions:      actions,
		actionPeriod: actionPeriod,
		clock:        clk,
		logger:       logger.Named("state_executor"),
	}
}

// Run executes state.Actions in order, waiting the action period between
// consecutive actions only. It stops at the first error, returning a
// *StateExecutionError, or at the first terminate action.
func (e *StateExecutor) Run(ctx context.Context, state schemas.State, params schemas.Parameters) (Outcome, error) {
	var out Outcome
	for i, action := range state.Actions {
		if i > 0 {
			if err := e.clock.Sleep(ctx, e.actionPeriod); err != nil {
				return out, err
			}
		}

		resolved := Substitute(action, params)
		e.logger.Debug("Executing action.",
			zap.String("state", state.Name),
			zap.Int("index", i+1),
			zap.String("action", resolved.Type),
		)

		res, err := e.actions.Execute(ctx, resolved.Type, resolved.Params)
		out.Executed++
		if err != nil {
			return out, &StateExecutionError{
				StateName:   state.Name,
				ActionIndex: i + 1,
				Action:      action,
				Cause:       err,
			}
		}
		if res.Terminate {
			e.logger.Info("Terminate action reached.", zap.String("state", state.Name), zap.String("reason", res.Reason))
			out.Terminated = true
			out.Reason = res.Reason
			return out, nil
		}
	}
	return out, nil
}
