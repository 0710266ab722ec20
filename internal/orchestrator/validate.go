package orchestrator

import (
	"fmt"

	"github.com/xkilldash9x/statepilot/api/schemas"
	"github.com/xkilldash9x/statepilot/internal/executor"
	"github.com/xkilldash9x/statepilot/internal/registry"
)

// InvocationValidator binds an invocation against a registry's declared
// parameters without running it.
type InvocationValidator interface {
	Validate(inv schemas.Invocation) error
}

// ValidateState checks every invocation of state. Action params are bound
// after parameter substitution, the way the executor will dispatch them.
// It returns one detail per failing invocation.
func ValidateState(state schemas.State, params schemas.Parameters, triggers, actions InvocationValidator) []*schemas.ErrorDetail {
	var details []*schemas.ErrorDetail
	for i, check := range state.Checks {
		if err := triggers.Validate(check); err != nil {
			inv := check
			details = append(details, validationDetail(err, state.Name, fmt.Sprintf("check %d", i+1), 0, &inv))
		}
	}
	for i, action := range state.Actions {
		if err := actions.Validate(executor.Substitute(action, params)); err != nil {
			inv := action
			details = append(details, validationDetail(err, state.Name, fmt.Sprintf("action %d", i+1), i+1, &inv))
		}
	}
	return details
}

// ValidateRepository runs ValidateState over every state in order.
func ValidateRepository(states []schemas.State, params schemas.Parameters, triggers, actions InvocationValidator) []*schemas.ErrorDetail {
	var details []*schemas.ErrorDetail
	for _, s := range states {
		details = append(details, ValidateState(s, params, triggers, actions)...)
	}
	return details
}

func validationDetail(err error, stateName, where string, actionIndex int, inv *schemas.Invocation) *schemas.ErrorDetail {
	code, ok := registry.CodeOf(err)
	if !ok {
		code = schemas.ErrCodeInvalidActionParams
		if actionIndex == 0 {
			code = schemas.ErrCodeInvalidTriggerParams
		}
	}
	return &schemas.ErrorDetail{
		Code:        code,
		Message:     fmt.Sprintf("state '%s' %s (%s) does not bind", stateName, where, inv.Type),
		StateName:   stateName,
		ActionIndex: actionIndex,
		Action:      inv,
		Cause:       err.Error(),
	}
}
