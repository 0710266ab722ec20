// internal/registry/errors.go
package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/statepilot/api/schemas"
)

// Kind distinguishes the two registries in error messages and codes.
type Kind string

const (
	KindTrigger Kind = "trigger"
	KindAction  Kind = "action"
)

// UnknownError is returned when a name is not registered.
type UnknownError struct {
	Kind      Kind
	Name      string
	Available []string
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("unknown %s '%s'; available: %s", e.Kind, e.Name, strings.Join(e.Available, ", "))
}

// Code maps the error onto the run error taxonomy.
func (e *UnknownError) Code() schemas.ErrorCode {
	if e.Kind == KindTrigger {
		return schemas.ErrCodeUnknownTrigger
	}
	return schemas.ErrCodeUnknownAction
}

// InvalidParamsError is returned when provided params do not bind to the
// declared parameter set.
type InvalidParamsError struct {
	Kind     Kind
	Name     string
	Expected []string
	Required []string
	Provided []string
	Reason   string
}

func (e *InvalidParamsError) Error() string {
	return fmt.Sprintf("invalid params for %s '%s': %s (expected [%s], required [%s], provided [%s])",
		e.Kind, e.Name, e.Reason,
		strings.Join(e.Expected, ", "), strings.Join(e.Required, ", "), strings.Join(e.Provided, ", "))
}

func (e *InvalidParamsError) Code() schemas.ErrorCode {
	if e.Kind == KindTrigger {
		return schemas.ErrCodeInvalidTriggerParams
	}
	return schemas.ErrCodeInvalidActionParams
}

// CodeOf extracts the taxonomy code of a registry error anywhere in err's chain.
func CodeOf(err error) (schemas.ErrorCode, bool) {
	var unknown *UnknownError
	if errors.As(err, &unknown) {
		return unknown.Code(), true
	}
	var invalid *InvalidParamsError
	if errors.As(err, &invalid) {
		return invalid.Code(), true
	}
	return "", false
}
