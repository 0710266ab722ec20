// api/schemas/run.go
package schemas

import (
	"fmt"
	"time"
)

// ErrorCode categorizes a terminal run failure.
type ErrorCode string

const (
	ErrCodeUnknownTrigger         ErrorCode = "UNKNOWN_TRIGGER"
	ErrCodeUnknownAction          ErrorCode = "UNKNOWN_ACTION"
	ErrCodeInvalidTriggerParams   ErrorCode = "INVALID_TRIGGER_PARAMS"
	ErrCodeInvalidActionParams    ErrorCode = "INVALID_ACTION_PARAMS"
	ErrCodeAmbiguousStateMatch    ErrorCode = "AMBIGUOUS_STATE_MATCH"
	ErrCodeStateExecutionFailed   ErrorCode = "STATE_EXECUTION_FAILED"
	ErrCodeStateTimeoutExceeded   ErrorCode = "STATE_TIMEOUT_EXCEEDED"
	ErrCodeNoMatchTimeoutExceeded ErrorCode = "NO_MATCH_TIMEOUT_EXCEEDED"
	ErrCodeNoStateMatched         ErrorCode = "NO_STATE_MATCHED"
	ErrCodeRecursionLimitExceeded ErrorCode = "RECURSION_LIMIT_EXCEEDED"
	ErrCodeSynthesisFailed        ErrorCode = "SYNTHESIS_FAILED"
	ErrCodeCanceled               ErrorCode = "CANCELED"
)

// ErrorDetail is the structured failure returned alongside a run result. Only
// the fields relevant to Code are populated.
type ErrorDetail struct {
	Code          ErrorCode     `json:"code"`
	Message       string        `json:"message"`
	StateName     string        `json:"state_name,omitempty"`
	ActionIndex   int           `json:"action_index,omitempty"`
	Action        *Invocation   `json:"action,omitempty"`
	Elapsed       time.Duration `json:"elapsed,omitempty"`
	Limit         int           `json:"limit,omitempty"`
	MatchedStates []string      `json:"matched_states,omitempty"`
	Cause         string        `json:"cause,omitempty"`
}

func (d *ErrorDetail) Error() string {
	if d.Cause != "" {
		return fmt.Sprintf("%s: %s: %s", d.Code, d.Message, d.Cause)
	}
	return fmt.Sprintf("%s: %s", d.Code, d.Message)
}

// RunOptions tunes the control loop. Durations of zero fall back to defaults
// except NoStatesTimeout, where zero means no grace period.
type RunOptions struct {
	AllowMultipleStates bool          `json:"allow_multiple_states" mapstructure:"allow_multiple_states" yaml:"allow_multiple_states"`
	TransitionPeriod    time.Duration `json:"transition_period" mapstructure:"transition_period" yaml:"transition_period"`
	ActionPeriod        time.Duration `json:"action_period" mapstructure:"action_period" yaml:"action_period"`
	StateTimeout        time.Duration `json:"state_timeout" mapstructure:"state_timeout" yaml:"state_timeout"`
	NoStatesTimeout     time.Duration `json:"no_states_timeout" mapstructure:"no_states_timeout" yaml:"no_states_timeout"`
	RecursionLimit      int           `json:"recursion_limit" mapstructure:"recursion_limit" yaml:"recursion_limit"`
	// SynthesisEnabled gates the LLM path. When false, a no-match iteration
	// ends the run with NoStateMatched.
	SynthesisEnabled bool `json:"synthesis_enabled" mapstructure:"synthesis_enabled" yaml:"synthesis_enabled"`
}

// Default run option values.
const (
	DefaultTransitionPeriod = 3 * time.Second
	DefaultActionPeriod     = 1 * time.Second
	DefaultStateTimeout     = 30 * time.Second
	DefaultRecursionLimit   = 100
)

// DefaultRunOptions returns the options used when the caller supplies none.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		TransitionPeriod: DefaultTransitionPeriod,
		ActionPeriod:     DefaultActionPeriod,
		StateTimeout:     DefaultStateTimeout,
		RecursionLimit:   DefaultRecursionLimit,
		SynthesisEnabled: true,
	}
}

// RunResult is the single structured outcome of a run. History and the final
// repository are always populated, even on failure.
type RunResult struct {
	RunID                string       `json:"run_id"`
	Success              bool         `json:"success"`
	Message              string       `json:"message,omitempty"`
	Error                *ErrorDetail `json:"error,omitempty"`
	ExecutedHistory      []State      `json:"executed_history"`
	FinalStateRepository []State      `json:"final_state_repository"`
	Iterations           int          `json:"iterations"`
}
