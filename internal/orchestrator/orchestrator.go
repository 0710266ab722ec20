// File: internal/orchestrator/orchestrator.go
// Description: The top-level control loop. It evaluates the repository against
// the live page, executes the matched state or synthesizes a new one, and
// decides when the run ends.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/statepilot/api/schemas"
	"github.com/xkilldash9x/statepilot/internal/clock"
	"github.com/xkilldash9x/statepilot/internal/controller"
	"github.com/xkilldash9x/statepilot/internal/executor"
	"github.com/xkilldash9x/statepilot/internal/observability"
	"github.com/xkilldash9x/statepilot/internal/synthesis"
	"github.com/xkilldash9x/statepilot/internal/webagent"
)

// Phase is a node of the control loop.
type Phase int

const (
	PhaseEvaluating Phase = iota
	PhaseExecuting
	PhaseSynthesizing
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseEvaluating:
		return "evaluating"
	case PhaseExecuting:
		return "executing"
	case PhaseSynthesizing:
		return "synthesizing"
	case PhaseTerminated:
		return "terminated"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// TriggerRegistry evaluates and validates trigger invocations.
type TriggerRegistry interface {
	controller.TriggerChecker
	InvocationValidator
}

// ActionRegistry dispatches and validates action invocations.
type ActionRegistry interface {
	executor.ActionRunner
	InvocationValidator
}

// Synthesizer proposes the next state for a page nothing matches.
type Synthesizer interface {
	Run(ctx context.Context, prompts []schemas.StatePrompt, history []schemas.State) (*synthesis.Result, error)
}

// SubAgent turns an instruction into a concrete action transcript.
type SubAgent interface {
	Run(ctx context.Context, prompt string, params schemas.Parameters) (*webagent.Transcript, error)
}

// Deps are the collaborators of an Orchestrator. Synthesizer and Agent are
// only required when synthesis is enabled.
type Deps struct {
	Triggers    TriggerRegistry
	Actions     ActionRegistry
	Synthesizer Synthesizer
	Agent       SubAgent
	Clock       clock.Clock
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// RunInput is everything a single run consumes.
type RunInput struct {
	Prompts    []schemas.StatePrompt
	Repository []schemas.State
	Parameters schemas.Parameters
}

// RunError is returned alongside a failed RunResult.
type RunError struct {
	Detail *schemas.ErrorDetail
	cause  error
}

func (e *RunError) Error() string { return e.Detail.Error() }

func (e *RunError) Unwrap() error { return e.cause }

// Orchestrator runs the control loop. A single instance may serve several
// sequential runs; it keeps no state between them.
type Orchestrator struct {
	deps       Deps
	opts       schemas.RunOptions
	controller *controller.ProgramController
	executor   *executor.StateExecutor
	logger     *zap.Logger
}

// New validates deps and fills unset options with their defaults.
func New(deps Deps, opts schemas.RunOptions) (*Orchestrator, error) {
	if deps.Triggers == nil || deps.Actions == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator without trigger and action registries")
	}
	if opts.SynthesisEnabled && (deps.Synthesizer == nil || deps.Agent == nil) {
		return nil, fmt.Errorf("synthesis is enabled but no synthesizer or sub-agent was provided")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	defaults := schemas.DefaultRunOptions()
	if opts.TransitionPeriod <= 0 {
		opts.TransitionPeriod = defaults.TransitionPeriod
	}
	if opts.ActionPeriod <= 0 {
		opts.ActionPeriod = defaults.ActionPeriod
	}
	if opts.StateTimeout <= 0 {
		opts.StateTimeout = defaults.StateTimeout
	}
	if opts.RecursionLimit <= 0 {
		opts.RecursionLimit = defaults.RecursionLimit
	}

	logger := deps.Logger.Named("orchestrator")
	return &Orchestrator{
		deps:       deps,
		opts:       opts,
		controller: controller.New(deps.Triggers, opts.AllowMultipleStates, deps.Logger),
		executor:   executor.New(deps.Actions, opts.ActionPeriod, deps.Clock, deps.Logger),
		logger:     logger,
	}, nil
}

// Options returns the effective run options.
func (o *Orchestrator) Options() schemas.RunOptions { return o.opts }

// runState is the control loop's working memory for one run.
type runState struct {
	id         string
	phase      Phase
	repo       []schemas.State
	history    []schemas.State
	current    schemas.State
	iterations int
	recursion  int

	lastMatched  string
	stateStart   time.Time
	noMatchStart time.Time

	result *schemas.RunResult
	err    error
}

// Run drives the loop until it terminates. The result is never nil and
// always carries the executed history and the final repository. The error
// is a *RunError when the run failed.
func (o *Orchestrator) Run(ctx context.Context, in RunInput) (*schemas.RunResult, error) {
	started := o.deps.Clock.Now()
	rs := &runState{
		id:    uuid.NewString(),
		phase: PhaseEvaluating,
		repo:  cloneStates(in.Repository),
	}
	logger := o.logger.With(zap.String("run_id", rs.id))
	logger.Info("Run starting.",
		zap.Int("states", len(rs.repo)),
		zap.Int("prompts", len(in.Prompts)),
		zap.Bool("synthesis_enabled", o.opts.SynthesisEnabled),
	)

	for rs.phase != PhaseTerminated {
		o.deps.Metrics.PhaseEntered(rs.phase.String())
		logger.Debug("Entering phase.", zap.Stringer("phase", rs.phase), zap.Int("iteration", rs.iterations))
		switch rs.phase {
		case PhaseEvaluating:
			o.evaluate(ctx, rs)
		case PhaseExecuting:
			o.execute(ctx, rs, in.Parameters)
		case PhaseSynthesizing:
			o.synthesize(ctx, rs, in)
		}
	}

	res := rs.result
	res.RunID = rs.id
	res.ExecutedHistory = rs.history
	res.FinalStateRepository = rs.repo
	res.Iterations = rs.iterations
	if res.ExecutedHistory == nil {
		res.ExecutedHistory = []schemas.State{}
	}
	if res.FinalStateRepository == nil {
		res.FinalStateRepository = []schemas.State{}
	}

	elapsed := o.deps.Clock.Now().Sub(started)
	if res.Success {
		o.deps.Metrics.RunFinished("success", elapsed)
		logger.Info("Run succeeded.", zap.String("message", res.Message), zap.Int("iterations", rs.iterations))
		return res, nil
	}
	o.deps.Metrics.RunFinished(string(res.Error.Code), elapsed)
	logger.Error("Run failed.", zap.String("code", string(res.Error.Code)), zap.String("error", res.Error.Error()))
	return res, &RunError{Detail: res.Error, cause: rs.err}
}

func (o *Orchestrator) evaluate(ctx context.Context, rs *runState) {
	if err := o.deps.Clock.Sleep(ctx, o.opts.TransitionPeriod); err != nil {
		o.canceled(rs, err)
		return
	}
	rs.iterations++

	matched, err := o.controller.Check(ctx, rs.repo)
	if err != nil {
		var ambiguous *controller.AmbiguousMatchError
		if errors.As(err, &ambiguous) {
			o.fail(rs, &schemas.ErrorDetail{
				Code:          schemas.ErrCodeAmbiguousStateMatch,
				Message:       "more than one state matched while multiple matches are disallowed",
				MatchedStates: ambiguous.States,
			}, err)
			return
		}
		o.canceled(rs, err)
		return
	}

	now := o.deps.Clock.Now()
	if len(matched) == 0 {
		rs.lastMatched = ""
		rs.stateStart = time.Time{}

		if !o.opts.SynthesisEnabled {
			o.fail(rs, &schemas.ErrorDetail{
				Code:    schemas.ErrCodeNoStateMatched,
				Message: "no state matched the current page and synthesis is disabled",
			}, nil)
			return
		}
		if o.opts.NoStatesTimeout > 0 {
			if rs.noMatchStart.IsZero() {
				rs.noMatchStart = now
			} else if elapsed := now.Sub(rs.noMatchStart); elapsed > o.opts.NoStatesTimeout {
				o.fail(rs, &schemas.ErrorDetail{
					Code:    schemas.ErrCodeNoMatchTimeoutExceeded,
					Message: fmt.Sprintf("no state matched for longer than %s", o.opts.NoStatesTimeout),
					Elapsed: elapsed,
				}, nil)
				return
			}
		}
		rs.phase = PhaseSynthesizing
		return
	}

	rs.noMatchStart = time.Time{}
	state := matched[0]
	if state.Name == rs.lastMatched && !state.IsContinuous() {
		if rs.stateStart.IsZero() {
			rs.stateStart = now
		} else if elapsed := now.Sub(rs.stateStart); elapsed > o.opts.StateTimeout {
			o.fail(rs, &schemas.ErrorDetail{
				Code:      schemas.ErrCodeStateTimeoutExceeded,
				Message:   fmt.Sprintf("state '%s' kept matching for longer than %s", state.Name, o.opts.StateTimeout),
				StateName: state.Name,
				Elapsed:   elapsed,
			}, nil)
			return
		}
	} else {
		rs.stateStart = time.Time{}
	}
	rs.lastMatched = state.Name
	rs.current = state
	rs.phase = PhaseExecuting
}

func (o *Orchestrator) execute(ctx context.Context, rs *runState, params schemas.Parameters) {
	state := rs.current
	rs.history = append(rs.history, state)

	out, err := o.executor.Run(ctx, state, params)
	o.deps.Metrics.StateExecuted(state.Name, err)
	if err != nil {
		if ctx.Err() != nil {
			o.canceled(rs, err)
			return
		}
		detail := &schemas.ErrorDetail{
			Code:      schemas.ErrCodeStateExecutionFailed,
			Message:   fmt.Sprintf("state '%s' failed", state.Name),
			StateName: state.Name,
			Cause:     err.Error(),
		}
		var execErr *executor.StateExecutionError
		if errors.As(err, &execErr) {
			action := execErr.Action
			detail.Message = fmt.Sprintf("state '%s' failed at action %d (%s)", state.Name, execErr.ActionIndex, action.Type)
			detail.ActionIndex = execErr.ActionIndex
			detail.Action = &action
			detail.Cause = execErr.Cause.Error()
		}
		o.fail(rs, detail, err)
		return
	}

	if out.Terminated {
		o.succeed(rs, out.Reason)
		return
	}
	if state.IsEndState() {
		o.succeed(rs, state.EndState)
		return
	}
	o.advance(rs)
}

func (o *Orchestrator) synthesize(ctx context.Context, rs *runState, in RunInput) {
	rs.lastMatched = ""
	rs.stateStart = time.Time{}

	res, err := o.deps.Synthesizer.Run(ctx, in.Prompts, rs.history)
	o.deps.Metrics.SynthesisFinished(err)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			o.canceled(rs, err)
		case errors.Is(err, synthesis.ErrNoSuitableState):
			o.fail(rs, &schemas.ErrorDetail{
				Code:    schemas.ErrCodeNoStateMatched,
				Message: "no state matched and no template suits the current page",
				Cause:   err.Error(),
			}, err)
		default:
			o.fail(rs, &schemas.ErrorDetail{
				Code:    schemas.ErrCodeSynthesisFailed,
				Message: "state synthesis failed",
				Cause:   err.Error(),
			}, err)
		}
		return
	}

	transcript, err := o.deps.Agent.Run(ctx, res.Prompt, in.Parameters)
	if err != nil {
		if ctx.Err() != nil {
			o.canceled(rs, err)
			return
		}
		o.fail(rs, &schemas.ErrorDetail{
			Code:      schemas.ErrCodeSynthesisFailed,
			Message:   fmt.Sprintf("action generation for '%s' failed", res.Choice.Name),
			StateName: res.Choice.Name,
			Cause:     err.Error(),
		}, err)
		return
	}

	state := schemas.State{
		Name:        res.Choice.Name,
		Description: res.Choice.Description,
		Checks:      res.Triggers,
		Actions:     transcript.Actions,
		EndState:    res.Choice.EndState,
	}
	if details := ValidateState(state, in.Parameters, o.deps.Triggers, o.deps.Actions); len(details) > 0 {
		d := details[0]
		o.fail(rs, &schemas.ErrorDetail{
			Code:        schemas.ErrCodeSynthesisFailed,
			Message:     fmt.Sprintf("synthesized state '%s' does not bind", state.Name),
			StateName:   state.Name,
			ActionIndex: d.ActionIndex,
			Action:      d.Action,
			Cause:       d.Error(),
		}, nil)
		return
	}

	o.recordLineage(rs, state)
	rs.repo = append(rs.repo, state)
	rs.history = append(rs.history, state)
	o.logger.Info("State synthesized and added to the repository.",
		zap.String("run_id", rs.id),
		zap.String("state", state.Name),
		zap.Int("checks", len(state.Checks)),
		zap.Int("actions", len(state.Actions)),
	)
	o.advance(rs)
}

// recordLineage appends the synthesized state to the executed list of the
// first repository entry sharing its name.
func (o *Orchestrator) recordLineage(rs *runState, state schemas.State) {
	for i := range rs.repo {
		if rs.repo[i].Name == state.Name {
			rs.repo[i].Executed = append(rs.repo[i].Executed, cloneState(state))
			return
		}
	}
}

// advance counts a completed iteration and returns to evaluation unless the
// recursion limit has been reached.
func (o *Orchestrator) advance(rs *runState) {
	rs.recursion++
	if rs.recursion >= o.opts.RecursionLimit {
		o.fail(rs, &schemas.ErrorDetail{
			Code:    schemas.ErrCodeRecursionLimitExceeded,
			Message: fmt.Sprintf("recursion limit of %d reached", o.opts.RecursionLimit),
			Limit:   o.opts.RecursionLimit,
		}, nil)
		return
	}
	rs.phase = PhaseEvaluating
}

func (o *Orchestrator) succeed(rs *runState, message string) {
	rs.result = &schemas.RunResult{Success: true, Message: message}
	rs.phase = PhaseTerminated
}

func (o *Orchestrator) fail(rs *runState, detail *schemas.ErrorDetail, cause error) {
	rs.result = &schemas.RunResult{Success: false, Error: detail}
	rs.err = cause
	rs.phase = PhaseTerminated
}

func (o *Orchestrator) canceled(rs *runState, err error) {
	o.fail(rs, &schemas.ErrorDetail{
		Code:    schemas.ErrCodeCanceled,
		Message: "run canceled",
		Cause:   err.Error(),
	}, err)
}

func cloneStates(states []schemas.State) []schemas.State {
	if states == nil {
		return nil
	}
	out := make([]schemas.State, len(states))
	for i, s := range states {
		out[i] = cloneState(s)
	}
	return out
}

func cloneState(s schemas.State) schemas.State {
	out := s
	out.Checks = cloneInvocations(s.Checks)
	out.Actions = cloneInvocations(s.Actions)
	if s.Config != nil {
		cfg := *s.Config
		out.Config = &cfg
	}
	if s.Executed != nil {
		out.Executed = cloneStates(s.Executed)
	}
	return out
}

func cloneInvocations(in []schemas.Invocation) []schemas.Invocation {
	if in == nil {
		return nil
	}
	out := make([]schemas.Invocation, len(in))
	for i, inv := range in {
		out[i] = inv.Clone()
	}
	return out
}
