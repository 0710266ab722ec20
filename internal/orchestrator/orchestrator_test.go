// internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/statepilot/api/schemas"
	"github.com/xkilldash9x/statepilot/internal/synthesis"
)

func requireFailure(t *testing.T, res *schemas.RunResult, err error, code schemas.ErrorCode) *schemas.ErrorDetail {
	t.Helper()
	require.Error(t, err)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, code, res.Error.Code, "detail: %v", res.Error)
	assert.Same(t, res.Error, runErr.Detail)
	return res.Error
}

func TestNew(t *testing.T) {
	page := newFakePage("")
	h := newHarness(t, page, schemas.RunOptions{}, nil, nil)
	assert.Equal(t, schemas.DefaultTransitionPeriod, h.orch.Options().TransitionPeriod)
	assert.Equal(t, schemas.DefaultActionPeriod, h.orch.Options().ActionPeriod)
	assert.Equal(t, schemas.DefaultStateTimeout, h.orch.Options().StateTimeout)
	assert.Equal(t, schemas.DefaultRecursionLimit, h.orch.Options().RecursionLimit)
	assert.Zero(t, h.orch.Options().NoStatesTimeout)

	_, err := New(Deps{}, schemas.RunOptions{})
	assert.Error(t, err)

	_, err = New(Deps{Triggers: h.orch.deps.Triggers, Actions: h.orch.deps.Actions}, schemas.RunOptions{SynthesisEnabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "synthesis is enabled")
}

func TestRunScenario(t *testing.T) {
	page := newFakePage("https://x.test/")
	h := newHarness(t, page, schemas.RunOptions{TransitionPeriod: time.Second}, nil, nil)
	repo := []schemas.State{
		{Name: "Home", Checks: []schemas.Invocation{urlCheck("https://x.test/")}, Actions: []schemas.Invocation{navigate("https://x.test/next")}},
		{Name: "Next", Checks: []schemas.Invocation{urlCheck("https://x.test/next")}, Actions: []schemas.Invocation{}, EndState: "Reached Next"},
	}

	res, err := h.orch.Run(context.Background(), RunInput{Repository: repo})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Reached Next", res.Message)
	assert.Nil(t, res.Error)
	assert.Equal(t, []string{"Home", "Next"}, schemas.StateNames(res.ExecutedHistory))
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, []string{"navigate https://x.test/next"}, page.Calls())
	assert.Equal(t, repeat(time.Second, 2), h.clock.Sleeps())

	if diff := cmp.Diff(repo, res.FinalStateRepository); diff != "" {
		t.Errorf("repository changed (-want +got):\n%s", diff)
	}
	_, perr := uuid.Parse(res.RunID)
	assert.NoError(t, perr)
	assert.Equal(t, 1, h.logs.FilterMessage("Run succeeded.").Len())
}

func TestRunRepetitionTimeout(t *testing.T) {
	page := newFakePage("https://x.test/")
	opts := schemas.RunOptions{TransitionPeriod: secs(1), StateTimeout: secs(2)}
	h := newHarness(t, page, opts, nil, nil)
	repo := []schemas.State{{Name: "Stuck", Checks: []schemas.Invocation{urlCheck("https://x.test/")}}}

	res, err := h.orch.Run(context.Background(), RunInput{Repository: repo})
	detail := requireFailure(t, res, err, schemas.ErrCodeStateTimeoutExceeded)
	assert.Equal(t, "Stuck", detail.StateName)
	assert.Equal(t, secs(3), detail.Elapsed)
	// The timer starts on the first re-match (iteration 2) and trips on the
	// first evaluation more than two seconds later.
	assert.Equal(t, 5, res.Iterations)
	assert.Len(t, res.ExecutedHistory, 4)
}

func TestRunContinuousStateIsExempt(t *testing.T) {
	page := newFakePage("https://x.test/")
	opts := schemas.RunOptions{TransitionPeriod: secs(1), StateTimeout: secs(2), RecursionLimit: 12}
	h := newHarness(t, page, opts, nil, nil)
	repo := []schemas.State{{
		Name:   "Poll",
		Checks: []schemas.Invocation{urlCheck("https://x.test/")},
		Config: &schemas.StateConfig{Continuous: true},
	}}

	res, err := h.orch.Run(context.Background(), RunInput{Repository: repo})
	detail := requireFailure(t, res, err, schemas.ErrCodeRecursionLimitExceeded)
	assert.Equal(t, 12, detail.Limit)
	assert.Equal(t, 12, res.Iterations)
	assert.Len(t, res.ExecutedHistory, 12)
}

func TestRunNoMatchWithoutSynthesis(t *testing.T) {
	page := newFakePage("https://x.test/elsewhere")
	opts := schemas.RunOptions{TransitionPeriod: secs(1), NoStatesTimeout: secs(3)}
	h := newHarness(t, page, opts, nil, nil)
	repo := []schemas.State{{Name: "Home", Checks: []schemas.Invocation{urlCheck("https://x.test/")}}}

	res, err := h.orch.Run(context.Background(), RunInput{Repository: repo})
	requireFailure(t, res, err, schemas.ErrCodeNoStateMatched)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, []time.Duration{secs(1)}, h.clock.Sleeps())
	assert.Empty(t, res.ExecutedHistory)
	assert.NotNil(t, res.ExecutedHistory)
}

func TestRunEndState(t *testing.T) {
	page := newFakePage("https://x.test/")
	h := newHarness(t, page, schemas.RunOptions{}, nil, nil)
	repo := []schemas.State{
		{
			Name:     "Finish",
			Checks:   []schemas.Invocation{urlCheck("https://x.test/")},
			Actions:  []schemas.Invocation{navigate("https://x.test/a"), navigate("https://x.test/b")},
			EndState: "Done",
		},
		{Name: "After", Checks: []schemas.Invocation{urlCheck("https://x.test/b")}},
	}

	res, err := h.orch.Run(context.Background(), RunInput{Repository: repo})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Done", res.Message)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, []string{"navigate https://x.test/a", "navigate https://x.test/b"}, page.Calls())
	assert.Equal(t, []time.Duration{schemas.DefaultTransitionPeriod, schemas.DefaultActionPeriod}, h.clock.Sleeps())
}

func TestRunEmptyChecksAlwaysMatch(t *testing.T) {
	page := newFakePage("about:blank")
	h := newHarness(t, page, schemas.RunOptions{}, nil, nil)

	res, err := h.orch.Run(context.Background(), RunInput{Repository: []schemas.State{{Name: "Anywhere", EndState: "ok"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Message)
}

func TestRunTerminateActionEndsRun(t *testing.T) {
	page := newFakePage("https://x.test/")
	h := newHarness(t, page, schemas.RunOptions{}, nil, nil)
	repo := []schemas.State{{
		Name:   "Quit",
		Checks: []schemas.Invocation{urlCheck("https://x.test/")},
		Actions: []schemas.Invocation{
			{Type: "terminate", Params: map[string]any{"reason": "bye"}},
			navigate("https://x.test/never"),
		},
	}}

	res, err := h.orch.Run(context.Background(), RunInput{Repository: repo})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "bye", res.Message)
	assert.Empty(t, page.Calls())
}

func TestRunAmbiguousMatch(t *testing.T) {
	repo := []schemas.State{
		{Name: "A", Checks: []schemas.Invocation{urlCheck("https://x.test/")}, EndState: "A won"},
		{Name: "B", Checks: []schemas.Invocation{urlCheck("https://x.test/")}, EndState: "B won"},
	}

	t.Run("disallowed", func(t *testing.T) {
		h := newHarness(t, newFakePage("https://x.test/"), schemas.RunOptions{}, nil, nil)
		res, err := h.orch.Run(context.Background(), RunInput{Repository: repo})
		detail := requireFailure(t, res, err, schemas.ErrCodeAmbiguousStateMatch)
		assert.Equal(t, []string{"A", "B"}, detail.MatchedStates)
		assert.Empty(t, res.ExecutedHistory)
	})

	t.Run("allowed picks first in repository order", func(t *testing.T) {
		h := newHarness(t, newFakePage("https://x.test/"), schemas.RunOptions{AllowMultipleStates: true}, nil, nil)
		res, err := h.orch.Run(context.Background(), RunInput{Repository: repo})
		require.NoError(t, err)
		assert.Equal(t, "A won", res.Message)
	})
}

func TestRunStateExecutionFailure(t *testing.T) {
	page := newFakePage("https://x.test/")
	page.failOnClick = "#missing"
	h := newHarness(t, page, schemas.RunOptions{}, nil, nil)
	click := schemas.Invocation{Type: "click", Params: map[string]any{"by": "css selector", "selector": "#missing"}}
	repo := []schemas.State{{
		Name:    "Broken",
		Checks:  []schemas.Invocation{urlCheck("https://x.test/")},
		Actions: []schemas.Invocation{navigate("https://x.test/"), click, navigate("https://x.test/never")},
	}}

	res, err := h.orch.Run(context.Background(), RunInput{Repository: repo})
	detail := requireFailure(t, res, err, schemas.ErrCodeStateExecutionFailed)
	assert.Equal(t, "Broken", detail.StateName)
	assert.Equal(t, 2, detail.ActionIndex)
	require.NotNil(t, detail.Action)
	assert.Equal(t, "click", detail.Action.Type)
	assert.Contains(t, detail.Cause, "no node matches #missing")
	assert.Equal(t, []string{"navigate https://x.test/"}, page.Calls())
	assert.Equal(t, []string{"Broken"}, schemas.StateNames(res.ExecutedHistory))
}

func TestRunBadTriggerOnlyFailsItsState(t *testing.T) {
	tests := []struct {
		name  string
		check schemas.Invocation
	}{
		{name: "unknown trigger", check: schemas.Invocation{Type: "teleported"}},
		{name: "invalid trigger params", check: schemas.Invocation{Type: "url", Params: map[string]any{"href": "https://x.test/"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newFakePage("https://x.test/")
			h := newHarness(t, page, schemas.RunOptions{}, nil, nil)
			repo := []schemas.State{
				{Name: "Home", Checks: []schemas.Invocation{urlCheck("https://x.test/")}, EndState: "Done"},
				{Name: "Typo", Checks: []schemas.Invocation{tt.check}},
			}

			res, err := h.orch.Run(context.Background(), RunInput{Repository: repo})
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, "Done", res.Message)
			assert.Equal(t, []string{"Home"}, schemas.StateNames(res.ExecutedHistory))
			assert.Equal(t, 1, h.logs.FilterMessage("Trigger evaluation failed; treating as not matched.").Len())
		})
	}
}

func TestRunBadActionFailsAtPointOfUse(t *testing.T) {
	tests := []struct {
		name   string
		action schemas.Invocation
	}{
		{name: "unknown action", action: schemas.Invocation{Type: "teleport"}},
		{name: "extra action param", action: schemas.Invocation{Type: "navigate", Params: map[string]any{"url": "u", "wait": true}}},
		{name: "unresolved numeric reference", action: schemas.Invocation{Type: "wait", Params: map[string]any{"seconds": "%DELAY%"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Run("never matched", func(t *testing.T) {
				page := newFakePage("https://x.test/")
				h := newHarness(t, page, schemas.RunOptions{}, nil, nil)
				repo := []schemas.State{
					{Name: "Home", Checks: []schemas.Invocation{urlCheck("https://x.test/")}, EndState: "Done"},
					{Name: "Elsewhere", Checks: []schemas.Invocation{urlCheck("https://x.test/other")}, Actions: []schemas.Invocation{tt.action}},
				}
				res, err := h.orch.Run(context.Background(), RunInput{Repository: repo})
				require.NoError(t, err)
				assert.Equal(t, "Done", res.Message)
			})

			t.Run("executed", func(t *testing.T) {
				page := newFakePage("https://x.test/")
				h := newHarness(t, page, schemas.RunOptions{}, nil, nil)
				repo := []schemas.State{{
					Name:    "S",
					Checks:  []schemas.Invocation{urlCheck("https://x.test/")},
					Actions: []schemas.Invocation{navigate("https://x.test/"), tt.action},
				}}
				res, err := h.orch.Run(context.Background(), RunInput{Repository: repo})
				detail := requireFailure(t, res, err, schemas.ErrCodeStateExecutionFailed)
				assert.Equal(t, "S", detail.StateName)
				assert.Equal(t, 2, detail.ActionIndex)
				require.NotNil(t, detail.Action)
				assert.Equal(t, tt.action.Type, detail.Action.Type)
				assert.Equal(t, 1, res.Iterations)
				assert.Equal(t, []string{"navigate https://x.test/"}, page.Calls())
			})
		})
	}

	t.Run("references resolve before binding", func(t *testing.T) {
		page := newFakePage("https://x.test/")
		h := newHarness(t, page, schemas.RunOptions{}, nil, nil)
		state := schemas.State{
			Name:     "S",
			Checks:   []schemas.Invocation{urlCheck("https://x.test/")},
			Actions:  []schemas.Invocation{{Type: "wait", Params: map[string]any{"seconds": "%DELAY%"}}},
			EndState: "waited",
		}

		res, err := h.orch.Run(context.Background(), RunInput{
			Repository: []schemas.State{state},
			Parameters: schemas.Parameters{"DELAY": "0.5"},
		})
		require.NoError(t, err)
		assert.Equal(t, "waited", res.Message)
	})
}

func TestValidateRepository(t *testing.T) {
	page := newFakePage("")
	h := newHarness(t, page, schemas.RunOptions{}, nil, nil)
	triggers, actions := h.orch.deps.Triggers, h.orch.deps.Actions
	base := schemas.State{Name: "S", Checks: []schemas.Invocation{urlCheck("https://x.test/")}}

	tests := []struct {
		name   string
		mutate func(s *schemas.State)
		code   schemas.ErrorCode
		index  int
	}{
		{
			name:   "unknown trigger",
			mutate: func(s *schemas.State) { s.Checks = append(s.Checks, schemas.Invocation{Type: "teleported"}) },
			code:   schemas.ErrCodeUnknownTrigger,
		},
		{
			name:   "invalid trigger params",
			mutate: func(s *schemas.State) { s.Checks = []schemas.Invocation{{Type: "url", Params: map[string]any{"href": "x"}}} },
			code:   schemas.ErrCodeInvalidTriggerParams,
		},
		{
			name:   "unknown action",
			mutate: func(s *schemas.State) { s.Actions = []schemas.Invocation{{Type: "teleport"}} },
			code:   schemas.ErrCodeUnknownAction,
			index:  1,
		},
		{
			name: "unresolved numeric reference",
			mutate: func(s *schemas.State) {
				s.Actions = []schemas.Invocation{navigate("https://x.test/"), {Type: "wait", Params: map[string]any{"seconds": "%DELAY%"}}}
			},
			code:  schemas.ErrCodeInvalidActionParams,
			index: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := cloneState(base)
			tt.mutate(&state)
			details := ValidateRepository([]schemas.State{base, state}, nil, triggers, actions)
			require.Len(t, details, 1)
			assert.Equal(t, tt.code, details[0].Code)
			assert.Equal(t, "S", details[0].StateName)
			assert.Equal(t, tt.index, details[0].ActionIndex)
			assert.NotEmpty(t, details[0].Cause)
		})
	}

	assert.Empty(t, ValidateRepository([]schemas.State{base}, nil, triggers, actions))
	withRef := cloneState(base)
	withRef.Actions = []schemas.Invocation{{Type: "wait", Params: map[string]any{"seconds": "%DELAY%"}}}
	assert.Empty(t, ValidateRepository([]schemas.State{withRef}, schemas.Parameters{"DELAY": "0.5"}, triggers, actions))
}

func TestRunSynthesizesMissingState(t *testing.T) {
	page := newFakePage("https://x.test/login")
	prompts := []schemas.StatePrompt{{Name: "Login", Description: "Sign in", EndState: "Logged in"}}
	existing := schemas.State{Name: "Login", Checks: []schemas.Invocation{urlCheck("https://x.test/old-login")}}

	synth := &fakeSynthesizer{fn: func(int) (*synthesis.Result, error) {
		return &synthesis.Result{
			Choice:   &prompts[0],
			Triggers: []schemas.Invocation{urlCheck("https://x.test/login")},
			Prompt:   "Type %USER% and sign in",
		}, nil
	}}
	agent := &fakeAgent{page: page, actions: []schemas.Invocation{
		{Type: "type", Params: map[string]any{"text": "%USER%", "by": "css selector", "selector": "#user"}},
	}}
	opts := schemas.RunOptions{SynthesisEnabled: true, TransitionPeriod: secs(1)}
	h := newHarness(t, page, opts, synth, agent)

	input := RunInput{Prompts: prompts, Repository: []schemas.State{existing}, Parameters: schemas.Parameters{"USER": "alice"}}
	res, err := h.orch.Run(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Logged in", res.Message)

	// Synthesis does not execute the new state; the next evaluation does.
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, []string{`type css selector="#user" alice`}, page.Calls())
	assert.Equal(t, []string{"Type %USER% and sign in"}, agent.prompts)
	assert.Equal(t, [][]string{{}}, synth.histories)

	synthesized := schemas.State{
		Name:        "Login",
		Description: "Sign in",
		Checks:      []schemas.Invocation{urlCheck("https://x.test/login")},
		Actions:     agent.actions,
		EndState:    "Logged in",
	}
	require.Len(t, res.FinalStateRepository, 2)
	if diff := cmp.Diff(synthesized, res.FinalStateRepository[1]); diff != "" {
		t.Errorf("synthesized state mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, res.FinalStateRepository[0].Executed, 1)
	assert.Equal(t, synthesized.Checks, res.FinalStateRepository[0].Executed[0].Checks)
	assert.Equal(t, []string{"Login", "Login"}, schemas.StateNames(res.ExecutedHistory))

	assert.Empty(t, existing.Executed, "caller's repository must not be mutated")
}

func TestRunNoMatchTimeoutWithSynthesis(t *testing.T) {
	page := newFakePage("https://x.test/")
	prompts := []schemas.StatePrompt{{Name: "Wander"}}
	synth := &fakeSynthesizer{fn: func(int) (*synthesis.Result, error) {
		return &synthesis.Result{Choice: &prompts[0], Triggers: []schemas.Invocation{urlCheck("https://x.test/never")}, Prompt: "go"}, nil
	}}
	agent := &fakeAgent{page: page}
	opts := schemas.RunOptions{SynthesisEnabled: true, TransitionPeriod: secs(1), NoStatesTimeout: secs(2)}
	h := newHarness(t, page, opts, synth, agent)

	res, err := h.orch.Run(context.Background(), RunInput{Prompts: prompts})
	detail := requireFailure(t, res, err, schemas.ErrCodeNoMatchTimeoutExceeded)
	assert.Equal(t, secs(3), detail.Elapsed)
	assert.Equal(t, 3, synth.calls)
	assert.Len(t, res.FinalStateRepository, 3, "synthesized states survive the failure")
	assert.Len(t, res.ExecutedHistory, 3)
}

func TestRunRecursionLimitBacksUpSynthesis(t *testing.T) {
	page := newFakePage("https://x.test/")
	prompts := []schemas.StatePrompt{{Name: "Wander"}}
	synth := &fakeSynthesizer{fn: func(int) (*synthesis.Result, error) {
		return &synthesis.Result{Choice: &prompts[0], Triggers: []schemas.Invocation{urlCheck("https://x.test/never")}, Prompt: "go"}, nil
	}}
	opts := schemas.RunOptions{SynthesisEnabled: true, RecursionLimit: 4}
	h := newHarness(t, page, opts, synth, &fakeAgent{page: page})

	res, err := h.orch.Run(context.Background(), RunInput{Prompts: prompts})
	detail := requireFailure(t, res, err, schemas.ErrCodeRecursionLimitExceeded)
	assert.Equal(t, 4, detail.Limit)
	assert.Equal(t, 4, synth.calls)
	assert.Equal(t, [][]string{{}, {"Wander"}, {"Wander", "Wander"}, {"Wander", "Wander", "Wander"}}, synth.histories)
}

func TestRunSynthesisFailures(t *testing.T) {
	prompts := []schemas.StatePrompt{{Name: "Login"}}

	t.Run("no suitable template", func(t *testing.T) {
		page := newFakePage("https://x.test/")
		synth := &fakeSynthesizer{fn: func(int) (*synthesis.Result, error) {
			return &synthesis.Result{}, synthesis.ErrNoSuitableState
		}}
		h := newHarness(t, page, schemas.RunOptions{SynthesisEnabled: true}, synth, &fakeAgent{page: page})
		res, err := h.orch.Run(context.Background(), RunInput{Prompts: prompts})
		requireFailure(t, res, err, schemas.ErrCodeNoStateMatched)
		assert.ErrorIs(t, err, synthesis.ErrNoSuitableState)
	})

	t.Run("pipeline error", func(t *testing.T) {
		page := newFakePage("https://x.test/")
		synth := &fakeSynthesizer{fn: func(int) (*synthesis.Result, error) {
			return nil, errors.New("select state: quota")
		}}
		h := newHarness(t, page, schemas.RunOptions{SynthesisEnabled: true}, synth, &fakeAgent{page: page})
		res, err := h.orch.Run(context.Background(), RunInput{Prompts: prompts})
		detail := requireFailure(t, res, err, schemas.ErrCodeSynthesisFailed)
		assert.Equal(t, "select state: quota", detail.Cause)
	})

	t.Run("sub-agent error", func(t *testing.T) {
		page := newFakePage("https://x.test/")
		synth := &fakeSynthesizer{fn: func(int) (*synthesis.Result, error) {
			return &synthesis.Result{Choice: &prompts[0], Triggers: []schemas.Invocation{urlCheck("https://x.test/")}, Prompt: "p"}, nil
		}}
		agent := &fakeAgent{page: page, err: errors.New("planning: timeout")}
		h := newHarness(t, page, schemas.RunOptions{SynthesisEnabled: true}, synth, agent)
		res, err := h.orch.Run(context.Background(), RunInput{Prompts: prompts})
		detail := requireFailure(t, res, err, schemas.ErrCodeSynthesisFailed)
		assert.Equal(t, "Login", detail.StateName)
		assert.Empty(t, res.FinalStateRepository)
	})
}

func TestRunCanceled(t *testing.T) {
	page := newFakePage("https://x.test/")
	h := newHarness(t, page, schemas.RunOptions{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.orch.Run(ctx, RunInput{Repository: []schemas.State{{Name: "Any"}}})
	requireFailure(t, res, err, schemas.ErrCodeCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Iterations)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "evaluating", PhaseEvaluating.String())
	assert.Equal(t, "executing", PhaseExecuting.String())
	assert.Equal(t, "synthesizing", PhaseSynthesizing.String())
	assert.Equal(t, "terminated", PhaseTerminated.String())
	assert.Equal(t, "phase(9)", Phase(9).String())
}
