package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/statepilot/api/schemas"
	"github.com/xkilldash9x/statepilot/internal/mocks"
)

var testPrompts = []schemas.StatePrompt{
	{
		Name:        "Login",
		Description: "Sign in with the account credentials.",
		Triggers:    []string{"The login form is visible"},
		Actions:     []string{"Type %USER% into the username field", "Type %PASS% into the password field", "Click Sign in"},
	},
	{
		Name:        "Login Success",
		Description: "The dashboard is shown.",
		Triggers:    []string{"The dashboard heading is visible"},
		Actions:     []string{"Do nothing"},
		EndState:    "Logged in",
	},
}

func isTier(tier schemas.ModelTier) any {
	return mock.MatchedBy(func(req schemas.GenerationRequest) bool { return req.Tier == tier })
}

func isJSON() any {
	return mock.MatchedBy(func(req schemas.GenerationRequest) bool { return req.Options.ForceJSONFormat })
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"marker", "The form is shown.\nState: Login", "Login"},
		{"marker case insensitive with markdown", "state: **Login Success**", "Login Success"},
		{"last valid marker wins", "State: Login\nOn reflection...\nState: Login Success", "Login Success"},
		{"unknown marker falls back to mention", "State: Checkout\nmaybe Login instead", "Login"},
		{"verbatim mention", "I think we should run Login Success now.", "Login Success"},
		{"earliest mention wins", "Login first, then Login Success", "Login"},
		{"nothing", "I am not sure.", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseChoice(tt.response, testPrompts)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestBuildCandidates(t *testing.T) {
	elements := []schemas.TriggerCandidate{
		{Text: "Welcome back", EnhancedCSSSelector: "h1.title"},
		{Text: "  ", EnhancedCSSSelector: "input[name='user']"},
		{Text: "Sign in"},
	}
	set := NewCandidateSet(BuildCandidates("https://x.test/login", elements))

	assert.Equal(t, []string{"URL", "TEXT_0", "CSS_0", "CSS_1", "TEXT_2"}, set.Keys())
	assert.Equal(t, strings.Join([]string{
		"URL <url/>: url=https://x.test/login",
		"TEXT_0 <text/>: text=Welcome back",
		"CSS_0 <element/>: by=css selector, selector=h1.title",
		"CSS_1 <element/>: by=css selector, selector=input[name='user']",
		"TEXT_2 <text/>: text=Sign in",
	}, "\n"), set.Render())

	triggers, dropped := set.Resolve([]string{"CSS_0", "BOGUS", "URL", "CSS_0"})
	assert.Equal(t, []string{"BOGUS"}, dropped)
	want := []schemas.Invocation{
		{Type: "element", Params: map[string]any{"by": schemas.ByCSS, "selector": "h1.title"}},
		{Type: "url", Params: map[string]any{"url": "https://x.test/login"}},
	}
	if diff := cmp.Diff(want, triggers); diff != "" {
		t.Errorf("resolved triggers mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderHistory(t *testing.T) {
	assert.Equal(t, "No History of Actions", RenderHistory(nil))
	assert.Equal(t, "Step 1 - Home: Landing page\nStep 2 - Login: Sign in", RenderHistory([]schemas.State{
		{Name: "Home", Description: "Landing page"},
		{Name: "Login", Description: "Sign in"},
	}))
}

func setupPipeline(t *testing.T) (*Pipeline, *mocks.MockLLMClient, *mocks.MockPageProbe) {
	t.Helper()
	llm := &mocks.MockLLMClient{}
	probe := &mocks.MockPageProbe{}
	probe.On("CurrentURL", mock.Anything).Return("https://x.test/login", nil)
	probe.On("CurrentTitle", mock.Anything).Return("Sign in", nil)
	return NewPipeline(llm, probe, zap.NewNop()), llm, probe
}

func TestPipelineRun(t *testing.T) {
	ctx := context.Background()
	history := []schemas.State{{Name: "Home", Description: "Landing page"}}

	t.Run("full pipeline", func(t *testing.T) {
		p, llm, probe := setupPipeline(t)
		probe.On("InteractiveElements", mock.Anything).Return([]schemas.TriggerCandidate{
			{Text: "Sign in", EnhancedCSSSelector: "form#login"},
		}, nil)

		llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
			return req.Tier == schemas.TierPowerful && strings.Contains(req.SystemPrompt, "## State: Login Success") &&
				strings.Contains(req.UserPrompt, "Step 1 - Home: Landing page") &&
				strings.Contains(req.UserPrompt, "URL: https://x.test/login")
		})).Return("The login form is visible.\nState: Login", nil).Once()
		llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
			return req.Options.ForceJSONFormat && strings.Contains(req.SystemPrompt, "CSS_0 <element/>: by=css selector, selector=form#login") &&
				strings.Contains(req.UserPrompt, "- The login form is visible")
		})).Return(`{"triggers":["CSS_0","URL"]}`, nil).Once()
		llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
			return !req.Options.ForceJSONFormat && strings.Contains(req.UserPrompt, "1. Type %USER% into the username field\n2.") &&
				strings.Contains(req.UserPrompt, "3. Click Sign in\nTERMINATE ACTION")
		})).Return("  Type %USER% into Username, type %PASS% into Password, then click Sign in.  ", nil).Once()

		res, err := p.Run(ctx, testPrompts, history)
		require.NoError(t, err)
		require.NotNil(t, res.Choice)
		assert.Equal(t, "Login", res.Choice.Name)
		assert.Equal(t, []schemas.Invocation{
			{Type: "element", Params: map[string]any{"by": schemas.ByCSS, "selector": "form#login"}},
			{Type: "url", Params: map[string]any{"url": "https://x.test/login"}},
		}, res.Triggers)
		assert.Equal(t, "Type %USER% into Username, type %PASS% into Password, then click Sign in.", res.Prompt)
		llm.AssertExpectations(t)
	})

	t.Run("no choice short-circuits", func(t *testing.T) {
		p, llm, probe := setupPipeline(t)
		llm.On("Generate", mock.Anything, isTier(schemas.TierPowerful)).Return("None of these apply.", nil).Once()

		res, err := p.Run(ctx, testPrompts, nil)
		require.ErrorIs(t, err, ErrNoSuitableState)
		require.NotNil(t, res)
		assert.Nil(t, res.Choice)
		assert.Empty(t, res.Triggers)
		assert.Empty(t, res.Prompt)
		probe.AssertNotCalled(t, "InteractiveElements", mock.Anything)
		llm.AssertNumberOfCalls(t, "Generate", 1)
	})

	t.Run("unusable trigger keys fall back to url", func(t *testing.T) {
		p, llm, probe := setupPipeline(t)
		probe.On("InteractiveElements", mock.Anything).Return([]schemas.TriggerCandidate(nil), nil)
		llm.On("Generate", mock.Anything, isJSON()).Return(`{"triggers":["CSS_9"]}`, nil).Once()

		triggers, err := p.DeriveTriggers(ctx, &testPrompts[0], "https://x.test/login")
		require.NoError(t, err)
		assert.Equal(t, []schemas.Invocation{{Type: "url", Params: map[string]any{"url": "https://x.test/login"}}}, triggers)
	})

	t.Run("llm error in selection", func(t *testing.T) {
		p, llm, _ := setupPipeline(t)
		llm.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("quota")).Once()

		_, err := p.Run(ctx, testPrompts, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "select state: quota")
		assert.NotErrorIs(t, err, ErrNoSuitableState)
	})

	t.Run("empty prompt list", func(t *testing.T) {
		p, _, _ := setupPipeline(t)
		_, err := p.Run(ctx, nil, nil)
		assert.ErrorIs(t, err, ErrNoSuitableState)
	})

	t.Run("empty action prompt is an error", func(t *testing.T) {
		p, llm, _ := setupPipeline(t)
		llm.On("Generate", mock.Anything, mock.Anything).Return("   ", nil).Once()
		_, err := p.PromptAction(ctx, &testPrompts[0], nil, "u", "t")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty instruction")
	})
}
