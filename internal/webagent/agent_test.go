package webagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/statepilot/api/schemas"
	"github.com/xkilldash9x/statepilot/internal/clock"
	"github.com/xkilldash9x/statepilot/internal/executor"
	"github.com/xkilldash9x/statepilot/internal/mocks"
	"github.com/xkilldash9x/statepilot/internal/registry"
)

// recordingDriver logs every primitive it receives.
type recordingDriver struct {
	mu         sync.Mutex
	calls      []string
	failClicks int
}

func (d *recordingDriver) record(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *recordingDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *recordingDriver) Navigate(_ context.Context, url string) error {
	d.record("navigate %s", url)
	return nil
}

func (d *recordingDriver) Click(_ context.Context, t schemas.Target) error {
	d.mu.Lock()
	if d.failClicks > 0 {
		d.failClicks--
		d.mu.Unlock()
		return errors.New("element is detached")
	}
	d.mu.Unlock()
	d.record("click %s pct=%.2f", t, t.Percentage)
	return nil
}

func (d *recordingDriver) Type(_ context.Context, t schemas.Target, text string) error {
	d.record("type %s %q", t, text)
	return nil
}

func (d *recordingDriver) Scroll(_ context.Context, direction string, pixels int, t *schemas.Target) error {
	d.record("scroll %s %d", direction, pixels)
	return nil
}

func (d *recordingDriver) ScrollTo(_ context.Context, t schemas.Target) error {
	d.record("scroll_to %s", t)
	return nil
}

func (d *recordingDriver) Move(_ context.Context, t schemas.Target) error {
	d.record("move %s", t)
	return nil
}

func (d *recordingDriver) PressKey(_ context.Context, key string) error {
	d.record("press %s", key)
	return nil
}

func (d *recordingDriver) Wait(_ context.Context, dur time.Duration) error {
	d.record("wait %s", dur)
	return nil
}

var (
	userBox   = schemas.Rect{X: 100, Y: 200, Width: 20, Height: 40}
	submitBox = schemas.Rect{X: 300, Y: 400, Width: 80, Height: 30}
)

func loginAnnotation() *schemas.Annotation {
	return &schemas.Annotation{
		URL:   "https://x.test/login",
		Title: "Sign in",
		Elements: map[int]schemas.AnnotatedElement{
			1: {MMID: 1, TagName: "input", InputType: "text", EnhancedCSSSelector: "input#user", Box: userBox},
			2: {MMID: 2, TagName: "button", Text: "Sign in", XPath: "//button[1]", Box: submitBox},
		},
		Screenshot: []byte{0x89, 'P', 'N', 'G'},
	}
}

type fixture struct {
	agent     *Agent
	llm       *mocks.MockLLMClient
	annotator *mocks.MockAnnotator
	driver    *recordingDriver
	actions   *registry.ActionRegistry
	clock     *clock.Manual
	logs      *observer.ObservedLogs
}

func setup(t *testing.T, cfg Config) *fixture {
	t.Helper()
	driver := &recordingDriver{}
	actions, err := registry.NewDefaultActionRegistry(driver)
	require.NoError(t, err)

	annotator := &mocks.MockAnnotator{}
	annotator.On("Annotate", mock.Anything).Return(loginAnnotation(), nil)
	annotator.On("ScreenCoordinates", mock.Anything, userBox, 0.5).Return(schemas.Point{X: 110, Y: 220}, nil)
	annotator.On("ScreenCoordinates", mock.Anything, submitBox, 0.5).Return(schemas.Point{X: 340, Y: 415}, nil)

	llm := &mocks.MockLLMClient{}
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return !req.Options.ForceJSONFormat
	})).Return("## Step 1\nFill the form.", nil)

	core, logs := observer.New(zapcore.DebugLevel)
	clk := clock.NewManual(time.Unix(0, 0))
	return &fixture{
		agent:     New(llm, annotator, actions, clk, cfg, zap.New(core), nil),
		llm:       llm,
		annotator: annotator,
		driver:    driver,
		actions:   actions,
		clock:     clk,
		logs:      logs,
	}
}

func (f *fixture) decisions(responses ...string) {
	for _, r := range responses {
		f.llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
			return req.Options.ForceJSONFormat
		})).Return(r, nil).Once()
	}
}

func (f *fixture) jsonRequests() []schemas.GenerationRequest {
	var out []schemas.GenerationRequest
	for _, c := range f.llm.Calls {
		if c.Method != "Generate" {
			continue
		}
		req := c.Arguments.Get(1).(schemas.GenerationRequest)
		if req.Options.ForceJSONFormat {
			out = append(out, req)
		}
	}
	return out
}

func TestAgentRunRecordsReplayableTranscript(t *testing.T) {
	f := setup(t, Config{WaitPeriod: 500 * time.Millisecond})
	f.decisions(
		`{"action":"type","mmid":1,"params":{"text":"%USER%"},"reasoning":"fill username"}`,
		`{"action":"click","mmid":99,"params":{},"reasoning":"guess"}`,
		"```json\n{\"action\":\"click\",\"mmid\":2,\"params\":{},\"reasoning\":\"submit\"}\n```",
		`{"action":"terminate","mmid":null,"params":{"reason":"Logged in"},"reasoning":"done"}`,
	)
	params := schemas.Parameters{"USER": "alice"}

	tr, err := f.agent.Run(context.Background(), "Log in as %USER%", params)
	require.NoError(t, err)
	assert.True(t, tr.Terminated)
	assert.Equal(t, "Logged in", tr.Reason)
	assert.Equal(t, 4, tr.Steps)

	want := []schemas.Invocation{
		{Type: "type", Params: map[string]any{
			"text": "%USER%", "by": schemas.ByCSS, "selector": "input#user", "x": 110.0, "y": 220.0,
		}},
		{Type: "click", Params: map[string]any{
			"by": schemas.ByXPath, "selector": "//button[1]", "x": 340.0, "y": 415.0,
		}},
	}
	if diff := cmp.Diff(want, tr.Actions); diff != "" {
		t.Fatalf("transcript mismatch (-want +got):\n%s", diff)
	}

	live := f.driver.Calls()
	require.Len(t, live, 2)
	assert.Contains(t, live[0], `"alice"`)

	// Replaying the transcript without the model performs the same calls.
	replayDriver := &recordingDriver{}
	replayActions, err := registry.NewDefaultActionRegistry(replayDriver)
	require.NoError(t, err)
	exec := executor.New(replayActions, time.Second, clock.NewManual(time.Unix(0, 0)), zap.NewNop())
	_, err = exec.Run(context.Background(), schemas.State{Name: "Login", Actions: tr.Actions}, params)
	require.NoError(t, err)
	assert.Equal(t, live, replayDriver.Calls())

	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second, time.Second}, f.clock.Sleeps())

	reqs := f.jsonRequests()
	require.Len(t, reqs, 4)
	assert.Contains(t, reqs[0].UserPrompt, WrapQuery("Log in as %USER%"))
	assert.Contains(t, reqs[0].UserPrompt, "[1] <input type=\"text\">")
	assert.Len(t, reqs[0].Images, 1)
	assert.Contains(t, reqs[2].UserPrompt, "FAILED: no element with mmid 99")
	assert.Contains(t, reqs[3].UserPrompt, "Step 3: click click(")
}

func TestAgentPlansThenReplans(t *testing.T) {
	f := setup(t, Config{})
	f.decisions(
		`{"action":"press_key","params":{"key":"Enter"}}`,
		`{"action":"terminate"}`,
	)

	tr, err := f.agent.Run(context.Background(), "Submit", nil)
	require.NoError(t, err)
	assert.Equal(t, "Task completed", tr.Reason)
	assert.Equal(t, []schemas.Invocation{{Type: "press_key", Params: map[string]any{"key": "Enter"}}}, tr.Actions)

	var systems []string
	for _, c := range f.llm.Calls {
		req := c.Arguments.Get(1).(schemas.GenerationRequest)
		if !req.Options.ForceJSONFormat {
			systems = append(systems, req.SystemPrompt)
		}
	}
	require.Len(t, systems, 2)
	assert.Contains(t, systems[0], planPrompt)
	assert.Contains(t, systems[1], replanPrompt)
}

func TestAgentStepCeiling(t *testing.T) {
	f := setup(t, Config{MaxSteps: 3, WaitPeriod: time.Millisecond})
	f.llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Options.ForceJSONFormat
	})).Return(`{"action":"scroll","params":{"direction":"down","pixels":300}}`, nil)

	tr, err := f.agent.Run(context.Background(), "Scroll forever", nil)
	require.NoError(t, err)
	assert.False(t, tr.Terminated)
	assert.Equal(t, 3, tr.Steps)
	assert.Len(t, tr.Actions, 3)
	assert.Equal(t, 1, f.logs.FilterMessage("Step ceiling reached before the agent terminated.").Len())
}

func TestAgentFailedActionIsNotRecorded(t *testing.T) {
	f := setup(t, Config{})
	f.driver.failClicks = 1
	f.decisions(
		`{"action":"click","mmid":2}`,
		`{"action":"click","mmid":2}`,
		`{"action":"terminate"}`,
	)

	tr, err := f.agent.Run(context.Background(), "Click submit", nil)
	require.NoError(t, err)
	require.Len(t, tr.Actions, 1)
	assert.Equal(t, "click", tr.Actions[0].Type)
	assert.Len(t, f.driver.Calls(), 1)
	assert.Equal(t, 1, f.logs.FilterMessage("Action failed; reporting back to the model.").Len())

	reqs := f.jsonRequests()
	require.Len(t, reqs, 3)
	assert.Contains(t, reqs[1].UserPrompt, "FAILED: element is detached")
}

func TestAgentInvalidParamsAreFedBack(t *testing.T) {
	f := setup(t, Config{})
	f.decisions(
		`{"action":"press_key","params":{"button":"Enter"}}`,
		`{"action":"teleport","params":{}}`,
		`not json at all`,
		`{"action":"terminate","params":{"reason":"gave up"}}`,
	)

	tr, err := f.agent.Run(context.Background(), "Press enter", nil)
	require.NoError(t, err)
	assert.Empty(t, tr.Actions)
	assert.Equal(t, "gave up", tr.Reason)

	reqs := f.jsonRequests()
	require.Len(t, reqs, 4)
	assert.Contains(t, reqs[1].UserPrompt, "invalid params for action 'press_key'")
	assert.Contains(t, reqs[2].UserPrompt, "unknown action 'teleport'")
	assert.Contains(t, reqs[3].UserPrompt, "unreadable decision")
}

func TestAgentLLMFailureAborts(t *testing.T) {
	annotator := &mocks.MockAnnotator{}
	annotator.On("Annotate", mock.Anything).Return(loginAnnotation(), nil)
	llm := &mocks.MockLLMClient{}
	llm.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("quota exhausted"))
	actions, err := registry.NewDefaultActionRegistry(&recordingDriver{})
	require.NoError(t, err)

	a := New(llm, annotator, actions, clock.NewManual(time.Unix(0, 0)), Config{}, zap.NewNop(), nil)
	_, err = a.Run(context.Background(), "anything", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "planning: quota exhausted")
}

func TestAgentHonorsCancellation(t *testing.T) {
	f := setup(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr, err := f.agent.Run(ctx, "anything", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tr.Actions)
	f.annotator.AssertNotCalled(t, "Annotate", mock.Anything)
}

func TestActionCatalog(t *testing.T) {
	actions, err := registry.NewDefaultActionRegistry(&recordingDriver{})
	require.NoError(t, err)
	catalog := actionCatalog(actions)

	assert.Contains(t, catalog, "- click [needs mmid] params {percentage: number (optional)}\n")
	assert.Contains(t, catalog, "- type [needs mmid] params {text: string}\n")
	assert.Contains(t, catalog, "- navigate params {url: string}\n")
	assert.Contains(t, catalog, "- terminate params {reason: string (optional)}\n")
	assert.False(t, strings.Contains(catalog, "selector"))
}

func TestWrapQuery(t *testing.T) {
	q := WrapQuery("Click login")
	assert.True(t, strings.HasPrefix(q, "ONLY FOLLOW THE FOLLOWING INSTRUCTION(S):\nClick login\n"))
	assert.Contains(t, q, "YOU TERMINATE IMMEDIATELY")
}
