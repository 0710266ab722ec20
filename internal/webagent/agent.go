// Package webagent turns a natural-language instruction into a concrete,
// replayable action list by driving the live page one decision at a time.
package webagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/statepilot/api/schemas"
	"github.com/xkilldash9x/statepilot/internal/clock"
	"github.com/xkilldash9x/statepilot/internal/executor"
	"github.com/xkilldash9x/statepilot/internal/llmclient"
	"github.com/xkilldash9x/statepilot/internal/observability"
	"github.com/xkilldash9x/statepilot/internal/registry"
)

const (
	DefaultMaxSteps   = 50
	DefaultWaitPeriod = 500 * time.Millisecond
)

// ActionRegistry is the subset of the action registry the agent needs to
// describe and dispatch actions.
type ActionRegistry interface {
	executor.ActionRunner
	List() []string
	Params(name string) ([]registry.Param, bool)
}

// Config bounds one agent run.
type Config struct {
	MaxSteps int
	// WaitPeriod is the settle time unit; the agent waits twice this before
	// each annotation.
	WaitPeriod time.Duration
}

// Transcript is the ordered list of actions the live browser performed.
type Transcript struct {
	Actions    []schemas.Invocation
	Steps      int
	Terminated bool
	Reason     string
}

// Agent runs the annotate, plan, decide and execute loop.
type Agent struct {
	llm       schemas.LLMClient
	annotator schemas.Annotator
	actions   ActionRegistry
	clock     clock.Clock
	cfg       Config
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// New creates an Agent. Zero config values fall back to the defaults.
func New(llm schemas.LLMClient, annotator schemas.Annotator, actions ActionRegistry, clk clock.Clock, cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Agent {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.WaitPeriod <= 0 {
		cfg.WaitPeriod = DefaultWaitPeriod
	}
	return &Agent{
		llm:       llm,
		annotator: annotator,
		actions:   actions,
		clock:     clk,
		cfg:       cfg,
		logger:    logger.Named("web_agent"),
		metrics:   metrics,
	}
}

// session carries the cross-iteration context of a single Run.
type session struct {
	query   string
	params  schemas.Parameters
	plan    string
	steps   []Step
	catalog string
}

// Run drives the page until the model terminates or the step ceiling is hit.
// Actions that fail are reported back to the model and left out of the
// transcript. Hitting the ceiling is not an error.
func (a *Agent) Run(ctx context.Context, prompt string, params schemas.Parameters) (*Transcript, error) {
	s := &session{
		query:   WrapQuery(prompt),
		params:  params,
		catalog: actionCatalog(a.actions),
	}
	t := &Transcript{}
	defer func() { a.metrics.SubAgentFinished(t.Steps) }()

	for step := 1; step <= a.cfg.MaxSteps; step++ {
		t.Steps = step
		if err := a.clock.Sleep(ctx, 2*a.cfg.WaitPeriod); err != nil {
			return t, err
		}

		ann, err := a.annotator.Annotate(ctx)
		if err != nil {
			return t, fmt.Errorf("annotating page at step %d: %w", step, err)
		}

		if err := a.updatePlan(ctx, s, ann); err != nil {
			return t, err
		}

		d, err := a.decide(ctx, s, ann)
		if err != nil {
			if ctx.Err() != nil {
				return t, ctx.Err()
			}
			if isUnreadable(err) {
				a.logger.Warn("Unreadable decision; asking again.", zap.Int("step", step), zap.Error(err))
				s.steps = append(s.steps, Step{Index: step, Err: err})
				continue
			}
			return t, err
		}

		if strings.TrimSpace(d.Action) == registry.ActionTerminate {
			t.Terminated = true
			t.Reason = terminateReason(d)
			a.logger.Info("Agent terminated.", zap.Int("step", step), zap.String("reason", t.Reason))
			return t, nil
		}

		rec := a.act(ctx, step, d, ann, s.params)
		s.steps = append(s.steps, rec)
		if rec.Err != nil {
			if ctx.Err() != nil {
				return t, ctx.Err()
			}
			a.logger.Warn("Action failed; reporting back to the model.",
				zap.Int("step", step),
				zap.String("action", d.Action),
				zap.Error(rec.Err),
			)
			continue
		}
		t.Actions = append(t.Actions, *rec.Action)
	}

	a.logger.Warn("Step ceiling reached before the agent terminated.",
		zap.Int("max_steps", a.cfg.MaxSteps),
		zap.Int("actions", len(t.Actions)),
	)
	return t, nil
}

func (a *Agent) updatePlan(ctx context.Context, s *session, ann *schemas.Annotation) error {
	system := agentRole + "\n\n" + planPrompt
	user := "## User Query\n" + s.query + "\n\n" + pageSection(ann)
	if len(s.steps) > 0 {
		system = agentRole + "\n\n" + replanPrompt
		user += "\n\n## Previous Plan\n" + s.plan + "\n\n## Actions So Far\n" + trajectory(s.steps)
	}
	plan, err := a.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: system,
		UserPrompt:   user,
		Images:       screenshotParts(ann),
		Tier:         schemas.TierPowerful,
	})
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}
	s.plan = strings.TrimSpace(plan)
	a.logger.Debug("Plan updated.", zap.String("plan", s.plan))
	return nil
}

// unreadableError marks a model response that could not be decoded.
type unreadableError struct{ err error }

func (e *unreadableError) Error() string { return "unreadable decision: " + e.err.Error() }
func (e *unreadableError) Unwrap() error { return e.err }

func isUnreadable(err error) bool {
	var ue *unreadableError
	return errors.As(err, &ue)
}

func (a *Agent) decide(ctx context.Context, s *session, ann *schemas.Annotation) (Decision, error) {
	user := fmt.Sprintf(decidePrompt, s.query, s.plan, s.catalog) +
		"\n\n" + pageSection(ann) + "\n\n## Actions So Far\n" + trajectory(s.steps)

	var d Decision
	err := llmclient.GenerateJSON(ctx, a.llm, schemas.GenerationRequest{
		SystemPrompt: agentRole,
		UserPrompt:   user,
		Images:       screenshotParts(ann),
		Tier:         schemas.TierPowerful,
	}, &d)
	if err != nil {
		if llmclient.IsDecodeError(err) {
			return d, &unreadableError{err: err}
		}
		return d, fmt.Errorf("deciding next action: %w", err)
	}
	return d, nil
}

// act resolves and dispatches one decision. The recorded invocation keeps
// parameter references unresolved so replay substitutes them the same way.
func (a *Agent) act(ctx context.Context, step int, d Decision, ann *schemas.Annotation, params schemas.Parameters) Step {
	rec := Step{Index: step, Decision: d}
	inv, element, err := resolve(ctx, a.annotator, d, ann)
	rec.Element = element
	if err != nil {
		rec.Err = err
		return rec
	}
	rec.Action = &inv

	resolved := executor.Substitute(inv, params)
	a.logger.Info("Executing action.", zap.Int("step", step), zap.String("action", inv.String()))
	if _, err := a.actions.Execute(ctx, resolved.Type, resolved.Params); err != nil {
		rec.Err = err
	}
	return rec
}

func terminateReason(d Decision) string {
	if r, ok := d.Params["reason"].(string); ok && r != "" {
		return r
	}
	if d.Reasoning != "" {
		return d.Reasoning
	}
	return "Task completed"
}
