// internal/synthesis/pipeline.go
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/statepilot/api/schemas"
	"github.com/xkilldash9x/statepilot/internal/llmclient"
)

// ErrNoSuitableState is returned when the model's answer names no known template.
var ErrNoSuitableState = errors.New("no suitable state selected")

var stateMarker = regexp.MustCompile(`(?i)State:\s*(.+)`)

// Result is the pipeline's output. Choice is nil only alongside
// ErrNoSuitableState, in which case Triggers and Prompt are empty.
type Result struct {
	Choice   *schemas.StatePrompt
	Triggers []schemas.Invocation
	Prompt   string
	URL      string
	Title    string
}

// Pipeline selects the next template, grounds its triggers in the live page
// and writes the instruction for the action-generation agent.
type Pipeline struct {
	llm    schemas.LLMClient
	probe  schemas.PageProbe
	logger *zap.Logger
}

func NewPipeline(llm schemas.LLMClient, probe schemas.PageProbe, logger *zap.Logger) *Pipeline {
	return &Pipeline{llm: llm, probe: probe, logger: logger.Named("state_synthesis")}
}

// Run executes select, derive and prompt in order. A failed selection stops
// the pipeline before any trigger or prompt is produced.
func (p *Pipeline) Run(ctx context.Context, prompts []schemas.StatePrompt, history []schemas.State) (*Result, error) {
	url, err := p.probe.CurrentURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading current url: %w", err)
	}
	title, err := p.probe.CurrentTitle(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading current title: %w", err)
	}
	res := &Result{URL: url, Title: title}

	choice, err := p.SelectState(ctx, prompts, history, url, title)
	if err != nil {
		return res, err
	}
	res.Choice = choice

	if res.Triggers, err = p.DeriveTriggers(ctx, choice, url); err != nil {
		return res, err
	}
	if res.Prompt, err = p.PromptAction(ctx, choice, history, url, title); err != nil {
		return res, err
	}

	p.logger.Info("State synthesized.",
		zap.String("state", choice.Name),
		zap.Int("triggers", len(res.Triggers)),
	)
	return res, nil
}

// SelectState asks the model which template runs next.
func (p *Pipeline) SelectState(ctx context.Context, prompts []schemas.StatePrompt, history []schemas.State, url, title string) (*schemas.StatePrompt, error) {
	if len(prompts) == 0 {
		return nil, fmt.Errorf("%w: no state prompts were provided", ErrNoSuitableState)
	}

	response, err := p.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: fmt.Sprintf(selectStateSystemPrompt, renderPrompts(prompts)),
		UserPrompt:   pageContext(history, url, title),
		Tier:         schemas.TierPowerful,
	})
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}

	choice := ParseChoice(response, prompts)
	if choice == nil {
		p.logger.Warn("Model answer names no known state.", zap.String("response", response))
		return nil, ErrNoSuitableState
	}
	p.logger.Debug("State selected.", zap.String("state", choice.Name))
	return choice, nil
}

// ParseChoice finds the template named by a `State: <name>` marker, falling
// back to the earliest template name mentioned verbatim. It returns nil when
// nothing matches.
func ParseChoice(response string, prompts []schemas.StatePrompt) *schemas.StatePrompt {
	byName := make(map[string]int, len(prompts))
	for i, pr := range prompts {
		byName[pr.Name] = i
	}

	matches := stateMarker.FindAllStringSubmatch(response, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		name := strings.Trim(strings.TrimSpace(matches[i][1]), "*`'\". ")
		if idx, ok := byName[name]; ok {
			choice := prompts[idx]
			return &choice
		}
	}

	best, bestPos := -1, -1
	for i, pr := range prompts {
		if pr.Name == "" {
			continue
		}
		pos := strings.Index(response, pr.Name)
		if pos == -1 {
			continue
		}
		if best == -1 || pos < bestPos || (pos == bestPos && len(pr.Name) > len(prompts[best].Name)) {
			best, bestPos = i, pos
		}
	}
	if best == -1 {
		return nil
	}
	choice := prompts[best]
	return &choice
}

type triggerOutput struct {
	Triggers []string `json:"triggers"`
}

// DeriveTriggers lets the model pick conditions from the page's current
// candidates. If it picks nothing usable, the URL condition is used.
func (p *Pipeline) DeriveTriggers(ctx context.Context, choice *schemas.StatePrompt, url string) ([]schemas.Invocation, error) {
	elements, err := p.probe.InteractiveElements(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerating trigger candidates: %w", err)
	}
	set := NewCandidateSet(BuildCandidates(url, elements))

	var out triggerOutput
	err = llmclient.GenerateJSON(ctx, p.llm, schemas.GenerationRequest{
		SystemPrompt: fmt.Sprintf(defineTriggerSystemPrompt, set.Render()),
		UserPrompt:   triggerHints(choice),
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{ResponseSchema: triggerSchema(set.Keys())},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("define triggers: %w", err)
	}

	triggers, dropped := set.Resolve(out.Triggers)
	if len(dropped) > 0 {
		p.logger.Warn("Dropping trigger keys absent from the page.", zap.Strings("keys", dropped))
	}
	if len(triggers) == 0 {
		p.logger.Warn("No usable trigger chosen; falling back to the current URL.", zap.String("state", choice.Name))
		triggers, _ = set.Resolve([]string{"URL"})
	}
	return triggers, nil
}

// PromptAction produces the natural-language instruction for the agent.
func (p *Pipeline) PromptAction(ctx context.Context, choice *schemas.StatePrompt, history []schemas.State, url, title string) (string, error) {
	user := "## User Instruction\n" + numberedActions(choice) + "\n" + pageContext(history, url, title)
	response, err := p.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: promptActionSystemPrompt,
		UserPrompt:   user,
		Tier:         schemas.TierPowerful,
	})
	if err != nil {
		return "", fmt.Errorf("prompt action: %w", err)
	}
	prompt := strings.TrimSpace(response)
	if prompt == "" {
		return "", fmt.Errorf("prompt action: model returned an empty instruction")
	}
	return prompt, nil
}
