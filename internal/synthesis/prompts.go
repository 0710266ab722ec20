package synthesis

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/statepilot/api/schemas"
)

const selectStateSystemPrompt = `You are the planner of a browser automation workflow. The workflow is a set of named states.
Each state describes a step: the page conditions under which it applies and the actions to take.

Given the history of steps already completed and the current page, decide which state must run next.
Never choose a step that the history shows is already done unless the page shows it must be repeated.

Respond with a short justification followed by a final line of the exact form:
State: <state name>

## Available States
%s`

const defineTriggerSystemPrompt = `You identify the page conditions that prove a workflow state applies.
Below is the complete list of conditions that currently hold on the live page. Each line is
KEY <trigger type/>: parameters

## Available Triggers
%s

Choose the keys whose conditions best match the state's trigger description. Prefer stable, specific
conditions (a unique heading, a labelled form field) over volatile ones (counters, timestamps, ads).
Choose only keys from the list above. Respond as JSON: {"triggers": ["KEY", ...]}`

const promptActionSystemPrompt = `You write instructions for a browser agent that can see the page and act on it one step at a time.
Rewrite the user instruction into one precise natural-language instruction for that agent, resolving
any reference to the history or to the current page. Keep every concrete value (text to type, option to pick)
verbatim. Do not add steps that are not in the user instruction. The agent must stop when the last step is done.
Respond with the instruction only.`

const noHistory = "No History of Actions"

// RenderHistory lists executed states as `Step i - name: description`.
func RenderHistory(history []schemas.State) string {
	if len(history) == 0 {
		return noHistory
	}
	lines := make([]string, len(history))
	for i, s := range history {
		lines[i] = fmt.Sprintf("Step %d - %s: %s", i+1, s.Name, s.Description)
	}
	return strings.Join(lines, "\n")
}

func renderPrompts(prompts []schemas.StatePrompt) string {
	var b strings.Builder
	for _, p := range prompts {
		b.WriteString(p.String())
		b.WriteString("\n")
	}
	return b.String()
}

func pageContext(history []schemas.State, url, title string) string {
	return fmt.Sprintf("## History of Action\n%s\n## Current Website State\nURL: %s\nTitle: %s\n",
		RenderHistory(history), url, title)
}

func triggerHints(choice *schemas.StatePrompt) string {
	var b strings.Builder
	b.WriteString("## State Triggers\n")
	for _, t := range choice.Triggers {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	return b.String()
}

// numberedActions lists the template actions and closes with the terminate step.
func numberedActions(choice *schemas.StatePrompt) string {
	var b strings.Builder
	for i, a := range choice.Actions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, a)
	}
	b.WriteString("TERMINATE ACTION")
	return b.String()
}

func triggerSchema(keys []string) *schemas.ResponseSchema {
	return &schemas.ResponseSchema{
		Type: schemas.SchemaObject,
		Properties: map[string]*schemas.ResponseSchema{
			"triggers": {
				Type:        schemas.SchemaArray,
				Description: "Keys of the chosen trigger conditions.",
				Items:       &schemas.ResponseSchema{Type: schemas.SchemaString, Enum: keys},
			},
		},
		Required: []string{"triggers"},
	}
}
