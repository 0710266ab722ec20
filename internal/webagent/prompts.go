package webagent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/statepilot/api/schemas"
	"github.com/xkilldash9x/statepilot/internal/registry"
)

const queryPreamble = "ONLY FOLLOW THE FOLLOWING INSTRUCTION(S):\n"

const querySuffix = "\nONCE YOU COMPLETE THE TASK, YOU TERMINATE IMMEDIATELY. " +
	"DO NOT PERFORM ANY ACTION BEYOND THE INSTRUCTION(S) ABOVE."

// WrapQuery bounds a synthesized instruction so the agent stops as soon as
// it is fulfilled.
func WrapQuery(prompt string) string {
	return queryPreamble + prompt + querySuffix
}

const agentRole = `You are a web agent operating a real browser. You see a screenshot of the page and a list of
interactive elements. Every element line starts with its identifier in square brackets, e.g. [12].`

const planPrompt = `Write a short step-by-step plan that fulfils the user query on this page.
Start with the '## Step 1' header, one header per step, and keep each step to a single browser action.
Only plan what the query asks for and finish with a step that terminates.`

const replanPrompt = `Revise the plan given what has already been done. Remove completed steps, fix steps that
failed, and keep the remaining steps short. Start with the '## Step 1' header for the next step to perform.
If the query is already fulfilled, the only step is to terminate.`

const decidePrompt = `## User Query
%s

## Current Plan
%s

Decide the single next action. Rules:
- Refer to elements only by their identifier in "mmid"; never guess coordinates.
- Use the exact values from the query when typing.
- Use "terminate" as soon as the query is fulfilled, with a short "reason" param.
- If the previous action failed, try a different element or action.

## Available Actions
%s

Respond with one JSON object:
{"action": "<name>", "mmid": <identifier or null>, "params": {...}, "reasoning": "<why>"}`

// actionCatalog describes every registered action and its parameters.
// Target parameters are omitted from element actions since the mmid
// supplies them.
func actionCatalog(r ActionRegistry) string {
	targetParams := map[string]bool{"by": true, "selector": true, "x": true, "y": true}
	var b strings.Builder
	for _, name := range r.List() {
		params, _ := r.Params(name)
		var parts []string
		for _, p := range params {
			if registry.ElementActions[name] && targetParams[p.Name] {
				continue
			}
			desc := p.Name + ": " + p.Kind.String()
			if !p.Required {
				desc += " (optional)"
			}
			parts = append(parts, desc)
		}
		line := "- " + name
		if registry.ElementActions[name] {
			line += " [needs mmid]"
		}
		if len(parts) > 0 {
			line += " params {" + strings.Join(parts, ", ") + "}"
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func pageSection(ann *schemas.Annotation) string {
	return fmt.Sprintf("## Current Page\nURL: %s\nTitle: %s\n## Current HTML\n%s", ann.URL, ann.Title, ann.Description())
}

func trajectory(steps []Step) string {
	if len(steps) == 0 {
		return "No previous actions."
	}
	lines := make([]string, 0, len(steps))
	for _, s := range steps {
		lines = append(lines, s.String())
	}
	return strings.Join(lines, "\n")
}

func screenshotParts(ann *schemas.Annotation) []schemas.ImagePart {
	if ann == nil || len(ann.Screenshot) == 0 {
		return nil
	}
	return []schemas.ImagePart{{MIMEType: "image/png", Data: ann.Screenshot}}
}
