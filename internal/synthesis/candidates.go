// internal/synthesis/candidates.go
package synthesis

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/statepilot/api/schemas"
	"github.com/xkilldash9x/statepilot/internal/registry"
)

// Candidate is a trigger the live page can satisfy right now, addressed by a
// short key the model chooses from.
type Candidate struct {
	Key     string
	Trigger schemas.Invocation
	// order lists Trigger.Params keys in display order.
	order []string
}

// String renders the candidate as `KEY <type/>: k=v, ...`.
func (c Candidate) String() string {
	parts := make([]string, 0, len(c.order))
	for _, k := range c.order {
		parts = append(parts, fmt.Sprintf("%s=%v", k, c.Trigger.Params[k]))
	}
	return fmt.Sprintf("%s <%s/>: %s", c.Key, c.Trigger.Type, strings.Join(parts, ", "))
}

// BuildCandidates enumerates the URL trigger followed by a text and an
// element trigger for each page element, keyed by the element's position.
func BuildCandidates(currentURL string, elements []schemas.TriggerCandidate) []Candidate {
	out := []Candidate{{
		Key:     "URL",
		Trigger: schemas.Invocation{Type: registry.TriggerURL, Params: map[string]any{"url": currentURL}},
		order:   []string{"url"},
	}}

	for i, el := range elements {
		if text := strings.TrimSpace(el.Text); text != "" {
			out = append(out, Candidate{
				Key:     fmt.Sprintf("TEXT_%d", i),
				Trigger: schemas.Invocation{Type: registry.TriggerText, Params: map[string]any{"text": text}},
				order:   []string{"text"},
			})
		}
		if el.EnhancedCSSSelector != "" {
			out = append(out, Candidate{
				Key: fmt.Sprintf("CSS_%d", i),
				Trigger: schemas.Invocation{Type: registry.TriggerElement, Params: map[string]any{
					"by":       schemas.ByCSS,
					"selector": el.EnhancedCSSSelector,
				}},
				order: []string{"by", "selector"},
			})
		}
	}
	return out
}

// CandidateSet indexes candidates by key.
type CandidateSet struct {
	list  []Candidate
	byKey map[string]Candidate
}

func NewCandidateSet(candidates []Candidate) *CandidateSet {
	s := &CandidateSet{list: candidates, byKey: make(map[string]Candidate, len(candidates))}
	for _, c := range candidates {
		s.byKey[c.Key] = c
	}
	return s
}

// Keys returns every key in enumeration order.
func (s *CandidateSet) Keys() []string {
	keys := make([]string, len(s.list))
	for i, c := range s.list {
		keys[i] = c.Key
	}
	return keys
}

// Render lists the candidates one per line.
func (s *CandidateSet) Render() string {
	lines := make([]string, len(s.list))
	for i, c := range s.list {
		lines[i] = c.String()
	}
	return strings.Join(lines, "\n")
}

// Resolve maps chosen keys to trigger invocations. Unknown keys and
// repeats are dropped; order follows the model's choice.
func (s *CandidateSet) Resolve(keys []string) (triggers []schemas.Invocation, dropped []string) {
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		c, ok := s.byKey[k]
		if !ok {
			dropped = append(dropped, k)
			continue
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		triggers = append(triggers, c.Trigger.Clone())
	}
	return triggers, dropped
}
