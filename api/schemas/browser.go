package schemas

import (
	"fmt"
	"sort"
	"strings"
)

// Selector strategies accepted in the "by" parameter.
const (
	ByCSS   = "css selector"
	ByXPath = "xpath"
)

// ElementHandle identifies an element found by a PageProbe.
type ElementHandle struct {
	By       string `json:"by"`
	Selector string `json:"selector"`
	// NodeID is the driver-specific node identifier, if any.
	NodeID int64 `json:"node_id,omitempty"`
}

// Point is an absolute screen coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is a box in document coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Target is what an element action operates on.
type Target struct {
	By       string
	Selector string
	Point    *Point
	// Percentage is the horizontal offset inside the element for pointer
	// actions; zero means the center.
	Percentage float64
}

// HasSelector reports whether a selector was provided.
func (t Target) HasSelector() bool { return t.Selector != "" }

// Empty reports whether neither selector nor coordinates were provided.
func (t Target) Empty() bool { return t.Selector == "" && t.Point == nil }

func (t Target) String() string {
	switch {
	case t.HasSelector() && t.Point != nil:
		return fmt.Sprintf("%s=%q (fallback %.0f,%.0f)", t.By, t.Selector, t.Point.X, t.Point.Y)
	case t.HasSelector():
		return fmt.Sprintf("%s=%q", t.By, t.Selector)
	case t.Point != nil:
		return fmt.Sprintf("(%.0f,%.0f)", t.Point.X, t.Point.Y)
	}
	return "<empty target>"
}

// TriggerCandidate is a visible element the synthesis pipeline may ground a
// trigger on.
type TriggerCandidate struct {
	TagName             string `json:"tagName"`
	ID                  string `json:"id"`
	Text                string `json:"text"`
	CSSSelector         string `json:"cssSelector"`
	EnhancedCSSSelector string `json:"enhancedCssSelector"`
	XPath               string `json:"xpath"`
	AriaRole            string `json:"ariaRole"`
	AccessibleName      string `json:"accessibleName"`
	BBox                Rect   `json:"bbox"`
}

// AnnotatedElement is one entry of an Annotation, keyed by its mmid.
type AnnotatedElement struct {
	MMID                int    `json:"mmid"`
	TagName             string `json:"tagName"`
	Text                string `json:"text,omitempty"`
	EnhancedCSSSelector string `json:"enhancedCssSelector,omitempty"`
	CSSSelector         string `json:"cssSelector,omitempty"`
	XPath               string `json:"xpath,omitempty"`
	AriaLabel           string `json:"ariaLabel,omitempty"`
	AccessibleName      string `json:"accessibleName,omitempty"`
	Role                string `json:"role,omitempty"`
	InputType           string `json:"inputType,omitempty"`
	Box                 Rect   `json:"box"`
}

// Selector returns the most stable selector available and its strategy.
func (e AnnotatedElement) Selector() (by, selector string) {
	switch {
	case e.EnhancedCSSSelector != "":
		return ByCSS, e.EnhancedCSSSelector
	case e.CSSSelector != "":
		return ByCSS, e.CSSSelector
	case e.XPath != "":
		return ByXPath, e.XPath
	}
	return "", ""
}

// Describe renders the element as a single line for prompts.
func (e AnnotatedElement) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] <%s", e.MMID, e.TagName)
	if e.Role != "" && e.Role != e.TagName {
		fmt.Fprintf(&b, " role=%q", e.Role)
	}
	if e.InputType != "" {
		fmt.Fprintf(&b, " type=%q", e.InputType)
	}
	if e.AriaLabel != "" {
		fmt.Fprintf(&b, " aria-label=%q", e.AriaLabel)
	}
	b.WriteString(">")
	if name := firstNonEmpty(e.Text, e.AccessibleName); name != "" {
		b.WriteString(" ")
		b.WriteString(name)
	}
	return b.String()
}

// Annotation is a snapshot of the page for the sub-agent.
type Annotation struct {
	URL        string                   `json:"url"`
	Title      string                   `json:"title"`
	Elements   map[int]AnnotatedElement `json:"elements"`
	Screenshot []byte                   `json:"-"`
}

// Description renders the element map in mmid order.
func (a *Annotation) Description() string {
	if a == nil || len(a.Elements) == 0 {
		return "No interactive elements found."
	}
	ids := make([]int, 0, len(a.Elements))
	for id := range a.Elements {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, a.Elements[id].Describe())
	}
	return strings.Join(lines, "\n")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
