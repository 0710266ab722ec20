package schemas

import (
	"context"
	"time"
)

// -- LLM Client Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// SchemaType mirrors the OpenAPI subset accepted for structured output.
type SchemaType string

const (
	SchemaObject  SchemaType = "object"
	SchemaArray   SchemaType = "array"
	SchemaString  SchemaType = "string"
	SchemaInteger SchemaType = "integer"
	SchemaNumber  SchemaType = "number"
	SchemaBoolean SchemaType = "boolean"
)

// ResponseSchema constrains a structured response. Clients translate it into
// their provider's schema representation.
type ResponseSchema struct {
	Type        SchemaType                 `json:"type"`
	Description string                     `json:"description,omitempty"`
	Properties  map[string]*ResponseSchema `json:"properties,omitempty"`
	Items       *ResponseSchema            `json:"items,omitempty"`
	Enum        []string                   `json:"enum,omitempty"`
	Required    []string                   `json:"required,omitempty"`
	Nullable    bool                       `json:"nullable,omitempty"`
}

// GenerationOptions provides detailed parameters to control the text generation
// process of the LLM.
type GenerationOptions struct {
	Temperature     float32 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
	// ResponseSchema, when set, implies ForceJSONFormat.
	ResponseSchema *ResponseSchema `json:"response_schema,omitempty"`
}

// ImagePart is an inline image attached to the user turn.
type ImagePart struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, attached images, the desired model tier, and
// generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Images       []ImagePart       `json:"images,omitempty"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient is the boundary to a language model provider.
type LLMClient interface {
	// Generate returns the raw text of the model's first candidate.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client.
	Close() error
}

// -- Browser Interfaces --

// PageProbe reads live page state. Implementations must not mutate the page.
type PageProbe interface {
	CurrentURL(ctx context.Context) (string, error)
	CurrentTitle(ctx context.Context) (string, error)
	// FindElement returns nil and no error when nothing matches.
	FindElement(ctx context.Context, by, selector string) (*ElementHandle, error)
	IsVisibleInViewport(ctx context.Context, el *ElementHandle) (bool, error)
	// InteractiveElements enumerates visible, text-bearing elements in the
	// viewport, in document order.
	InteractiveElements(ctx context.Context) ([]TriggerCandidate, error)
}

// ActionDriver performs page-mutating primitives. A Target carries a
// selector, resolved coordinates, or both; selectors are tried first.
type ActionDriver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, target Target) error
	Type(ctx context.Context, target Target, text string) error
	Scroll(ctx context.Context, direction string, pixels int, target *Target) error
	ScrollTo(ctx context.Context, target Target) error
	Move(ctx context.Context, target Target) error
	PressKey(ctx context.Context, key string) error
	Wait(ctx context.Context, d time.Duration) error
}

// Annotator captures the element map and screenshot the sub-agent reasons over.
type Annotator interface {
	Annotate(ctx context.Context) (*Annotation, error)
	// ScreenCoordinates converts a document-space box to absolute screen
	// coordinates at pct of its width and half its height.
	ScreenCoordinates(ctx context.Context, box Rect, pct float64) (Point, error)
}

// Browser is the full capability set of a live page.
type Browser interface {
	PageProbe
	ActionDriver
	Annotator
}
