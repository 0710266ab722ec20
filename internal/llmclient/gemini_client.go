// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/statepilot/api/schemas"
	"github.com/xkilldash9x/statepilot/internal/config"
	"github.com/xkilldash9x/statepilot/internal/observability"
)

const (
	defaultMaxRetryTime = 2 * time.Minute
	defaultMaxInterval  = 30 * time.Second
)

// GeminiClient implements schemas.LLMClient on top of the genai SDK. It
// serves both the Gemini API and Vertex AI backends.
type GeminiClient struct {
	client  *genai.Client
	cfg     config.LLMModelConfig
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewGeminiClient builds a client for one model.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger, metrics *observability.Metrics) (*GeminiClient, error) {
	cc := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.Endpoint},
	}
	switch cfg.Provider {
	case config.ProviderVertex:
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	case config.ProviderGemini, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("Gemini API Key is required")
		}
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
	default:
		return nil, fmt.Errorf("unsupported provider for gemini client: %q", cfg.Provider)
	}
	if cfg.APITimeout > 0 {
		timeout := cfg.APITimeout
		cc.HTTPOptions.Timeout = &timeout
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		client:  client,
		cfg:     cfg,
		logger:  logger.Named("llm_client.gemini").With(zap.String("model", cfg.Model)),
		metrics: metrics,
	}, nil
}

// Generate sends the request and returns the first candidate's text,
// retrying transient failures with exponential backoff.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	contents := []*genai.Content{c.buildUserContent(req)}
	genCfg := c.buildGenerationConfig(req)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.cfg.MaxRetryTime
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = defaultMaxRetryTime
	}
	b.MaxInterval = defaultMaxInterval

	var text string
	operation := func() error {
		start := time.Now()
		resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, contents, genCfg)
		duration := time.Since(start)

		if err != nil {
			c.metrics.LLMRequest(c.cfg.Model, duration, 0, 0, err)
			return c.classify(err)
		}

		var promptTokens, outputTokens int32
		if resp.UsageMetadata != nil {
			promptTokens = resp.UsageMetadata.PromptTokenCount
			outputTokens = resp.UsageMetadata.CandidatesTokenCount
		}

		out, err := candidateText(resp)
		c.metrics.LLMRequest(c.cfg.Model, duration, promptTokens, outputTokens, err)
		if err != nil {
			return err
		}

		c.logger.Debug("LLM generation complete.",
			zap.Duration("duration", duration),
			zap.Int32("prompt_tokens", promptTokens),
			zap.Int32("completion_tokens", outputTokens),
		)
		text = out
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return text, nil
}

// Close is a no-op; the genai client holds no closable resources.
func (c *GeminiClient) Close() error { return nil }

func candidateText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", backoff.Permanent(fmt.Errorf("gemini API blocked the prompt (Reason: %s)", resp.PromptFeedback.BlockReason))
		}
		return "", backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		switch candidate.FinishReason {
		case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent:
			return "", backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", candidate.FinishReason))
		}
		return "", fmt.Errorf("gemini API returned empty content parts (Reason: %s)", candidate.FinishReason)
	}
	return resp.Text(), nil
}

// classify marks non-transient API errors as permanent so backoff stops.
func (c *GeminiClient) classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
		return err
	}

	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		c.logger.Warn("Transient LLM API error, retrying...", zap.Int("status", code), zap.Error(err))
		return err
	}
	c.logger.Error("LLM API returned a permanent error.", zap.Int("status", code), zap.Error(err))
	return backoff.Permanent(err)
}

func (c *GeminiClient) buildUserContent(req schemas.GenerationRequest) *genai.Content {
	parts := []*genai.Part{genai.NewPartFromText(req.UserPrompt)}
	for _, img := range req.Images {
		mime := img.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts, genai.NewPartFromBytes(img.Data, mime))
	}
	return genai.NewContentFromParts(parts, genai.RoleUser)
}

func (c *GeminiClient) buildGenerationConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temperature := req.Options.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}

	gc := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(temperature),
		SafetySettings: c.safetySettings(),
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if c.cfg.TopP > 0 {
		gc.TopP = genai.Ptr(c.cfg.TopP)
	}
	if c.cfg.TopK > 0 {
		gc.TopK = genai.Ptr(c.cfg.TopK)
	}
	if c.cfg.MaxTokens > 0 {
		gc.MaxOutputTokens = c.cfg.MaxTokens
	}
	if req.Options.ForceJSONFormat || req.Options.ResponseSchema != nil {
		gc.ResponseMIMEType = "application/json"
	}
	if req.Options.ResponseSchema != nil {
		gc.ResponseSchema = toGenaiSchema(req.Options.ResponseSchema)
	}
	return gc
}

func (c *GeminiClient) safetySettings() []*genai.SafetySetting {
	if len(c.cfg.SafetyFilters) == 0 {
		return nil
	}
	settings := make([]*genai.SafetySetting, 0, len(c.cfg.SafetyFilters))
	for _, category := range schemas.SortedKeys(c.cfg.SafetyFilters) {
		settings = append(settings, &genai.SafetySetting{
			Category:  genai.HarmCategory(category),
			Threshold: genai.HarmBlockThreshold(c.cfg.SafetyFilters[category]),
		})
	}
	return settings
}

var schemaTypes = map[schemas.SchemaType]genai.Type{
	schemas.SchemaObject:  genai.TypeObject,
	schemas.SchemaArray:   genai.TypeArray,
	schemas.SchemaString:  genai.TypeString,
	schemas.SchemaInteger: genai.TypeInteger,
	schemas.SchemaNumber:  genai.TypeNumber,
	schemas.SchemaBoolean: genai.TypeBoolean,
}

func toGenaiSchema(s *schemas.ResponseSchema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        schemaTypes[s.Type],
		Description: s.Description,
		Enum:        s.Enum,
		Required:    s.Required,
		Items:       toGenaiSchema(s.Items),
	}
	if s.Nullable {
		out.Nullable = genai.Ptr(true)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
	}
	return out
}
