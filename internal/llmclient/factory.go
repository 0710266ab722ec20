// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/statepilot/api/schemas"
	"github.com/xkilldash9x/statepilot/internal/config"
	"github.com/xkilldash9x/statepilot/internal/observability"
)

// ErrLLMDisabled is returned by the client used in replay-only mode.
var ErrLLMDisabled = errors.New("llm client is disabled")

// DisabledClient satisfies schemas.LLMClient and refuses every request.
type DisabledClient struct{}

func (DisabledClient) Generate(context.Context, schemas.GenerationRequest) (string, error) {
	return "", ErrLLMDisabled
}

func (DisabledClient) Close() error { return nil }

// NewClient builds the tiered, rate limited client described by cfg. When
// the LLM is disabled it returns a DisabledClient.
func NewClient(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger, metrics *observability.Metrics) (schemas.LLMClient, error) {
	if !cfg.Enabled {
		logger.Info("LLM disabled; running in replay-only mode.")
		return DisabledClient{}, nil
	}

	fast, err := newModelClient(ctx, cfg.Fast, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("fast tier: %w", err)
	}
	powerful, err := newModelClient(ctx, cfg.Powerful, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("powerful tier: %w", err)
	}

	router, err := NewLLMRouter(logger, fast, powerful)
	if err != nil {
		return nil, err
	}
	return NewRateLimitedClient(router, cfg.RequestsPerMinute), nil
}

func newModelClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger, metrics *observability.Metrics) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini, config.ProviderVertex:
		return NewGeminiClient(ctx, cfg, logger, metrics)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]", cfg.Provider, config.ProviderGemini, config.ProviderVertex)
	}
}
