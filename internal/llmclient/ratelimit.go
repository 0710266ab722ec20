package llmclient

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/xkilldash9x/statepilot/api/schemas"
)

// RateLimitedClient paces requests to an underlying client.
type RateLimitedClient struct {
	next    schemas.LLMClient
	limiter *rate.Limiter
}

// NewRateLimitedClient allows requestsPerMinute calls per minute with a burst
// of one. A non-positive rate disables limiting and returns next unchanged.
func NewRateLimitedClient(next schemas.LLMClient, requestsPerMinute int) schemas.LLMClient {
	if requestsPerMinute <= 0 {
		return next
	}
	return &RateLimitedClient{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
	}
}

func (c *RateLimitedClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	return c.next.Generate(ctx, req)
}

func (c *RateLimitedClient) Close() error { return c.next.Close() }
