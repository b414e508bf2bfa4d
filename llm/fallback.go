package llm

import (
	"context"

	"github.com/deepnoodle-ai/distill/slogger"
)

// FallbackClient rotates through an ordered list of models when the
// underlying client fails with a rate or quota rejection. Each model is
// tried at most once per call; other error kinds pass through untouched.
type FallbackClient struct {
	client Client
	models []string
	logger slogger.Logger
}

// NewFallbackClient wraps client with model fallback. The first model in
// the list is the preferred one.
func NewFallbackClient(client Client, models []string, logger slogger.Logger) *FallbackClient {
	if logger == nil {
		logger = slogger.DefaultLogger
	}
	return &FallbackClient{client: client, models: models, logger: logger}
}

// Generate tries each configured model in order until one succeeds or
// fails with something other than a rate limit.
func (c *FallbackClient) Generate(ctx context.Context, prompt string, opts ...GenerateOption) (*Response, error) {
	if len(c.models) == 0 {
		return c.client.Generate(ctx, prompt, opts...)
	}
	var lastErr error
	for i, model := range c.models {
		callOpts := append([]GenerateOption{}, opts...)
		callOpts = append(callOpts, WithModel(model))
		response, err := c.client.Generate(ctx, prompt, callOpts...)
		if err == nil {
			return response, nil
		}
		lastErr = err
		if !IsRateLimited(err) {
			return nil, err
		}
		if i < len(c.models)-1 {
			c.logger.Warn("model rate limited, falling back",
				"model", model, "next", c.models[i+1])
		}
	}
	return nil, lastErr
}
