package distill

import (
	"context"
	"time"

	"github.com/deepnoodle-ai/distill/ledger"
	"github.com/deepnoodle-ai/distill/llm"
	"github.com/deepnoodle-ai/distill/ratelimit"
	"github.com/deepnoodle-ai/distill/slogger"
)

// InstrumentedClient wraps a generation client with rate limiting,
// cost accounting, and call logging. Every collaborator is optional;
// a nil limiter or ledger simply disables that concern.
type InstrumentedClient struct {
	client   llm.Client
	provider string
	model    string
	limiter  *ratelimit.Limiter
	ledger   *ledger.CostLedger
	logger   slogger.Logger
}

// InstrumentOptions configures an InstrumentedClient.
type InstrumentOptions struct {
	Provider string
	Model    string
	Limiter  *ratelimit.Limiter
	Ledger   *ledger.CostLedger
	Logger   slogger.Logger
}

// NewInstrumentedClient wraps client with the configured concerns.
func NewInstrumentedClient(client llm.Client, opts InstrumentOptions) *InstrumentedClient {
	logger := opts.Logger
	if logger == nil {
		logger = slogger.DefaultLogger
	}
	return &InstrumentedClient{
		client:   client,
		provider: opts.Provider,
		model:    opts.Model,
		limiter:  opts.Limiter,
		ledger:   opts.Ledger,
		logger:   logger,
	}
}

// Generate acquires rate-limit capacity, delegates to the inner client,
// and records usage in the ledger. A ledger budget rejection fails the
// call even though the generation itself succeeded.
func (c *InstrumentedClient) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (*llm.Response, error) {
	var config llm.GenerateConfig
	config.Apply(opts)
	model := config.Model
	if model == "" {
		model = c.model
	}

	if c.limiter != nil {
		key := ratelimit.ModelKey(c.provider, model)
		if _, err := c.limiter.Acquire(ctx, key, 1, true); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	response, err := c.client.Generate(ctx, prompt, opts...)
	elapsed := time.Since(start)
	if err != nil {
		c.logger.Warn("generation failed",
			"provider", c.provider, "model", model,
			"duration", elapsed, "error", err)
		return nil, err
	}

	usage := response.Usage
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		usage = llm.Usage{
			InputTokens:  llm.EstimateTokens(prompt),
			OutputTokens: llm.EstimateTokens(response.Text),
		}
	}

	if c.ledger != nil {
		breakdown, err := c.ledger.RecordUsage("", c.provider, model, usage)
		if err != nil {
			return nil, err
		}
		c.logger.Info("generation complete",
			"provider", c.provider, "model", model,
			"duration", elapsed,
			"input_tokens", usage.InputTokens,
			"output_tokens", usage.OutputTokens,
			"cost_usd", breakdown.TotalCost)
	} else {
		c.logger.Info("generation complete",
			"provider", c.provider, "model", model,
			"duration", elapsed,
			"input_tokens", usage.InputTokens,
			"output_tokens", usage.OutputTokens)
	}
	return response, nil
}
