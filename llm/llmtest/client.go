// Package llmtest provides in-memory Client implementations for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/deepnoodle-ai/distill/llm"
)

// ScriptedClient replays a fixed sequence of responses and records every
// call. Once the script is exhausted the last response repeats. Safe for
// concurrent use.
type ScriptedClient struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

// NewScriptedClient creates a client that returns the given texts in
// order, one per call.
func NewScriptedClient(responses ...string) *ScriptedClient {
	return &ScriptedClient{responses: responses}
}

// FailWith makes the i-th call fail with err instead of returning text.
func (c *ScriptedClient) FailWith(i int, err error) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.errs) <= i {
		c.errs = append(c.errs, nil)
	}
	c.errs[i] = err
	return c
}

// Generate returns the next scripted response.
func (c *ScriptedClient) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	call := c.calls
	c.calls++
	c.prompts = append(c.prompts, prompt)

	if call < len(c.errs) && c.errs[call] != nil {
		return nil, c.errs[call]
	}
	if len(c.responses) == 0 {
		return &llm.Response{Text: ""}, nil
	}
	idx := call
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	text := c.responses[idx]
	var config llm.GenerateConfig
	config.Apply(opts)
	return &llm.Response{
		Text:  text,
		Model: config.Model,
		Usage: llm.Usage{
			InputTokens:  llm.EstimateTokens(prompt),
			OutputTokens: llm.EstimateTokens(text),
		},
	}, nil
}

// Calls returns how many times Generate was invoked.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Prompts returns the prompts seen so far, in call order.
func (c *ScriptedClient) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.prompts))
	copy(out, c.prompts)
	return out
}
