// Package llm defines the capability interface for external
// text-generation services and the shared types their responses carry.
// The engine never talks to a vendor wire protocol directly; a provider
// adapter implements Client and everything else is built on top of it.
package llm

import (
	"context"
)

// Client is the single capability the engine requires of a generation
// service: given a prompt, produce text or fail with a typed error.
type Client interface {
	// Generate a response for the given prompt.
	Generate(ctx context.Context, prompt string, opts ...GenerateOption) (*Response, error)
}

// Response is a completed generation.
type Response struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
	Usage Usage  `json:"usage"`
}

// GenerateOption configures a single generation call.
type GenerateOption func(*GenerateConfig)

// GenerateConfig holds configuration parameters for a generation call.
type GenerateConfig struct {
	Model        string
	SystemPrompt string
	MaxTokens    *int
	Temperature  *float64
	Seed         *int
}

// Apply runs the options against the config.
func (c *GenerateConfig) Apply(opts []GenerateOption) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithModel sets the model for the generation.
func WithModel(model string) GenerateOption {
	return func(config *GenerateConfig) {
		config.Model = model
	}
}

// WithSystemPrompt sets the system prompt.
func WithSystemPrompt(systemPrompt string) GenerateOption {
	return func(config *GenerateConfig) {
		config.SystemPrompt = systemPrompt
	}
}

// WithMaxTokens sets the max output tokens.
func WithMaxTokens(maxTokens int) GenerateOption {
	return func(config *GenerateConfig) {
		config.MaxTokens = &maxTokens
	}
}

// WithTemperature sets the temperature.
func WithTemperature(temperature float64) GenerateOption {
	return func(config *GenerateConfig) {
		config.Temperature = &temperature
	}
}

// WithSeed sets the generation seed for providers that support
// deterministic sampling.
func WithSeed(seed int) GenerateOption {
	return func(config *GenerateConfig) {
		config.Seed = &seed
	}
}

// EstimateTokens roughly estimates the token count of a text for cost
// accounting when the provider does not report usage. One token per four
// characters is a coarse but serviceable approximation.
func EstimateTokens(text string) int {
	return len(text) / 4
}
