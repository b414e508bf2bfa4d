// Package pricing maps provider models to per-token prices and computes
// call costs for the cost ledger.
package pricing

import (
	"fmt"
	"strings"
)

// ModelPricing holds prices in USD per one million tokens.
type ModelPricing struct {
	InputPrice  float64
	OutputPrice float64
}

// Estimated pricing used when a model is unknown, a rough market average.
const (
	EstimatedInputPrice  = 2.0
	EstimatedOutputPrice = 6.0
)

// TextModelPricing lists known text-generation prices by provider and
// model. Prices drift; entries here are refreshed opportunistically.
var TextModelPricing = map[string]map[string]ModelPricing{
	"anthropic": {
		"claude-sonnet-4-20250514": {InputPrice: 3.0, OutputPrice: 15.0},
		"claude-3-5-haiku-20241022": {InputPrice: 0.80, OutputPrice: 4.0},
	},
	"openai": {
		"gpt-4o":      {InputPrice: 2.50, OutputPrice: 10.0},
		"gpt-4o-mini": {InputPrice: 0.15, OutputPrice: 0.60},
		"gpt-4.1":     {InputPrice: 2.0, OutputPrice: 8.0},
	},
	"google": {
		"gemini-2.5-flash": {InputPrice: 0.075, OutputPrice: 0.30},
		"gemini-2.5-pro":   {InputPrice: 1.25, OutputPrice: 10.0},
	},
	"ollama": {
		"default": {InputPrice: 0, OutputPrice: 0},
	},
}

// CostBreakdown provides detailed cost information for one call.
type CostBreakdown struct {
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	InputCost     float64 `json:"input_cost_usd"`
	OutputCost    float64 `json:"output_cost_usd"`
	TotalCost     float64 `json:"total_cost_usd"`
	PricePerUnit  string  `json:"price_per_unit"`
	EstimatedCost bool    `json:"estimated_cost"` // true if pricing was unavailable
}

// Calculator computes costs from the pricing tables.
type Calculator struct{}

// NewCalculator creates a pricing calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// TextCost calculates the cost of a text generation call. Unknown
// provider/model pairs fall back to estimated pricing, flagged on the
// breakdown, except for providers whose table carries a "default" entry.
func (c *Calculator) TextCost(provider, model string, inputTokens, outputTokens int) *CostBreakdown {
	provider = strings.ToLower(provider)

	var inputPrice, outputPrice float64
	var found bool
	if models, ok := TextModelPricing[provider]; ok {
		pricing, ok := models[model]
		if !ok {
			pricing, ok = models["default"]
		}
		if ok {
			inputPrice = pricing.InputPrice
			outputPrice = pricing.OutputPrice
			found = true
		}
	}
	if !found {
		inputPrice = EstimatedInputPrice
		outputPrice = EstimatedOutputPrice
	}

	inputCost := float64(inputTokens) / 1_000_000.0 * inputPrice
	outputCost := float64(outputTokens) / 1_000_000.0 * outputPrice

	return &CostBreakdown{
		Provider:      provider,
		Model:         model,
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		InputCost:     inputCost,
		OutputCost:    outputCost,
		TotalCost:     inputCost + outputCost,
		PricePerUnit:  fmt.Sprintf("$%.2f/$%.2f per 1M tokens", inputPrice, outputPrice),
		EstimatedCost: !found,
	}
}
