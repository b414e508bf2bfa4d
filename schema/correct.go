package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/distill/llm"
	"github.com/deepnoodle-ai/distill/slogger"
)

// GenerateFunc produces raw model text for a correction prompt. The
// caller supplies it already wrapped in whatever resilience applies to
// ordinary generation calls.
type GenerateFunc func(ctx context.Context, prompt string) (string, error)

// Corrector repairs payloads that fail validation by feeding the
// diagnostics back to the model and revalidating the replacement.
type Corrector struct {
	Generate   GenerateFunc
	MaxRetries int
	Logger     slogger.Logger
}

// NewCorrector creates a corrector with the given generation function.
func NewCorrector(generate GenerateFunc, maxRetries int, logger slogger.Logger) *Corrector {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if logger == nil {
		logger = slogger.DefaultLogger
	}
	return &Corrector{Generate: generate, MaxRetries: maxRetries, Logger: logger}
}

// ValidateWithCorrection validates data against the schema. On failure
// it asks the model to repair the payload, up to MaxRetries attempts,
// and returns the first conforming result. The original prompt that
// produced the payload is included in each correction request so the
// model keeps the task context. If every attempt fails the final
// diagnostics are returned as a ValidationError.
func (c *Corrector) ValidateWithCorrection(ctx context.Context, data map[string]any, s *Schema, originalPrompt string) (map[string]any, error) {
	diags := Validate(data, s)
	if len(diags) == 0 {
		return data, nil
	}

	current := data
	for attempt := 1; attempt <= c.MaxRetries; attempt++ {
		c.Logger.Warn("payload failed validation, requesting correction",
			"attempt", attempt, "max_retries", c.MaxRetries, "issues", len(diags))

		prompt, err := correctionPrompt(originalPrompt, current, s, diags)
		if err != nil {
			return nil, err
		}
		text, err := c.Generate(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("correction attempt %d failed: %w", attempt, err)
		}
		corrected, err := llm.ExtractStructured(text)
		if err != nil {
			c.Logger.Warn("correction response had no usable payload", "attempt", attempt)
			continue
		}
		current = corrected
		diags = Validate(current, s)
		if len(diags) == 0 {
			c.Logger.Info("payload corrected", "attempts", attempt)
			return current, nil
		}
	}
	return nil, &ValidationError{Diagnostics: diags}
}

func correctionPrompt(originalPrompt string, data map[string]any, s *Schema, diags []Diagnostic) (string, error) {
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload for correction: %w", err)
	}
	schemaJSON, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema for correction: %w", err)
	}

	var b strings.Builder
	if originalPrompt != "" {
		b.WriteString("Original request:\n")
		b.WriteString(originalPrompt)
		b.WriteString("\n\n")
	}
	b.WriteString("The following JSON does not conform to the required schema.\n\n")
	b.WriteString("JSON:\n```json\n")
	b.Write(payload)
	b.WriteString("\n```\n\nSchema:\n```json\n")
	b.Write(schemaJSON)
	b.WriteString("\n```\n\nProblems:\n")
	for _, d := range diags {
		b.WriteString("- ")
		b.WriteString(d.String())
		b.WriteString("\n")
	}
	b.WriteString("\nReturn the corrected JSON object only, inside a ```json code block. ")
	b.WriteString("Preserve all valid content; fix only the listed problems.")
	return b.String(), nil
}
