package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/distill"
	"github.com/deepnoodle-ai/distill/breaker"
	"github.com/deepnoodle-ai/distill/cache"
	"github.com/deepnoodle-ai/distill/checkpoint"
	"github.com/deepnoodle-ai/distill/llm"
	"github.com/deepnoodle-ai/distill/ratelimit"
	"github.com/deepnoodle-ai/distill/retry"
	"github.com/deepnoodle-ai/distill/schema"
)

// Run executes the pipeline against the given input. Stages restored
// from a checkpoint or served from the cache make no generation calls.
// On failure the error checkpoint preserves the outputs of every
// completed stage so a later run can resume.
func (p *Pipeline) Run(ctx context.Context, input map[string]any) (*Result, error) {
	fingerprint, err := checkpoint.Fingerprint(input)
	if err != nil {
		return nil, err
	}
	logger := p.logger.With("fingerprint", fingerprint)

	outputs := map[string]map[string]any{}
	resumed := false
	if p.resume && p.checkpoints != nil {
		restored, err := p.restoreCheckpoint(ctx, fingerprint)
		if err != nil {
			logger.Warn("checkpoint restore failed, starting fresh", "error", err)
		} else if len(restored) > 0 {
			outputs = restored
			resumed = true
			logger.Info("resuming from checkpoint", "completed_stages", len(restored))
		}
	}

	result := &Result{
		Status:      distill.RunStatusInProgress,
		Fingerprint: fingerprint,
		Outputs:     outputs,
		Resumed:     resumed,
	}

	total := len(p.stages)
	for i, stage := range p.stages {
		if _, done := outputs[stage.Name]; done {
			p.emitProgress(stage.Name, "restored from checkpoint", float64(i+1)/float64(total))
			continue
		}
		p.emitProgress(stage.Name, "starting", float64(i)/float64(total))

		output, err := p.runStage(ctx, stage, input, outputs)
		if err != nil {
			stageErr := fmt.Errorf("stage %q: %w", stage.Name, err)
			logger.Error("stage failed", "stage", stage.Name, "error", err)
			p.writeCheckpoint(ctx, fingerprint, stage.Name, outputs, stageErr)
			result.Status = distill.RunStatusFailed
			return result, stageErr
		}
		outputs[stage.Name] = output
		p.writeCheckpoint(ctx, fingerprint, stage.Name, outputs, nil)
		p.emitProgress(stage.Name, "completed", float64(i+1)/float64(total))
	}

	result.Status = distill.RunStatusCompleted
	return result, nil
}

func (p *Pipeline) runStage(ctx context.Context, stage *Stage, input map[string]any, outputs map[string]map[string]any) (map[string]any, error) {
	deps := map[string]map[string]any{}
	for _, name := range stage.Inputs {
		dep, ok := outputs[name]
		if !ok {
			return nil, fmt.Errorf("missing output of dependency %q", name)
		}
		deps[name] = dep
	}

	key, err := cache.Key(stage.Name, p.provider, p.model, map[string]any{
		"input": input,
		"deps":  deps,
	})
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		if entry, ok := p.cache.Get(key); ok {
			// Cached payloads are revalidated in case the schema has
			// tightened since they were written.
			if stage.Output == nil || len(schema.Validate(entry.Value, stage.Output)) == 0 {
				p.logger.Debug("cache hit", "stage", stage.Name, "key", key)
				return entry.Value, nil
			}
			p.logger.Warn("cached output no longer conforms, regenerating", "stage", stage.Name)
		}
	}

	prompt, err := stage.Prompt(input, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}

	response, err := p.generate(ctx, stage.Name, prompt)
	if err != nil {
		return nil, err
	}
	output, err := llm.ExtractStructured(response.Text)
	if err != nil {
		return nil, err
	}

	if stage.Output != nil {
		corrector := schema.NewCorrector(func(ctx context.Context, prompt string) (string, error) {
			response, err := p.generate(ctx, stage.Name, prompt)
			if err != nil {
				return "", err
			}
			return response.Text, nil
		}, p.maxCorrections, p.logger)
		output, err = corrector.ValidateWithCorrection(ctx, output, stage.Output, prompt)
		if err != nil {
			return nil, err
		}
	}

	if p.cache != nil {
		entry := &cache.Entry{
			Value: output,
			Metadata: cache.Metadata{
				CreatedAt: time.Now().UTC(),
				Provider:  p.provider,
				Model:     p.model,
			},
		}
		if err := p.cache.Set(key, entry); err != nil {
			p.logger.Warn("cache write failed", "stage", stage.Name, "error", err)
		}
	}
	return output, nil
}

// generate performs one resilient generation call: budget pre-flight,
// rate limit, then retry around the circuit breaker. Usage is committed
// to the ledger on success.
func (p *Pipeline) generate(ctx context.Context, stageName, prompt string) (*llm.Response, error) {
	if p.ledger != nil {
		estimate := p.ledger.EstimateCost(p.provider, p.model, llm.EstimateTokens(prompt), 0)
		if err := p.ledger.CheckBudget(estimate); err != nil {
			return nil, err
		}
	}

	if p.limiter != nil {
		key := ratelimit.ModelKey(p.provider, p.model)
		if _, err := p.limiter.Acquire(ctx, key, 1, true); err != nil {
			return nil, err
		}
	}

	var response *llm.Response
	call := func() error {
		r, err := p.client.Generate(ctx, prompt, llm.WithModel(p.model))
		if err != nil {
			return err
		}
		response = r
		return nil
	}

	err := retry.Do(ctx, func() error {
		var err error
		if p.breaker != nil {
			err = p.breaker.Do(call)
		} else {
			err = call()
		}
		if err == nil {
			return nil
		}
		// An open breaker means the provider is already known bad;
		// retrying would only hammer it.
		if errors.Is(err, breaker.ErrOpen) {
			return err
		}
		var genErr *llm.Error
		if errors.As(err, &genErr) && genErr.Recoverable() {
			return retry.NewRecoverableError(err)
		}
		return err
	}, p.retryOpts...)
	if err != nil {
		return nil, err
	}

	if p.ledger != nil {
		usage := response.Usage
		if usage.InputTokens == 0 && usage.OutputTokens == 0 {
			usage = llm.Usage{
				InputTokens:  llm.EstimateTokens(prompt),
				OutputTokens: llm.EstimateTokens(response.Text),
			}
		}
		if _, err := p.ledger.RecordUsage(stageName, p.provider, p.model, usage); err != nil {
			return nil, err
		}
	}
	return response, nil
}

func (p *Pipeline) restoreCheckpoint(ctx context.Context, fingerprint string) (map[string]map[string]any, error) {
	record, err := p.checkpoints.FindLatest(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	outputs := map[string]map[string]any{}
	for name, raw := range record.Outputs {
		var output map[string]any
		if err := json.Unmarshal(raw, &output); err != nil {
			return nil, fmt.Errorf("corrupt checkpoint output for stage %q: %w", name, err)
		}
		outputs[name] = output
	}
	return outputs, nil
}

// writeCheckpoint persists progress best-effort; a write failure never
// fails the stage that produced the outputs.
func (p *Pipeline) writeCheckpoint(ctx context.Context, fingerprint, stageName string, outputs map[string]map[string]any, stageErr error) {
	if p.checkpoints == nil {
		return
	}
	encoded := map[string]json.RawMessage{}
	for name, output := range outputs {
		raw, err := json.Marshal(output)
		if err != nil {
			p.logger.Warn("failed to encode checkpoint output", "stage", name, "error", err)
			return
		}
		encoded[name] = raw
	}
	record := checkpoint.NewRecord(fingerprint, stageName, encoded)
	if stageErr != nil {
		record.Error = stageErr.Error()
	}
	if err := p.checkpoints.Create(ctx, record); err != nil {
		p.logger.Warn("checkpoint write failed", "stage", stageName, "error", err)
	}
}
