// Package pipeline sequences generation stages into a run: each stage
// prompts the model, validates the structured output against its
// schema, and feeds prior outputs to the stages that depend on them.
// Caching, checkpointing, rate limiting, circuit breaking, and cost
// accounting attach per run.
package pipeline

import (
	"fmt"

	"github.com/deepnoodle-ai/distill"
	"github.com/deepnoodle-ai/distill/breaker"
	"github.com/deepnoodle-ai/distill/cache"
	"github.com/deepnoodle-ai/distill/checkpoint"
	"github.com/deepnoodle-ai/distill/ledger"
	"github.com/deepnoodle-ai/distill/llm"
	"github.com/deepnoodle-ai/distill/ratelimit"
	"github.com/deepnoodle-ai/distill/retry"
	"github.com/deepnoodle-ai/distill/schema"
	"github.com/deepnoodle-ai/distill/slogger"
)

// Stage is one step of a pipeline. Its prompt is built from the run
// input and the outputs of the stages it declares as dependencies, and
// its output must conform to the given schema.
type Stage struct {
	// Name identifies the stage. Unique within a pipeline.
	Name string

	// Inputs names earlier stages whose outputs this stage consumes.
	Inputs []string

	// Output is the schema the stage result must conform to. Optional;
	// stages without a schema accept any JSON object.
	Output *schema.Schema

	// Prompt builds the generation prompt from the run input and the
	// outputs of the stages named in Inputs.
	Prompt func(input map[string]any, deps map[string]map[string]any) (string, error)
}

// Options configures a pipeline.
type Options struct {
	Stages   []*Stage
	Client   llm.Client
	Provider string
	Model    string

	// Cache stores stage outputs keyed by stage identity and inputs.
	// Optional.
	Cache cache.Cache

	// Checkpoints persists progress for resumption. Optional.
	Checkpoints checkpoint.Store

	// Resume restores outputs from the latest checkpoint matching the
	// run input and skips the stages it already covers.
	Resume bool

	// Limiter throttles generation calls per provider/model. Optional.
	Limiter *ratelimit.Limiter

	// Breaker short-circuits calls to a failing provider. Optional.
	Breaker *breaker.Breaker

	// Ledger accounts spend and enforces the budget. Optional.
	Ledger *ledger.CostLedger

	// MaxCorrections bounds schema correction attempts per stage.
	// Defaults to 2.
	MaxCorrections int

	// RetryOptions override the default retry policy for generation
	// calls.
	RetryOptions []retry.Option

	Logger     slogger.Logger
	OnProgress distill.ProgressCallback
}

// Pipeline executes its stages in order against a generation client.
type Pipeline struct {
	stages         []*Stage
	client         llm.Client
	provider       string
	model          string
	cache          cache.Cache
	checkpoints    checkpoint.Store
	resume         bool
	limiter        *ratelimit.Limiter
	breaker        *breaker.Breaker
	ledger         *ledger.CostLedger
	maxCorrections int
	retryOpts      []retry.Option
	logger         slogger.Logger
	onProgress     distill.ProgressCallback
}

// New validates the stage graph and creates a pipeline.
func New(opts Options) (*Pipeline, error) {
	if len(opts.Stages) == 0 {
		return nil, fmt.Errorf("pipeline requires at least one stage")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("pipeline requires a client")
	}
	seen := map[string]bool{}
	for _, stage := range opts.Stages {
		if stage.Name == "" {
			return nil, fmt.Errorf("stage name must not be empty")
		}
		if seen[stage.Name] {
			return nil, fmt.Errorf("duplicate stage name: %q", stage.Name)
		}
		if stage.Prompt == nil {
			return nil, fmt.Errorf("stage %q has no prompt", stage.Name)
		}
		for _, dep := range stage.Inputs {
			if !seen[dep] {
				return nil, fmt.Errorf("stage %q depends on %q which is not an earlier stage", stage.Name, dep)
			}
		}
		seen[stage.Name] = true
	}

	maxCorrections := opts.MaxCorrections
	if maxCorrections <= 0 {
		maxCorrections = 2
	}
	logger := opts.Logger
	if logger == nil {
		logger = slogger.DefaultLogger
	}
	return &Pipeline{
		stages:         opts.Stages,
		client:         opts.Client,
		provider:       opts.Provider,
		model:          opts.Model,
		cache:          opts.Cache,
		checkpoints:    opts.Checkpoints,
		resume:         opts.Resume,
		limiter:        opts.Limiter,
		breaker:        opts.Breaker,
		ledger:         opts.Ledger,
		maxCorrections: maxCorrections,
		retryOpts:      opts.RetryOptions,
		logger:         logger,
		onProgress:     opts.OnProgress,
	}, nil
}

// Result is the outcome of a run.
type Result struct {
	Status      distill.RunStatus
	Fingerprint string

	// Outputs maps stage name to its validated output.
	Outputs map[string]map[string]any

	// Resumed reports whether any stage was restored from a checkpoint.
	Resumed bool
}

func (p *Pipeline) emitProgress(stage string, message string, progress float64) {
	if p.onProgress != nil {
		p.onProgress(distill.ProgressEvent{Stage: stage, Message: message, Progress: progress})
	}
}
