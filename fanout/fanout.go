// Package fanout generates many candidate outputs in parallel across
// concept clusters, then deduplicates near-identical results by term
// overlap. When deduplication leaves the batch short, extra candidates
// are drawn from random clusters until the target is met or the safety
// bound is hit.
package fanout

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/deepnoodle-ai/distill/slogger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Cluster is one region of the idea space to draw candidates from.
type Cluster struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Axes        []string `json:"axes,omitempty"`
}

// Candidate is one generated output with its originating cluster.
type Candidate struct {
	ID      string         `json:"id"`
	Cluster string         `json:"cluster"`
	Value   map[string]any `json:"value"`

	signature Signature
}

// GenerateFunc produces one candidate payload for a cluster.
type GenerateFunc func(ctx context.Context, cluster Cluster) (map[string]any, error)

// SignatureFunc derives the similarity signature from a candidate
// payload.
type SignatureFunc func(value map[string]any) Signature

// Options configures a Coordinator.
type Options struct {
	Clusters []Cluster

	// Count is the target number of unique candidates.
	Count int

	// Generate produces one candidate. Called concurrently.
	Generate GenerateFunc

	// Signature derives the dedup signature. Defaults to flattening
	// every string and list-of-strings field in the payload.
	Signature SignatureFunc

	// MaxWorkers bounds concurrent generation. Defaults to 4.
	MaxWorkers int

	// Threshold is the similarity at or above which two candidates are
	// duplicates. Defaults to 0.7.
	Threshold float64

	Logger slogger.Logger
}

// Coordinator fans generation out over clusters and gathers a
// deduplicated batch of candidates.
type Coordinator struct {
	clusters   []Cluster
	count      int
	generate   GenerateFunc
	signature  SignatureFunc
	maxWorkers int
	dedup      *Deduplicator
	logger     slogger.Logger
}

// New creates a coordinator.
func New(opts Options) (*Coordinator, error) {
	if len(opts.Clusters) == 0 {
		return nil, fmt.Errorf("fanout requires at least one cluster")
	}
	if opts.Generate == nil {
		return nil, fmt.Errorf("fanout requires a generate function")
	}
	if opts.Count <= 0 {
		return nil, fmt.Errorf("fanout count must be positive")
	}
	signature := opts.Signature
	if signature == nil {
		signature = FlattenSignature
	}
	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = 0.7
	}
	logger := opts.Logger
	if logger == nil {
		logger = slogger.DefaultLogger
	}
	return &Coordinator{
		clusters:   opts.Clusters,
		count:      opts.Count,
		generate:   opts.Generate,
		signature:  signature,
		maxWorkers: maxWorkers,
		dedup:      &Deduplicator{Threshold: threshold},
		logger:     logger,
	}, nil
}

// Run generates candidates across every cluster in parallel,
// deduplicates them, and tops the batch up from random clusters while
// it remains short of the target. Individual generation failures are
// logged and skipped; only context cancellation aborts the run.
func (c *Coordinator) Run(ctx context.Context) ([]*Candidate, error) {
	jobs := c.planJobs()

	var mu sync.Mutex
	var candidates []*Candidate

	group, groupCtx := errgroup.WithContext(ctx)
	limit := c.maxWorkers
	if len(jobs) < limit {
		limit = len(jobs)
	}
	group.SetLimit(limit)

	for _, cluster := range jobs {
		cluster := cluster
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			candidate, err := c.generateOne(groupCtx, cluster)
			if err != nil {
				c.logger.Warn("candidate generation failed, skipping",
					"cluster", cluster.Name, "error", err)
				return nil
			}
			mu.Lock()
			candidates = append(candidates, candidate)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	unique := c.dedup.Deduplicate(candidates)

	// Top up from random clusters, bounded by twice the target so a
	// stubbornly homogeneous model cannot spin forever.
	attempts := 0
	for len(unique) < c.count && attempts < c.count*2 {
		attempts++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cluster := c.clusters[rand.Intn(len(c.clusters))]
		candidate, err := c.generateOne(ctx, cluster)
		if err != nil {
			c.logger.Warn("top-up generation failed, skipping",
				"cluster", cluster.Name, "error", err)
			continue
		}
		unique = c.dedup.Deduplicate(append(unique, candidate))
	}

	if len(unique) > c.count {
		unique = unique[:c.count]
	}
	c.logger.Info("fanout complete",
		"candidates", len(candidates), "unique", len(unique), "target", c.count)
	return unique, nil
}

// planJobs distributes the target count across clusters as evenly as
// possible, giving earlier clusters the remainder.
func (c *Coordinator) planJobs() []Cluster {
	perCluster := c.count / len(c.clusters)
	if perCluster < 1 {
		perCluster = 1
	}
	extra := c.count % len(c.clusters)
	if c.count < len(c.clusters) {
		extra = 0
	}

	var jobs []Cluster
	for i, cluster := range c.clusters {
		n := perCluster
		if i < extra {
			n++
		}
		for j := 0; j < n; j++ {
			jobs = append(jobs, cluster)
		}
	}
	return jobs
}

func (c *Coordinator) generateOne(ctx context.Context, cluster Cluster) (*Candidate, error) {
	value, err := c.generate(ctx, cluster)
	if err != nil {
		return nil, err
	}
	return &Candidate{
		ID:        uuid.New().String(),
		Cluster:   cluster.Name,
		Value:     value,
		signature: c.signature(value),
	}, nil
}

// FlattenSignature derives a signature from every string and string
// list in the payload.
func FlattenSignature(value map[string]any) Signature {
	var parts []string
	for _, v := range value {
		switch typed := v.(type) {
		case string:
			parts = append(parts, typed)
		case []string:
			parts = append(parts, typed...)
		case []any:
			for _, item := range typed {
				if s, ok := item.(string); ok {
					parts = append(parts, s)
				}
			}
		}
	}
	return NewSignature(parts...)
}
