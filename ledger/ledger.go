// Package ledger tracks accumulated generation spend and enforces an
// optional budget ceiling before each call commits.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/deepnoodle-ai/distill/llm"
	"github.com/deepnoodle-ai/distill/llm/pricing"
	"github.com/deepnoodle-ai/distill/slogger"
)

// ErrBudgetExceeded is returned when recording a call would push the
// ledger past its budget. The ledger is left unchanged.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Entry is one recorded generation call.
type Entry struct {
	Timestamp    time.Time `json:"timestamp"`
	Stage        string    `json:"stage,omitempty"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost_usd"`
	Estimated    bool      `json:"estimated,omitempty"`
}

// ModelSpend aggregates usage for one provider/model pair.
type ModelSpend struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost_usd"`
}

// Summary is a point-in-time view of the ledger.
type Summary struct {
	TotalCost    float64      `json:"total_cost_usd"`
	Budget       float64      `json:"budget_usd,omitempty"`
	Remaining    float64      `json:"remaining_usd,omitempty"`
	Calls        int          `json:"calls"`
	InputTokens  int          `json:"input_tokens"`
	OutputTokens int          `json:"output_tokens"`
	ByModel      []ModelSpend `json:"by_model"`
}

// CostLedger accumulates generation costs. A zero budget means
// unlimited. Safe for concurrent use.
type CostLedger struct {
	mu          sync.Mutex
	calculator  *pricing.Calculator
	budget      float64
	total       float64
	calls       int
	inputTotal  int
	outputTotal int
	byModel     map[string]*ModelSpend
	historyPath string
	logger      slogger.Logger
}

// Options configures a cost ledger.
type Options struct {
	// Budget is the spend ceiling in USD. Zero disables enforcement.
	Budget float64

	// HistoryPath, when set, appends each recorded entry to a JSON
	// lines file. Write failures are logged and do not affect the call.
	HistoryPath string

	Logger slogger.Logger
}

// New creates a cost ledger.
func New(opts Options) *CostLedger {
	logger := opts.Logger
	if logger == nil {
		logger = slogger.DefaultLogger
	}
	return &CostLedger{
		calculator:  pricing.NewCalculator(),
		budget:      opts.Budget,
		byModel:     map[string]*ModelSpend{},
		historyPath: opts.HistoryPath,
		logger:      logger,
	}
}

// CheckBudget reports whether an additional cost would exceed the
// budget, without committing anything.
func (l *CostLedger) CheckBudget(cost float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.check(cost)
}

func (l *CostLedger) check(cost float64) error {
	if l.budget > 0 && l.total+cost > l.budget {
		return fmt.Errorf("%w: spent $%.4f of $%.2f, next call adds $%.4f",
			ErrBudgetExceeded, l.total, l.budget, cost)
	}
	return nil
}

// RecordUsage prices a completed call and commits it to the ledger. If
// the cost would push the ledger past its budget, the entry is rejected
// with ErrBudgetExceeded and nothing is recorded.
func (l *CostLedger) RecordUsage(stage, provider, model string, usage llm.Usage) (*pricing.CostBreakdown, error) {
	breakdown := l.calculator.TextCost(provider, model, usage.InputTokens, usage.OutputTokens)

	l.mu.Lock()
	if err := l.check(breakdown.TotalCost); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.total += breakdown.TotalCost
	l.calls++
	l.inputTotal += usage.InputTokens
	l.outputTotal += usage.OutputTokens

	key := breakdown.Provider + "/" + model
	spend, ok := l.byModel[key]
	if !ok {
		spend = &ModelSpend{Provider: breakdown.Provider, Model: model}
		l.byModel[key] = spend
	}
	spend.Calls++
	spend.InputTokens += usage.InputTokens
	spend.OutputTokens += usage.OutputTokens
	spend.Cost += breakdown.TotalCost
	l.mu.Unlock()

	if l.historyPath != "" {
		entry := Entry{
			Timestamp:    time.Now().UTC(),
			Stage:        stage,
			Provider:     breakdown.Provider,
			Model:        model,
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			Cost:         breakdown.TotalCost,
			Estimated:    breakdown.EstimatedCost,
		}
		if err := l.appendHistory(entry); err != nil {
			l.logger.Warn("cost history write failed",
				"path", l.historyPath, "error", err)
		}
	}
	return breakdown, nil
}

// EstimateCost prices a hypothetical call without committing it.
func (l *CostLedger) EstimateCost(provider, model string, inputTokens, outputTokens int) float64 {
	return l.calculator.TextCost(provider, model, inputTokens, outputTokens).TotalCost
}

// TotalCost returns the accumulated spend in USD.
func (l *CostLedger) TotalCost() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Summary returns an aggregate view of the ledger, with per-model rows
// sorted by descending cost.
func (l *CostLedger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	byModel := make([]ModelSpend, 0, len(l.byModel))
	for _, spend := range l.byModel {
		byModel = append(byModel, *spend)
	}
	sort.Slice(byModel, func(i, j int) bool {
		if byModel[i].Cost != byModel[j].Cost {
			return byModel[i].Cost > byModel[j].Cost
		}
		return byModel[i].Model < byModel[j].Model
	})

	summary := Summary{
		TotalCost:    l.total,
		Budget:       l.budget,
		Calls:        l.calls,
		InputTokens:  l.inputTotal,
		OutputTokens: l.outputTotal,
		ByModel:      byModel,
	}
	if l.budget > 0 {
		summary.Remaining = l.budget - l.total
	}
	return summary
}

func (l *CostLedger) appendHistory(entry Entry) error {
	if dir := filepath.Dir(l.historyPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(l.historyPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}
