package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/deepnoodle-ai/distill/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordUsageAccumulates(t *testing.T) {
	ledger := New(Options{})

	// gpt-4o: $2.50 in, $10.00 out per 1M tokens.
	breakdown, err := ledger.RecordUsage("draft", "openai", "gpt-4o",
		llm.Usage{InputTokens: 100_000, OutputTokens: 10_000})
	require.NoError(t, err)
	assert.InDelta(t, 0.35, breakdown.TotalCost, 1e-9)
	assert.InDelta(t, 0.35, ledger.TotalCost(), 1e-9)

	_, err = ledger.RecordUsage("draft", "openai", "gpt-4o",
		llm.Usage{InputTokens: 100_000, OutputTokens: 10_000})
	require.NoError(t, err)
	assert.InDelta(t, 0.70, ledger.TotalCost(), 1e-9)
}

func TestBudgetRejectsWithoutMutating(t *testing.T) {
	ledger := New(Options{Budget: 1.00})

	// 400k input tokens on gpt-4o costs exactly $1.00.
	_, err := ledger.RecordUsage("draft", "openai", "gpt-4o",
		llm.Usage{InputTokens: 360_000})
	require.NoError(t, err)
	assert.InDelta(t, 0.90, ledger.TotalCost(), 1e-9)

	_, err = ledger.RecordUsage("draft", "openai", "gpt-4o",
		llm.Usage{InputTokens: 100_000})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBudgetExceeded))

	// Rejected call left nothing behind.
	assert.InDelta(t, 0.90, ledger.TotalCost(), 1e-9)
	summary := ledger.Summary()
	assert.Equal(t, 1, summary.Calls)
	assert.Equal(t, 360_000, summary.InputTokens)
}

func TestBudgetAllowsExactSpend(t *testing.T) {
	ledger := New(Options{Budget: 1.00})

	_, err := ledger.RecordUsage("draft", "openai", "gpt-4o",
		llm.Usage{InputTokens: 400_000})
	require.NoError(t, err)
	assert.InDelta(t, 1.00, ledger.TotalCost(), 1e-9)
}

func TestZeroBudgetIsUnlimited(t *testing.T) {
	ledger := New(Options{})
	for i := 0; i < 10; i++ {
		_, err := ledger.RecordUsage("draft", "openai", "gpt-4o",
			llm.Usage{InputTokens: 1_000_000})
		require.NoError(t, err)
	}
	assert.InDelta(t, 25.0, ledger.TotalCost(), 1e-9)
}

func TestCheckBudget(t *testing.T) {
	ledger := New(Options{Budget: 0.50})
	require.NoError(t, ledger.CheckBudget(0.49))
	err := ledger.CheckBudget(0.51)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBudgetExceeded))
	// Checks never commit.
	assert.Zero(t, ledger.TotalCost())
}

func TestSummaryGroupsByModel(t *testing.T) {
	ledger := New(Options{Budget: 10})
	_, err := ledger.RecordUsage("draft", "openai", "gpt-4o",
		llm.Usage{InputTokens: 100_000, OutputTokens: 50_000})
	require.NoError(t, err)
	_, err = ledger.RecordUsage("outline", "openai", "gpt-4o-mini",
		llm.Usage{InputTokens: 100_000, OutputTokens: 50_000})
	require.NoError(t, err)
	_, err = ledger.RecordUsage("revise", "openai", "gpt-4o",
		llm.Usage{InputTokens: 100_000})
	require.NoError(t, err)

	summary := ledger.Summary()
	assert.Equal(t, 3, summary.Calls)
	require.Len(t, summary.ByModel, 2)
	// Sorted by descending cost, gpt-4o first.
	assert.Equal(t, "gpt-4o", summary.ByModel[0].Model)
	assert.Equal(t, 2, summary.ByModel[0].Calls)
	assert.Equal(t, 200_000, summary.ByModel[0].InputTokens)
	assert.Equal(t, "gpt-4o-mini", summary.ByModel[1].Model)
	assert.InDelta(t, summary.Budget-summary.TotalCost, summary.Remaining, 1e-9)
}

func TestEstimateCostDoesNotCommit(t *testing.T) {
	ledger := New(Options{})
	cost := ledger.EstimateCost("openai", "gpt-4o", 1_000_000, 0)
	assert.InDelta(t, 2.50, cost, 1e-9)
	assert.Zero(t, ledger.TotalCost())
}

func TestHistoryFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "costs", "history.jsonl")
	ledger := New(Options{HistoryPath: path})

	_, err := ledger.RecordUsage("draft", "openai", "gpt-4o",
		llm.Usage{InputTokens: 1000, OutputTokens: 500})
	require.NoError(t, err)
	_, err = ledger.RecordUsage("revise", "google", "gemini-2.5-flash",
		llm.Usage{InputTokens: 2000, OutputTokens: 100})
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "draft", entries[0].Stage)
	assert.Equal(t, "google", entries[1].Provider)
	assert.Equal(t, 2000, entries[1].InputTokens)
}

func TestHistoryWriteFailureDoesNotFailCall(t *testing.T) {
	dir := t.TempDir()
	// Path points at a directory, the open will fail.
	ledger := New(Options{HistoryPath: dir})

	_, err := ledger.RecordUsage("draft", "openai", "gpt-4o",
		llm.Usage{InputTokens: 1000})
	require.NoError(t, err)
	assert.Positive(t, ledger.TotalCost())
}
