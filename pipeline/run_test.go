package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deepnoodle-ai/distill"
	"github.com/deepnoodle-ai/distill/breaker"
	"github.com/deepnoodle-ai/distill/cache"
	"github.com/deepnoodle-ai/distill/checkpoint"
	"github.com/deepnoodle-ai/distill/ledger"
	"github.com/deepnoodle-ai/distill/llm"
	"github.com/deepnoodle-ai/distill/llm/llmtest"
	"github.com/deepnoodle-ai/distill/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileCache(t *testing.T) *cache.FileCache {
	t.Helper()
	c, err := cache.NewFileCache(t.TempDir(), nil)
	require.NoError(t, err)
	return c
}

func newCheckpointStore(t *testing.T) *checkpoint.FileStore {
	t.Helper()
	store, err := checkpoint.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	return store
}

func simpleStages(names ...string) []*Stage {
	stages := make([]*Stage, len(names))
	for i, name := range names {
		stages[i] = &Stage{Name: name, Prompt: staticPrompt("write " + name)}
	}
	return stages
}

func scriptedResponses(n int) []string {
	responses := make([]string, n)
	for i := range responses {
		responses[i] = "```json\n{\"step\": " + string(rune('0'+i)) + "}\n```"
	}
	return responses
}

func TestCacheMakesRerunsIdempotent(t *testing.T) {
	fileCache := newFileCache(t)
	input := map[string]any{"topic": "tides"}

	first := llmtest.NewScriptedClient("```json\n{\"outline\": \"x\"}\n```")
	p1, err := New(Options{
		Client: first, Provider: "openai", Model: "gpt-4o",
		Cache:  fileCache,
		Stages: simpleStages("outline"),
	})
	require.NoError(t, err)
	result1, err := p1.Run(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Calls())

	second := llmtest.NewScriptedClient("```json\n{\"outline\": \"y\"}\n```")
	p2, err := New(Options{
		Client: second, Provider: "openai", Model: "gpt-4o",
		Cache:  fileCache,
		Stages: simpleStages("outline"),
	})
	require.NoError(t, err)
	result2, err := p2.Run(context.Background(), input)
	require.NoError(t, err)

	// Second run was served entirely from cache.
	assert.Zero(t, second.Calls())
	assert.Equal(t, result1.Outputs, result2.Outputs)
}

func TestCacheMissOnDifferentInput(t *testing.T) {
	fileCache := newFileCache(t)
	client := llmtest.NewScriptedClient("```json\n{\"outline\": \"x\"}\n```")
	p, err := New(Options{
		Client: client, Provider: "openai", Model: "gpt-4o",
		Cache:  fileCache,
		Stages: simpleStages("outline"),
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), map[string]any{"topic": "tides"})
	require.NoError(t, err)
	_, err = p.Run(context.Background(), map[string]any{"topic": "storms"})
	require.NoError(t, err)
	assert.Equal(t, 2, client.Calls())
}

func TestResumeSkipsCompletedStages(t *testing.T) {
	store := newCheckpointStore(t)
	input := map[string]any{"topic": "tides"}

	first := llmtest.NewScriptedClient(scriptedResponses(5)...)
	p1, err := New(Options{
		Client:      first,
		Checkpoints: store,
		Stages:      simpleStages("a", "b", "c", "d", "e"),
	})
	require.NoError(t, err)
	_, err = p1.Run(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Calls())

	second := llmtest.NewScriptedClient(scriptedResponses(5)...)
	p2, err := New(Options{
		Client:      second,
		Checkpoints: store,
		Resume:      true,
		Stages:      simpleStages("a", "b", "c", "d", "e"),
	})
	require.NoError(t, err)
	result, err := p2.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Zero(t, second.Calls())
	assert.True(t, result.Resumed)
	assert.Equal(t, distill.RunStatusCompleted, result.Status)
	assert.Len(t, result.Outputs, 5)
}

func TestResumeAfterMidRunFailure(t *testing.T) {
	store := newCheckpointStore(t)
	input := map[string]any{"topic": "tides"}

	// Stage d fails terminally after a, b, c complete.
	first := llmtest.NewScriptedClient(scriptedResponses(5)...)
	first.FailWith(3, llm.NewError(llm.ErrAuthFailed, "openai", "gpt-4o", errors.New("bad key")))
	p1, err := New(Options{
		Client:      first,
		Checkpoints: store,
		Stages:      simpleStages("a", "b", "c", "d", "e"),
	})
	require.NoError(t, err)
	result, err := p1.Run(context.Background(), input)
	require.Error(t, err)
	assert.Equal(t, distill.RunStatusFailed, result.Status)
	assert.Equal(t, 4, first.Calls())

	// The failure checkpoint recorded the error.
	latest, err := store.FindLatest(context.Background(), result.Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Contains(t, latest.Error, `stage "d"`)
	assert.Len(t, latest.Outputs, 3)

	// Resuming replays only the unfinished stages.
	second := llmtest.NewScriptedClient(scriptedResponses(5)...)
	p2, err := New(Options{
		Client:      second,
		Checkpoints: store,
		Resume:      true,
		Stages:      simpleStages("a", "b", "c", "d", "e"),
	})
	require.NoError(t, err)
	result, err = p2.Run(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Calls())
	assert.Len(t, result.Outputs, 5)
}

func TestResumeIgnoresOtherFingerprints(t *testing.T) {
	store := newCheckpointStore(t)

	first := llmtest.NewScriptedClient(scriptedResponses(2)...)
	p1, err := New(Options{
		Client:      first,
		Checkpoints: store,
		Stages:      simpleStages("a", "b"),
	})
	require.NoError(t, err)
	_, err = p1.Run(context.Background(), map[string]any{"topic": "tides"})
	require.NoError(t, err)

	second := llmtest.NewScriptedClient(scriptedResponses(2)...)
	p2, err := New(Options{
		Client:      second,
		Checkpoints: store,
		Resume:      true,
		Stages:      simpleStages("a", "b"),
	})
	require.NoError(t, err)
	result, err := p2.Run(context.Background(), map[string]any{"topic": "storms"})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Calls())
	assert.False(t, result.Resumed)
}

func TestBudgetStopsRun(t *testing.T) {
	client := llmtest.NewScriptedClient(scriptedResponses(3)...)
	costLedger := ledger.New(ledger.Options{Budget: 0.000000001})
	p, err := New(Options{
		Client: client, Provider: "openai", Model: "gpt-4o",
		Ledger: costLedger,
		Stages: simpleStages("a", "b", "c"),
	})
	require.NoError(t, err)

	result, err := p.Run(context.Background(), map[string]any{"x": 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrBudgetExceeded))
	assert.Equal(t, distill.RunStatusFailed, result.Status)
	// Pre-flight rejection happens before any call is made.
	assert.Zero(t, client.Calls())
}

func TestTerminalErrorNotRetried(t *testing.T) {
	client := llmtest.NewScriptedClient("```json\n{\"a\": 1}\n```")
	client.FailWith(0, llm.NewError(llm.ErrAuthFailed, "openai", "gpt-4o", errors.New("bad key")))
	p, err := New(Options{
		Client: client,
		Stages: simpleStages("a"),
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), map[string]any{"x": 1})
	require.Error(t, err)
	assert.True(t, llm.IsAuthFailed(err))
	assert.Equal(t, 1, client.Calls())
}

func TestTransientErrorRetried(t *testing.T) {
	client := llmtest.NewScriptedClient("```json\n{\"a\": 1}\n```")
	client.FailWith(0, llm.NewError(llm.ErrService, "openai", "gpt-4o", errors.New("500")))
	p, err := New(Options{
		Client:       client,
		RetryOptions: []retry.Option{retry.WithBaseWait(time.Millisecond)},
		Stages:       simpleStages("a"),
	})
	require.NoError(t, err)

	result, err := p.Run(context.Background(), map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, 2, client.Calls())
	assert.Equal(t, distill.RunStatusCompleted, result.Status)
}

func TestOpenBreakerStopsRetries(t *testing.T) {
	client := llmtest.NewScriptedClient("```json\n{\"a\": 1}\n```")
	b := breaker.New(breaker.Options{Threshold: 1, RecoveryTimeout: time.Hour})
	// Trip the breaker up front.
	require.Error(t, b.Do(func() error { return errors.New("down") }))

	p, err := New(Options{
		Client:       client,
		Breaker:      b,
		RetryOptions: []retry.Option{retry.WithBaseWait(time.Millisecond)},
		Stages:       simpleStages("a"),
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), map[string]any{"x": 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, breaker.ErrOpen))
	assert.Zero(t, client.Calls())
}
