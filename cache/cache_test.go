package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyDeterministic(t *testing.T) {
	input := map[string]any{"topic": "tides", "depth": 3}
	a, err := Key("outline", "openai", "gpt-4o", input)
	require.NoError(t, err)
	b, err := Key("outline", "openai", "gpt-4o", input)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestKeyIgnoresFieldOrder(t *testing.T) {
	type queryA struct {
		Topic string `json:"topic"`
		Depth int    `json:"depth"`
	}
	type queryB struct {
		Depth int    `json:"depth"`
		Topic string `json:"topic"`
	}
	a, err := Key("outline", "openai", "gpt-4o", queryA{Topic: "tides", Depth: 3})
	require.NoError(t, err)
	b, err := Key("outline", "openai", "gpt-4o", queryB{Topic: "tides", Depth: 3})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestKeyVariesByIdentity(t *testing.T) {
	input := map[string]any{"topic": "tides"}
	base, err := Key("outline", "openai", "gpt-4o", input)
	require.NoError(t, err)

	otherStage, err := Key("draft", "openai", "gpt-4o", input)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherStage)

	otherModel, err := Key("outline", "openai", "gpt-4o-mini", input)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherModel)

	otherInput, err := Key("outline", "openai", "gpt-4o", map[string]any{"topic": "storms"})
	require.NoError(t, err)
	assert.NotEqual(t, base, otherInput)
}

func TestKeyUnmarshalableInput(t *testing.T) {
	_, err := Key("outline", "openai", "gpt-4o", make(chan int))
	require.Error(t, err)
}

func newTestCache(t *testing.T) *FileCache {
	t.Helper()
	c, err := NewFileCache(t.TempDir(), nil)
	require.NoError(t, err)
	return c
}

func TestFileCacheRoundTrip(t *testing.T) {
	c := newTestCache(t)
	entry := &Entry{
		Value: map[string]any{"title": "Arrival"},
		Metadata: Metadata{
			CreatedAt: time.Now().UTC().Truncate(time.Second),
			Provider:  "openai",
			Model:     "gpt-4o",
		},
	}
	require.NoError(t, c.Set("abc123", entry))

	got, ok := c.Get("abc123")
	require.True(t, ok)
	assert.Equal(t, "Arrival", got.Value["title"])
	assert.Equal(t, "openai", got.Metadata.Provider)
	assert.True(t, entry.Metadata.CreatedAt.Equal(got.Metadata.CreatedAt))
}

func TestFileCacheMiss(t *testing.T) {
	c := newTestCache(t)
	_, ok := c.Get("nothing")
	assert.False(t, ok)
}

func TestFileCacheCorruptEntryIsMiss(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileCache(dir, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0644))

	_, ok := c.Get("bad")
	assert.False(t, ok)
}

func TestFileCacheDelete(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Set("k", &Entry{Value: map[string]any{"x": 1.0}}))
	require.NoError(t, c.Delete("k"))
	_, ok := c.Get("k")
	assert.False(t, ok)

	// Deleting again is fine.
	require.NoError(t, c.Delete("k"))
}

func TestFileCacheClearCountsEntries(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Set("a", &Entry{Value: map[string]any{}}))
	require.NoError(t, c.Set("b", &Entry{Value: map[string]any{}}))
	require.NoError(t, c.Set("c", &Entry{Value: map[string]any{}}))

	removed, err := c.Clear()
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	_, ok := c.Get("a")
	assert.False(t, ok)

	removed, err = c.Clear()
	require.NoError(t, err)
	assert.Zero(t, removed)
}
