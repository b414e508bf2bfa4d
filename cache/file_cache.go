package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deepnoodle-ai/distill/slogger"
)

// FileCache stores one JSON file per key under a directory. Corrupt or
// unreadable entries behave as misses.
type FileCache struct {
	dir    string
	logger slogger.Logger
}

// NewFileCache creates a file-backed cache rooted at dir, creating the
// directory if needed.
func NewFileCache(dir string, logger slogger.Logger) (*FileCache, error) {
	if logger == nil {
		logger = slogger.DefaultLogger
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FileCache{dir: dir, logger: logger}, nil
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// Get returns the cached entry for a key. Decode failures are logged
// and reported as misses.
func (c *FileCache) Get(key string) (*Entry, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("discarding corrupt cache entry", "key", key, "error", err)
		return nil, false
	}
	return &entry, true
}

// Set writes an entry atomically via a temp file rename.
func (c *FileCache) Set(key string, entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	tmp := c.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := os.Rename(tmp, c.path(key)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize cache entry: %w", err)
	}
	return nil
}

// Delete removes the entry for a key, if present.
func (c *FileCache) Delete(key string) error {
	err := os.Remove(c.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Clear removes every entry and returns the count removed.
func (c *FileCache) Clear() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read cache directory: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
			return removed, fmt.Errorf("failed to remove cache entry: %w", err)
		}
		removed++
	}
	return removed, nil
}
