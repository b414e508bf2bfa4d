package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/deepnoodle-ai/distill/slogger"
)

// FileStore keeps one JSON file per checkpoint under a directory.
// Writes are atomic via temp file rename; corrupt files are skipped on
// read.
type FileStore struct {
	dir    string
	logger slogger.Logger
}

// NewFileStore creates a file-backed checkpoint store rooted at dir.
func NewFileStore(dir string, logger slogger.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slogger.DefaultLogger
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Create persists a record atomically.
func (s *FileStore) Create(ctx context.Context, record *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	tmp := s.path(record.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, s.path(record.ID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize checkpoint: %w", err)
	}
	return nil
}

// FindLatest returns the newest record for a fingerprint, or nil.
func (s *FileStore) FindLatest(ctx context.Context, fingerprint string) (*Record, error) {
	records, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.Fingerprint == fingerprint {
			return record, nil
		}
	}
	return nil, nil
}

// List returns every record in the store, newest first. Files that
// fail to decode are logged and skipped.
func (s *FileStore) List(ctx context.Context) ([]*Record, error) {
	return s.readAll(ctx)
}

func (s *FileStore) readAll(ctx context.Context) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var records []*Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint", "file", entry.Name(), "error", err)
			continue
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			s.logger.Warn("skipping corrupt checkpoint", "file", entry.Name(), "error", err)
			continue
		}
		records = append(records, &record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records, nil
}

// Delete removes one record by ID, if present.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Clear removes checkpoints and returns the count removed. A non-empty
// fingerprint clears only that run's records.
func (s *FileStore) Clear(ctx context.Context, fingerprint string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if fingerprint != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				s.logger.Warn("skipping unreadable checkpoint", "file", entry.Name(), "error", err)
				continue
			}
			var record Record
			if err := json.Unmarshal(data, &record); err != nil {
				s.logger.Warn("skipping corrupt checkpoint", "file", entry.Name(), "error", err)
				continue
			}
			if record.Fingerprint != fingerprint {
				continue
			}
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("failed to remove checkpoint: %w", err)
		}
		removed++
	}
	return removed, nil
}
