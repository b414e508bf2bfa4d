// Package checkpoint persists per-stage progress so an interrupted run
// can resume from its last completed stage instead of starting over.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Fingerprint derives a short stable identifier for a run input. Runs
// with equal fingerprints are resumable from each other's checkpoints.
func Fingerprint(input any) (string, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint input: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return "", fmt.Errorf("failed to fingerprint input: %w", err)
	}
	canonical, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint input: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:16], nil
}

// Record is one checkpoint: the outputs accumulated through the named
// stage for a run identified by its input fingerprint.
type Record struct {
	ID          string                     `json:"id"`
	Timestamp   time.Time                  `json:"timestamp"`
	Fingerprint string                     `json:"fingerprint"`
	Stage       string                     `json:"stage"`
	Outputs     map[string]json.RawMessage `json:"outputs"`
	Error       string                     `json:"error,omitempty"`
}

// NewRecord creates a checkpoint record with a fresh unique ID.
func NewRecord(fingerprint, stage string, outputs map[string]json.RawMessage) *Record {
	return &Record{
		ID:          fmt.Sprintf("%s-%s-%s", fingerprint, stage, uuid.New().String()[:8]),
		Timestamp:   time.Now().UTC(),
		Fingerprint: fingerprint,
		Stage:       stage,
		Outputs:     outputs,
	}
}

// Store persists checkpoint records.
type Store interface {
	// Create persists a record.
	Create(ctx context.Context, record *Record) error

	// FindLatest returns the most recent record for a fingerprint, or
	// nil when none exists.
	FindLatest(ctx context.Context, fingerprint string) (*Record, error)

	// List returns every record in the store, newest first.
	List(ctx context.Context) ([]*Record, error)

	// Delete removes one record by ID.
	Delete(ctx context.Context, id string) error

	// Clear removes records and returns how many were removed. A
	// non-empty fingerprint limits removal to that run; empty clears
	// everything.
	Clear(ctx context.Context, fingerprint string) (int, error)
}
