// Package cache stores stage outputs keyed by a content hash of the
// stage identity and its inputs, so reruns with identical inputs skip
// generation entirely.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Key derives a deterministic cache key from the stage identity and its
// input payload. The input is canonicalized (JSON with sorted keys)
// before hashing so that semantically equal inputs collide regardless
// of field ordering.
func Key(stage, provider, model string, input any) (string, error) {
	canonical, err := canonicalJSON(input)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize cache input: %w", err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00", stage, provider, model)
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalJSON renders a value as JSON with object keys sorted at
// every level. encoding/json already sorts map keys, so a round trip
// through map[string]any normalizes struct field order too.
func canonicalJSON(input any) ([]byte, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// Metadata records provenance for a cached value.
type Metadata struct {
	CreatedAt time.Time `json:"created_at"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
}

// Entry is a cached stage output with its provenance.
type Entry struct {
	Value    map[string]any `json:"value"`
	Metadata Metadata       `json:"metadata"`
}

// Cache is the storage interface for stage outputs. Implementations
// must treat Get misses and undecodable entries identically.
type Cache interface {
	// Get returns the entry for a key, or false on a miss.
	Get(key string) (*Entry, bool)

	// Set stores an entry. Failures are the implementation's concern;
	// callers treat the cache as best-effort.
	Set(key string, entry *Entry) error

	// Delete removes one key. Deleting an absent key is not an error.
	Delete(key string) error

	// Clear removes every entry and returns how many were removed.
	Clear() (int, error)
}
