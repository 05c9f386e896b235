package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the top-level persist configuration loaded from file/env. The
// numeric thresholds here are operational tunables, not correctness
// invariants; every component works at any positive setting.
type Config struct {
	// FlushPartBytes is the staged-buffer size at which a writer seals and
	// uploads a batch part before the append commits.
	FlushPartBytes int `json:"flushPartBytes"`
	// CommitRetries bounds CAS retries on concurrent unrelated meta updates.
	CommitRetries int `json:"commitRetries"`
	// BackendRetries bounds retries of transient blob/meta backend failures.
	BackendRetries int `json:"backendRetries"`
	// BackendBackoff is the base backoff between backend retries.
	BackendBackoff Duration `json:"backendBackoff"`
	// CompactMinBatches is the smallest contiguous run worth merging.
	CompactMinBatches int `json:"compactMinBatches"`
	// CompactMaxBytes caps the total encoded size of a single merge.
	CompactMaxBytes int `json:"compactMaxBytes"`
	// ListenPollInterval bounds how stale an out-of-process listener can be
	// when no in-process commit notification arrives.
	ListenPollInterval Duration `json:"listenPollInterval"`
	// GCGraceWindow is how old an unreferenced blob must be before the
	// advisory orphan sweep may delete it.
	GCGraceWindow Duration `json:"gcGraceWindow"`
}

// Duration wraps time.Duration with JSON string encoding ("250ms", "1m").
type Duration time.Duration

// MarshalJSON encodes the duration as its string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// Std returns the config value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns built-in defaults.
func Default() Config {
	return Config{
		FlushPartBytes:     4 << 20,
		CommitRetries:      16,
		BackendRetries:     4,
		BackendBackoff:     Duration(50 * time.Millisecond),
		CompactMinBatches:  4,
		CompactMaxBytes:    64 << 20,
		ListenPollInterval: Duration(250 * time.Millisecond),
		GCGraceWindow:      Duration(15 * time.Minute),
	}
}

// Load reads configuration from a JSON file. If path is empty, returns
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	if c.FlushPartBytes <= 0 {
		return fmt.Errorf("config: flushPartBytes must be positive, got %d", c.FlushPartBytes)
	}
	if c.CommitRetries <= 0 {
		return fmt.Errorf("config: commitRetries must be positive, got %d", c.CommitRetries)
	}
	if c.BackendRetries <= 0 {
		return fmt.Errorf("config: backendRetries must be positive, got %d", c.BackendRetries)
	}
	if c.CompactMinBatches < 2 {
		return fmt.Errorf("config: compactMinBatches must be at least 2, got %d", c.CompactMinBatches)
	}
	return nil
}
