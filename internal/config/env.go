package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays PERSIST_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("PERSIST_FLUSH_PART_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FlushPartBytes = n
		}
	}
	if v := os.Getenv("PERSIST_COMMIT_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CommitRetries = n
		}
	}
	if v := os.Getenv("PERSIST_BACKEND_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BackendRetries = n
		}
	}
	if v := os.Getenv("PERSIST_BACKEND_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.BackendBackoff = Duration(d)
		}
	}
	if v := os.Getenv("PERSIST_COMPACT_MIN_BATCHES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CompactMinBatches = n
		}
	}
	if v := os.Getenv("PERSIST_COMPACT_MAX_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CompactMaxBytes = n
		}
	}
	if v := os.Getenv("PERSIST_LISTEN_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ListenPollInterval = Duration(d)
		}
	}
	if v := os.Getenv("PERSIST_GC_GRACE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.GCGraceWindow = Duration(d)
		}
	}
}
