package meta

import (
	"context"
	"sync"
)

// Memory is an in-process Store for tests and embedded single-process use.
type Memory struct {
	mu      sync.Mutex
	data    []byte
	version Version
}

// NewMemory creates an empty in-memory record.
func NewMemory() *Memory { return &Memory{} }

// Load returns the current record and version.
func (m *Memory) Load(_ context.Context) ([]byte, Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.version == 0 {
		return nil, 0, nil
	}
	return append([]byte(nil), m.data...), m.version, nil
}

// CompareAndSet swaps the record if expected matches the current version.
func (m *Memory) CompareAndSet(_ context.Context, expected Version, data []byte) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.version != expected {
		return 0, ErrVersionMismatch
	}
	m.data = append([]byte(nil), data...)
	m.version++
	return m.version, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
