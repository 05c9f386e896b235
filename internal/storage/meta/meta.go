package meta

import (
	"context"
	"errors"
)

// Version identifies one generation of a record. Version 0 means the record
// does not exist yet.
type Version uint64

// ErrVersionMismatch is returned by CompareAndSet when the record moved past
// the expected version. The caller re-reads and decides whether to retry.
var ErrVersionMismatch = errors.New("meta: version mismatch")

// Store holds one small, atomically compare-and-swapped record. It is the
// only primitive persist relies on for mutual exclusion; consensus and
// durability of the record itself are the backend's problem.
type Store interface {
	// Load returns the current record bytes and version. An absent record is
	// (nil, 0, nil), not an error.
	Load(ctx context.Context) ([]byte, Version, error)
	// CompareAndSet atomically replaces the record if its version still
	// equals expected, returning the new version. On conflict it returns
	// ErrVersionMismatch and the record is unchanged.
	CompareAndSet(ctx context.Context, expected Version, data []byte) (Version, error)
	// Close releases backend resources.
	Close() error
}
