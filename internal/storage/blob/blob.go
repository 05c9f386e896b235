package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when a key has no stored blob.
var ErrNotFound = errors.New("blob: not found")

// Store is the object-store capability persist writes batch bytes through.
//
// Put is an idempotent overwrite, Delete is idempotent (deleting a missing
// key succeeds), and List is advisory only: callers must tolerate listings
// that are stale or incomplete and never rely on them for correctness.
type Store interface {
	// Put durably stores data under key, overwriting any previous value.
	Put(ctx context.Context, key string, data []byte) error
	// Get returns the stored bytes for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. A missing key is success.
	Delete(ctx context.Context, key string) error
	// List invokes fn for each key with the given prefix until fn returns
	// false or the listing is exhausted.
	List(ctx context.Context, prefix string, fn func(key string) bool) error
	// Close releases backend resources.
	Close() error
}
