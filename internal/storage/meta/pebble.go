package meta

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

// FsyncMode defines durability behavior for record commits.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways requests a WAL fsync on each committed swap.
	FsyncModeAlways
	// FsyncModeInterval enables group-commit by allowing Pebble to coalesce
	// WAL syncs for swaps within the configured interval.
	FsyncModeInterval
	// FsyncModeNever avoids forcing WAL syncs from the application. A crash
	// can lose the latest swaps, so this mode is for tests and benchmarks.
	FsyncModeNever
)

// PebbleOptions configures the Pebble-backed record store.
type PebbleOptions struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// Fsync determines when to sync the WAL.
	Fsync FsyncMode
	// FsyncInterval controls group-commit when Fsync=FsyncModeInterval.
	FsyncInterval time.Duration
}

// Pebble holds compare-and-swapped records in a Pebble store, one key per
// record. Records are durable across process crashes; CAS linearizability
// holds within the opening process.
type Pebble struct {
	inner     *pebble.DB
	writeSync bool

	mu      sync.Mutex
	records map[string]*pebbleRecord
}

// OpenPebble creates or opens the record store.
func OpenPebble(opts PebbleOptions) (*Pebble, error) {
	if opts.DataDir == "" {
		return nil, errors.New("meta: PebbleOptions.DataDir is required")
	}

	po := &pebble.Options{}
	switch opts.Fsync {
	case FsyncModeAlways:
		// Sync on each commit; WALMinSyncInterval left at default (0).
	case FsyncModeInterval:
		if opts.FsyncInterval <= 0 {
			opts.FsyncInterval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return opts.FsyncInterval }
	case FsyncModeNever:
	default:
		po.WALMinSyncInterval = func() time.Duration { return 5 * time.Millisecond }
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, err
	}
	return &Pebble{
		inner:     inner,
		writeSync: opts.Fsync == FsyncModeAlways,
		records:   make(map[string]*pebbleRecord),
	}, nil
}

// Record returns the named record handle. Handles for the same name share
// one CAS lock.
func (p *Pebble) Record(name string) Store {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.records[name]; ok {
		return r
	}
	r := &pebbleRecord{db: p, key: append([]byte("meta/"), name...)}
	p.records[name] = r
	return r
}

// Close closes the underlying Pebble database.
func (p *Pebble) Close() error {
	if p == nil || p.inner == nil {
		return nil
	}
	return p.inner.Close()
}

// pebbleRecord stores one record under its key as
// [8 bytes BE version][record bytes].
type pebbleRecord struct {
	db  *Pebble
	key []byte

	mu sync.Mutex
}

func (r *pebbleRecord) Load(_ context.Context) ([]byte, Version, error) {
	val, closer, err := r.db.inner.Get(r.key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	defer closer.Close()
	if len(val) < 8 {
		return nil, 0, errors.New("meta: malformed record value")
	}
	version := Version(binary.BigEndian.Uint64(val[:8]))
	data := append([]byte(nil), val[8:]...)
	return data, version, nil
}

func (r *pebbleRecord) CompareAndSet(ctx context.Context, expected Version, data []byte) (Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, current, err := r.Load(ctx)
	if err != nil {
		return 0, err
	}
	if current != expected {
		return 0, ErrVersionMismatch
	}

	next := current + 1
	val := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(val[:8], uint64(next))
	copy(val[8:], data)

	syncMode := pebble.NoSync
	if r.db.writeSync {
		syncMode = pebble.Sync
	}
	if err := r.db.inner.Set(r.key, val, syncMode); err != nil {
		return 0, err
	}
	return next, nil
}

// Close detaches the handle; the shared database stays open.
func (r *pebbleRecord) Close() error { return nil }
