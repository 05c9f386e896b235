package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rizalgowandy/materialize/internal/config"
	"github.com/rizalgowandy/materialize/internal/storage/blob"
	"github.com/rizalgowandy/materialize/internal/storage/meta"
	"github.com/rizalgowandy/materialize/pkg/id"
	"github.com/rizalgowandy/materialize/pkg/log"
)

// ShardOptions configures one persisted stream.
type ShardOptions struct {
	// Name scopes blob keys and log fields. Required.
	Name string
	// Blob stores batch bytes. Required.
	Blob blob.Store
	// Meta holds the shard's compare-and-swapped state record. Required.
	Meta meta.Store
	// Config supplies tunables; zero value means config.Default().
	Config config.Config
	// Logger defaults to a no-op logger.
	Logger log.Logger
	// Faults is consulted at durability decision points. Leave nil outside
	// of tests.
	Faults Faults
}

// Shard is the handle all persist operations go through. Writers, readers,
// listeners, and compactors created from the same Shard share its backends
// and its commit notifications; instances in other processes coordinate
// through the meta record alone.
type Shard struct {
	name   string
	blob   blob.Store
	meta   meta.Store
	cfg    config.Config
	logger log.Logger
	faults Faults
	ids    *id.Generator

	mu     sync.Mutex
	notify chan struct{}
}

// Open validates the options and returns a Shard. It performs no I/O; an
// empty meta record reads as the initial state.
func Open(opts ShardOptions) (*Shard, error) {
	if opts.Name == "" {
		return nil, errors.New("persist: ShardOptions.Name is required")
	}
	if opts.Blob == nil {
		return nil, errors.New("persist: ShardOptions.Blob is required")
	}
	if opts.Meta == nil {
		return nil, errors.New("persist: ShardOptions.Meta is required")
	}
	cfg := opts.Config
	if cfg == (config.Config{}) {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	faults := opts.Faults
	if faults == nil {
		faults = nopFaults{}
	}
	return &Shard{
		name:   opts.Name,
		blob:   opts.Blob,
		meta:   opts.Meta,
		cfg:    cfg,
		logger: logger.WithComponent("persist").With(log.F("shard", opts.Name)),
		faults: faults,
		ids:    id.NewGenerator(),
		notify: make(chan struct{}),
	}, nil
}

// Name returns the shard name.
func (s *Shard) Name() string { return s.name }

// State returns a copy of the shard's current published state, for
// inspection and tooling.
func (s *Shard) State(ctx context.Context) (State, error) {
	st, _, err := s.loadState(ctx)
	return st, err
}

func (s *Shard) blobKey() string {
	return s.name + "/" + s.ids.Next().String()
}

// loadState reads and decodes the current meta record.
func (s *Shard) loadState(ctx context.Context) (State, meta.Version, error) {
	var data []byte
	var version meta.Version
	err := s.retryBackend(ctx, "meta load", func() error {
		var err error
		data, version, err = s.meta.Load(ctx)
		return err
	})
	if err != nil {
		return State{}, 0, err
	}
	st, err := DecodeState(data)
	if err != nil {
		return State{}, 0, err
	}
	return st, version, nil
}

// evolve runs an optimistic read-modify-CAS transaction against the state
// record. fn mutates the fresh copy it is handed; a version conflict re-reads
// and re-applies up to the commit retry budget. fn returning an error aborts
// without retry.
func (s *Shard) evolve(ctx context.Context, op string, fn func(st *State) error) (State, error) {
	for attempt := 0; attempt < s.cfg.CommitRetries; attempt++ {
		cur, version, err := s.loadState(ctx)
		if err != nil {
			return State{}, err
		}
		next := cur.Clone()
		if err := fn(&next); err != nil {
			return State{}, err
		}
		if err := next.Validate(); err != nil {
			return State{}, err
		}
		data, err := next.Encode()
		if err != nil {
			return State{}, err
		}
		err = s.retryBackend(ctx, op, func() error {
			_, err := s.meta.CompareAndSet(ctx, version, data)
			return err
		})
		if err == nil {
			return next, nil
		}
		if errors.Is(err, meta.ErrVersionMismatch) {
			continue
		}
		return State{}, err
	}
	return State{}, fmt.Errorf("persist: %s: commit retry budget exhausted", op)
}

// commitNotify wakes in-process listeners after a successful CAS publish.
func (s *Shard) commitNotify() {
	s.mu.Lock()
	close(s.notify)
	s.notify = make(chan struct{})
	s.mu.Unlock()
}

// commitChan returns the channel closed by the next commit notification.
func (s *Shard) commitChan() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notify
}
