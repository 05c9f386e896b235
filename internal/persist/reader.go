package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rizalgowandy/materialize/internal/storage/blob"
)

// fetchPart downloads and decodes one batch part, verifying its content
// hash against the descriptor. A mismatch is DataCorruptionError: fatal for
// the batch, surfaced for operator intervention, never repaired here.
func (s *Shard) fetchPart(ctx context.Context, p BatchPart) ([]Update, error) {
	var data []byte
	err := s.retryBackend(ctx, "blob get", func() error {
		var err error
		data, err = s.blob.Get(ctx, p.Key)
		return err
	})
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("persist: part %s referenced by state but missing: %w", p.Key, err)
		}
		return nil, err
	}
	updates, hash, err := decodePart(data)
	if err != nil {
		if errors.Is(err, errPartCorrupt) {
			return nil, &DataCorruptionError{Key: p.Key, Expected: p.Hash, Actual: hash}
		}
		return nil, fmt.Errorf("persist: decode part %s: %w", p.Key, err)
	}
	if hash != p.Hash {
		return nil, &DataCorruptionError{Key: p.Key, Expected: p.Hash, Actual: hash}
	}
	return updates, nil
}

// addReservation CAS-publishes a since reservation, failing with
// SinceViolationError if at is already below the floor. It returns the
// batches and the shard upper captured at registration.
func (s *Shard) addReservation(ctx context.Context, resID string, at uint64) ([]BatchDesc, uint64, error) {
	var captured []BatchDesc
	var upper uint64
	_, err := s.evolve(ctx, "add reservation", func(st *State) error {
		if at < st.Since {
			return &SinceViolationError{AsOf: at, Since: st.Since}
		}
		if st.Reservations == nil {
			st.Reservations = make(map[string]uint64)
		}
		st.Reservations[resID] = at
		captured = st.Batches
		upper = st.Upper
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return captured, upper, nil
}

// moveReservation advances an existing reservation; it never regresses.
func (s *Shard) moveReservation(ctx context.Context, resID string, at uint64) error {
	_, err := s.evolve(ctx, "move reservation", func(st *State) error {
		if st.Reservations == nil {
			return nil
		}
		if cur, ok := st.Reservations[resID]; ok && at > cur {
			st.Reservations[resID] = at
		}
		return nil
	})
	return err
}

// dropReservation removes a reservation. Dropping twice is a no-op.
func (s *Shard) dropReservation(ctx context.Context, resID string) error {
	_, err := s.evolve(ctx, "drop reservation", func(st *State) error {
		delete(st.Reservations, resID)
		return nil
	})
	return err
}

// Snapshot returns a consistent point-in-time view of the shard at asOf,
// failing with SinceViolationError when asOf is below the compaction floor.
// Registering the snapshot reserves asOf so the floor cannot pass it while
// the snapshot is live; release it with Close.
func (s *Shard) Snapshot(ctx context.Context, asOf uint64) (*Snapshot, error) {
	resID := uuid.NewString()
	batches, upper, err := s.addReservation(ctx, resID, asOf)
	if err != nil {
		return nil, err
	}
	return &Snapshot{shard: s, asOf: asOf, resID: resID, batches: batches, upper: upper}, nil
}

// Snapshot is a lazily evaluated view of a shard as of a fixed time. No
// blob is fetched until Collect runs. The shard upper at open is pinned:
// batches committed after the snapshot was taken are never part of it.
type Snapshot struct {
	shard   *Shard
	asOf    uint64
	resID   string
	batches []BatchDesc
	upper   uint64

	mu       sync.Mutex
	released bool
}

// AsOf returns the snapshot time.
func (sn *Snapshot) AsOf() uint64 { return sn.asOf }

// Collect fetches the snapshot's batches and returns its rows: updates with
// time <= asOf coalesced by (key, value) with diffs summed and zero rows
// elided. Cancellation is observed at part boundaries and releases the
// reservation before returning.
//
// A part can vanish mid-read when a merge swapped its batch out and the
// orphan sweep reclaimed it. The merged descriptors carry the same updates,
// so Collect re-resolves against the current state, still bounded by the
// upper pinned at open, and retries.
func (sn *Snapshot) Collect(ctx context.Context) ([]Update, error) {
	batches := sn.batches
	for attempt := 0; ; attempt++ {
		all, err := sn.fetch(ctx, batches)
		if err == nil {
			return consolidateAt(all, sn.asOf), nil
		}
		if !errors.Is(err, blob.ErrNotFound) || attempt+1 >= sn.shard.cfg.CommitRetries {
			return nil, err
		}
		st, _, err := sn.shard.loadState(ctx)
		if err != nil {
			return nil, err
		}
		batches = batchesBelow(st.Batches, sn.upper)
	}
}

func (sn *Snapshot) fetch(ctx context.Context, batches []BatchDesc) ([]Update, error) {
	var all []Update
	for _, d := range batches {
		for _, p := range d.Parts {
			if err := ctx.Err(); err != nil {
				_ = sn.Close(context.WithoutCancel(ctx))
				return nil, err
			}
			updates, err := sn.shard.fetchPart(ctx, p)
			if err != nil {
				return nil, err
			}
			all = append(all, updates...)
		}
	}
	return all, nil
}

// batchesBelow returns the descriptors wholly below the pinned frontier.
// Merges only ever combine descriptors on the same side of it, so the
// updates covered are exactly those of the originally captured batches.
func batchesBelow(batches []BatchDesc, upper uint64) []BatchDesc {
	out := make([]BatchDesc, 0, len(batches))
	for _, d := range batches {
		if d.Upper <= upper {
			out = append(out, d)
		}
	}
	return out
}

// Close releases the snapshot's since reservation. Safe to call twice.
func (sn *Snapshot) Close(ctx context.Context) error {
	sn.mu.Lock()
	if sn.released {
		sn.mu.Unlock()
		return nil
	}
	sn.released = true
	sn.mu.Unlock()
	return sn.shard.dropReservation(ctx, sn.resID)
}
