package persist

import (
	"context"
	"errors"
	"strings"

	"github.com/rizalgowandy/materialize/internal/storage/blob"
	"github.com/rizalgowandy/materialize/internal/storage/meta"
	"github.com/rizalgowandy/materialize/pkg/id"
	"github.com/rizalgowandy/materialize/pkg/log"
)

// Compactor merges runs of old batches into larger ones and, through the
// orphan sweep, reclaims the blobs the merges supersede. Compactors race
// freely with writers and with each other: a compactor that loses the
// publish CAS discards its merged output and moves on, so a race costs
// wasted work, never correctness.
type Compactor struct {
	shard  *Shard
	logger log.Logger
}

// NewCompactor returns a compactor for the shard.
func (s *Shard) NewCompactor() *Compactor {
	return &Compactor{shard: s, logger: s.logger.WithComponent("compactor")}
}

// Compact merges the first eligible run of adjacent batches wholly below the
// since floor and swaps it for the merged batch in one CAS. Updates sharing
// (key, value, time) are combined by summing diffs; zero sums drop out; the
// merged range is the exact union of the inputs. Returns the merged
// descriptor, or nil when there was nothing to do or the publish lost a
// race.
//
// The superseded parts are not deleted here: a snapshot opened before the
// swap may still be reading them. Once unreferenced they age out of the
// grace window and SweepOrphans reclaims them.
func (c *Compactor) Compact(ctx context.Context) (*BatchDesc, error) {
	s := c.shard
	st, version, err := s.loadState(ctx)
	if err != nil {
		return nil, err
	}
	start, end := pickRun(st, s.cfg.CompactMinBatches, s.cfg.CompactMaxBytes)
	if start == end {
		return nil, nil
	}
	run := st.Batches[start:end]

	var all []Update
	for _, d := range run {
		for _, p := range d.Parts {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			updates, err := s.fetchPart(ctx, p)
			if err != nil {
				return nil, err
			}
			all = append(all, updates...)
		}
	}
	merged := Consolidate(all)

	builder := newBatchBuilder(s)
	if err := builder.add(ctx, merged); err != nil {
		return nil, err
	}
	parts, err := builder.finish(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.faults.Fail(FaultPreCAS); err != nil {
		return nil, err
	}

	desc := BatchDesc{SeqNo: st.SeqNo + 1, Lower: run[0].Lower, Upper: run[len(run)-1].Upper, Parts: parts}
	next := st.Clone()
	next.SeqNo = desc.SeqNo
	replaced := append([]BatchDesc(nil), next.Batches[:start]...)
	replaced = append(replaced, desc)
	replaced = append(replaced, next.Batches[end:]...)
	next.Batches = replaced
	if err := next.Validate(); err != nil {
		return nil, err
	}
	data, err := next.Encode()
	if err != nil {
		return nil, err
	}

	err = s.retryBackend(ctx, "compact cas", func() error {
		_, err := s.meta.CompareAndSet(ctx, version, data)
		return err
	})
	if errors.Is(err, meta.ErrVersionMismatch) {
		// Someone else moved the state first. First committer wins; throw
		// away the merged output.
		builder.discard(ctx)
		c.logger.Debug("merge lost publish race", log.F("lower", desc.Lower), log.F("upper", desc.Upper))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.commitNotify()
	superseded := 0
	for _, d := range run {
		superseded += len(d.Parts)
	}
	c.logger.Info("merged batch run",
		log.F("batches", len(run)), log.F("lower", desc.Lower), log.F("upper", desc.Upper),
		log.F("rows", len(merged)), log.F("superseded_parts", superseded))
	return &desc, nil
}

// pickRun finds the first run of at least minBatches adjacent descriptors
// whose upper does not exceed the since floor, capped at maxBytes of
// encoded parts. Only fully retired batches are merged: anything a listener
// still needs sits at or above its reservation, which holds since below it.
func pickRun(st State, minBatches, maxBytes int) (int, int) {
	start := 0
	bytes := 0
	for i, d := range st.Batches {
		if d.Upper > st.Since {
			break
		}
		bytes += d.Bytes()
		if i-start+1 >= minBatches && bytes <= maxBytes {
			return start, i + 1
		}
		if bytes > maxBytes {
			start = i + 1
			bytes = 0
		}
	}
	return 0, 0
}

// AdvanceSince raises the compaction floor toward target, clamped to the
// shard upper and to the lowest live reader reservation. The floor never
// regresses. Returns the floor actually reached.
func (c *Compactor) AdvanceSince(ctx context.Context, target uint64) (uint64, error) {
	st, err := c.shard.evolve(ctx, "advance since", func(st *State) error {
		limit := target
		if st.Upper < limit {
			limit = st.Upper
		}
		if min, ok := st.MinReservation(); ok && min < limit {
			limit = min
		}
		if limit > st.Since {
			st.Since = limit
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return st.Since, nil
}

// SweepOrphans is the advisory GC pass: it lists the shard's blob prefix
// and deletes blobs that no published descriptor references and that are
// older than the grace window, judged by the timestamp embedded in their
// key. Listings may be stale, so the state is re-read after the listing and
// anything ambiguous is left alone. Returns the number of blobs deleted.
func (c *Compactor) SweepOrphans(ctx context.Context) (int, error) {
	s := c.shard
	prefix := s.name + "/"
	var keys []string
	err := s.retryBackend(ctx, "blob list", func() error {
		keys = keys[:0]
		return s.blob.List(ctx, prefix, func(key string) bool {
			keys = append(keys, key)
			return true
		})
	})
	if err != nil {
		return 0, err
	}

	// Load after listing: a part published mid-sweep is in this state.
	st, _, err := s.loadState(ctx)
	if err != nil {
		return 0, err
	}
	referenced := make(map[string]struct{})
	for _, d := range st.Batches {
		for _, p := range d.Parts {
			referenced[p.Key] = struct{}{}
		}
	}

	cutoff := id.NowMs() - s.cfg.GCGraceWindow.Std().Milliseconds()
	deleted := 0
	for _, key := range keys {
		if _, ok := referenced[key]; ok {
			continue
		}
		blobID, err := id.Parse(strings.TrimPrefix(key, prefix))
		if err != nil || blobID.Millis() > cutoff {
			// Unknown key shapes and young blobs (possibly a commit in
			// flight) stay put.
			continue
		}
		if err := s.faults.Fail(FaultPreDelete); err != nil {
			return deleted, err
		}
		if err := s.blob.Delete(ctx, key); err != nil && !errors.Is(err, blob.ErrNotFound) {
			c.logger.Warn("orphan not deleted", log.F("key", key), log.Err(err))
			continue
		}
		deleted++
	}
	if deleted > 0 {
		c.logger.Info("swept orphaned blobs", log.F("deleted", deleted))
	}
	return deleted, nil
}
