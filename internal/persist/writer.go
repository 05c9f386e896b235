package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rizalgowandy/materialize/internal/storage/meta"
	"github.com/rizalgowandy/materialize/pkg/log"
)

// Writer appends updates to a shard under an epoch lease.
//
// A writer is Leased from construction until the first commit that observes
// a newer epoch, at which point it is Fenced: permanently unusable, every
// operation returning ErrFenced. Fencing is how a resurrected stale writer
// is kept from publishing after a failover; the replacement writer's lease
// acquisition bumped the epoch, and every commit presents the epoch it was
// leased with.
type Writer struct {
	shard  *Shard
	epoch  uint64
	holder string
	logger log.Logger

	mu      sync.Mutex
	fenced  bool
	upper   uint64
	builder *batchBuilder
}

// NewWriter acquires a lease on the shard and returns a writer holding it.
// Acquisition atomically increments the epoch, fencing any previous holder.
func (s *Shard) NewWriter(ctx context.Context) (*Writer, error) {
	holder := uuid.NewString()
	st, err := s.evolve(ctx, "acquire lease", func(st *State) error {
		st.Epoch++
		st.Holder = holder
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger := s.logger.With(log.F("epoch", st.Epoch))
	logger.Info("lease acquired", log.F("holder", holder), log.F("upper", st.Upper))
	return &Writer{
		shard:   s,
		epoch:   st.Epoch,
		holder:  holder,
		logger:  logger,
		upper:   st.Upper,
		builder: newBatchBuilder(s),
	}, nil
}

// Epoch returns the lease epoch this writer commits under.
func (w *Writer) Epoch() uint64 { return w.epoch }

// Holder returns the lease holder id.
func (w *Writer) Holder() string { return w.holder }

// Fenced reports whether the writer observed a newer epoch and shut down.
func (w *Writer) Fenced() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fenced
}

// Upper returns the shard upper as of this writer's last commit.
func (w *Writer) Upper() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.upper
}

// Stage buffers updates for the next Append without advancing the frontier.
// Oversized buffers are sealed and uploaded as batch parts eagerly, so a
// large batch streams to the blob store instead of accumulating in memory.
func (w *Writer) Stage(ctx context.Context, updates []Update) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fenced {
		return ErrFenced
	}
	return w.builder.add(ctx, updates)
}

// Append durably commits the staged buffer plus updates as one batch and
// advances the shard upper to newUpper. Every update time must be below
// newUpper and newUpper must not regress; violations fail with
// InvalidTimeBoundError before anything is written.
//
// On success the batch is visible to snapshots and listeners. On ErrFenced
// the writer is permanently dead and nothing was published.
func (w *Writer) Append(ctx context.Context, updates []Update, newUpper uint64) (BatchDesc, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fenced {
		return BatchDesc{}, ErrFenced
	}
	if newUpper < w.upper {
		return BatchDesc{}, &InvalidTimeBoundError{Reason: "upper would regress", Time: w.upper, Upper: newUpper}
	}
	for _, u := range updates {
		if u.Time >= newUpper {
			return BatchDesc{}, &InvalidTimeBoundError{Reason: "update time at or beyond upper", Time: u.Time, Upper: newUpper}
		}
	}
	if w.builder.hasMax && w.builder.maxTime >= newUpper {
		return BatchDesc{}, &InvalidTimeBoundError{Reason: "staged update time at or beyond upper", Time: w.builder.maxTime, Upper: newUpper}
	}
	hasPayload := len(updates) > 0 || len(w.builder.staged) > 0 || len(w.builder.parts) > 0
	if newUpper == w.upper {
		if hasPayload {
			// A batch must occupy a non-empty range or the feed could never
			// get past it.
			return BatchDesc{}, &InvalidTimeBoundError{Reason: "upper must advance when committing updates", Time: w.upper, Upper: newUpper}
		}
		return BatchDesc{SeqNo: 0, Lower: newUpper, Upper: newUpper}, nil
	}

	if err := w.builder.add(ctx, updates); err != nil {
		return BatchDesc{}, err
	}
	parts, err := w.builder.finish(ctx)
	if err != nil {
		return BatchDesc{}, err
	}

	if err := w.shard.faults.Fail(FaultPreCAS); err != nil {
		return BatchDesc{}, err
	}

	desc, err := w.commit(ctx, parts, newUpper)
	if err != nil {
		return BatchDesc{}, err
	}
	w.upper = newUpper
	w.builder = newBatchBuilder(w.shard)
	w.shard.commitNotify()
	w.logger.Debug("batch committed",
		log.F("seqno", desc.SeqNo), log.F("lower", desc.Lower), log.F("upper", desc.Upper),
		log.F("parts", len(desc.Parts)))
	return desc, nil
}

// commit publishes the batch descriptor through the meta CAS. A version
// conflict from an unrelated update (a reader moving a reservation) re-reads
// and retries; an epoch change fences the writer permanently. Retried
// commits recognize their own earlier success by the frontier: an unchanged
// epoch with the upper already at or past newUpper can only mean this
// writer's CAS landed and the ack was lost, so the commit is never applied
// twice.
func (w *Writer) commit(ctx context.Context, parts []BatchPart, newUpper uint64) (BatchDesc, error) {
	for attempt := 0; attempt < w.shard.cfg.CommitRetries; attempt++ {
		st, version, err := w.shard.loadState(ctx)
		if err != nil {
			return BatchDesc{}, err
		}
		if st.Epoch != w.epoch {
			w.fenced = true
			w.logger.Warn("fenced by newer lease", log.F("observed_epoch", st.Epoch))
			return BatchDesc{}, ErrFenced
		}
		if st.Upper >= newUpper {
			// The upper only advances through this writer while its epoch
			// holds, so a previous attempt landed and the ack was lost.
			// Recognition goes by frontier, not by part identity: a
			// compactor may already have merged the batch away.
			if n := len(st.Batches); n > 0 &&
				st.Batches[n-1].Upper == newUpper && st.Batches[n-1].samePartsAs(BatchDesc{Parts: parts}) {
				return st.Batches[n-1], nil
			}
			return BatchDesc{SeqNo: st.SeqNo, Lower: w.upper, Upper: newUpper, Parts: parts}, nil
		}

		desc := BatchDesc{SeqNo: st.SeqNo + 1, Lower: st.Upper, Upper: newUpper, Parts: parts}
		next := st.Clone()
		next.SeqNo = desc.SeqNo
		next.Batches = append(next.Batches, desc)
		next.Upper = newUpper
		if err := next.Validate(); err != nil {
			return BatchDesc{}, err
		}
		data, err := next.Encode()
		if err != nil {
			return BatchDesc{}, err
		}

		err = w.shard.retryBackend(ctx, "meta cas", func() error {
			_, err := w.shard.meta.CompareAndSet(ctx, version, data)
			return err
		})
		if err == nil {
			return desc, nil
		}
		if errors.Is(err, meta.ErrVersionMismatch) {
			continue
		}
		return BatchDesc{}, err
	}
	return BatchDesc{}, fmt.Errorf("persist: append: commit retry budget exhausted")
}
