package persist

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrListenerClosed is returned by Next after Close.
var ErrListenerClosed = errors.New("persist: listener closed")

// ListenEvent carries one committed batch's updates and the shard upper
// after it, the listener's new progress frontier.
type ListenEvent struct {
	Batch    BatchDesc
	Updates  []Update
	Progress uint64
}

// Listen returns a Listener yielding every batch with lower >= from,
// strictly in commit order, with no gaps or duplicates. The listener holds
// a since reservation at its progress frontier so compaction can never merge
// away a batch it has not yet delivered. It runs until Close or context
// cancellation.
func (s *Shard) Listen(ctx context.Context, from uint64) (*Listener, error) {
	resID := uuid.NewString()
	if _, _, err := s.addReservation(ctx, resID, from); err != nil {
		return nil, err
	}
	return &Listener{shard: s, resID: resID, progress: from}, nil
}

// Listener is an unbounded, order-preserving feed of newly committed
// batches.
type Listener struct {
	shard *Shard
	resID string

	mu       sync.Mutex
	progress uint64
	closed   bool
}

// Progress returns the frontier up to which batches have been delivered.
func (l *Listener) Progress() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.progress
}

// Next blocks until the next batch at or beyond the progress frontier is
// committed and returns it. In-process commits wake it immediately; commits
// from other processes are picked up within the configured poll interval.
func (l *Listener) Next(ctx context.Context) (ListenEvent, error) {
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return ListenEvent{}, ErrListenerClosed
		}
		progress := l.progress
		l.mu.Unlock()

		// Grab the notification channel before reading state so a commit
		// landing in between still wakes the next wait.
		wake := l.shard.commitChan()

		st, _, err := l.shard.loadState(ctx)
		if err != nil {
			return ListenEvent{}, err
		}
		if desc, ok := nextBatch(st, progress); ok {
			var updates []Update
			for _, p := range desc.Parts {
				if err := ctx.Err(); err != nil {
					return ListenEvent{}, err
				}
				part, err := l.shard.fetchPart(ctx, p)
				if err != nil {
					return ListenEvent{}, err
				}
				updates = append(updates, part...)
			}
			if err := l.shard.moveReservation(ctx, l.resID, desc.Upper); err != nil {
				return ListenEvent{}, err
			}
			l.mu.Lock()
			l.progress = desc.Upper
			l.mu.Unlock()
			return ListenEvent{Batch: desc, Updates: updates, Progress: desc.Upper}, nil
		}

		select {
		case <-ctx.Done():
			return ListenEvent{}, ctx.Err()
		case <-wake:
		case <-time.After(l.shard.cfg.ListenPollInterval.Std()):
		}
	}
}

// nextBatch returns the earliest batch whose lower is at or beyond the
// progress frontier. Descriptors tile the time axis in commit order, so this
// is exactly the no-gap no-duplicate delivery rule: batches the listener
// already consumed were merged, if at all, into descriptors starting below
// its frontier.
func nextBatch(st State, progress uint64) (BatchDesc, bool) {
	for _, d := range st.Batches {
		if d.Lower >= progress {
			return d, true
		}
	}
	return BatchDesc{}, false
}

// Close releases the listener's reservation and stops the feed.
func (l *Listener) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	return l.shard.dropReservation(ctx, l.resID)
}
