package persist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenerDeliversCommittedBatchesInOrder(t *testing.T) {
	ctx := context.Background()
	ts := newTestShard(t)
	w, err := ts.NewWriter(ctx)
	require.NoError(t, err)

	mustAppend(t, w, []Update{upd("a", "1", 1, 1)}, 2)
	mustAppend(t, w, []Update{upd("b", "2", 2, 1)}, 3)
	mustAppend(t, w, []Update{upd("c", "3", 3, 1)}, 4)

	l, err := ts.Listen(ctx, 0)
	require.NoError(t, err)
	defer l.Close(ctx)

	var keys []string
	var progress []uint64
	for i := 0; i < 3; i++ {
		ev, err := l.Next(ctx)
		require.NoError(t, err)
		for _, u := range ev.Updates {
			keys = append(keys, string(u.Key))
		}
		progress = append(progress, ev.Progress)
	}
	require.Equal(t, []string{"a", "b", "c"}, keys)
	require.Equal(t, []uint64{2, 3, 4}, progress)
}

func TestListenerStartsAtRequestedFrontier(t *testing.T) {
	ctx := context.Background()
	ts := newTestShard(t)
	w, err := ts.NewWriter(ctx)
	require.NoError(t, err)

	mustAppend(t, w, []Update{upd("a", "1", 1, 1)}, 2)
	mustAppend(t, w, []Update{upd("b", "2", 2, 1)}, 3)

	l, err := ts.Listen(ctx, 2)
	require.NoError(t, err)
	defer l.Close(ctx)

	ev, err := l.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), ev.Batch.Lower)
	require.Len(t, ev.Updates, 1)
	require.Equal(t, "b", string(ev.Updates[0].Key))
}

func TestListenerWakesOnCommit(t *testing.T) {
	ctx := context.Background()
	ts := newTestShard(t)
	w, err := ts.NewWriter(ctx)
	require.NoError(t, err)

	l, err := ts.Listen(ctx, 0)
	require.NoError(t, err)
	defer l.Close(ctx)

	type result struct {
		ev  ListenEvent
		err error
	}
	done := make(chan result, 1)
	go func() {
		ev, err := l.Next(ctx)
		done <- result{ev, err}
	}()

	// give the listener time to block before committing
	time.Sleep(20 * time.Millisecond)
	mustAppend(t, w, []Update{upd("a", "1", 1, 1)}, 2)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Equal(t, uint64(2), r.ev.Progress)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not observe the commit")
	}
}

func TestListenerNextHonorsContextCancel(t *testing.T) {
	ts := newTestShard(t)
	ctx, cancel := context.WithCancel(context.Background())

	l, err := ts.Listen(ctx, 0)
	require.NoError(t, err)
	defer l.Close(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := l.Next(ctx)
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not return on cancel")
	}
}

func TestListenerDeliversAcrossCompaction(t *testing.T) {
	// batches behind the listener's progress may be merged away; everything
	// at or ahead of it must still arrive exactly once
	ctx := context.Background()
	ts := newTestShard(t)
	w, err := ts.NewWriter(ctx)
	require.NoError(t, err)

	mustAppend(t, w, []Update{upd("a", "1", 1, 1)}, 2)
	mustAppend(t, w, []Update{upd("b", "2", 2, 1)}, 3)

	l, err := ts.Listen(ctx, 0)
	require.NoError(t, err)
	defer l.Close(ctx)

	ev, err := l.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), ev.Progress)

	mustAppend(t, w, []Update{upd("c", "3", 3, 1)}, 4)

	c := ts.NewCompactor()
	_, err = c.AdvanceSince(ctx, 2)
	require.NoError(t, err)
	_, err = c.Compact(ctx)
	require.NoError(t, err)

	var keys []string
	for i := 0; i < 2; i++ {
		ev, err := l.Next(ctx)
		require.NoError(t, err)
		for _, u := range ev.Updates {
			keys = append(keys, string(u.Key))
		}
	}
	require.Equal(t, []string{"b", "c"}, keys)
	require.Equal(t, uint64(4), l.Progress())
}

func TestListenerReservationPinsCompaction(t *testing.T) {
	ctx := context.Background()
	ts := newTestShard(t)
	w, err := ts.NewWriter(ctx)
	require.NoError(t, err)
	mustAppend(t, w, []Update{upd("a", "1", 1, 1)}, 2)
	mustAppend(t, w, []Update{upd("b", "2", 2, 1)}, 3)

	l, err := ts.Listen(ctx, 0)
	require.NoError(t, err)

	c := ts.NewCompactor()
	since, err := c.AdvanceSince(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(0), since)

	// nothing to compact with the floor pinned at the listener's frontier
	desc, err := c.Compact(ctx)
	require.NoError(t, err)
	require.Nil(t, desc)

	require.NoError(t, l.Close(ctx))
	since, err = c.AdvanceSince(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(3), since)
}

func TestListenBelowSinceFails(t *testing.T) {
	ctx := context.Background()
	ts := newTestShard(t)
	w, err := ts.NewWriter(ctx)
	require.NoError(t, err)
	mustAppend(t, w, []Update{upd("a", "1", 1, 1)}, 5)

	c := ts.NewCompactor()
	_, err = c.AdvanceSince(ctx, 4)
	require.NoError(t, err)

	var sv *SinceViolationError
	_, err = ts.Listen(ctx, 2)
	require.ErrorAs(t, err, &sv)
}

func TestListenerCloseStopsNext(t *testing.T) {
	ctx := context.Background()
	ts := newTestShard(t)
	w, err := ts.NewWriter(ctx)
	require.NoError(t, err)
	mustAppend(t, w, []Update{upd("a", "1", 1, 1)}, 2)

	l, err := ts.Listen(ctx, 0)
	require.NoError(t, err)
	_, err = l.Next(ctx)
	require.NoError(t, err)

	require.NoError(t, l.Close(ctx))
	_, err = l.Next(ctx)
	require.ErrorIs(t, err, ErrListenerClosed)
	require.NoError(t, l.Close(ctx))
}
