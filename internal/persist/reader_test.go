package persist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotConsolidatesAcrossBatches(t *testing.T) {
	ctx := context.Background()
	ts := newTestShard(t)
	w, err := ts.NewWriter(ctx)
	require.NoError(t, err)

	mustAppend(t, w, []Update{upd("a", "1", 1, 1)}, 2)
	mustAppend(t, w, []Update{upd("a", "1", 2, -1)}, 3)

	// before the retraction the insert is visible
	snap, err := ts.Snapshot(ctx, 1)
	require.NoError(t, err)
	rows, err := snap.Collect(ctx)
	require.NoError(t, err)
	require.NoError(t, snap.Close(ctx))
	require.Equal(t, []Update{upd("a", "1", 1, 1)}, rows)

	// at the retraction the pair cancels to nothing
	snap, err = ts.Snapshot(ctx, 2)
	require.NoError(t, err)
	rows, err = snap.Collect(ctx)
	require.NoError(t, err)
	require.NoError(t, snap.Close(ctx))
	require.Empty(t, rows)
}

func TestSnapshotSumsRepeatedKeys(t *testing.T) {
	ctx := context.Background()
	ts := newTestShard(t)
	w, err := ts.NewWriter(ctx)
	require.NoError(t, err)

	mustAppend(t, w, []Update{
		upd("a", "1", 1, 2),
		upd("b", "2", 1, 1),
	}, 2)
	mustAppend(t, w, []Update{
		upd("a", "1", 2, 3),
		upd("b", "2", 2, -1),
	}, 3)

	snap, err := ts.Snapshot(ctx, 2)
	require.NoError(t, err)
	defer snap.Close(ctx)
	rows, err := snap.Collect(ctx)
	require.NoError(t, err)
	require.Equal(t, []Update{upd("a", "1", 2, 5)}, rows)
}

func TestSnapshotBelowSinceFails(t *testing.T) {
	ctx := context.Background()
	ts := newTestShard(t)
	w, err := ts.NewWriter(ctx)
	require.NoError(t, err)
	mustAppend(t, w, []Update{upd("a", "1", 1, 1)}, 5)

	c := ts.NewCompactor()
	since, err := c.AdvanceSince(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(3), since)

	var sv *SinceViolationError
	_, err = ts.Snapshot(ctx, 2)
	require.ErrorAs(t, err, &sv)
	require.Equal(t, uint64(2), sv.AsOf)
	require.Equal(t, uint64(3), sv.Since)

	// exactly at since is still readable
	snap, err := ts.Snapshot(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, snap.Close(ctx))
}

func TestSnapshotReservationHoldsSince(t *testing.T) {
	ctx := context.Background()
	ts := newTestShard(t)
	w, err := ts.NewWriter(ctx)
	require.NoError(t, err)
	mustAppend(t, w, []Update{upd("a", "1", 1, 1)}, 10)

	snap, err := ts.Snapshot(ctx, 4)
	require.NoError(t, err)

	c := ts.NewCompactor()
	since, err := c.AdvanceSince(ctx, 8)
	require.NoError(t, err)
	require.Equal(t, uint64(4), since)

	require.NoError(t, snap.Close(ctx))
	since, err = c.AdvanceSince(ctx, 8)
	require.NoError(t, err)
	require.Equal(t, uint64(8), since)

	st, _, err := ts.loadState(ctx)
	require.NoError(t, err)
	require.Empty(t, st.Reservations)
}

func TestSnapshotPinsBatchListAtOpen(t *testing.T) {
	// the snapshot captures its batch list at open; later commits do not
	// leak in even when they carry times at or below the as-of bound
	ctx := context.Background()
	ts := newTestShard(t)
	w, err := ts.NewWriter(ctx)
	require.NoError(t, err)
	mustAppend(t, w, []Update{upd("a", "1", 1, 1)}, 2)

	snap, err := ts.Snapshot(ctx, 1)
	require.NoError(t, err)
	defer snap.Close(ctx)

	mustAppend(t, w, []Update{upd("a", "1", 1, -1)}, 3)

	rows, err := snap.Collect(ctx)
	require.NoError(t, err)
	require.Equal(t, []Update{upd("a", "1", 1, 1)}, rows)
}

func TestSnapshotSurvivesConcurrentCompaction(t *testing.T) {
	// a snapshot at the since floor stays readable while a merge swaps its
	// batches out and the sweep reclaims their parts
	ctx := context.Background()
	ts := newTestShard(t)
	w, err := ts.NewWriter(ctx)
	require.NoError(t, err)
	mustAppend(t, w, []Update{upd("a", "1", 1, 1)}, 2)
	mustAppend(t, w, []Update{upd("b", "2", 2, 1)}, 3)

	c := ts.NewCompactor()
	_, err = c.AdvanceSince(ctx, 3)
	require.NoError(t, err)

	snap, err := ts.Snapshot(ctx, 3)
	require.NoError(t, err)
	defer snap.Close(ctx)

	desc, err := c.Compact(ctx)
	require.NoError(t, err)
	require.NotNil(t, desc)
	deleted, err := c.SweepOrphans(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, deleted)

	rows, err := snap.Collect(ctx)
	require.NoError(t, err)
	require.Equal(t, []Update{
		upd("a", "1", 3, 1),
		upd("b", "2", 3, 1),
	}, rows)
}

func TestSnapshotCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ts := newTestShard(t)
	w, err := ts.NewWriter(ctx)
	require.NoError(t, err)
	mustAppend(t, w, []Update{upd("a", "1", 1, 1)}, 2)

	snap, err := ts.Snapshot(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, snap.Close(ctx))
	require.NoError(t, snap.Close(ctx))
}

func TestSnapshotDetectsCorruptPart(t *testing.T) {
	ctx := context.Background()
	ts := newTestShard(t)
	w, err := ts.NewWriter(ctx)
	require.NoError(t, err)
	mustAppend(t, w, []Update{upd("a", "1", 1, 1)}, 2)

	st, _, err := ts.loadState(ctx)
	require.NoError(t, err)
	key := st.Batches[0].Parts[0].Key
	data, err := ts.blob.Get(ctx, key)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, ts.blob.Put(ctx, key, data))

	snap, err := ts.Snapshot(ctx, 1)
	require.NoError(t, err)
	defer snap.Close(ctx)

	var dc *DataCorruptionError
	_, err = snap.Collect(ctx)
	require.ErrorAs(t, err, &dc)
	require.True(t, IsPermanent(err))
}
