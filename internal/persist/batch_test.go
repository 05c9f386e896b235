package persist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartCodecRoundTrip(t *testing.T) {
	in := []Update{
		upd("a", "1", 1, 1),
		upd("k", "v", 0, -3),
		{Key: []byte{0x00, 0xff}, Value: []byte{0x01}, Time: 1 << 40, Diff: 1 << 40},
	}
	data, hash := encodePart(in)
	out, gotHash, err := decodePart(data)
	require.NoError(t, err)
	require.Equal(t, hash, gotHash)
	require.Equal(t, in, out)
}

func TestPartCodecDetectsCorruption(t *testing.T) {
	data, _ := encodePart([]Update{upd("a", "1", 1, 1)})
	data[2] ^= 0xff
	_, _, err := decodePart(data)
	require.ErrorIs(t, err, errPartCorrupt)
}

func TestPartCodecRejectsTruncation(t *testing.T) {
	data, _ := encodePart([]Update{upd("a", "1", 1, 1)})
	_, _, err := decodePart(data[:3])
	require.Error(t, err)
}

func TestBuilderSplitsParts(t *testing.T) {
	ctx := context.Background()
	ts := newTestShard(t, func(o *ShardOptions) {
		cfg := testConfig()
		cfg.FlushPartBytes = 64
		o.Config = cfg
	})

	builder := newBatchBuilder(ts.Shard)
	var all []Update
	for i := 0; i < 32; i++ {
		u := upd("key-with-some-width", "value-with-some-width", uint64(i), 1)
		all = append(all, u)
	}
	require.NoError(t, builder.add(ctx, all))
	parts, err := builder.finish(ctx)
	require.NoError(t, err)
	require.Greater(t, len(parts), 1)

	// every part round-trips from the blob store and the counts add up
	total := 0
	for _, p := range parts {
		data, err := ts.blob.Get(ctx, p.Key)
		require.NoError(t, err)
		updates, hash, err := decodePart(data)
		require.NoError(t, err)
		require.Equal(t, p.Hash, hash)
		require.Equal(t, p.Count, len(updates))
		require.Equal(t, p.Len, len(data))
		total += len(updates)
	}
	require.Equal(t, len(all), total)
}

func TestBuilderDiscardRemovesUploads(t *testing.T) {
	ctx := context.Background()
	ts := newTestShard(t)

	builder := newBatchBuilder(ts.Shard)
	require.NoError(t, builder.add(ctx, []Update{upd("a", "1", 1, 1)}))
	_, err := builder.finish(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, ts.blob.Len())

	builder.discard(ctx)
	require.Equal(t, 0, ts.blob.Len())
}
