// Package persist implements durable storage for a streaming dataflow
// engine: writers append time-stamped, signed-multiplicity updates, and
// readers get consistent point-in-time snapshots and live batch feeds, with
// exactly-once durability across crashes of any single writer or reader.
//
// # Model
//
// A shard is one persisted stream. Its entire consistency story lives in a
// single small state record (SeqNo, batch descriptors, the since/upper
// frontier pair, the lease epoch, reader reservations) held in a
// compare-and-swapped meta store. Batch bytes live in a blob store and are
// always written before the descriptor referencing them is published, so a
// crash between the two leaves an orphan blob, never a dangling reference.
//
// # Surface
//
// Four operations face the dataflow engine:
//
//	w, _ := shard.NewWriter(ctx)              // acquire_lease
//	desc, _ := w.Append(ctx, updates, upper)  // append
//	snap, _ := shard.Snapshot(ctx, asOf)      // snapshot
//	lis, _ := shard.Listen(ctx, from)         // listen
//
// Writers are fenced by epoch: acquiring a lease increments the epoch and
// every commit presents the epoch it was leased with, so a stale writer
// resurrected after failover fails with ErrFenced and a fresh writer must
// be created. Readers never block writers; they only add and remove since
// reservations, which hold the compaction floor below any snapshot or
// listener still in use.
//
// Compaction merges adjacent batch runs below the floor, summing diffs of
// updates that share (key, value, time) and dropping zero sums. Superseded
// blobs are left for the grace-window orphan sweep so live snapshots keep
// reading; racing compactors are resolved by the CAS, the loser deleting
// its merged output, and no one locks anything.
package persist
