package persist

import (
	"bytes"
	"sort"
)

// Update is one time-stamped, signed-multiplicity row change. Diff > 0
// inserts, Diff < 0 retracts.
type Update struct {
	Key   []byte
	Value []byte
	Time  uint64
	Diff  int64
}

func (u Update) sizeBytes() int { return len(u.Key) + len(u.Value) + 16 }

func (u Update) clone() Update {
	return Update{
		Key:   append([]byte(nil), u.Key...),
		Value: append([]byte(nil), u.Value...),
		Time:  u.Time,
		Diff:  u.Diff,
	}
}

func sortUpdates(updates []Update) {
	sort.Slice(updates, func(i, j int) bool {
		if c := bytes.Compare(updates[i].Key, updates[j].Key); c != 0 {
			return c < 0
		}
		if c := bytes.Compare(updates[i].Value, updates[j].Value); c != 0 {
			return c < 0
		}
		return updates[i].Time < updates[j].Time
	})
}

// Consolidate sums diffs of updates sharing (key, value, time) and drops
// entries whose combined diff is zero. The result is sorted. This is the
// coalescing rule compaction applies; it never changes what any read at any
// time observes.
func Consolidate(updates []Update) []Update {
	if len(updates) == 0 {
		return nil
	}
	sorted := make([]Update, len(updates))
	copy(sorted, updates)
	sortUpdates(sorted)

	out := sorted[:0]
	for _, u := range sorted {
		if n := len(out); n > 0 &&
			bytes.Equal(out[n-1].Key, u.Key) &&
			bytes.Equal(out[n-1].Value, u.Value) &&
			out[n-1].Time == u.Time {
			out[n-1].Diff += u.Diff
			continue
		}
		out = append(out, u)
	}

	final := out[:0]
	for _, u := range out {
		if u.Diff != 0 {
			final = append(final, u)
		}
	}
	if len(final) == 0 {
		return nil
	}
	return append([]Update(nil), final...)
}

// consolidateAt collapses updates with time <= asOf into one row per
// (key, value) with diffs summed, zero-diff rows elided, and time set to
// asOf. This is what a snapshot returns.
func consolidateAt(updates []Update, asOf uint64) []Update {
	filtered := make([]Update, 0, len(updates))
	for _, u := range updates {
		if u.Time <= asOf {
			v := u
			v.Time = asOf
			filtered = append(filtered, v)
		}
	}
	return Consolidate(filtered)
}
