// Package id provides 128-bit, lexicographically sortable blob-key
// identifiers.
//
// # Format
//
// An ID is 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence].
// Byte-wise comparison preserves chronological order, and IDs generated
// within the same millisecond remain strictly increasing by sequence. The
// embedded timestamp lets garbage collection judge the age of an otherwise
// opaque blob key (see Millis).
//
// # Monotonicity
//
// The Generator ensures per-process monotonicity:
//   - If the system clock regresses, it pins to the last seen millisecond and
//     increments the sequence to avoid going backwards.
//   - If the sequence would overflow within a millisecond, it waits for the
//     next millisecond before emitting the next ID.
//
// Usage
//
//	g := id.NewGenerator()
//	key := g.Next().String() // hex blob key
//	parsed, _ := id.Parse(key)
//	ageMs := id.NowMs() - parsed.Millis()
package id
