// Package meta provides the compare-and-swapped record capability that
// carries a shard's consistency state.
//
// Two backends implement Store:
//   - NewMemory: mutex plus counter, linearizable within a process.
//   - OpenPebble(...).Record(name): a durable record in a WAL-synced Pebble
//     store, surviving process crashes. Each record CAS commits with an
//     fsync according to the configured FsyncMode.
//
// A deployment that needs cross-process mutual exclusion points Record at a
// coordination service instead; the Store contract is all persist asks for.
package meta
