// Package blob provides the object-store capability persist batches are
// written through.
//
// Three backends implement Store:
//   - NewMemory: mutex-guarded map, for tests and ephemeral use.
//   - OpenFile: one fsync'd file per key under a root directory, the durable
//     single-node option.
//   - OpenS3: an S3-compatible service via the AWS SDK, with custom endpoint
//     and path-style addressing for non-AWS implementations.
//
// The backend is chosen at construction; nothing downstream inspects which
// variant it holds.
package blob
