// Package engine is the embedded columnar engine consumed by the bridge
// facade.
//
// The bridge treats the engine as an opaque dependency: connections are
// established from a URI, tables hold Arrow record batches, and queries are
// expressed as a ScanSpec. Three backends are provided, selected by URI
// scheme:
//
//   - memory:// is an in-process catalog shared across connections to the
//     same URI, so closing and reopening a connection observes the same
//     tables.
//   - file:// (or a bare path) is a directory per database, one
//     zstd-compressed Arrow IPC stream per table.
//   - s3://bucket/prefix is the same layout in an S3-compatible bucket.
//
// All operations take a context and may block; callers are expected to
// drive them on the bridge executor.
package engine
