// Package command defines the typed descriptors for every operation that can
// enter the cache's invocation pipeline. A Command is an immutable value
// created once by the caller (or decoded from a remote peer) and passed by
// reference through the interceptor chain; the pipeline never mutates a
// command's key set.
//
// The package focuses on:
//   - A Type enum with one value per operation kind (single-key reads and
//     writes, bulk reads, clear, put-map, delta application and the
//     transactional prepare/commit/rollback commands)
//   - A Flag bitmask controlling per-invocation behavior such as forced
//     synchronicity or an explicit opt-out of clustering (CacheModeLocal)
//   - Factory functions that fix the affected key set at construction time
//
// Commands carry no execution logic themselves. How a command is routed,
// checked against the cluster's availability state and finally executed is
// decided by the interceptors in the lib/interceptors package.
package command
