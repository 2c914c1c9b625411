// Package interceptors contains the members of the cache's invocation
// pipeline:
//
//   - PartitionHandlingInterceptor consults the partition.Manager before and
//     after every operation and translates availability violations into
//     AvailabilityErrors. It sits above the RPC dispatch so that an
//     operation known to be unavailable is rejected before any network cost
//     is paid.
//   - BaseRpcInterceptor is the embeddable base encapsulating common
//     remote-invocation policy: the sync-vs-async decision per command
//     flags, the total-order prepare/commit sequencing with its send-once
//     markers, and self-delivery filtering.
//   - DistributionInterceptor (embedding BaseRpcInterceptor) routes
//     commands to the owners of their keys: local apply plus remote fan-out
//     for writes, owner reads with local fast-path, and the remote legs of
//     the transactional protocol.
//   - CallInterceptor is the terminal interceptor executing every command
//     against the node-local container.
//
// Chain order for a cache instance: PartitionHandling, Distribution, Call.
package interceptors
