// Package rpc defines the remote-invocation surface the consistency core
// consumes: cluster addresses, response modes, delivery orders, per-call
// options and the Manager interface through which commands are fanned out to
// remote members.
//
// The package focuses on:
//   - Options: an immutable per-RPC value object (response mode, delivery
//     order, timeout, optional response filter) built once via the fluent
//     OptionsBuilder
//   - ResponseFilter: pluggable per-response filtering plus a post-hoc
//     Validate step, with SelfDeliverFilter deduplicating a node's own copy
//     of a total-order broadcast
//   - RemoteError: the typed failure for anything the rpc layer surfaces
//     (timeout, unreachable member, remote exception). A timeout is not a
//     special state: it resolves the caller's stage as any other remote
//     failure would.
//
// Wire serialization and connection management are deliberately absent;
// implementations of Manager (such as rpc/inmem) own those concerns.
package rpc
