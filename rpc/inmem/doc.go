// Package inmem provides an in-process implementation of the rpc.Manager
// interface: a Cluster of nodes exchanging commands through direct handler
// calls instead of sockets. It exists for tests, benchmarks and the demo
// serve command, where real transports would only add noise.
//
// The cluster is partitionable: Partition splits the membership into groups
// that cannot reach each other and bumps the topology id, Heal restores full
// reachability. The reachability view is published as an immutable snapshot
// installed by atomic swap, so concurrent invocations never observe a torn
// state. Total-order delivery is serialized through a cluster-wide
// sequencer: all recipients apply total-order messages in the same relative
// order. Everything else about delivery is unordered across independent
// invocations.
package inmem
