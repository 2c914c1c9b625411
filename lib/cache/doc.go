// Package cache assembles the consistency core into a usable cache node: it
// owns the local container, builds the interceptor chain (partition
// handling above distribution above local execution), tracks the node's
// transactions and exposes the public operation API.
//
// Every public method builds a command plus an invocation context and sends
// both through the chain; HandleRemote is the inbound counterpart for
// commands arriving from peers. The chain's Dispatch is thus the single
// surface by which every operation enters the core, local and remote alike.
package cache
