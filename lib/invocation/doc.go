// Package invocation holds the per-call mutable state that travels through
// the interceptor chain alongside a command: the invocation Context and, for
// transactional calls, the CacheTransaction it is bound to.
//
// Ownership model: a Context (and the Transaction it references) is owned
// exclusively by the invocation that created it. Concurrency is achieved by
// running independent invocations on independent Context instances, never by
// sharing one Context across goroutines. A Transaction spans multiple
// invocations (prepare, then commit or rollback) but is driven by at most
// one invocation at a time; its idempotency markers are the only fields
// touched after the prepare phase and they transition exactly once via
// test-and-set.
package invocation
