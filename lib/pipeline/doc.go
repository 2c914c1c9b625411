// Package pipeline implements the asynchronous invocation pipeline every
// cache command passes through: a Stage abstraction (a single-resolution
// deferred result with composable continuations) and an interceptor Chain
// that double-dispatches commands by their type.
//
// The package focuses on:
//   - Stage: a deferred computation that resolves exactly once to either a
//     value or an error. Continuations attached via Handle observe both
//     outcomes and may replace either; ThenAccept observes success only and
//     lets failures pass through untouched; Compose chains another stage.
//   - Chain: an ordered sequence of interceptors fixed at construction. An
//     interceptor contributes one handler per command type it cares about;
//     types it does not handle fall through to the next interceptor
//     unchanged. A handler may pre-check and forward, forward and attach a
//     post-check continuation, or short-circuit by resolving a stage itself
//     without forwarding.
//
// Failure semantics: an error produced by a downstream stage propagates
// upward through every Handle continuation unless one explicitly replaces it
// with a recovered value or a different error. Pre-check failures
// short-circuit the chain, so no downstream interceptor (and no remote call)
// runs for a known-unavailable operation.
package pipeline
