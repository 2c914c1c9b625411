// Package container provides the local in-memory data container a cache
// node executes commands against. It is a thin, concurrency-safe map of
// keys to opaque byte values; replication, availability checks and remote
// routing all happen above it in the interceptor chain.
package container
