package rpc

import (
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Response Filter Contract
// --------------------------------------------------------------------------

// ResponseFilter inspects responses as they arrive. Allow decides whether a
// response is kept in the result map; Validate runs once after the
// invocation resolved successfully and may fail it post hoc.
type ResponseFilter interface {
	// Allow is called once per received response. Returning false drops
	// the response from the result map.
	Allow(addr Address, rsp Response) bool

	// Validate is called after all responses were collected. A non-nil
	// error replaces the invocation's successful outcome.
	Validate() error
}

// --------------------------------------------------------------------------
// Self-Deliver Filter
// --------------------------------------------------------------------------

// SelfDeliverFilter deduplicates a node's own copy of a total-order
// broadcast: the sender is always among the recipients of a total-order
// message, but it must not double-process its own send. The filter drops the
// self response from the result map and remembers that it was seen, so
// Validate can verify the message actually reached the local node.
type SelfDeliverFilter struct {
	self      Address
	delivered atomic.Bool
}

// NewSelfDeliverFilter creates a filter for the given local address.
func NewSelfDeliverFilter(self Address) *SelfDeliverFilter {
	return &SelfDeliverFilter{self: self}
}

// Allow drops the local node's own response and keeps all others.
func (f *SelfDeliverFilter) Allow(addr Address, _ Response) bool {
	if addr == f.self {
		f.delivered.Store(true)
		return false
	}
	return true
}

// Validate fails the invocation if the local copy of the broadcast was never
// delivered: a total-order message that skipped its own sender was not
// applied in the agreed sequence.
func (f *SelfDeliverFilter) Validate() error {
	if !f.delivered.Load() {
		return NewRemoteError(RemoteCTimeout, f.self, "total order message was not self-delivered")
	}
	return nil
}
