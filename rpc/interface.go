package rpc

import (
	"time"

	"github.com/ValentinKolb/dcache/lib/command"
	"github.com/ValentinKolb/dcache/lib/pipeline"
)

// --------------------------------------------------------------------------
// Basic Types
// --------------------------------------------------------------------------

// Address identifies one cluster member.
type Address string

// Response is one member's answer to a remote invocation.
type Response struct {
	Value any
	Err   error
}

// ResponseMode controls how a remote invocation waits for answers.
type ResponseMode uint8

const (
	// WaitForValidResponse waits synchronously for every recipient; an
	// unreachable recipient fails the invocation.
	WaitForValidResponse ResponseMode = iota
	// SynchronousIgnoreLeavers waits synchronously but a member leaving
	// mid-call is not itself a failure; its response is simply absent.
	SynchronousIgnoreLeavers
	// Asynchronous fires the invocation without waiting for answers.
	Asynchronous
)

// String returns the string representation of a ResponseMode.
func (m ResponseMode) String() string {
	switch m {
	case WaitForValidResponse:
		return "sync"
	case SynchronousIgnoreLeavers:
		return "sync-ignore-leavers"
	case Asynchronous:
		return "async"
	default:
		return "unknown"
	}
}

// IsSynchronous reports whether the mode waits for responses.
func (m ResponseMode) IsSynchronous() bool {
	return m != Asynchronous
}

// DeliverOrder controls the ordering contract of a remote invocation.
type DeliverOrder uint8

const (
	// OrderNone delivers messages without ordering guarantees across
	// independent invocations.
	OrderNone DeliverOrder = iota
	// OrderTotal guarantees all recipients apply total-order messages in
	// the same relative sequence.
	OrderTotal
)

// String returns the string representation of a DeliverOrder.
func (o DeliverOrder) String() string {
	if o == OrderTotal {
		return "total"
	}
	return "none"
}

// --------------------------------------------------------------------------
// Per-Call Options
// --------------------------------------------------------------------------

// Options is the immutable per-RPC value object. Build it once per logical
// invocation via an OptionsBuilder.
type Options struct {
	Mode    ResponseMode
	Order   DeliverOrder
	Timeout time.Duration
	Filter  ResponseFilter
}

// OptionsBuilder assembles Options. The zero timeout is replaced by the
// manager's default at build time by convention; builders obtained from a
// Manager come pre-populated.
type OptionsBuilder struct {
	opts Options
}

// NewOptionsBuilder creates a builder for the given mode and order.
func NewOptionsBuilder(mode ResponseMode, order DeliverOrder) *OptionsBuilder {
	return &OptionsBuilder{opts: Options{Mode: mode, Order: order}}
}

// Timeout sets the invocation timeout.
func (b *OptionsBuilder) Timeout(d time.Duration) *OptionsBuilder {
	b.opts.Timeout = d
	return b
}

// ResponseFilter sets the per-response filter.
func (b *OptionsBuilder) ResponseFilter(f ResponseFilter) *OptionsBuilder {
	b.opts.Filter = f
	return b
}

// Build returns the finished, immutable Options value.
func (b *OptionsBuilder) Build() Options {
	return b.opts
}

// --------------------------------------------------------------------------
// Manager Interface
// --------------------------------------------------------------------------

// Manager sends commands to sets of cluster members and exposes the local
// node's view of membership. Implementations own transport and framing.
type Manager interface {
	// InvokeRemotelyAsync sends cmd to the given recipients under opts. The
	// returned stage resolves to a map[Address]Response, or to an error
	// (always a *RemoteError) if the invocation as a whole fails. With
	// Asynchronous mode the stage resolves immediately with an empty map.
	InvokeRemotelyAsync(recipients []Address, cmd *command.Command, opts Options) *pipeline.Stage

	// GetAddress returns the local node's address.
	GetAddress() Address

	// GetMembers returns the members currently reachable from this node.
	GetMembers() []Address

	// GetTopologyID returns the current topology id. It changes whenever
	// cluster membership changes.
	GetTopologyID() int

	// GetOptionsBuilder returns a builder pre-populated with the manager's
	// default timeout for the given mode and order.
	GetOptionsBuilder(mode ResponseMode, order DeliverOrder) *OptionsBuilder

	// GetDefaultOptions returns the default options for a synchronous or
	// asynchronous invocation without ordering guarantees.
	GetDefaultOptions(sync bool) Options
}
