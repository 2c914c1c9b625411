package inmem

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dcache/lib/command"
	"github.com/ValentinKolb/dcache/lib/pipeline"
	"github.com/ValentinKolb/dcache/rpc"
	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

var (
	rpcInvocations = metrics.GetOrCreateCounter(`dcache_rpc_invocations_total`)
	rpcFailures    = metrics.GetOrCreateCounter(`dcache_rpc_failures_total`)
	rpcLatency     = gometrics.GetOrRegisterTimer("dcache.rpc.latency", nil)
)

// --------------------------------------------------------------------------
// Remote Invocation
// --------------------------------------------------------------------------

// InvokeRemotelyAsync implements rpc.Manager. Delivery to the recipients
// runs off the caller's goroutine; the returned stage resolves to a
// map[rpc.Address]rpc.Response or fails with a *rpc.RemoteError. With
// Asynchronous mode the stage is already resolved with an empty map.
func (n *Node) InvokeRemotelyAsync(recipients []rpc.Address, cmd *command.Command, opts rpc.Options) *pipeline.Stage {
	rpcInvocations.Inc()

	if opts.Mode == rpc.Asynchronous {
		go func() {
			_, _ = n.deliver(recipients, cmd, opts)
		}()
		return pipeline.CompletedStage(map[rpc.Address]rpc.Response{})
	}

	stage := pipeline.NewStage()
	start := time.Now()
	go func() {
		responses, err := n.deliver(recipients, cmd, opts)
		rpcLatency.UpdateSince(start)
		if err != nil {
			rpcFailures.Inc()
			stage.Fail(err)
			return
		}
		stage.Complete(responses)
	}()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = n.cluster.defaultTimeout
	}
	return stage.WithTimeout(timeout, rpc.NewRemoteError(rpc.RemoteCTimeout, "",
		fmt.Sprintf("%v invocation did not resolve within %v", cmd.Type, timeout)))
}

// deliver dispatches the command to every recipient. Total-order sends are
// serialized through the cluster sequencer so every recipient observes
// total-order messages in the same relative sequence; delivery within one
// invocation is sequential either way, parallelism exists across independent
// invocations.
func (n *Node) deliver(recipients []rpc.Address, cmd *command.Command, opts rpc.Options) (map[rpc.Address]rpc.Response, error) {
	if opts.Order == rpc.OrderTotal {
		n.cluster.totalOrder.Lock()
		defer n.cluster.totalOrder.Unlock()
	}

	responses := make(map[rpc.Address]rpc.Response, len(recipients))
	for _, addr := range recipients {
		target, ok := n.cluster.nodes.Load(addr)
		// A node without an installed handler is not serving yet and is
		// treated like an unreachable member.
		var handle *Handler
		if ok {
			handle = target.handler.Load()
		}
		if handle == nil || !n.cluster.reachable(n.addr, addr) {
			if opts.Mode == rpc.SynchronousIgnoreLeavers || opts.Mode == rpc.Asynchronous {
				// A member leaving mid-call is not itself a failure;
				// unavailability is the availability layer's concern.
				continue
			}
			return nil, rpc.NewRemoteError(rpc.RemoteCUnreachable, addr,
				fmt.Sprintf("cannot deliver %v command", cmd.Type))
		}

		value, err := (*handle)(cmd)
		rsp := rpc.Response{Value: value, Err: err}
		if err != nil && opts.Mode != rpc.Asynchronous {
			return nil, rpc.NewRemoteError(rpc.RemoteCException, addr, err.Error())
		}
		if opts.Filter != nil && !opts.Filter.Allow(addr, rsp) {
			continue
		}
		responses[addr] = rsp
	}
	return responses, nil
}
