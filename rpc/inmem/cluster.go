package inmem

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dcache/lib/command"
	"github.com/ValentinKolb/dcache/rpc"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("rpc")

// Handler processes a command received from a peer and returns its result.
type Handler func(cmd *command.Command) (any, error)

// --------------------------------------------------------------------------
// Cluster
// --------------------------------------------------------------------------

// view is an immutable reachability snapshot: nodes in the same group can
// reach each other. A nil view means full reachability.
type view struct {
	groups map[rpc.Address]int
}

// Cluster is the in-process fabric the nodes communicate through.
type Cluster struct {
	nodes          *xsync.MapOf[rpc.Address, *Node]
	reachability   atomic.Pointer[view]
	topologyID     atomic.Int64
	totalOrder     sync.Mutex // sequencer for total-order delivery
	defaultTimeout time.Duration
}

// NewCluster creates an empty cluster. defaultTimeout bounds every
// synchronous invocation whose options carry no explicit timeout.
func NewCluster(defaultTimeout time.Duration) *Cluster {
	return &Cluster{
		nodes:          xsync.NewMapOf[rpc.Address, *Node](),
		defaultTimeout: defaultTimeout,
	}
}

// AddNode registers a node with its inbound command handler and returns its
// rpc.Manager. Adding a node bumps the topology id. A node registered with a
// nil handler is unreachable until SetHandler installs one.
func (c *Cluster) AddNode(addr rpc.Address, handler Handler) *Node {
	n := &Node{cluster: c, addr: addr}
	if handler != nil {
		n.handler.Store(&handler)
	}
	c.nodes.Store(addr, n)
	c.topologyID.Add(1)
	log.Infof("Node %s joined the cluster (topology %d)", addr, c.topologyID.Load())
	return n
}

// SetHandler installs or replaces a node's inbound handler. Useful when the
// handler (the cache) is constructed after the node joined; safe while
// invocations are in flight.
func (c *Cluster) SetHandler(addr rpc.Address, handler Handler) {
	if n, ok := c.nodes.Load(addr); ok {
		n.handler.Store(&handler)
	}
}

// Partition splits the cluster into the given groups. Nodes in different
// groups cannot reach each other; nodes missing from every group form an
// implicit final group. The topology id is bumped.
func (c *Cluster) Partition(groups ...[]rpc.Address) {
	v := &view{groups: make(map[rpc.Address]int)}
	for i, g := range groups {
		for _, a := range g {
			v.groups[a] = i
		}
	}
	c.nodes.Range(func(a rpc.Address, _ *Node) bool {
		if _, ok := v.groups[a]; !ok {
			v.groups[a] = len(groups)
		}
		return true
	})
	c.reachability.Store(v)
	c.topologyID.Add(1)
	log.Warningf("Cluster partitioned into %d groups (topology %d)", len(groups), c.topologyID.Load())
}

// Heal restores full reachability and bumps the topology id.
func (c *Cluster) Heal() {
	c.reachability.Store(nil)
	c.topologyID.Add(1)
	log.Infof("Cluster healed (topology %d)", c.topologyID.Load())
}

// Addresses returns all registered node addresses, sorted for determinism.
func (c *Cluster) Addresses() []rpc.Address {
	var out []rpc.Address
	c.nodes.Range(func(a rpc.Address, _ *Node) bool {
		out = append(out, a)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// reachable reports whether from can currently reach to.
func (c *Cluster) reachable(from, to rpc.Address) bool {
	v := c.reachability.Load()
	if v == nil {
		return true
	}
	return v.groups[from] == v.groups[to]
}

// --------------------------------------------------------------------------
// Node (implements rpc.Manager)
// --------------------------------------------------------------------------

// Node is one cluster member's view of the fabric. The handler is read
// atomically so it can be swapped while delivery goroutines are running.
type Node struct {
	cluster *Cluster
	addr    rpc.Address
	handler atomic.Pointer[Handler]
}

// GetAddress implements rpc.Manager.
func (n *Node) GetAddress() rpc.Address {
	return n.addr
}

// GetMembers implements rpc.Manager: the members currently reachable from
// this node, including itself.
func (n *Node) GetMembers() []rpc.Address {
	var out []rpc.Address
	n.cluster.nodes.Range(func(a rpc.Address, _ *Node) bool {
		if n.cluster.reachable(n.addr, a) {
			out = append(out, a)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GetTopologyID implements rpc.Manager.
func (n *Node) GetTopologyID() int {
	return int(n.cluster.topologyID.Load())
}

// GetOptionsBuilder implements rpc.Manager.
func (n *Node) GetOptionsBuilder(mode rpc.ResponseMode, order rpc.DeliverOrder) *rpc.OptionsBuilder {
	return rpc.NewOptionsBuilder(mode, order).Timeout(n.cluster.defaultTimeout)
}

// GetDefaultOptions implements rpc.Manager.
func (n *Node) GetDefaultOptions(sync bool) rpc.Options {
	if sync {
		return n.GetOptionsBuilder(rpc.WaitForValidResponse, rpc.OrderNone).Build()
	}
	return n.GetOptionsBuilder(rpc.Asynchronous, rpc.OrderNone).Build()
}
