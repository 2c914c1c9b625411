package inmem

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dcache/lib/command"
	"github.com/ValentinKolb/dcache/rpc"
)

// echoHandler answers every command with a fixed value and records the
// commands it received.
type echoHandler struct {
	mu       sync.Mutex
	value    any
	err      error
	received []*command.Command
}

func (h *echoHandler) handle(cmd *command.Command) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, cmd)
	return h.value, h.err
}

func (h *echoHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received)
}

// newTestCluster builds a cluster of the given nodes with echo handlers.
func newTestCluster(addrs ...rpc.Address) (*Cluster, map[rpc.Address]*Node, map[rpc.Address]*echoHandler) {
	cluster := NewCluster(time.Second)
	nodes := make(map[rpc.Address]*Node, len(addrs))
	handlers := make(map[rpc.Address]*echoHandler, len(addrs))
	for _, a := range addrs {
		h := &echoHandler{value: string(a)}
		handlers[a] = h
		nodes[a] = cluster.AddNode(a, h.handle)
	}
	return cluster, nodes, handlers
}

// TestSynchronousInvocation tests the response map of a synchronous call
func TestSynchronousInvocation(t *testing.T) {
	_, nodes, handlers := newTestCluster("n1", "n2", "n3")

	opts := nodes["n1"].GetDefaultOptions(true)
	stage := nodes["n1"].InvokeRemotelyAsync([]rpc.Address{"n2", "n3"}, command.NewGet("k", 0), opts)

	v, err := stage.Await(time.Second)
	if err != nil {
		t.Fatalf("invocation returned error %v", err)
	}

	responses := v.(map[rpc.Address]rpc.Response)
	if len(responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(responses))
	}
	if responses["n2"].Value != "n2" || responses["n3"].Value != "n3" {
		t.Errorf("responses = %v, want each node's echo", responses)
	}
	if handlers["n2"].count() != 1 || handlers["n3"].count() != 1 {
		t.Error("each recipient should have processed exactly one command")
	}
	if handlers["n1"].count() != 0 {
		t.Error("the sender was not a recipient and must not process the command")
	}
}

// TestAsynchronousInvocation tests fire-and-forget delivery
func TestAsynchronousInvocation(t *testing.T) {
	_, nodes, handlers := newTestCluster("n1", "n2")

	opts := nodes["n1"].GetDefaultOptions(false)
	stage := nodes["n1"].InvokeRemotelyAsync([]rpc.Address{"n2"}, command.NewPut("k", nil, 0), opts)

	if !stage.IsResolved() {
		t.Error("an asynchronous invocation should resolve immediately")
	}
	v, err := stage.Await(time.Second)
	if err != nil {
		t.Fatalf("invocation returned error %v", err)
	}
	if len(v.(map[rpc.Address]rpc.Response)) != 0 {
		t.Error("an asynchronous invocation resolves with an empty response map")
	}

	// Delivery still happens, just off the caller's goroutine.
	deadline := time.Now().Add(time.Second)
	for handlers["n2"].count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if handlers["n2"].count() != 1 {
		t.Error("the command was never delivered")
	}
}

// TestUnreachableRecipient tests the failure modes across a partition
func TestUnreachableRecipient(t *testing.T) {
	cluster, nodes, handlers := newTestCluster("n1", "n2")
	cluster.Partition([]rpc.Address{"n1"}, []rpc.Address{"n2"})

	// WaitForValidResponse fails on an unreachable recipient.
	opts := nodes["n1"].GetDefaultOptions(true)
	_, err := nodes["n1"].InvokeRemotelyAsync([]rpc.Address{"n2"}, command.NewGet("k", 0), opts).Await(time.Second)
	if !rpc.IsRemoteError(err) {
		t.Fatalf("invocation across the split returned %v, want RemoteError", err)
	}
	var re *rpc.RemoteError
	errors.As(err, &re)
	if re.Code != rpc.RemoteCUnreachable {
		t.Errorf("error code = %v, want RemoteCUnreachable", re.Code)
	}

	// SynchronousIgnoreLeavers skips the unreachable recipient instead.
	opts = nodes["n1"].GetOptionsBuilder(rpc.SynchronousIgnoreLeavers, rpc.OrderNone).Build()
	v, err := nodes["n1"].InvokeRemotelyAsync([]rpc.Address{"n2"}, command.NewGet("k", 0), opts).Await(time.Second)
	if err != nil {
		t.Fatalf("ignore-leavers invocation returned %v, want nil", err)
	}
	if len(v.(map[rpc.Address]rpc.Response)) != 0 {
		t.Error("the unreachable recipient's response should simply be absent")
	}
	if handlers["n2"].count() != 0 {
		t.Error("no command may cross the split")
	}

	// Healing restores delivery.
	cluster.Heal()
	opts = nodes["n1"].GetDefaultOptions(true)
	if _, err := nodes["n1"].InvokeRemotelyAsync([]rpc.Address{"n2"}, command.NewGet("k", 0), opts).Await(time.Second); err != nil {
		t.Errorf("invocation after heal returned %v, want nil", err)
	}
}

// TestHandlerErrorBecomesRemoteException tests the error translation
func TestHandlerErrorBecomesRemoteException(t *testing.T) {
	_, nodes, handlers := newTestCluster("n1", "n2")
	handlers["n2"].err = errors.New("boom")

	opts := nodes["n1"].GetDefaultOptions(true)
	_, err := nodes["n1"].InvokeRemotelyAsync([]rpc.Address{"n2"}, command.NewGet("k", 0), opts).Await(time.Second)

	var re *rpc.RemoteError
	if !errors.As(err, &re) || re.Code != rpc.RemoteCException {
		t.Errorf("handler failure surfaced as %v, want RemoteCException", err)
	}
}

// TestInvocationTimeout tests the per-call timeout
func TestInvocationTimeout(t *testing.T) {
	cluster := NewCluster(time.Second)
	n1 := cluster.AddNode("n1", nil)
	cluster.AddNode("n2", func(*command.Command) (any, error) {
		time.Sleep(200 * time.Millisecond)
		return nil, nil
	})

	opts := n1.GetOptionsBuilder(rpc.WaitForValidResponse, rpc.OrderNone).
		Timeout(20 * time.Millisecond).Build()
	_, err := n1.InvokeRemotelyAsync([]rpc.Address{"n2"}, command.NewGet("k", 0), opts).Await(time.Second)

	var re *rpc.RemoteError
	if !errors.As(err, &re) || re.Code != rpc.RemoteCTimeout {
		t.Errorf("slow invocation surfaced as %v, want RemoteCTimeout", err)
	}
}

// TestResponseFilterApplied tests that the filter prunes the response map
func TestResponseFilterApplied(t *testing.T) {
	_, nodes, _ := newTestCluster("n1", "n2")

	filter := rpc.NewSelfDeliverFilter("n1")
	opts := nodes["n1"].GetOptionsBuilder(rpc.SynchronousIgnoreLeavers, rpc.OrderTotal).
		ResponseFilter(filter).Build()

	// Self-inclusive broadcast: the local copy is delivered but dropped
	// from the result map.
	v, err := nodes["n1"].InvokeRemotelyAsync([]rpc.Address{"n2", "n1"}, command.NewGet("k", 0), opts).Await(time.Second)
	if err != nil {
		t.Fatalf("invocation returned error %v", err)
	}
	responses := v.(map[rpc.Address]rpc.Response)
	if _, ok := responses["n1"]; ok {
		t.Error("the self response must be dropped from the result map")
	}
	if _, ok := responses["n2"]; !ok {
		t.Error("other responses must be kept")
	}
	if err := filter.Validate(); err != nil {
		t.Errorf("Validate() = %v, the local copy was delivered", err)
	}
}

// TestHandlerSwapDuringTraffic tests that replacing a node's handler is safe
// while invocations are in flight and that later calls reach the replacement
func TestHandlerSwapDuringTraffic(t *testing.T) {
	cluster, nodes, _ := newTestCluster("n1", "n2")

	done := make(chan struct{})
	go func() {
		defer close(done)
		opts := nodes["n1"].GetDefaultOptions(true)
		for i := 0; i < 50; i++ {
			_, _ = nodes["n1"].InvokeRemotelyAsync([]rpc.Address{"n2"}, command.NewGet("k", 0), opts).Await(time.Second)
		}
	}()

	replacement := &echoHandler{value: "swapped"}
	for i := 0; i < 50; i++ {
		cluster.SetHandler("n2", replacement.handle)
	}
	<-done

	opts := nodes["n1"].GetDefaultOptions(true)
	v, err := nodes["n1"].InvokeRemotelyAsync([]rpc.Address{"n2"}, command.NewGet("k", 0), opts).Await(time.Second)
	if err != nil {
		t.Fatalf("invocation after the swap returned error %v", err)
	}
	if v.(map[rpc.Address]rpc.Response)["n2"].Value != "swapped" {
		t.Error("invocations after the swap must reach the replacement handler")
	}
}

// TestNodeWithoutHandlerIsUnreachable tests that a node can join the fabric
// before its handler is installed
func TestNodeWithoutHandlerIsUnreachable(t *testing.T) {
	cluster, nodes, _ := newTestCluster("n1")
	cluster.AddNode("n2", nil)

	opts := nodes["n1"].GetDefaultOptions(true)
	_, err := nodes["n1"].InvokeRemotelyAsync([]rpc.Address{"n2"}, command.NewGet("k", 0), opts).Await(time.Second)
	var re *rpc.RemoteError
	if !errors.As(err, &re) || re.Code != rpc.RemoteCUnreachable {
		t.Errorf("invocation to a handlerless node surfaced as %v, want RemoteCUnreachable", err)
	}

	cluster.SetHandler("n2", (&echoHandler{value: "n2"}).handle)
	if _, err := nodes["n1"].InvokeRemotelyAsync([]rpc.Address{"n2"}, command.NewGet("k", 0), opts).Await(time.Second); err != nil {
		t.Errorf("invocation after SetHandler returned %v, want nil", err)
	}
}

// TestMembershipView tests member listing and topology bookkeeping
func TestMembershipView(t *testing.T) {
	cluster, nodes, _ := newTestCluster("n1", "n2", "n3")

	members := nodes["n1"].GetMembers()
	if len(members) != 3 {
		t.Fatalf("GetMembers() = %v, want all three nodes", members)
	}

	before := nodes["n1"].GetTopologyID()
	cluster.Partition([]rpc.Address{"n1", "n2"}, []rpc.Address{"n3"})
	if nodes["n1"].GetTopologyID() == before {
		t.Error("a partition must bump the topology id")
	}

	members = nodes["n1"].GetMembers()
	if len(members) != 2 || members[0] != "n1" || members[1] != "n2" {
		t.Errorf("GetMembers() after split = %v, want [n1 n2]", members)
	}
	if got := nodes["n3"].GetMembers(); len(got) != 1 || got[0] != "n3" {
		t.Errorf("minority GetMembers() = %v, want [n3]", got)
	}

	cluster.Heal()
	if got := nodes["n3"].GetMembers(); len(got) != 3 {
		t.Errorf("GetMembers() after heal = %v, want all three nodes", got)
	}

	addrs := cluster.Addresses()
	if len(addrs) != 3 || addrs[0] != "n1" || addrs[1] != "n2" || addrs[2] != "n3" {
		t.Errorf("Addresses() = %v, want sorted [n1 n2 n3]", addrs)
	}
}

// TestStaticOracle tests the pinned ownership table
func TestStaticOracle(t *testing.T) {
	o := NewStaticOracle(map[string][]rpc.Address{"k": {"n1", "n2"}})

	owners := o.Locate("k")
	if len(owners) != 2 {
		t.Errorf("Locate(k) = %v, want [n1 n2]", owners)
	}
	if got := o.Locate("unknown"); got != nil {
		t.Errorf("Locate(unknown) = %v, want nil", got)
	}

	o.SetOwners("k", []rpc.Address{"n3"})
	if owners := o.Locate("k"); len(owners) != 1 || owners[0] != "n3" {
		t.Errorf("Locate(k) after SetOwners = %v, want [n3]", owners)
	}
}

// TestHashOracle tests deterministic hashed ownership
func TestHashOracle(t *testing.T) {
	members := []rpc.Address{"n3", "n1", "n2"}
	o := NewHashOracle(members, 2)

	owners := o.Locate("some-key")
	if len(owners) != 2 {
		t.Fatalf("Locate() returned %d owners, want 2", len(owners))
	}
	if owners[0] == owners[1] {
		t.Error("the owner set must not contain duplicates")
	}

	// Deterministic across calls and member orderings
	again := NewHashOracle([]rpc.Address{"n1", "n2", "n3"}, 2).Locate("some-key")
	if owners[0] != again[0] || owners[1] != again[1] {
		t.Errorf("Locate() is order-dependent: %v vs %v", owners, again)
	}

	// Replication factor is capped at the member count
	capped := NewHashOracle([]rpc.Address{"n1"}, 5)
	if got := capped.Locate("k"); len(got) != 1 {
		t.Errorf("Locate() with capped replicas = %v, want one owner", got)
	}
}
