package interceptors

import (
	"testing"

	"github.com/ValentinKolb/dcache/lib/command"
	"github.com/ValentinKolb/dcache/lib/container"
	"github.com/ValentinKolb/dcache/lib/invocation"
)

func newCallFixture(owners ownersTable) (*CallInterceptor, *container.Container) {
	data := container.New()
	return NewCallInterceptor(data, owners, "n1"), data
}

// TestCommitAppliesOnlyOwnedEntries tests that a commit materializes only the
// locally owned part of the staged write set
func TestCommitAppliesOnlyOwnedEntries(t *testing.T) {
	c, data := newCallFixture(ownersTable{"a": {"n1"}, "b": {"n2"}})

	ctx := invocation.NewRemoteContext()
	next := &nextRecorder{}
	entries := map[string][]byte{"a": []byte("1"), "b": []byte("2")}

	if _, err := await(t, c.Handlers()[command.TPrepare](ctx, command.NewPrepare("tx1", []string{"a", "b"}, entries, 0), next.next)); err != nil {
		t.Fatalf("prepare returned error %v", err)
	}
	if _, err := await(t, c.Handlers()[command.TCommit](ctx, command.NewCommit("tx1", []string{"a", "b"}, 0), next.next)); err != nil {
		t.Fatalf("commit returned error %v", err)
	}

	if v, ok := data.Get("a"); !ok || string(v) != "1" {
		t.Errorf("owned entry = (%q, %t), want (1, true)", v, ok)
	}
	if _, ok := data.Get("b"); ok {
		t.Error("an entry owned elsewhere must not be applied locally")
	}
}

// TestCommitAppliesRemoveMarkers tests that nil write-set entries remove the
// key on owning nodes
func TestCommitAppliesRemoveMarkers(t *testing.T) {
	c, data := newCallFixture(ownersTable{"a": {"n1"}})
	data.Put("a", []byte("old"))

	ctx := invocation.NewRemoteContext()
	next := &nextRecorder{}

	if _, err := await(t, c.Handlers()[command.TPrepare](ctx, command.NewPrepare("tx1", []string{"a"}, map[string][]byte{"a": nil}, 0), next.next)); err != nil {
		t.Fatalf("prepare returned error %v", err)
	}
	if _, err := await(t, c.Handlers()[command.TCommit](ctx, command.NewCommit("tx1", []string{"a"}, 0), next.next)); err != nil {
		t.Fatalf("commit returned error %v", err)
	}
	if _, ok := data.Get("a"); ok {
		t.Error("a staged remove marker must delete the entry at commit")
	}
}

// TestCommitUnknownTransaction tests the failure for a commit without a
// staged prepare
func TestCommitUnknownTransaction(t *testing.T) {
	c, _ := newCallFixture(ownersTable{})

	next := &nextRecorder{}
	if _, err := await(t, c.Handlers()[command.TCommit](invocation.NewRemoteContext(), command.NewCommit("ghost", nil, 0), next.next)); err == nil {
		t.Error("a commit for an unknown transaction must fail")
	}
}

// TestRollbackDiscardsPending tests that a rollback leaves no staged state
func TestRollbackDiscardsPending(t *testing.T) {
	c, data := newCallFixture(ownersTable{"a": {"n1"}})

	ctx := invocation.NewRemoteContext()
	next := &nextRecorder{}

	if _, err := await(t, c.Handlers()[command.TPrepare](ctx, command.NewPrepare("tx1", []string{"a"}, map[string][]byte{"a": []byte("1")}, 0), next.next)); err != nil {
		t.Fatalf("prepare returned error %v", err)
	}
	if _, err := await(t, c.Handlers()[command.TRollback](ctx, command.NewRollback("tx1", []string{"a"}, 0), next.next)); err != nil {
		t.Fatalf("rollback returned error %v", err)
	}

	if _, ok := data.Get("a"); ok {
		t.Error("a rolled-back transaction must not touch the container")
	}
	// The staged state is gone: a later commit no longer finds it.
	if _, err := await(t, c.Handlers()[command.TCommit](ctx, command.NewCommit("tx1", []string{"a"}, 0), next.next)); err == nil {
		t.Error("a commit after rollback must fail, the staged state is discarded")
	}
}
