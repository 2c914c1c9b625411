package interceptors

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/dcache/lib/command"
	"github.com/ValentinKolb/dcache/lib/invocation"
	"github.com/ValentinKolb/dcache/lib/partition"
	"github.com/ValentinKolb/dcache/lib/pipeline"
	"github.com/ValentinKolb/dcache/rpc"
)

// membersView implements partition.MembershipView over a mutable slice.
type membersView struct {
	members []rpc.Address
}

func (m *membersView) GetMembers() []rpc.Address {
	return m.members
}

// newPartitionFixture builds the interceptor with a real partition manager
// over the given ownership table and reachable member set.
func newPartitionFixture(owners ownersTable, reachable ...rpc.Address) (*PartitionHandlingInterceptor, partition.Manager, *membersView) {
	view := &membersView{members: reachable}
	mgr := partition.NewManager(owners, view)
	return NewPartitionHandlingInterceptor(mgr, view, owners), mgr, view
}

// --------------------------------------------------------------------------
// Write Pre-Checks
// --------------------------------------------------------------------------

// TestWritePreCheckBlocksBeforeDispatch tests that an unavailable write
// never reaches the rest of the chain
func TestWritePreCheckBlocksBeforeDispatch(t *testing.T) {
	i, mgr, _ := newPartitionFixture(ownersTable{"k": {"n1", "n2"}}, "n1")
	mgr.SetAvailabilityMode(partition.Degraded)

	next := &nextRecorder{}
	handler := i.Handlers()[command.TPut]

	_, err := await(t, handler(invocation.NewLocalContext(), command.NewPut("k", nil, 0), next.next))
	if !partition.IsAvailabilityError(err) {
		t.Fatalf("write with an unreachable owner returned %v, want AvailabilityError", err)
	}
	if next.called != 0 {
		t.Error("a rejected write must not be dispatched downstream")
	}

	var ae *partition.AvailabilityError
	errors.As(err, &ae)
	if len(ae.Keys) != 1 || ae.Keys[0] != "k" {
		t.Errorf("AvailabilityError names keys %v, want [k]", ae.Keys)
	}
}

// TestWritePreCheckSkippedForRemoteOrigin tests that remotely originated
// commands never trigger a partition check
func TestWritePreCheckSkippedForRemoteOrigin(t *testing.T) {
	i, mgr, _ := newPartitionFixture(ownersTable{"k": {"n1", "n2"}}, "n1")
	mgr.SetAvailabilityMode(partition.Degraded)

	next := &nextRecorder{}
	handler := i.Handlers()[command.TPut]

	if _, err := await(t, handler(invocation.NewRemoteContext(), command.NewPut("k", nil, 0), next.next)); err != nil {
		t.Errorf("a remote-origin write returned %v, want nil (the origin already checked)", err)
	}
	if next.called != 1 {
		t.Error("a remote-origin write must be dispatched downstream unchecked")
	}
}

// TestWritePreCheckSkippedForLocalMode tests the explicit clustering opt-out
func TestWritePreCheckSkippedForLocalMode(t *testing.T) {
	i, mgr, _ := newPartitionFixture(ownersTable{"k": {"n1", "n2"}}, "n1")
	mgr.SetAvailabilityMode(partition.Degraded)

	next := &nextRecorder{}
	handler := i.Handlers()[command.TPut]

	cmd := command.NewPut("k", nil, command.FlagCacheModeLocal)
	if _, err := await(t, handler(invocation.NewLocalContext(), cmd, next.next)); err != nil {
		t.Errorf("a local-mode write returned %v, want nil", err)
	}
	if next.called != 1 {
		t.Error("a local-mode write must be dispatched downstream unchecked")
	}
}

// TestPutMapAllOrNothing tests that one unavailable key fails the whole map
func TestPutMapAllOrNothing(t *testing.T) {
	// "a" is fully owned by the reachable n1, "b" has an unreachable owner.
	i, mgr, _ := newPartitionFixture(ownersTable{
		"a": {"n1"},
		"b": {"n1", "n2"},
	}, "n1")
	mgr.SetAvailabilityMode(partition.Degraded)

	next := &nextRecorder{}
	handler := i.Handlers()[command.TPutMap]

	entries := map[string][]byte{"a": []byte("1"), "b": []byte("2")}
	_, err := await(t, handler(invocation.NewLocalContext(), command.NewPutMap(entries, 0), next.next))
	if !partition.IsAvailabilityError(err) {
		t.Fatalf("putMap with one unavailable key returned %v, want AvailabilityError", err)
	}
	if next.called != 0 {
		t.Error("no entry of a rejected putMap may be applied or dispatched")
	}
}

// TestClearAndBulkReadDenied tests the cluster-wide denials in degraded mode
func TestClearAndBulkReadDenied(t *testing.T) {
	i, mgr, _ := newPartitionFixture(ownersTable{}, "n1")
	mgr.SetAvailabilityMode(partition.Degraded)

	for _, typ := range []command.Type{command.TClear, command.TKeySet, command.TEntrySet} {
		next := &nextRecorder{}
		handler := i.Handlers()[typ]

		var cmd *command.Command
		if typ == command.TClear {
			cmd = command.NewClear(0)
		} else if typ == command.TKeySet {
			cmd = command.NewKeySet(0)
		} else {
			cmd = command.NewEntrySet(0)
		}

		if _, err := await(t, handler(invocation.NewLocalContext(), cmd, next.next)); !partition.IsAvailabilityError(err) {
			t.Errorf("%v in degraded mode returned %v, want AvailabilityError", typ, err)
		}
		if next.called != 0 {
			t.Errorf("a denied %v must not be dispatched downstream", typ)
		}
	}
}

// TestRollbackFallsThrough tests that aborting is never availability-gated
func TestRollbackFallsThrough(t *testing.T) {
	i, _, _ := newPartitionFixture(ownersTable{}, "n1")
	if _, ok := i.Handlers()[command.TRollback]; ok {
		t.Error("rollback must fall through the partition handling interceptor")
	}
}

// --------------------------------------------------------------------------
// Read Post-Checks
// --------------------------------------------------------------------------

// TestReadRemoteFailureTranslated tests that a remote failure on a read
// surfaces as key unavailability
func TestReadRemoteFailureTranslated(t *testing.T) {
	i, _, _ := newPartitionFixture(ownersTable{"k": {"n2"}}, "n1")

	next := &nextRecorder{stage: pipeline.FailedStage(rpc.NewRemoteError(rpc.RemoteCUnreachable, "n2", "down"))}
	handler := i.Handlers()[command.TGet]

	_, err := await(t, handler(invocation.NewLocalContext(), command.NewGet("k", 0), next.next))
	if !partition.IsAvailabilityError(err) {
		t.Fatalf("a failed remote read returned %v, want AvailabilityError", err)
	}
	var ae *partition.AvailabilityError
	errors.As(err, &ae)
	if len(ae.Keys) != 1 || ae.Keys[0] != "k" {
		t.Errorf("AvailabilityError names keys %v, want [k]", ae.Keys)
	}
}

// TestReadRemoteFailureNotTranslatedForRemoteOrigin tests that the
// translation only applies to locally originated reads
func TestReadRemoteFailureNotTranslatedForRemoteOrigin(t *testing.T) {
	i, _, _ := newPartitionFixture(ownersTable{"k": {"n2"}}, "n1")

	next := &nextRecorder{stage: pipeline.FailedStage(rpc.NewRemoteError(rpc.RemoteCUnreachable, "n2", "down"))}
	handler := i.Handlers()[command.TGet]

	_, err := await(t, handler(invocation.NewRemoteContext(), command.NewGet("k", 0), next.next))
	if !rpc.IsRemoteError(err) || partition.IsAvailabilityError(err) {
		t.Errorf("a remote-origin read failure returned %v, want the untranslated RemoteError", err)
	}
}

// TestReadPostCheckCatchesModeChange tests that a read started before a mode
// change is re-validated after it resolves
func TestReadPostCheckCatchesModeChange(t *testing.T) {
	i, mgr, _ := newPartitionFixture(ownersTable{"k": {"n2", "n3"}}, "n1")

	next := &nextRecorder{stage: pipeline.CompletedStage([]byte("v"))}
	handler := i.Handlers()[command.TGet]

	// The mode flips while the read is "in flight": here, before dispatch,
	// which exercises the same post-resolution check.
	mgr.SetAvailabilityMode(partition.Degraded)

	_, err := await(t, handler(invocation.NewLocalContext(), command.NewGet("k", 0), next.next))
	if !partition.IsAvailabilityError(err) {
		t.Errorf("a read resolving into degraded mode returned %v, want AvailabilityError", err)
	}
}

// TestGetAllMissingKeyGap tests the gap explanation for multi-key reads
func TestGetAllMissingKeyGap(t *testing.T) {
	owners := ownersTable{
		"a": {"n1"},
		"b": {"n2", "n3"},
	}

	// "b" is missing from the result and all its owners are unreachable:
	// the gap cannot be explained as a legitimate absence.
	i, _, _ := newPartitionFixture(owners, "n1")
	next := &nextRecorder{stage: pipeline.CompletedStage(map[string][]byte{"a": []byte("1")})}
	handler := i.Handlers()[command.TGetAll]

	_, err := await(t, handler(invocation.NewLocalContext(), command.NewGetAll([]string{"a", "b"}, 0), next.next))
	if !partition.IsAvailabilityError(err) {
		t.Fatalf("getAll with an unexplained gap returned %v, want AvailabilityError", err)
	}
	var ae *partition.AvailabilityError
	errors.As(err, &ae)
	if len(ae.Keys) != 1 || ae.Keys[0] != "b" {
		t.Errorf("AvailabilityError names keys %v, want [b]", ae.Keys)
	}

	// With a reachable owner the gap is a legitimate absence.
	i, _, _ = newPartitionFixture(owners, "n1", "n2")
	next = &nextRecorder{stage: pipeline.CompletedStage(map[string][]byte{"a": []byte("1")})}
	handler = i.Handlers()[command.TGetAll]

	v, err := await(t, handler(invocation.NewLocalContext(), command.NewGetAll([]string{"a", "b"}, 0), next.next))
	if err != nil {
		t.Fatalf("getAll with an explained gap returned %v, want nil", err)
	}
	if result := v.(map[string][]byte); len(result) != 1 {
		t.Errorf("getAll result = %v, want the partial map passed through", result)
	}
}

// --------------------------------------------------------------------------
// Transaction Completion Post-Checks
// --------------------------------------------------------------------------

// TestTxCompletionPostCheck tests the writability re-check after prepare and
// commit resolve
func TestTxCompletionPostCheck(t *testing.T) {
	i, mgr, _ := newPartitionFixture(ownersTable{"k": {"n1", "n2"}}, "n1")

	tx := invocation.NewTransaction("tx1", 1)
	tx.AddModification(command.NewPut("k", nil, 0))
	ctx := invocation.NewTxContext(tx, true)

	next := &nextRecorder{}
	handler := i.Handlers()[command.TCommit]
	cmd := command.NewCommit("tx1", []string{"k"}, 0)

	// Available mode: the post-check passes.
	if _, err := await(t, handler(ctx, cmd, next.next)); err != nil {
		t.Errorf("commit in available mode returned %v, want nil", err)
	}

	// Degraded mode with an unreachable owner: the post-check fails even
	// though the downstream commit succeeded.
	mgr.SetAvailabilityMode(partition.Degraded)
	if _, err := await(t, handler(ctx, cmd, next.next)); !partition.IsAvailabilityError(err) {
		t.Errorf("commit resolving into degraded mode returned %v, want AvailabilityError", err)
	}

	// A registered partial commit suppresses the redundant check.
	mgr.RegisterPartialCommit("tx1", []string{"k"})
	if _, err := await(t, handler(ctx, cmd, next.next)); err != nil {
		t.Errorf("commit of a partially committed transaction returned %v, want nil", err)
	}
}

// TestTxCompletionSkippedForRemoteOrigin tests that remote-origin tx
// commands bypass the post-check
func TestTxCompletionSkippedForRemoteOrigin(t *testing.T) {
	i, mgr, _ := newPartitionFixture(ownersTable{"k": {"n1", "n2"}}, "n1")
	mgr.SetAvailabilityMode(partition.Degraded)

	tx := invocation.NewTransaction("tx1", 1)
	tx.AddModification(command.NewPut("k", nil, 0))

	next := &nextRecorder{}
	handler := i.Handlers()[command.TCommit]

	if _, err := await(t, handler(invocation.NewTxContext(tx, false), command.NewCommit("tx1", []string{"k"}, 0), next.next)); err != nil {
		t.Errorf("a remote-origin commit returned %v, want nil", err)
	}
}

// TestTxCompletionReadOnly tests that a read-only transaction never fails
// the post-check
func TestTxCompletionReadOnly(t *testing.T) {
	i, mgr, _ := newPartitionFixture(ownersTable{"k": {"n1", "n2"}}, "n1")
	mgr.SetAvailabilityMode(partition.Degraded)

	tx := invocation.NewTransaction("tx1", 1)
	ctx := invocation.NewTxContext(tx, true)

	next := &nextRecorder{}
	handler := i.Handlers()[command.TPrepare]

	if _, err := await(t, handler(ctx, command.NewPrepare("tx1", nil, nil, 0), next.next)); err != nil {
		t.Errorf("a read-only prepare returned %v, want nil", err)
	}
}
