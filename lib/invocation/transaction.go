package invocation

import (
	"sync/atomic"

	"github.com/ValentinKolb/dcache/lib/command"
)

// --------------------------------------------------------------------------
// Cache Transaction
// --------------------------------------------------------------------------

// Transaction is the state record of one cache transaction, shared by the
// prepare and commit/rollback invocations that drive it. It is never driven
// by two invocations concurrently; the send-once markers are atomic only to
// make the exactly-once transition structural rather than conventional.
type Transaction struct {
	// ID identifies the transaction cluster-wide.
	ID string

	// TopologyID is the topology id observed when the transaction started.
	// A drift between this value and the rpc layer's current topology id
	// means membership changed mid-transaction.
	TopologyID int

	// StateTransfer marks a synthetic transaction induced by state
	// transfer. Such transactions are local-only and never forwarded.
	StateTransfer bool

	modifications []*command.Command
	affectedKeys  []string
	remoteLocks   []string

	prepareSent          atomic.Bool
	commitOrRollbackSent atomic.Bool
}

// NewTransaction creates a transaction record with the given id and the
// topology id at transaction start.
func NewTransaction(id string, topologyID int) *Transaction {
	return &Transaction{ID: id, TopologyID: topologyID}
}

// --------------------------------------------------------------------------
// Modification and Key Bookkeeping
// --------------------------------------------------------------------------

// AddModification records a write command performed inside the transaction
// and adds its keys to the affected key set.
func (t *Transaction) AddModification(cmd *command.Command) {
	t.modifications = append(t.modifications, cmd)
	t.affectedKeys = append(t.affectedKeys, cmd.AffectedKeys()...)
}

// Modifications returns the write commands accumulated so far.
func (t *Transaction) Modifications() []*command.Command {
	return t.modifications
}

// HasModifications reports whether the transaction performed any writes.
func (t *Transaction) HasModifications() bool {
	return len(t.modifications) > 0
}

// AffectedKeys returns every key the transaction touches.
func (t *Transaction) AffectedKeys() []string {
	return t.affectedKeys
}

// WriteSet flattens the modifications into the entry map the prepare command
// ships to remote owners. Later modifications of a key win; removes become
// nil markers.
func (t *Transaction) WriteSet() map[string][]byte {
	entries := make(map[string][]byte)
	for _, mod := range t.modifications {
		switch mod.Type {
		case command.TPut, command.TReplace:
			entries[mod.Key] = mod.Value
		case command.TApplyDelta:
			entries[mod.Key] = append(entries[mod.Key], mod.Value...)
		case command.TRemove:
			entries[mod.Key] = nil
		case command.TPutMap:
			for k, v := range mod.Entries {
				entries[k] = v
			}
		}
	}
	return entries
}

// AddRemoteLock records a lock acquired on a remote node. Locks matter for
// the remote-invocation decision even when the transaction carries no
// modifications, because remote lock state still needs reconciling.
func (t *Transaction) AddRemoteLock(key string) {
	t.remoteLocks = append(t.remoteLocks, key)
}

// HasRemoteLocks reports whether any remote locks were acquired.
func (t *Transaction) HasRemoteLocks() bool {
	return len(t.remoteLocks) > 0
}

// --------------------------------------------------------------------------
// Send-Once Markers
// --------------------------------------------------------------------------

// MarkPrepareSent records that a remote prepare was attempted (successfully
// or not). It returns true only on the first call; the marker is never
// reset.
func (t *Transaction) MarkPrepareSent() bool {
	return t.prepareSent.CompareAndSwap(false, true)
}

// IsPrepareSent reports whether a remote prepare was already attempted.
func (t *Transaction) IsPrepareSent() bool {
	return t.prepareSent.Load()
}

// MarkCommitOrRollbackSent records that a remote commit or rollback was
// attempted. It returns true only on the first call; the marker is never
// reset.
func (t *Transaction) MarkCommitOrRollbackSent() bool {
	return t.commitOrRollbackSent.CompareAndSwap(false, true)
}

// IsCommitOrRollbackSent reports whether a remote commit or rollback was
// already attempted.
func (t *Transaction) IsCommitOrRollbackSent() bool {
	return t.commitOrRollbackSent.Load()
}
