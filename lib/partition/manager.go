package partition

import (
	"github.com/ValentinKolb/dcache/rpc"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"sync/atomic"
)

var log = logger.GetLogger("partition")

var (
	deniedReads    = metrics.GetOrCreateCounter(`dcache_partition_denied_total{op="read"}`)
	deniedWrites   = metrics.GetOrCreateCounter(`dcache_partition_denied_total{op="write"}`)
	deniedClears   = metrics.GetOrCreateCounter(`dcache_partition_denied_total{op="clear"}`)
	deniedBulkRead = metrics.GetOrCreateCounter(`dcache_partition_denied_total{op="bulk_read"}`)
)

// --------------------------------------------------------------------------
// Collaborator Interfaces
// --------------------------------------------------------------------------

// OwnershipOracle resolves a key to its designated owners under the current
// topology. Implementations must answer without network I/O.
type OwnershipOracle interface {
	// Locate returns the addresses of the key's authoritative owners.
	Locate(key string) []rpc.Address
}

// MembershipView exposes the members currently reachable from this node.
// Implementations must answer without network I/O.
type MembershipView interface {
	GetMembers() []rpc.Address
}

// --------------------------------------------------------------------------
// Manager Interface
// --------------------------------------------------------------------------

// Manager owns the availability mode and answers the consistency checks the
// interceptor chain performs around every operation. All methods are safe
// for concurrent use and none of them blocks.
type Manager interface {
	// CheckRead fails with an AvailabilityError if the key cannot be
	// safely read: in Degraded mode a strict majority of the key's owners
	// must be reachable. In Available mode it always succeeds.
	CheckRead(key string) error

	// CheckWrite fails with an AvailabilityError if the key cannot be
	// safely written: in Degraded mode every owner must be reachable, so
	// the write cannot be silently lost if the other side of the split
	// later becomes authoritative. In Available mode it always succeeds.
	CheckWrite(key string) error

	// CheckClear fails if the cluster is in Degraded mode: a single
	// unreachable owner group is enough to block a cluster-wide clear.
	CheckClear() error

	// CheckBulkRead fails if the cluster is in Degraded mode, same rule
	// as CheckClear.
	CheckBulkRead() error

	// IsTransactionPartiallyCommitted reports whether a previous partition
	// event left the transaction committed on some owners but not
	// confirmed cluster-wide. Used to suppress a redundant write check
	// that would otherwise incorrectly fail an already-applied transaction.
	IsTransactionPartiallyCommitted(txID string) bool

	// RegisterPartialCommit records a transaction as partially committed.
	RegisterPartialCommit(txID string, keys []string)

	// ForgetTransaction drops the partial-commit record once the
	// transaction is confirmed cluster-wide.
	ForgetTransaction(txID string)

	// GetAvailabilityMode returns the current mode snapshot. Never blocks.
	GetAvailabilityMode() AvailabilityMode

	// SetAvailabilityMode installs a new mode. Called by the membership
	// layer on partition events; published atomically to all readers.
	SetAvailabilityMode(mode AvailabilityMode)
}

// --------------------------------------------------------------------------
// Manager Implementation
// --------------------------------------------------------------------------

type managerImpl struct {
	mode    atomic.Uint32
	oracle  OwnershipOracle
	members MembershipView

	// partials maps a transaction id to the keys it touched when the
	// split caught it mid-commit.
	partials *xsync.MapOf[string, []string]
}

// NewManager creates a Manager in Available mode using the given ownership
// oracle and membership view.
func NewManager(oracle OwnershipOracle, members MembershipView) Manager {
	m := &managerImpl{
		oracle:   oracle,
		members:  members,
		partials: xsync.NewMapOf[string, []string](),
	}
	m.mode.Store(uint32(Available))
	return m
}

// --------------------------------------------------------------------------
// Interface Methods (docu see Manager interface)
// --------------------------------------------------------------------------

func (m *managerImpl) CheckRead(key string) error {
	if m.GetAvailabilityMode() == Available {
		return nil
	}
	reachable, total := m.reachableOwners(key)
	// Strict majority of owners must be reachable to serve the read.
	if reachable*2 > total {
		return nil
	}
	deniedReads.Inc()
	return NewKeyUnavailableError(key)
}

func (m *managerImpl) CheckWrite(key string) error {
	if m.GetAvailabilityMode() == Available {
		return nil
	}
	reachable, total := m.reachableOwners(key)
	if reachable == total && total > 0 {
		return nil
	}
	deniedWrites.Inc()
	return NewKeyUnavailableError(key)
}

func (m *managerImpl) CheckClear() error {
	if m.GetAvailabilityMode() == Available {
		return nil
	}
	deniedClears.Inc()
	return &AvailabilityError{Code: AvailCClearDenied}
}

func (m *managerImpl) CheckBulkRead() error {
	if m.GetAvailabilityMode() == Available {
		return nil
	}
	deniedBulkRead.Inc()
	return &AvailabilityError{Code: AvailCBulkReadDenied}
}

func (m *managerImpl) IsTransactionPartiallyCommitted(txID string) bool {
	_, ok := m.partials.Load(txID)
	return ok
}

func (m *managerImpl) RegisterPartialCommit(txID string, keys []string) {
	m.partials.Store(txID, keys)
	log.Warningf("Transaction %s partially committed during a partition (keys: %v)", txID, keys)
}

func (m *managerImpl) ForgetTransaction(txID string) {
	m.partials.Delete(txID)
}

func (m *managerImpl) GetAvailabilityMode() AvailabilityMode {
	return AvailabilityMode(m.mode.Load())
}

func (m *managerImpl) SetAvailabilityMode(mode AvailabilityMode) {
	old := AvailabilityMode(m.mode.Swap(uint32(mode)))
	if old != mode {
		log.Infof("Availability mode changed: %s -> %s", old, mode)
	}
}

// --------------------------------------------------------------------------
// Internal Helpers
// --------------------------------------------------------------------------

// reachableOwners returns how many of the key's owners are currently
// reachable and how many owners the key has in total.
func (m *managerImpl) reachableOwners(key string) (reachable, total int) {
	owners := m.oracle.Locate(key)
	total = len(owners)

	reachableSet := make(map[rpc.Address]struct{})
	for _, a := range m.members.GetMembers() {
		reachableSet[a] = struct{}{}
	}
	for _, o := range owners {
		if _, ok := reachableSet[o]; ok {
			reachable++
		}
	}
	return reachable, total
}
