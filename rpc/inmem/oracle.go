package inmem

import (
	"sort"

	"github.com/ValentinKolb/dcache/rpc"
)

// --------------------------------------------------------------------------
// Ownership Oracles
// --------------------------------------------------------------------------

// StaticOracle maps keys to fixed owner sets. Keys without an explicit entry
// have no owners. Intended for tests and demos where ownership must be
// pinned down exactly.
type StaticOracle struct {
	owners map[string][]rpc.Address
}

// NewStaticOracle creates an oracle over the given key-to-owners table.
func NewStaticOracle(owners map[string][]rpc.Address) *StaticOracle {
	return &StaticOracle{owners: owners}
}

// Locate implements partition.OwnershipOracle.
func (o *StaticOracle) Locate(key string) []rpc.Address {
	return o.owners[key]
}

// SetOwners replaces the owner set of one key.
func (o *StaticOracle) SetOwners(key string, owners []rpc.Address) {
	o.owners[key] = owners
}

// HashOracle assigns every key a fixed number of owners from a stable member
// list using an FNV-1a hash of the key. Ownership only changes when the
// member list itself is rebuilt; reachability does not influence it.
type HashOracle struct {
	members  []rpc.Address
	replicas int
}

// NewHashOracle creates an oracle distributing keys over the given members
// with the given replication factor.
func NewHashOracle(members []rpc.Address, replicas int) *HashOracle {
	sorted := append([]rpc.Address(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if replicas > len(sorted) {
		replicas = len(sorted)
	}
	return &HashOracle{members: sorted, replicas: replicas}
}

// Locate implements partition.OwnershipOracle: the key's owners are the
// replicas consecutive members starting at the key's hash position.
func (o *HashOracle) Locate(key string) []rpc.Address {
	if len(o.members) == 0 || o.replicas == 0 {
		return nil
	}
	start := int(hashKey(key) % uint64(len(o.members)))
	out := make([]rpc.Address, 0, o.replicas)
	for i := 0; i < o.replicas; i++ {
		out = append(out, o.members[(start+i)%len(o.members)])
	}
	return out
}

// hashKey is a plain FNV-1a over the key bytes.
func hashKey(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	hash := uint64(offset64)
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}
	return hash
}
