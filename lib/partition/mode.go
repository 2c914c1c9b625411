package partition

// --------------------------------------------------------------------------
// Availability Mode
// --------------------------------------------------------------------------

// AvailabilityMode is the cluster availability state as seen by this node.
// Exactly one value is active at any time.
type AvailabilityMode uint8

const (
	// Available is the default mode: all partitions proceed as long as
	// they own enough replicas.
	Available AvailabilityMode = iota
	// Degraded means this node's partition lost quorum or ownership for
	// some key ranges; only restricted operations are allowed.
	Degraded
)

// String returns the string representation of an AvailabilityMode.
func (m AvailabilityMode) String() string {
	switch m {
	case Available:
		return "available"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}
