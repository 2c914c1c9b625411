// Package partition tracks the cluster's availability mode and enforces the
// consistency policy that blocks operations on keys whose authoritative
// owners are unreachable.
//
// The cluster is either Available (the default; every partition proceeds) or
// Degraded (this node's partition lost ownership of some key ranges and only
// operations it can safely serve are allowed). Transitions are driven by
// membership-view events outside this package; the Manager only reads the
// current mode plus ownership data and answers pre/post-operation checks.
//
// Checks are deliberately split into a pre-operation check (would it violate
// consistency to even attempt this?) and a post-operation check (did the
// attempt reveal new unavailability?), because the mode can change while a
// remote call is in flight. A response that completed successfully from a
// now-unreachable owner is not retroactively trustworthy; the second check
// after the call closes this window. The mode itself is published as an
// atomic snapshot so concurrent readers never observe a torn state.
package partition
