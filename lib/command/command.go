package command

// --------------------------------------------------------------------------
// Command Type Definition
// --------------------------------------------------------------------------

// Type identifies the kind of operation a Command describes. The interceptor
// chain double-dispatches on this value.
type Type uint8

const (
	TUnknown Type = iota

	// Read commands

	TGet      // Get a single value by key
	TKeySet   // List all keys (bulk read)
	TEntrySet // List all entries (bulk read)
	TGetAll   // Get multiple values by key set

	// Write commands

	TPut        // Set a key-value pair
	TRemove     // Remove a key-value pair
	TReplace    // Replace a value only if the key is present
	TApplyDelta // Apply a partial update to an existing value
	TPutMap     // Set multiple key-value pairs
	TClear      // Remove all entries (cluster-wide)

	// Transaction commands

	TPrepare  // First phase of a two-phase commit
	TCommit   // Second phase of a two-phase commit
	TRollback // Abort a prepared transaction
)

// AllTypes lists every concrete command type. Used by the pipeline to
// verify that the terminal interceptor covers the full dispatch table.
var AllTypes = []Type{
	TGet, TKeySet, TEntrySet, TGetAll,
	TPut, TRemove, TReplace, TApplyDelta, TPutMap, TClear,
	TPrepare, TCommit, TRollback,
}

// String returns the string representation of a Type.
func (t Type) String() string {
	switch t {
	case TGet:
		return "get"
	case TKeySet:
		return "keySet"
	case TEntrySet:
		return "entrySet"
	case TGetAll:
		return "getAll"
	case TPut:
		return "put"
	case TRemove:
		return "remove"
	case TReplace:
		return "replace"
	case TApplyDelta:
		return "applyDelta"
	case TPutMap:
		return "putMap"
	case TClear:
		return "clear"
	case TPrepare:
		return "prepare"
	case TCommit:
		return "commit"
	case TRollback:
		return "rollback"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Flags
// --------------------------------------------------------------------------

// Flag is a bitmask of per-invocation options carried by a Command.
type Flag uint8

const (
	// FlagForceSynchronous forces the invocation to wait for remote
	// responses regardless of the cache's configured default.
	FlagForceSynchronous Flag = 1 << iota
	// FlagForceAsynchronous forces fire-and-forget remote dispatch.
	// If both force flags are set, synchronous wins.
	FlagForceAsynchronous
	// FlagCacheModeLocal restricts the command to the local node: no
	// partition check and no remote RPC is performed for it.
	FlagCacheModeLocal
	// FlagPutForStateTransfer marks a synthetic write generated by state
	// transfer; such writes are never forwarded remotely.
	FlagPutForStateTransfer
)

// --------------------------------------------------------------------------
// Command Structure
// --------------------------------------------------------------------------

// Command is the immutable descriptor of one cache operation. Which fields
// are populated depends on the Type.
type Command struct {
	// Type of operation
	Type Type

	// Key is set for single-key commands (Get, Put, Remove, Replace, ApplyDelta)
	Key string
	// Keys is set for multi-key commands (GetAll, Prepare, Commit, Rollback)
	Keys []string
	// Value is set for single-key write commands
	Value []byte
	// Entries is set for PutMap
	Entries map[string][]byte

	// TxID associates a transaction command with its CacheTransaction
	TxID string

	// Flags modify how the command is routed and checked
	Flags Flag
}

// HasFlag reports whether the given flag is set on the command.
func (c *Command) HasFlag(f Flag) bool {
	return c.Flags&f != 0
}

// AffectedKeys returns the set of keys the command touches. The returned
// slice must not be modified.
func (c *Command) AffectedKeys() []string {
	switch c.Type {
	case TGet, TPut, TRemove, TReplace, TApplyDelta:
		return []string{c.Key}
	case TGetAll, TPrepare, TCommit, TRollback:
		return c.Keys
	case TPutMap:
		keys := make([]string, 0, len(c.Entries))
		for k := range c.Entries {
			keys = append(keys, k)
		}
		return keys
	default:
		return nil
	}
}

// IsWrite reports whether the command modifies cache state.
func (c *Command) IsWrite() bool {
	switch c.Type {
	case TPut, TRemove, TReplace, TApplyDelta, TPutMap, TClear:
		return true
	default:
		return false
	}
}

// IsTx reports whether the command belongs to the transactional protocol.
func (c *Command) IsTx() bool {
	switch c.Type {
	case TPrepare, TCommit, TRollback:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Command Factory Functions
// --------------------------------------------------------------------------

// NewGet creates a single-key read command.
func NewGet(key string, flags Flag) *Command {
	return &Command{Type: TGet, Key: key, Flags: flags}
}

// NewKeySet creates a bulk read command listing all keys.
func NewKeySet(flags Flag) *Command {
	return &Command{Type: TKeySet, Flags: flags}
}

// NewEntrySet creates a bulk read command listing all entries.
func NewEntrySet(flags Flag) *Command {
	return &Command{Type: TEntrySet, Flags: flags}
}

// NewGetAll creates a multi-key read command. The key set is fixed at
// construction.
func NewGetAll(keys []string, flags Flag) *Command {
	return &Command{Type: TGetAll, Keys: keys, Flags: flags}
}

// NewPut creates a single-key write command.
func NewPut(key string, value []byte, flags Flag) *Command {
	return &Command{Type: TPut, Key: key, Value: value, Flags: flags}
}

// NewRemove creates a single-key remove command.
func NewRemove(key string, flags Flag) *Command {
	return &Command{Type: TRemove, Key: key, Flags: flags}
}

// NewReplace creates a conditional single-key write command.
func NewReplace(key string, value []byte, flags Flag) *Command {
	return &Command{Type: TReplace, Key: key, Value: value, Flags: flags}
}

// NewApplyDelta creates a partial-update command for an existing value.
func NewApplyDelta(key string, delta []byte, flags Flag) *Command {
	return &Command{Type: TApplyDelta, Key: key, Value: delta, Flags: flags}
}

// NewPutMap creates a multi-key write command.
func NewPutMap(entries map[string][]byte, flags Flag) *Command {
	return &Command{Type: TPutMap, Entries: entries, Flags: flags}
}

// NewClear creates a cluster-wide clear command.
func NewClear(flags Flag) *Command {
	return &Command{Type: TClear, Flags: flags}
}

// NewPrepare creates the first-phase command of a two-phase commit for the
// transaction with the given id and affected keys. entries is the
// transaction's write set, shipped so remote owners can stage it.
func NewPrepare(txID string, keys []string, entries map[string][]byte, flags Flag) *Command {
	return &Command{Type: TPrepare, TxID: txID, Keys: keys, Entries: entries, Flags: flags}
}

// NewCommit creates the second-phase command of a two-phase commit.
func NewCommit(txID string, keys []string, flags Flag) *Command {
	return &Command{Type: TCommit, TxID: txID, Keys: keys, Flags: flags}
}

// NewRollback creates the abort command for a prepared transaction.
func NewRollback(txID string, keys []string, flags Flag) *Command {
	return &Command{Type: TRollback, TxID: txID, Keys: keys, Flags: flags}
}
