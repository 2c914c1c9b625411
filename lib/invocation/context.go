package invocation

// --------------------------------------------------------------------------
// Invocation Context
// --------------------------------------------------------------------------

// Context is the per-invocation state passed by reference down the
// interceptor chain. It is created when an operation enters the cache and
// discarded when the outermost stage resolves.
type Context struct {
	// OriginLocal is true if this call was issued by the local node and
	// false if it arrived as a remote RPC from a peer.
	OriginLocal bool

	// Tx is the transaction this invocation belongs to, nil for
	// non-transactional calls.
	Tx *Transaction
}

// NewLocalContext creates a context for a locally originated invocation.
func NewLocalContext() *Context {
	return &Context{OriginLocal: true}
}

// NewRemoteContext creates a context for a command received from a peer.
func NewRemoteContext() *Context {
	return &Context{OriginLocal: false}
}

// NewTxContext creates a context bound to the given transaction.
func NewTxContext(tx *Transaction, originLocal bool) *Context {
	return &Context{OriginLocal: originLocal, Tx: tx}
}

// InTx reports whether the invocation is transactional.
func (c *Context) InTx() bool {
	return c.Tx != nil
}

// HasModifications reports whether the invocation's transaction has
// accumulated any modifications. It is false for non-transactional contexts.
func (c *Context) HasModifications() bool {
	return c.Tx != nil && c.Tx.HasModifications()
}

// AffectedKeys returns the keys the invocation's transaction touches, or nil
// for non-transactional contexts.
func (c *Context) AffectedKeys() []string {
	if c.Tx == nil {
		return nil
	}
	return c.Tx.AffectedKeys()
}
