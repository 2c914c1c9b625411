package interceptors

import (
	"fmt"

	"github.com/ValentinKolb/dcache/lib/command"
	"github.com/ValentinKolb/dcache/lib/container"
	"github.com/ValentinKolb/dcache/lib/invocation"
	"github.com/ValentinKolb/dcache/lib/partition"
	"github.com/ValentinKolb/dcache/lib/pipeline"
	"github.com/ValentinKolb/dcache/rpc"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Call Interceptor (terminal)
// --------------------------------------------------------------------------

// CallInterceptor is the terminal interceptor: it executes every command
// against the node-local container. Prepared transactions are staged in a
// pending table until their commit or rollback arrives; at commit time only
// the entries this node owns are materialized, since the prepare broadcast
// carries the transaction's full write set.
type CallInterceptor struct {
	data   *container.Container
	oracle partition.OwnershipOracle
	self   rpc.Address

	// pending maps a transaction id to the entries its prepare staged.
	// A nil value marks a key for removal at commit time.
	pending *xsync.MapOf[string, map[string][]byte]
}

// NewCallInterceptor creates the terminal interceptor over the given
// container.
func NewCallInterceptor(data *container.Container, oracle partition.OwnershipOracle, self rpc.Address) *CallInterceptor {
	return &CallInterceptor{
		data:    data,
		oracle:  oracle,
		self:    self,
		pending: xsync.NewMapOf[string, map[string][]byte](),
	}
}

// ownsKey reports whether this node is among the key's owners.
func (c *CallInterceptor) ownsKey(key string) bool {
	for _, o := range c.oracle.Locate(key) {
		if o == c.self {
			return true
		}
	}
	return false
}

// Handlers implements pipeline.Interceptor and covers every command type,
// as the chain's terminal interceptor must.
func (c *CallInterceptor) Handlers() map[command.Type]pipeline.Handler {
	return map[command.Type]pipeline.Handler{
		command.TGet:        c.handleGet,
		command.TKeySet:     c.handleKeySet,
		command.TEntrySet:   c.handleEntrySet,
		command.TGetAll:     c.handleGetAll,
		command.TPut:        c.handlePut,
		command.TRemove:     c.handleRemove,
		command.TReplace:    c.handleReplace,
		command.TApplyDelta: c.handleApplyDelta,
		command.TPutMap:     c.handlePutMap,
		command.TClear:      c.handleClear,
		command.TPrepare:    c.handlePrepare,
		command.TCommit:     c.handleCommit,
		command.TRollback:   c.handleRollback,
	}
}

// --------------------------------------------------------------------------
// Read Handlers
// --------------------------------------------------------------------------

func (c *CallInterceptor) handleGet(_ *invocation.Context, cmd *command.Command, _ pipeline.Dispatcher) *pipeline.Stage {
	v, ok := c.data.Get(cmd.Key)
	if !ok {
		return pipeline.CompletedStage(nil)
	}
	return pipeline.CompletedStage(v)
}

func (c *CallInterceptor) handleKeySet(_ *invocation.Context, _ *command.Command, _ pipeline.Dispatcher) *pipeline.Stage {
	return pipeline.CompletedStage(c.data.Keys())
}

func (c *CallInterceptor) handleEntrySet(_ *invocation.Context, _ *command.Command, _ pipeline.Dispatcher) *pipeline.Stage {
	return pipeline.CompletedStage(c.data.Entries())
}

func (c *CallInterceptor) handleGetAll(_ *invocation.Context, cmd *command.Command, _ pipeline.Dispatcher) *pipeline.Stage {
	result := make(map[string][]byte, len(cmd.Keys))
	for _, k := range cmd.Keys {
		if v, ok := c.data.Get(k); ok {
			result[k] = v
		}
	}
	return pipeline.CompletedStage(result)
}

// --------------------------------------------------------------------------
// Write Handlers
// --------------------------------------------------------------------------

func (c *CallInterceptor) handlePut(ctx *invocation.Context, cmd *command.Command, _ pipeline.Dispatcher) *pipeline.Stage {
	if ctx.InTx() {
		ctx.Tx.AddModification(cmd)
		return pipeline.CompletedStage(nil)
	}
	c.data.Put(cmd.Key, cmd.Value)
	return pipeline.CompletedStage(nil)
}

func (c *CallInterceptor) handleRemove(ctx *invocation.Context, cmd *command.Command, _ pipeline.Dispatcher) *pipeline.Stage {
	if ctx.InTx() {
		ctx.Tx.AddModification(cmd)
		return pipeline.CompletedStage(nil)
	}
	return pipeline.CompletedStage(c.data.Remove(cmd.Key))
}

func (c *CallInterceptor) handleReplace(ctx *invocation.Context, cmd *command.Command, _ pipeline.Dispatcher) *pipeline.Stage {
	if ctx.InTx() {
		ctx.Tx.AddModification(cmd)
		return pipeline.CompletedStage(nil)
	}
	return pipeline.CompletedStage(c.data.Replace(cmd.Key, cmd.Value))
}

func (c *CallInterceptor) handleApplyDelta(ctx *invocation.Context, cmd *command.Command, _ pipeline.Dispatcher) *pipeline.Stage {
	if ctx.InTx() {
		ctx.Tx.AddModification(cmd)
		return pipeline.CompletedStage(nil)
	}
	c.data.Append(cmd.Key, cmd.Value)
	return pipeline.CompletedStage(nil)
}

func (c *CallInterceptor) handlePutMap(ctx *invocation.Context, cmd *command.Command, _ pipeline.Dispatcher) *pipeline.Stage {
	if ctx.InTx() {
		ctx.Tx.AddModification(cmd)
		return pipeline.CompletedStage(nil)
	}
	for k, v := range cmd.Entries {
		c.data.Put(k, v)
	}
	return pipeline.CompletedStage(nil)
}

func (c *CallInterceptor) handleClear(_ *invocation.Context, _ *command.Command, _ pipeline.Dispatcher) *pipeline.Stage {
	c.data.Clear()
	return pipeline.CompletedStage(nil)
}

// --------------------------------------------------------------------------
// Transaction Handlers
// --------------------------------------------------------------------------

// handlePrepare stages the transaction's write set. A remotely received
// prepare carries its entries in the command; a local prepare derives them
// from the context's accumulated modifications.
func (c *CallInterceptor) handlePrepare(ctx *invocation.Context, cmd *command.Command, _ pipeline.Dispatcher) *pipeline.Stage {
	entries := cmd.Entries
	if entries == nil && ctx.Tx != nil {
		entries = ctx.Tx.WriteSet()
	}
	c.pending.Store(cmd.TxID, entries)
	return pipeline.CompletedStage(nil)
}

func (c *CallInterceptor) handleCommit(_ *invocation.Context, cmd *command.Command, _ pipeline.Dispatcher) *pipeline.Stage {
	entries, ok := c.pending.LoadAndDelete(cmd.TxID)
	if !ok {
		return pipeline.FailedStage(fmt.Errorf("commit for unknown transaction %s", cmd.TxID))
	}
	for k, v := range entries {
		if !c.ownsKey(k) {
			continue
		}
		if v == nil {
			c.data.Remove(k)
		} else {
			c.data.Put(k, v)
		}
	}
	return pipeline.CompletedStage(nil)
}

func (c *CallInterceptor) handleRollback(_ *invocation.Context, cmd *command.Command, _ pipeline.Dispatcher) *pipeline.Stage {
	c.pending.Delete(cmd.TxID)
	return pipeline.CompletedStage(nil)
}
