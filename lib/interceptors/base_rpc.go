package interceptors

import (
	"github.com/ValentinKolb/dcache/lib/command"
	"github.com/ValentinKolb/dcache/lib/invocation"
	"github.com/ValentinKolb/dcache/lib/pipeline"
	"github.com/ValentinKolb/dcache/rpc"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("interceptors")

// --------------------------------------------------------------------------
// Base RPC Interceptor
// --------------------------------------------------------------------------

// BaseRpcInterceptor encapsulates the remote-invocation policy shared by all
// interceptors that talk to the cluster. It is meant to be embedded, not
// used directly: it contributes no handlers of its own.
type BaseRpcInterceptor struct {
	rpcManager rpc.Manager

	// defaultSynchronous is derived from the cache mode at construction.
	defaultSynchronous bool
}

// NewBaseRpcInterceptor creates the base with the cache's configured
// synchronicity default.
func NewBaseRpcInterceptor(mgr rpc.Manager, defaultSynchronous bool) BaseRpcInterceptor {
	return BaseRpcInterceptor{rpcManager: mgr, defaultSynchronous: defaultSynchronous}
}

// RpcManager returns the manager the interceptor dispatches through.
func (b *BaseRpcInterceptor) RpcManager() rpc.Manager {
	return b.rpcManager
}

// --------------------------------------------------------------------------
// Synchronicity and Local-Mode Policy
// --------------------------------------------------------------------------

// IsSynchronous decides whether a command's remote leg must wait for
// responses. The force flags win over the configured default; if both are
// set, synchronous wins.
func (b *BaseRpcInterceptor) IsSynchronous(cmd *command.Command) bool {
	if cmd.HasFlag(command.FlagForceSynchronous) {
		return true
	}
	if cmd.HasFlag(command.FlagForceAsynchronous) {
		return false
	}
	return b.defaultSynchronous
}

// IsLocalModeForced reports whether the command explicitly opted out of
// clustering. Callers use this to suppress any clustered event or RPC.
func (b *BaseRpcInterceptor) IsLocalModeForced(cmd *command.Command) bool {
	if cmd.HasFlag(command.FlagCacheModeLocal) {
		log.Debugf("LOCAL mode forced on invocation, suppressing clustered events")
		return true
	}
	return false
}

// --------------------------------------------------------------------------
// Transaction Policy
// --------------------------------------------------------------------------

// ShouldInvokeRemoteTxCommand decides whether a transaction command needs a
// remote leg. Remotely originated contexts never re-forward; state-transfer
// transactions are synthetic and local-only. Otherwise the remote leg is
// needed if the transaction has modifications, holds remote locks, or its
// topology id drifted from the current one: membership changed
// mid-transaction and remote parties must be informed even with zero
// modifications, because lock state still needs reconciling.
func (b *BaseRpcInterceptor) ShouldInvokeRemoteTxCommand(ctx *invocation.Context) bool {
	if !ctx.OriginLocal || ctx.Tx == nil {
		return false
	}
	if ctx.Tx.StateTransfer {
		return false
	}

	shouldInvoke := ctx.Tx.HasModifications() || ctx.Tx.HasRemoteLocks() ||
		ctx.Tx.TopologyID != b.rpcManager.GetTopologyID()

	log.Debugf("Should invoke tx command remotely? %t (modifications=%t, remoteLocks=%t)",
		shouldInvoke, ctx.Tx.HasModifications(), ctx.Tx.HasRemoteLocks())
	return shouldInvoke
}

// TransactionRemotelyPrepared marks the context's transaction as having
// attempted a remote prepare. The marker must be set even when the prepare
// failed, so that a later rollback knows a remote phase occurred and must
// itself be sent in total order.
func (b *BaseRpcInterceptor) TransactionRemotelyPrepared(ctx *invocation.Context) {
	if ctx.OriginLocal && ctx.Tx != nil {
		ctx.Tx.MarkPrepareSent()
	}
}

// TransactionCompleted marks the context's transaction as having attempted a
// remote commit or rollback. Set unconditionally after the attempt; never
// reset.
func (b *BaseRpcInterceptor) TransactionCompleted(ctx *invocation.Context) {
	if ctx.OriginLocal && ctx.Tx != nil {
		ctx.Tx.MarkCommitOrRollbackSent()
	}
}

// ShouldTotalOrderRollbackBeInvokedRemotely guards against a double-send of
// the completion phase: a remote rollback is only needed if this node
// originated the transaction, already sent a prepare, and has not yet sent a
// commit or rollback.
func (b *BaseRpcInterceptor) ShouldTotalOrderRollbackBeInvokedRemotely(ctx *invocation.Context) bool {
	return ctx.OriginLocal && ctx.Tx != nil &&
		ctx.Tx.IsPrepareSent() && !ctx.Tx.IsCommitOrRollbackSent()
}

// ShouldCommitBeInvokedRemotely guards the commit leg the same way: the
// completion phase goes out at most once per transaction, no matter how
// often the commit command is dispatched.
func (b *BaseRpcInterceptor) ShouldCommitBeInvokedRemotely(ctx *invocation.Context) bool {
	return b.ShouldInvokeRemoteTxCommand(ctx) && !ctx.Tx.IsCommitOrRollbackSent()
}

// --------------------------------------------------------------------------
// Total-Order Prepare
// --------------------------------------------------------------------------

// TotalOrderPrepare sends the prepare command to the given recipients plus
// the local node with total-order delivery. Regardless of success or
// failure, the transaction's prepare-sent marker is set before the outcome
// propagates.
func (b *BaseRpcInterceptor) TotalOrderPrepare(ctx *invocation.Context, cmd *command.Command,
	recipients []rpc.Address, filter rpc.ResponseFilter) *pipeline.Stage {

	realRecipients := make([]rpc.Address, 0, len(recipients)+1)
	realRecipients = append(realRecipients, recipients...)
	realRecipients = append(realRecipients, b.rpcManager.GetAddress())

	return b.internalTotalOrderPrepare(realRecipients, cmd, filter).
		Handle(func(v any, err error) (any, error) {
			b.TransactionRemotelyPrepared(ctx)
			return v, err
		})
}

// internalTotalOrderPrepare picks the response mode: synchronous
// configurations wait but ignore leavers (a member leaving mid-call is
// handled by the availability layer, not the rpc layer) and run the optional
// post-hoc filter validation; asynchronous configurations fire and forget.
func (b *BaseRpcInterceptor) internalTotalOrderPrepare(recipients []rpc.Address,
	cmd *command.Command, filter rpc.ResponseFilter) *pipeline.Stage {

	if b.defaultSynchronous {
		builder := b.rpcManager.GetOptionsBuilder(rpc.SynchronousIgnoreLeavers, rpc.OrderTotal)
		if filter != nil {
			builder.ResponseFilter(filter)
		}
		stage := b.rpcManager.InvokeRemotelyAsync(recipients, cmd, builder.Build())
		if filter == nil {
			return stage
		}
		return stage.ThenAccept(func(any) error {
			return filter.Validate()
		})
	}

	builder := b.rpcManager.GetOptionsBuilder(rpc.Asynchronous, rpc.OrderTotal)
	return b.rpcManager.InvokeRemotelyAsync(recipients, cmd, builder.Build())
}

// SelfDeliverFilter creates a response filter deduplicating the local node's
// own copy of a total-order broadcast.
func (b *BaseRpcInterceptor) SelfDeliverFilter() *rpc.SelfDeliverFilter {
	return rpc.NewSelfDeliverFilter(b.rpcManager.GetAddress())
}

// Handlers implements pipeline.Interceptor. The base contributes no
// handlers; embedding interceptors override this.
func (b *BaseRpcInterceptor) Handlers() map[command.Type]pipeline.Handler {
	return nil
}
