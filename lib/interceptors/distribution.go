package interceptors

import (
	"github.com/ValentinKolb/dcache/lib/command"
	"github.com/ValentinKolb/dcache/lib/invocation"
	"github.com/ValentinKolb/dcache/lib/partition"
	"github.com/ValentinKolb/dcache/lib/pipeline"
	"github.com/ValentinKolb/dcache/rpc"
)

// --------------------------------------------------------------------------
// Distribution Interceptor
// --------------------------------------------------------------------------

// DistributionInterceptor routes commands to the owners of their keys: local
// apply plus remote fan-out for writes, owner reads with a local fast-path,
// and the remote legs of the transactional protocol. Remotely originated
// commands are never re-forwarded; they fall straight through to local
// execution.
type DistributionInterceptor struct {
	BaseRpcInterceptor

	oracle          partition.OwnershipOracle
	syncCommitPhase bool
}

// NewDistributionInterceptor creates the interceptor. defaultSynchronous is
// the cache mode's synchronicity, syncCommitPhase the transaction
// configuration's commit-phase synchronicity.
func NewDistributionInterceptor(mgr rpc.Manager, oracle partition.OwnershipOracle,
	defaultSynchronous, syncCommitPhase bool) *DistributionInterceptor {
	return &DistributionInterceptor{
		BaseRpcInterceptor: NewBaseRpcInterceptor(mgr, defaultSynchronous),
		oracle:             oracle,
		syncCommitPhase:    syncCommitPhase,
	}
}

// Handlers implements pipeline.Interceptor. KeySet and EntrySet fall
// through: they are served from the local node only.
func (d *DistributionInterceptor) Handlers() map[command.Type]pipeline.Handler {
	return map[command.Type]pipeline.Handler{
		command.TPut:        d.handleSingleWrite,
		command.TRemove:     d.handleSingleWrite,
		command.TReplace:    d.handleSingleWrite,
		command.TApplyDelta: d.handleSingleWrite,
		command.TPutMap:     d.handlePutMap,
		command.TClear:      d.handleClear,
		command.TGet:        d.handleGet,
		command.TGetAll:     d.handleGetAll,
		command.TPrepare:    d.handlePrepare,
		command.TCommit:     d.handleCommit,
		command.TRollback:   d.handleRollback,
	}
}

// --------------------------------------------------------------------------
// Ownership Helpers
// --------------------------------------------------------------------------

func (d *DistributionInterceptor) self() rpc.Address {
	return d.RpcManager().GetAddress()
}

func (d *DistributionInterceptor) isLocalOwner(key string) bool {
	for _, o := range d.oracle.Locate(key) {
		if o == d.self() {
			return true
		}
	}
	return false
}

// remoteOwners returns the union of the keys' owners without the local node.
func (d *DistributionInterceptor) remoteOwners(keys ...string) []rpc.Address {
	seen := make(map[rpc.Address]struct{})
	var out []rpc.Address
	for _, k := range keys {
		for _, o := range d.oracle.Locate(k) {
			if o == d.self() {
				continue
			}
			if _, ok := seen[o]; !ok {
				seen[o] = struct{}{}
				out = append(out, o)
			}
		}
	}
	return out
}

// skipDistribution reports whether the command must stay on this node.
func (d *DistributionInterceptor) skipDistribution(ctx *invocation.Context, cmd *command.Command) bool {
	return !ctx.OriginLocal || d.IsLocalModeForced(cmd) || cmd.HasFlag(command.FlagPutForStateTransfer)
}

// --------------------------------------------------------------------------
// Write Handlers
// --------------------------------------------------------------------------

func (d *DistributionInterceptor) handleSingleWrite(ctx *invocation.Context,
	cmd *command.Command, next pipeline.Dispatcher) *pipeline.Stage {
	if d.skipDistribution(ctx, cmd) {
		return next(ctx, cmd)
	}
	if ctx.InTx() {
		// Transactional writes are buffered; they replicate with the
		// prepare command.
		return next(ctx, cmd)
	}

	var local *pipeline.Stage
	if d.isLocalOwner(cmd.Key) {
		local = next(ctx, cmd)
	} else {
		local = pipeline.CompletedStage(nil)
	}

	return local.Compose(func(v any, err error) *pipeline.Stage {
		if err != nil {
			return pipeline.FailedStage(err)
		}
		return d.fanOut(cmd, d.remoteOwners(cmd.Key), d.IsSynchronous(cmd), v)
	})
}

func (d *DistributionInterceptor) handlePutMap(ctx *invocation.Context,
	cmd *command.Command, next pipeline.Dispatcher) *pipeline.Stage {
	if d.skipDistribution(ctx, cmd) {
		return next(ctx, cmd)
	}

	// Narrow the map per recipient so every node only applies the entries
	// it owns.
	localEntries := make(map[string][]byte)
	remoteEntries := make(map[rpc.Address]map[string][]byte)
	for k, val := range cmd.Entries {
		for _, o := range d.oracle.Locate(k) {
			if o == d.self() {
				localEntries[k] = val
				continue
			}
			if remoteEntries[o] == nil {
				remoteEntries[o] = make(map[string][]byte)
			}
			remoteEntries[o][k] = val
		}
	}

	var local *pipeline.Stage
	if len(localEntries) > 0 {
		local = next(ctx, command.NewPutMap(localEntries, cmd.Flags))
	} else {
		local = pipeline.CompletedStage(nil)
	}

	return local.Compose(func(v any, err error) *pipeline.Stage {
		if err != nil {
			return pipeline.FailedStage(err)
		}
		sync := d.IsSynchronous(cmd)
		opts := d.RpcManager().GetDefaultOptions(sync)
		var remotes []*pipeline.Stage
		for addr, entries := range remoteEntries {
			narrowed := command.NewPutMap(entries, cmd.Flags)
			remotes = append(remotes, d.RpcManager().InvokeRemotelyAsync([]rpc.Address{addr}, narrowed, opts))
		}
		if !sync {
			return pipeline.CompletedStage(v)
		}
		return pipeline.AllOf(remotes...).Handle(func(_ any, rerr error) (any, error) {
			return v, rerr
		})
	})
}

func (d *DistributionInterceptor) handleClear(ctx *invocation.Context,
	cmd *command.Command, next pipeline.Dispatcher) *pipeline.Stage {
	if d.skipDistribution(ctx, cmd) {
		return next(ctx, cmd)
	}
	return next(ctx, cmd).Compose(func(v any, err error) *pipeline.Stage {
		if err != nil {
			return pipeline.FailedStage(err)
		}
		var others []rpc.Address
		for _, m := range d.RpcManager().GetMembers() {
			if m != d.self() {
				others = append(others, m)
			}
		}
		return d.fanOut(cmd, others, d.IsSynchronous(cmd), v)
	})
}

// fanOut sends cmd to the recipients and resolves with localResult. With no
// recipients, or an asynchronous command, the remote leg never blocks the
// outcome.
func (d *DistributionInterceptor) fanOut(cmd *command.Command, recipients []rpc.Address,
	sync bool, localResult any) *pipeline.Stage {
	if len(recipients) == 0 {
		return pipeline.CompletedStage(localResult)
	}
	stage := d.RpcManager().InvokeRemotelyAsync(recipients, cmd, d.RpcManager().GetDefaultOptions(sync))
	if !sync {
		return pipeline.CompletedStage(localResult)
	}
	return stage.Handle(func(_ any, err error) (any, error) {
		if err != nil {
			return nil, err
		}
		return localResult, nil
	})
}

// --------------------------------------------------------------------------
// Read Handlers
// --------------------------------------------------------------------------

func (d *DistributionInterceptor) handleGet(ctx *invocation.Context,
	cmd *command.Command, next pipeline.Dispatcher) *pipeline.Stage {
	if d.skipDistribution(ctx, cmd) || d.isLocalOwner(cmd.Key) {
		return next(ctx, cmd)
	}

	opts := d.RpcManager().GetOptionsBuilder(rpc.WaitForValidResponse, rpc.OrderNone).Build()
	return d.RpcManager().InvokeRemotelyAsync(d.remoteOwners(cmd.Key), cmd, opts).
		Handle(func(v any, err error) (any, error) {
			if err != nil {
				return nil, err
			}
			responses, _ := v.(map[rpc.Address]rpc.Response)
			for _, rsp := range responses {
				if rsp.Err == nil && rsp.Value != nil {
					return rsp.Value, nil
				}
			}
			return nil, nil // the key is absent on every owner
		})
}

func (d *DistributionInterceptor) handleGetAll(ctx *invocation.Context,
	cmd *command.Command, next pipeline.Dispatcher) *pipeline.Stage {
	if d.skipDistribution(ctx, cmd) {
		return next(ctx, cmd)
	}

	// Narrow the key set per recipient; keys owned locally are served by
	// the rest of the chain.
	var localKeys []string
	remoteKeys := make(map[rpc.Address][]string)
	for _, k := range cmd.Keys {
		if d.isLocalOwner(k) {
			localKeys = append(localKeys, k)
			continue
		}
		owners := d.oracle.Locate(k)
		if len(owners) == 0 {
			continue
		}
		primary := owners[0]
		remoteKeys[primary] = append(remoteKeys[primary], k)
	}

	var local *pipeline.Stage
	if len(localKeys) > 0 {
		local = next(ctx, command.NewGetAll(localKeys, cmd.Flags))
	} else {
		local = pipeline.CompletedStage(map[string][]byte{})
	}

	opts := d.RpcManager().GetOptionsBuilder(rpc.WaitForValidResponse, rpc.OrderNone).Build()
	stages := []*pipeline.Stage{local}
	for addr, keys := range remoteKeys {
		narrowed := command.NewGetAll(keys, cmd.Flags)
		remote := d.RpcManager().InvokeRemotelyAsync([]rpc.Address{addr}, narrowed, opts).
			Handle(func(v any, err error) (any, error) {
				if err != nil {
					return nil, err
				}
				responses, _ := v.(map[rpc.Address]rpc.Response)
				for _, rsp := range responses {
					if rsp.Err == nil {
						return rsp.Value, nil
					}
				}
				return map[string][]byte{}, nil
			})
		stages = append(stages, remote)
	}

	return pipeline.AllOf(stages...).Handle(func(v any, err error) (any, error) {
		if err != nil {
			return nil, err
		}
		merged := make(map[string][]byte)
		for _, part := range v.([]any) {
			if m, ok := part.(map[string][]byte); ok {
				for k, val := range m {
					merged[k] = val
				}
			}
		}
		return merged, nil
	})
}

// --------------------------------------------------------------------------
// Transaction Handlers
// --------------------------------------------------------------------------

func (d *DistributionInterceptor) handlePrepare(ctx *invocation.Context,
	cmd *command.Command, next pipeline.Dispatcher) *pipeline.Stage {
	if !d.ShouldInvokeRemoteTxCommand(ctx) {
		return next(ctx, cmd)
	}
	return next(ctx, cmd).Compose(func(v any, err error) *pipeline.Stage {
		if err != nil {
			return pipeline.FailedStage(err)
		}
		var filter rpc.ResponseFilter
		if d.defaultSynchronous {
			filter = d.SelfDeliverFilter()
		}
		recipients := d.remoteOwners(cmd.Keys...)
		return d.TotalOrderPrepare(ctx, cmd, recipients, filter).
			Handle(func(_ any, rerr error) (any, error) {
				if rerr != nil {
					return nil, rerr
				}
				return v, nil
			})
	})
}

func (d *DistributionInterceptor) handleCommit(ctx *invocation.Context,
	cmd *command.Command, next pipeline.Dispatcher) *pipeline.Stage {
	if !d.ShouldCommitBeInvokedRemotely(ctx) {
		return next(ctx, cmd)
	}
	return next(ctx, cmd).Compose(func(v any, err error) *pipeline.Stage {
		if err != nil {
			return pipeline.FailedStage(err)
		}
		recipients := d.remoteOwners(cmd.Keys...)
		if len(recipients) == 0 {
			d.TransactionCompleted(ctx)
			return pipeline.CompletedStage(v)
		}
		opts := d.RpcManager().GetDefaultOptions(d.syncCommitPhase)
		return d.RpcManager().InvokeRemotelyAsync(recipients, cmd, opts).
			Handle(func(_ any, rerr error) (any, error) {
				// The marker is set even on failure: the completion
				// phase was attempted and must not be re-sent.
				d.TransactionCompleted(ctx)
				if rerr != nil {
					return nil, rerr
				}
				return v, nil
			})
	})
}

func (d *DistributionInterceptor) handleRollback(ctx *invocation.Context,
	cmd *command.Command, next pipeline.Dispatcher) *pipeline.Stage {
	if !d.ShouldTotalOrderRollbackBeInvokedRemotely(ctx) {
		return next(ctx, cmd)
	}
	return next(ctx, cmd).Compose(func(v any, err error) *pipeline.Stage {
		if err != nil {
			return pipeline.FailedStage(err)
		}
		recipients := d.remoteOwners(cmd.Keys...)
		builder := d.RpcManager().GetOptionsBuilder(rpc.SynchronousIgnoreLeavers, rpc.OrderTotal)
		return d.RpcManager().InvokeRemotelyAsync(recipients, cmd, builder.Build()).
			Handle(func(_ any, rerr error) (any, error) {
				d.TransactionCompleted(ctx)
				if rerr != nil {
					return nil, rerr
				}
				return v, nil
			})
	})
}
