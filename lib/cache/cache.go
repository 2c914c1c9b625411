package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dcache/lib/command"
	"github.com/ValentinKolb/dcache/lib/container"
	"github.com/ValentinKolb/dcache/lib/interceptors"
	"github.com/ValentinKolb/dcache/lib/invocation"
	"github.com/ValentinKolb/dcache/lib/partition"
	"github.com/ValentinKolb/dcache/lib/pipeline"
	"github.com/ValentinKolb/dcache/rpc"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("cache")

const defaultTimeout = 5 * time.Second

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config holds the per-cache settings consumed at construction time.
type Config struct {
	// Sync makes remote legs of non-transactional operations wait for
	// responses by default. Commands can override it per call via the
	// force flags.
	Sync bool
	// SyncCommitPhase makes the commit phase of transactions wait for
	// remote responses.
	SyncCommitPhase bool
	// Timeout bounds every blocking public API call.
	Timeout time.Duration
}

// --------------------------------------------------------------------------
// Cache
// --------------------------------------------------------------------------

// Cache is one node's cache instance: local data, interceptor chain and
// transaction table.
type Cache struct {
	cfg          Config
	data         *container.Container
	chain        *pipeline.Chain
	rpcManager   rpc.Manager
	availability partition.Manager

	txs       *xsync.MapOf[string, *invocation.Transaction]
	txCounter atomic.Uint64
}

// New creates a cache node on top of the given rpc manager and ownership
// oracle. The chain order is fixed here: partition checks sit above the
// remote dispatch so unavailable operations are rejected before any network
// cost, and above them is nothing but the caller.
func New(cfg Config, mgr rpc.Manager, oracle partition.OwnershipOracle) (*Cache, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	data := container.New()
	availability := partition.NewManager(oracle, mgr)

	chain, err := pipeline.NewChain(
		interceptors.NewPartitionHandlingInterceptor(availability, mgr, oracle),
		interceptors.NewDistributionInterceptor(mgr, oracle, cfg.Sync, cfg.SyncCommitPhase),
		interceptors.NewCallInterceptor(data, oracle, mgr.GetAddress()),
	)
	if err != nil {
		return nil, err
	}

	log.Infof("Cache node %s created (sync=%t, syncCommitPhase=%t)",
		mgr.GetAddress(), cfg.Sync, cfg.SyncCommitPhase)

	return &Cache{
		cfg:          cfg,
		data:         data,
		chain:        chain,
		rpcManager:   mgr,
		availability: availability,
		txs:          xsync.NewMapOf[string, *invocation.Transaction](),
	}, nil
}

// Availability exposes the partition manager, e.g. for administrative
// status queries and for the membership layer driving mode transitions.
func (c *Cache) Availability() partition.Manager {
	return c.availability
}

// dispatch runs a command through the chain and waits for the outcome.
func (c *Cache) dispatch(ctx *invocation.Context, cmd *command.Command) (any, error) {
	return c.chain.Dispatch(ctx, cmd).Await(c.cfg.Timeout)
}

func foldFlags(flags []command.Flag) command.Flag {
	var f command.Flag
	for _, x := range flags {
		f |= x
	}
	return f
}

// --------------------------------------------------------------------------
// Public Operation API
// --------------------------------------------------------------------------

// Get returns the value for a key. The boolean reports whether the key was
// found anywhere in the cluster.
func (c *Cache) Get(key string, flags ...command.Flag) ([]byte, bool, error) {
	v, err := c.dispatch(invocation.NewLocalContext(), command.NewGet(key, foldFlags(flags)))
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

// GetAll returns the values for the given keys. Keys absent from the result
// do not exist; a degraded cluster that cannot account for a key fails the
// whole call instead of omitting it.
func (c *Cache) GetAll(keys []string, flags ...command.Flag) (map[string][]byte, error) {
	v, err := c.dispatch(invocation.NewLocalContext(), command.NewGetAll(keys, foldFlags(flags)))
	if err != nil {
		return nil, err
	}
	result, _ := v.(map[string][]byte)
	return result, nil
}

// Put inserts or updates a key-value pair.
func (c *Cache) Put(key string, value []byte, flags ...command.Flag) error {
	_, err := c.dispatch(invocation.NewLocalContext(), command.NewPut(key, value, foldFlags(flags)))
	return err
}

// Remove deletes a key-value pair.
func (c *Cache) Remove(key string, flags ...command.Flag) error {
	_, err := c.dispatch(invocation.NewLocalContext(), command.NewRemove(key, foldFlags(flags)))
	return err
}

// Replace updates a key only if it is already present.
func (c *Cache) Replace(key string, value []byte, flags ...command.Flag) error {
	_, err := c.dispatch(invocation.NewLocalContext(), command.NewReplace(key, value, foldFlags(flags)))
	return err
}

// ApplyDelta applies a partial update to an existing value.
func (c *Cache) ApplyDelta(key string, delta []byte, flags ...command.Flag) error {
	_, err := c.dispatch(invocation.NewLocalContext(), command.NewApplyDelta(key, delta, foldFlags(flags)))
	return err
}

// PutMap inserts or updates multiple key-value pairs. The availability
// check is all-or-nothing: if any key cannot be safely written, nothing is.
func (c *Cache) PutMap(entries map[string][]byte, flags ...command.Flag) error {
	_, err := c.dispatch(invocation.NewLocalContext(), command.NewPutMap(entries, foldFlags(flags)))
	return err
}

// Clear removes all entries cluster-wide.
func (c *Cache) Clear(flags ...command.Flag) error {
	_, err := c.dispatch(invocation.NewLocalContext(), command.NewClear(foldFlags(flags)))
	return err
}

// Keys lists the keys held by the local node.
func (c *Cache) Keys(flags ...command.Flag) ([]string, error) {
	v, err := c.dispatch(invocation.NewLocalContext(), command.NewKeySet(foldFlags(flags)))
	if err != nil {
		return nil, err
	}
	keys, _ := v.([]string)
	return keys, nil
}

// Entries lists the entries held by the local node.
func (c *Cache) Entries(flags ...command.Flag) (map[string][]byte, error) {
	v, err := c.dispatch(invocation.NewLocalContext(), command.NewEntrySet(foldFlags(flags)))
	if err != nil {
		return nil, err
	}
	entries, _ := v.(map[string][]byte)
	return entries, nil
}

// --------------------------------------------------------------------------
// Inbound Remote Commands
// --------------------------------------------------------------------------

// HandleRemote processes a command received from a peer. It enters the same
// chain as local operations, under a remote-origin context: the origin node
// already made the availability decision, so no partition check repeats
// here, and the command is never re-forwarded.
func (c *Cache) HandleRemote(cmd *command.Command) (any, error) {
	return c.dispatch(invocation.NewRemoteContext(), cmd)
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

// Tx is a client-driven cache transaction: writes are buffered, shipped to
// remote owners at prepare time and applied at commit time.
type Tx struct {
	c   *Cache
	tx  *invocation.Transaction
	ctx *invocation.Context
}

// Begin starts a transaction bound to the current topology.
func (c *Cache) Begin() *Tx {
	id := fmt.Sprintf("%s-tx-%d", c.rpcManager.GetAddress(), c.txCounter.Add(1))
	tx := invocation.NewTransaction(id, c.rpcManager.GetTopologyID())
	c.txs.Store(id, tx)
	return &Tx{c: c, tx: tx, ctx: invocation.NewTxContext(tx, true)}
}

// Put buffers a write in the transaction.
func (t *Tx) Put(key string, value []byte) error {
	_, err := t.c.dispatch(t.ctx, command.NewPut(key, value, 0))
	return err
}

// Remove buffers a removal in the transaction.
func (t *Tx) Remove(key string) error {
	_, err := t.c.dispatch(t.ctx, command.NewRemove(key, 0))
	return err
}

// Prepare runs the first phase of the two-phase commit: the write set is
// staged locally and shipped to all remote owners in total order.
func (t *Tx) Prepare() error {
	cmd := command.NewPrepare(t.tx.ID, t.tx.AffectedKeys(), t.tx.WriteSet(), 0)
	_, err := t.c.dispatch(t.ctx, cmd)
	return err
}

// Commit applies the prepared write set everywhere. On success the
// transaction leaves the node's bookkeeping.
func (t *Tx) Commit() error {
	cmd := command.NewCommit(t.tx.ID, t.tx.AffectedKeys(), 0)
	_, err := t.c.dispatch(t.ctx, cmd)
	if err == nil {
		t.c.availability.ForgetTransaction(t.tx.ID)
		t.c.txs.Delete(t.tx.ID)
	}
	return err
}

// Rollback discards the transaction on every node that staged it.
func (t *Tx) Rollback() error {
	cmd := command.NewRollback(t.tx.ID, t.tx.AffectedKeys(), 0)
	_, err := t.c.dispatch(t.ctx, cmd)
	t.c.txs.Delete(t.tx.ID)
	return err
}

// Transaction exposes the underlying record, mainly for status inspection.
func (t *Tx) Transaction() *invocation.Transaction {
	return t.tx
}
