package pipeline

import (
	"fmt"

	"github.com/ValentinKolb/dcache/lib/command"
	"github.com/ValentinKolb/dcache/lib/invocation"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("pipeline")

// --------------------------------------------------------------------------
// Interceptor Contract
// --------------------------------------------------------------------------

// Dispatcher forwards a command to the remainder of the chain and returns
// the stage representing its (possibly still pending) outcome.
type Dispatcher func(ctx *invocation.Context, cmd *command.Command) *Stage

// Handler is one interceptor's handler for a single command type. It may
// pre-check and call next, call next and attach continuations to the
// returned stage, or short-circuit by returning a stage it resolved itself.
type Handler func(ctx *invocation.Context, cmd *command.Command, next Dispatcher) *Stage

// Interceptor contributes per-type handlers to the chain. Command types
// absent from the returned map fall through to the next interceptor
// unchanged (the default visit of the double dispatch). Handlers must be
// stateless per call: all per-invocation state lives in the Context.
type Interceptor interface {
	Handlers() map[command.Type]Handler
}

// --------------------------------------------------------------------------
// Chain
// --------------------------------------------------------------------------

// Chain is the ordered interceptor sequence of one cache instance, fixed at
// construction. Dispatch is the single surface by which every operation
// (local API calls and inbound remote commands alike) enters the core.
type Chain struct {
	handlers []map[command.Type]Handler
}

// NewChain builds a chain from the given interceptors, head first. The last
// interceptor is the terminal one and must handle every command type; a
// command falling off the end of the chain would otherwise hang forever.
func NewChain(interceptors ...Interceptor) (*Chain, error) {
	if len(interceptors) == 0 {
		return nil, fmt.Errorf("pipeline: chain needs at least one interceptor")
	}

	handlers := make([]map[command.Type]Handler, len(interceptors))
	for i, ic := range interceptors {
		handlers[i] = ic.Handlers()
	}

	terminal := handlers[len(handlers)-1]
	for _, t := range command.AllTypes {
		if terminal[t] == nil {
			return nil, fmt.Errorf("pipeline: terminal interceptor does not handle %v commands", t)
		}
	}

	log.Infof("Built interceptor chain with %d interceptors", len(interceptors))
	return &Chain{handlers: handlers}, nil
}

// Dispatch sends a command through the chain and returns the stage of its
// outcome.
func (c *Chain) Dispatch(ctx *invocation.Context, cmd *command.Command) *Stage {
	return c.invokeAt(0, ctx, cmd)
}

// invokeAt finds the next interceptor at or below position i that handles
// the command's type and invokes it with a dispatcher for the rest of the
// chain.
func (c *Chain) invokeAt(i int, ctx *invocation.Context, cmd *command.Command) *Stage {
	for ; i < len(c.handlers); i++ {
		if h := c.handlers[i][cmd.Type]; h != nil {
			pos := i
			next := func(nctx *invocation.Context, ncmd *command.Command) *Stage {
				return c.invokeAt(pos+1, nctx, ncmd)
			}
			return h(ctx, cmd, next)
		}
	}
	// Unreachable: NewChain verified the terminal interceptor's coverage.
	return FailedStage(fmt.Errorf("pipeline: no handler for %v commands", cmd.Type))
}
